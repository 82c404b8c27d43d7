//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.fixhero.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fixhero-data"
	}
	return filepath.Join(home, "Library", "Application Support", "fixhero")
}

// defaultsBackend stores keys in the user defaults domain through the
// defaults tool. Booleans read back as 1 or 0, which strconv.ParseBool
// accepts.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) Lookup(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading default %s: %w (%s)", key, err, text)
	}
	return text, true, nil
}

func (b defaultsBackend) Store(key string, value any) error {
	var typeFlag, text string
	switch v := value.(type) {
	case int:
		typeFlag, text = "-int", strconv.Itoa(v)
	case bool:
		typeFlag, text = "-bool", strconv.FormatBool(v)
	default:
		typeFlag, text = "-string", fmt.Sprint(v)
	}
	if out, err := exec.Command("defaults", "write", b.domain, key, typeFlag, text).CombinedOutput(); err != nil {
		return fmt.Errorf("writing default %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b defaultsBackend) Remove(key string) error {
	if _, ok, err := b.Lookup(key); err != nil || !ok {
		return err
	}
	if out, err := exec.Command("defaults", "delete", b.domain, key).CombinedOutput(); err != nil {
		return fmt.Errorf("deleting default %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}
