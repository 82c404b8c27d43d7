//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "fixhero-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "fixhero")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "fixhero", "config.json")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "fixhero", "config.json")
}

// jsonFileBackend keeps keys in one flat JSON object. Every Store rewrites the
// file through a temp file and rename so a crash never leaves it half
// written.
type jsonFileBackend struct {
	path   string
	values map[string]any
}

func newPlatformBackend() ConfigBackend {
	return openJSONFile(configFilePath())
}

func openJSONFile(path string) *jsonFileBackend {
	b := &jsonFileBackend{path: path, values: map[string]any{}}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
	default:
		if err := json.Unmarshal(data, &b.values); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
			b.values = map[string]any{}
		}
	}
	return b
}

func (b *jsonFileBackend) Lookup(key string) (string, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return "", false, nil
	}
	switch v.(type) {
	case string, float64, int, bool:
		return fmt.Sprint(v), true, nil
	default:
		return "", true, fmt.Errorf("config key %s holds a %T, want a scalar", key, v)
	}
}

func (b *jsonFileBackend) Store(key string, value any) error {
	b.values[key] = value
	return b.flush()
}

func (b *jsonFileBackend) Remove(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flush()
}

func (b *jsonFileBackend) flush() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}
