package config

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]any

func newMapBackend() mapBackend { return mapBackend{} }

func (b mapBackend) Lookup(key string) (string, bool, error) {
	v, ok := b[key]
	if !ok {
		return "", false, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b mapBackend) Store(key string, value any) error { b[key] = value; return nil }
func (b mapBackend) Remove(key string) error           { delete(b, key); return nil }

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	items  map[string]string
	setErr error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.items[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.items == nil {
		m.items = map[string]string{}
	}
	m.items[service+"/"+account] = value
	return nil
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMapBackend(), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Server.MCP {
		t.Error("Server.MCP should default to false")
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.QuotaMB != 10 || cfg.Storage.WarnPercent != 80 {
		t.Errorf("Storage quota = %d MB / %d%%", cfg.Storage.QuotaMB, cfg.Storage.WarnPercent)
	}
	if cfg.Monitor.Schedule != "@every 30s" {
		t.Errorf("Monitor.Schedule = %q", cfg.Monitor.Schedule)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.GitHub.APIURL != "https://api.github.com" {
		t.Errorf("GitHub.APIURL = %q", cfg.GitHub.APIURL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestBackendValues(t *testing.T) {
	b := newMapBackend()
	b["server.port"] = 5000
	b["server.mcp"] = "true"
	b["storage.backend"] = "redis"
	b["storage.redis_url"] = "redis://localhost:6379/2"
	b["storage.quota_mb"] = 25
	b["github.repo"] = "acme/shop"
	b["auth.identifier"] = "dev@example.com"

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 || !cfg.Server.MCP {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.RedisURL != "redis://localhost:6379/2" || cfg.Storage.QuotaMB != 25 {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.GitHub.Repo != "acme/shop" || cfg.Auth.Identifier != "dev@example.com" {
		t.Errorf("GitHub = %+v, Auth = %+v", cfg.GitHub, cfg.Auth)
	}
}

func TestBadBoolKeepsDefault(t *testing.T) {
	b := newMapBackend()
	b["server.mcp"] = "sometimes"

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.MCP {
		t.Error("unparseable bool should leave the default in place")
	}
}

func TestEnvOverride(t *testing.T) {
	b := newMapBackend()
	b["server.port"] = 5000
	t.Setenv("FIXHERO_SERVER_PORT", "6000")
	t.Setenv("FIXHERO_OLLAMA_MODEL", "qwen2.5")
	t.Setenv("FIXHERO_STORAGE_WARN_PERCENT", "not-a-number")

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "qwen2.5" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Storage.WarnPercent != 80 {
		t.Errorf("WarnPercent = %d, want default 80", cfg.Storage.WarnPercent)
	}
}

func TestSecretsFromKeychain(t *testing.T) {
	kc := &mockKeychain{items: map[string]string{
		"fixhero/github_token":      "gh-keychain",
		"fixhero/login_secret_hash": "$2a$10$hash",
	}}
	t.Setenv("FIXHERO_GITHUB_TOKEN", "")

	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Token != "gh-keychain" {
		t.Errorf("GitHub.Token = %q", cfg.GitHub.Token)
	}
	if cfg.Auth.SecretHash != "$2a$10$hash" {
		t.Errorf("Auth.SecretHash = %q", cfg.Auth.SecretHash)
	}
}

func TestEnvSecretBeatsKeychain(t *testing.T) {
	kc := &mockKeychain{items: map[string]string{"fixhero/github_token": "gh-keychain"}}
	t.Setenv("FIXHERO_GITHUB_TOKEN", "gh-env")

	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Token != "gh-env" {
		t.Errorf("GitHub.Token = %q, want gh-env", cfg.GitHub.Token)
	}
}

func TestSecretsIgnoredInBackend(t *testing.T) {
	b := newMapBackend()
	b["github.token"] = "plain-text"

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Token != "" {
		t.Errorf("secret read from plain backend: %q", cfg.GitHub.Token)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		set  func(b mapBackend)
		want string
	}{
		{"port", func(b mapBackend) { b["server.port"] = 70000 }, "server.port"},
		{"quota", func(b mapBackend) { b["storage.quota_mb"] = 0 }, "storage.quota_mb"},
		{"warn", func(b mapBackend) { b["storage.warn_percent"] = 120 }, "storage.warn_percent"},
		{"repo", func(b mapBackend) { b["github.repo"] = "just-a-name" }, "github.repo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMapBackend()
			tt.set(b)
			_, err := loadWith(b, &mockKeychain{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestGetAPITokenGeneratesOnce(t *testing.T) {
	kc := &mockKeychain{}
	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first == "" {
		t.Fatal("empty token")
	}
	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Errorf("token changed between calls: %q -> %q", first, second)
	}
}

func TestGetAPITokenStoreFailure(t *testing.T) {
	kc := &mockKeychain{setErr: errors.New("locked")}
	if _, err := GetAPIToken(kc); err == nil {
		t.Error("expected error when the token cannot be stored")
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()
	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b["server.port"] != 4100 {
		t.Errorf("server.port = %v (%T), want int 4100", b["server.port"], b["server.port"])
	}
	if err := setKey(b, "server.mcp", "true"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b["server.mcp"] != true {
		t.Errorf("server.mcp = %v, want bool true", b["server.mcp"])
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "server.mcp", "maybe"); err == nil {
		t.Error("expected error for non-bool value")
	}
	if err := setKey(b, "github.token", "x"); err == nil {
		t.Error("expected refusal for secret key")
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.GitHub.Token = "gh-secret"
	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "gh-secret") {
			t.Errorf("secret leaked in %s", info.Key)
		}
		if info.Key == "github.token" && info.Value != "(set)" {
			t.Errorf("github.token shown as %q", info.Value)
		}
	}
	for _, k := range ValidKeys() {
		if k == "github.token" || k == "auth.secret_hash" {
			t.Errorf("secret key %s listed as settable", k)
		}
	}
}

func TestUnsetKeyRestoresDefault(t *testing.T) {
	b := newMapBackend()
	if err := setKey(b, "ollama.model", "qwen2.5"); err != nil {
		t.Fatal(err)
	}
	if err := unsetKey(b, "ollama.model"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ollama.Model != "llama3.2" {
		t.Errorf("Ollama.Model = %q, want default", cfg.Ollama.Model)
	}
	if err := unsetKey(b, "auth.secret_hash"); err == nil {
		t.Error("expected refusal for secret key")
	}
}
