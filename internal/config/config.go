package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Monitor MonitorConfig
	Ollama  OllamaConfig
	GitHub  GitHubConfig
	Auth    AuthConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// MCP enables the stdio MCP server alongside the HTTP API.
	MCP bool
}

type StorageConfig struct {
	Backend     string
	DataDir     string
	RedisURL    string
	QuotaMB     int
	WarnPercent int
}

type MonitorConfig struct {
	Schedule string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type GitHubConfig struct {
	Repo   string
	APIURL string
	Token  string
}

type AuthConfig struct {
	Identifier string
	SecretHash string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			Backend:     "sqlite",
			DataDir:     defaultDataDir(),
			QuotaMB:     10,
			WarnPercent: 80,
		},
		Monitor: MonitorConfig{
			Schedule: "@every 30s",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
		},
		GitHub: GitHubConfig{
			APIURL: "https://api.github.com",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.fixhero.app) and secrets
// live in the login Keychain under service "fixhero".
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/fixhero/config.json
// and secrets are kept in $XDG_DATA_HOME/fixhero/secrets.json.
//
// Environment variables (FIXHERO_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets not supplied through the environment come from the keychain.
	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Storage.QuotaMB <= 0 {
		return fmt.Errorf("invalid config: storage.quota_mb must be positive, got %d", c.Storage.QuotaMB)
	}
	if c.Storage.WarnPercent < 0 || c.Storage.WarnPercent > 100 {
		return fmt.Errorf("invalid config: storage.warn_percent must be within 0..100, got %d", c.Storage.WarnPercent)
	}
	if c.GitHub.Repo != "" && strings.Count(c.GitHub.Repo, "/") != 1 {
		return fmt.Errorf("invalid config: github.repo must look like owner/name, got %q", c.GitHub.Repo)
	}
	return nil
}
