package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	default:
		return "string"
	}
}

// keySpec binds one dotted config key to its env var and Config field.
// Secret keys are never read from or written to the plain backend; they come
// from the environment or the keychain account named by account.
type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FIXHERO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp", typ: kBool, env: "FIXHERO_SERVER_MCP",
		apply:   func(cfg *Config, v any) { cfg.Server.MCP = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCP },
	},
	{
		key: "storage.backend", typ: kString, env: "FIXHERO_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FIXHERO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.redis_url", typ: kString, env: "FIXHERO_STORAGE_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RedisURL },
	},
	{
		key: "storage.quota_mb", typ: kInt, env: "FIXHERO_STORAGE_QUOTA_MB",
		apply:   func(cfg *Config, v any) { cfg.Storage.QuotaMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.QuotaMB },
	},
	{
		key: "storage.warn_percent", typ: kInt, env: "FIXHERO_STORAGE_WARN_PERCENT",
		apply:   func(cfg *Config, v any) { cfg.Storage.WarnPercent = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.WarnPercent },
	},
	{
		key: "monitor.schedule", typ: kString, env: "FIXHERO_MONITOR_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Monitor.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Monitor.Schedule },
	},
	{
		key: "ollama.base_url", typ: kString, env: "FIXHERO_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "FIXHERO_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "github.repo", typ: kString, env: "FIXHERO_GITHUB_REPO",
		apply:   func(cfg *Config, v any) { cfg.GitHub.Repo = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.Repo },
	},
	{
		key: "github.api_url", typ: kString, env: "FIXHERO_GITHUB_API_URL",
		apply:   func(cfg *Config, v any) { cfg.GitHub.APIURL = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.APIURL },
	},
	{
		key: "github.token", typ: kString, env: "FIXHERO_GITHUB_TOKEN",
		secret: true, account: accountGitHubAuth,
		apply:   func(cfg *Config, v any) { cfg.GitHub.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.GitHub.Token },
	},
	{
		key: "auth.identifier", typ: kString, env: "FIXHERO_AUTH_IDENTIFIER",
		apply:   func(cfg *Config, v any) { cfg.Auth.Identifier = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Identifier },
	},
	{
		key: "auth.secret_hash", typ: kString, env: "FIXHERO_AUTH_SECRET_HASH",
		secret: true, account: accountLoginHash,
		apply:   func(cfg *Config, v any) { cfg.Auth.SecretHash = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.SecretHash },
	},
	{
		key: "log.level", typ: kString, env: "FIXHERO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts a raw string into the Go type the key's apply func expects.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
