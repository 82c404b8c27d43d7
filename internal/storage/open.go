package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Backend kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindRedis  = "redis"
	KindMemory = "memory"
)

// Options selects and configures the backend.
type Options struct {
	Kind     string
	DataDir  string
	RedisURL string
}

// Selection is the backend chosen at startup.
type Selection struct {
	Backend Backend
	// Kind is the backend actually in use; it differs from the requested
	// kind when Degraded is set.
	Kind     string
	Degraded bool
	// Cause explains why the requested backend was not used.
	Cause error
}

// opener is swapped in tests to simulate unreachable backends.
type opener func(ctx context.Context, opts Options) (Backend, error)

var openers = map[string]opener{
	KindSQLite: func(_ context.Context, opts Options) (Backend, error) {
		return OpenSQLite(opts.DataDir)
	},
	KindRedis: func(ctx context.Context, opts Options) (Backend, error) {
		if opts.RedisURL == "" {
			return nil, errors.New("redis url is empty")
		}
		return OpenRedis(ctx, opts.RedisURL)
	},
	KindMemory: func(context.Context, Options) (Backend, error) {
		return NewMemoryBackend(), nil
	},
}

// Open picks the backend once at startup. An unknown kind is a configuration
// error. A known backend that fails to open is logged and replaced by the
// in-memory fallback so the daemon keeps serving captures.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Selection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kind := opts.Kind
	if kind == "" {
		kind = KindSQLite
	}
	open, ok := openers[kind]
	if !ok {
		return Selection{}, fmt.Errorf("unknown storage backend %q (want %s, %s or %s)", kind, KindSQLite, KindRedis, KindMemory)
	}

	b, err := open(ctx, opts)
	if err == nil {
		return Selection{Backend: b, Kind: kind}, nil
	}

	cause := fmt.Errorf("%w: %s: %v", ErrUnavailable, kind, err)
	logger.Warn("storage backend unavailable, falling back to memory",
		"backend", kind,
		"error", err,
	)
	return Selection{
		Backend:  NewMemoryBackend(),
		Kind:     KindMemory,
		Degraded: true,
		Cause:    cause,
	}, nil
}
