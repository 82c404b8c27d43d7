// Package prefs provides cached access to the user preferences the daemon
// consumes. Each preference is stored as its own JSON value under
// fixhero:prefs:<key>; absent keys take their default.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/kalambet/fixhero/internal/session"
	"github.com/kalambet/fixhero/internal/storage"
)

const keyPrefix = "fixhero:prefs:"

// Preference keys.
const (
	KeyMaxSessions         = "max_sessions_count"
	KeyMaxIssuesPerSession = "max_issues_per_session"
	KeyCaptureConsole      = "capture_console"
	KeyCaptureNetwork      = "capture_network"
	KeyAutoTag             = "auto_tag"
	KeyDefaultExportFormat = "default_export_format"
)

// ExportFormats lists the values accepted for default_export_format.
var ExportFormats = []string{"markdown", "json", "csv", "html", "github"}

type Preferences struct {
	MaxSessionsCount    int    `json:"max_sessions_count"`
	MaxIssuesPerSession int    `json:"max_issues_per_session"`
	CaptureConsole      bool   `json:"capture_console"`
	CaptureNetwork      bool   `json:"capture_network"`
	AutoTag             bool   `json:"auto_tag"`
	DefaultExportFormat string `json:"default_export_format"`
}

// Defaults returns the preferences used when nothing is stored.
func Defaults() Preferences {
	return Preferences{
		MaxSessionsCount:    50,
		MaxIssuesPerSession: 100,
		CaptureConsole:      true,
		CaptureNetwork:      true,
		AutoTag:             false,
		DefaultExportFormat: "markdown",
	}
}

// field binds a preference key to its slot in Preferences and a parser for
// user input.
type field struct {
	key   string
	parse func(raw string) (any, error)
	apply func(p *Preferences, data []byte) error
}

var fields = []field{
	intField(KeyMaxSessions, 1, 1000, func(p *Preferences) *int { return &p.MaxSessionsCount }),
	intField(KeyMaxIssuesPerSession, 1, 10000, func(p *Preferences) *int { return &p.MaxIssuesPerSession }),
	boolField(KeyCaptureConsole, func(p *Preferences) *bool { return &p.CaptureConsole }),
	boolField(KeyCaptureNetwork, func(p *Preferences) *bool { return &p.CaptureNetwork }),
	boolField(KeyAutoTag, func(p *Preferences) *bool { return &p.AutoTag }),
	{
		key: KeyDefaultExportFormat,
		parse: func(raw string) (any, error) {
			if !slices.Contains(ExportFormats, raw) {
				return nil, fmt.Errorf("must be one of %v", ExportFormats)
			}
			return raw, nil
		},
		apply: func(p *Preferences, data []byte) error {
			return json.Unmarshal(data, &p.DefaultExportFormat)
		},
	},
}

func intField(key string, lo, hi int, slot func(*Preferences) *int) field {
	return field{
		key: key,
		parse: func(raw string) (any, error) {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("must be an integer")
			}
			if n < lo || n > hi {
				return nil, fmt.Errorf("must be between %d and %d", lo, hi)
			}
			return n, nil
		},
		apply: func(p *Preferences, data []byte) error {
			return json.Unmarshal(data, slot(p))
		},
	}
}

func boolField(key string, slot func(*Preferences) *bool) field {
	return field{
		key: key,
		parse: func(raw string) (any, error) {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("must be true or false")
			}
			return b, nil
		},
		apply: func(p *Preferences, data []byte) error {
			return json.Unmarshal(data, slot(p))
		},
	}
}

// Keys returns every preference key in display order.
func Keys() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.key
	}
	return out
}

func lookup(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager caches preferences for a short TTL so hot paths such as AddIssue
// do not read every key on each call.
type Manager struct {
	backend storage.Backend
	clock   Clock
	ttl     time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	cached   *Preferences
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(backend storage.Backend) *Manager {
	return NewManagerWithClock(backend, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(backend storage.Backend, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		backend: backend,
		clock:   clock,
		ttl:     ttl,
		logger:  slog.Default().With("component", "prefs"),
	}
}

// Get returns the current preferences. When storage cannot be read the
// defaults are returned with OutcomeStorageUnavailable and nothing is
// cached.
func (m *Manager) Get(ctx context.Context) (Preferences, storage.Outcome) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := *m.cached
		m.mu.RUnlock()
		return p, storage.OutcomeOK
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return *m.cached, storage.OutcomeOK
	}

	p := Defaults()
	for _, f := range fields {
		data, ok, err := m.backend.Get(ctx, keyPrefix+f.key)
		if err != nil {
			m.logger.Warn("reading preferences, using defaults", "key", f.key, "error", err)
			return Defaults(), storage.OutcomeStorageUnavailable
		}
		if !ok {
			continue
		}
		if err := f.apply(&p, data); err != nil {
			m.logger.Warn("malformed preference, using default", "key", f.key, "error", err)
		}
	}
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return p, storage.OutcomeOK
}

// SetField validates raw for key, persists it and invalidates the cache.
func (m *Manager) SetField(ctx context.Context, key, raw string) error {
	f, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown preference %q: %w", key, session.ErrInvalidField)
	}
	v, err := f.parse(raw)
	if err != nil {
		return fmt.Errorf("preference %s %w: %w", key, err, session.ErrInvalidField)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := storage.SetJSON(ctx, m.backend, keyPrefix+key, v); err != nil {
		return fmt.Errorf("setting preference %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

// SessionLimits implements session.LimitSource.
func (m *Manager) SessionLimits(ctx context.Context) session.Limits {
	p, _ := m.Get(ctx)
	return session.Limits{
		MaxSessions:         p.MaxSessionsCount,
		MaxIssuesPerSession: p.MaxIssuesPerSession,
	}
}
