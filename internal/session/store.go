// Package session keeps capture sessions and their issues in a storage
// Backend. Each session is stored as one JSON record that is rewritten whole
// on every mutation; a separate index lists session ids in creation order and
// a pointer records which session is current.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kalambet/fixhero/internal/idgen"
	"github.com/kalambet/fixhero/internal/metrics"
	"github.com/kalambet/fixhero/internal/storage"
)

const (
	keyPrefix  = "fixhero:session:"
	indexKey   = "fixhero:sessions:index"
	currentKey = "fixhero:session:current"
)

// Key returns the storage key of the session record with the given id.
func Key(id string) string { return keyPrefix + id }

// KeyPrefix covers every session record and the current pointer.
const KeyPrefix = keyPrefix

var (
	// ErrNoSession is returned when an operation needs a current session and
	// none is set.
	ErrNoSession = errors.New("no current session")
	// ErrIssueLimit is returned by AddIssue when the session is full.
	ErrIssueLimit = errors.New("session issue limit reached")
	// ErrInvalidField is returned for out-of-range enum values.
	ErrInvalidField = errors.New("invalid field")
)

// IDSource produces identifiers for new sessions and issues.
type IDSource interface {
	Generate() string
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Limits caps how much the store retains. Zero disables a cap.
type Limits struct {
	MaxSessions         int
	MaxIssuesPerSession int
}

// LimitSource supplies the current limits; preferences implement it so
// changes apply without restarting.
type LimitSource interface {
	SessionLimits(ctx context.Context) Limits
}

// StaticLimits is a LimitSource that never changes.
type StaticLimits Limits

func (l StaticLimits) SessionLimits(context.Context) Limits { return Limits(l) }

// DefaultLimits match the preference defaults.
var DefaultLimits = Limits{MaxSessions: 50, MaxIssuesPerSession: 100}

// Option configures a Store.
type Option func(*Store)

func WithIDSource(ids IDSource) Option { return func(s *Store) { s.ids = ids } }
func WithClock(c Clock) Option         { return func(s *Store) { s.clock = c } }
func WithLimits(l LimitSource) Option  { return func(s *Store) { s.limits = l } }
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = m }
}

// WithIssueHook registers fn to be called with every issue AddIssue
// appends. fn runs after the store lock is released and must not block.
func WithIssueHook(fn func(Issue)) Option {
	return func(s *Store) { s.onIssue = append(s.onIssue, fn) }
}

// Store owns the current-session reference and serialises every
// read-modify-write of a session record behind one mutex.
type Store struct {
	backend storage.Backend
	ids     IDSource
	clock   Clock
	limits  LimitSource
	logger  *slog.Logger
	metrics *metrics.Recorder
	onIssue []func(Issue)

	mu sync.Mutex
	// current is the id of the current session, "" for none. It is
	// mirrored to currentKey and loaded lazily on first use.
	current       string
	currentLoaded bool
}

func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ids:     idgen.New(),
		clock:   realClock{},
		limits:  StaticLimits(DefaultLimits),
		logger:  slog.Default().With("component", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession starts a new session for url and makes it current. Sessions
// beyond the retention cap are pruned oldest first.
func (s *Store) CreateSession(ctx context.Context, url string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}

	id := s.ids.Generate()
	for slices.Contains(index, id) {
		id = s.ids.Generate()
	}
	sess := Session{
		ID:        id,
		StartTime: s.clock.Now().UnixMilli(),
		URL:       url,
		Issues:    []Issue{},
	}
	if err := s.put(ctx, &sess); err != nil {
		return nil, err
	}

	index = append(index, id)
	var pruned []string
	if keep := s.limits.SessionLimits(ctx).MaxSessions; keep > 0 && len(index) > keep {
		pruned = slices.Clone(index[:len(index)-keep])
		index = index[len(index)-keep:]
	}
	if err := storage.SetJSON(ctx, s.backend, indexKey, index); err != nil {
		if derr := s.backend.Delete(ctx, Key(id)); derr != nil {
			s.logger.Warn("removing unindexed session record", "session", id, "error", derr)
		}
		return nil, fmt.Errorf("writing session index: %w", err)
	}
	for _, old := range pruned {
		if err := s.backend.Delete(ctx, Key(old)); err != nil {
			// The id is already out of the index; the orphaned record only
			// costs space.
			s.logger.Warn("pruning session record", "session", old, "error", err)
		}
	}
	if len(pruned) > 0 {
		s.logger.Info("pruned old sessions", "count", len(pruned))
		s.metrics.SessionsPruned(len(pruned))
	}

	if err := s.setCurrentLocked(ctx, id); err != nil {
		return nil, err
	}
	s.metrics.SessionCreated()
	s.logger.Debug("session created", "session", id, "url", url)
	return &sess, nil
}

// Current returns the current session, or nil when none is set. Storage
// failures are logged and reported as OutcomeStorageUnavailable with a nil
// session.
func (s *Store) Current(ctx context.Context) (*Session, storage.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.currentID(ctx)
	if err != nil {
		s.degraded("reading current session pointer", err)
		return nil, storage.OutcomeStorageUnavailable
	}
	if id == "" {
		return nil, storage.OutcomeOK
	}
	sess, err := s.get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("current session record missing", "session", id)
		if err := s.setCurrentLocked(ctx, ""); err != nil {
			s.logger.Warn("clearing stale current session", "session", id, "error", err)
			s.current = ""
		}
		return nil, storage.OutcomeOK
	case err != nil:
		s.degraded("reading current session", err)
		return nil, storage.OutcomeStorageUnavailable
	}
	return sess, storage.OutcomeOK
}

// SetCurrent makes an existing session current.
func (s *Store) SetCurrent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	return s.setCurrentLocked(ctx, id)
}

// AllSessions resolves the index in creation order. Indexed ids without a
// record are skipped. When storage fails the sessions read so far are
// returned with OutcomeStorageUnavailable.
func (s *Store) AllSessions(ctx context.Context) ([]Session, storage.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Session{}
	index, err := s.readIndex(ctx)
	if err != nil {
		s.degraded("reading session index", err)
		return out, storage.OutcomeStorageUnavailable
	}
	outcome := storage.OutcomeOK
	for _, id := range index {
		sess, err := s.get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("skipping indexed session without record", "session", id)
			continue
		}
		if err != nil {
			s.degraded("reading session "+id, err)
			outcome = storage.OutcomeStorageUnavailable
			continue
		}
		out = append(out, *sess)
	}
	return out, outcome
}

// Session returns one session. A missing record wraps storage.ErrNotFound.
func (s *Store) Session(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, id)
}

// ClearAllSessions deletes every indexed session, the index and the current
// pointer.
func (s *Store) ClearAllSessions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	for _, id := range index {
		if err := s.backend.Delete(ctx, Key(id)); err != nil {
			return fmt.Errorf("deleting session %s: %w", id, err)
		}
	}
	if err := s.backend.Delete(ctx, indexKey); err != nil {
		return fmt.Errorf("deleting session index: %w", err)
	}
	if err := s.backend.Delete(ctx, currentKey); err != nil {
		return fmt.Errorf("clearing current session: %w", err)
	}
	s.current, s.currentLoaded = "", true
	s.logger.Info("cleared all sessions", "count", len(index))
	return nil
}

// DeleteSession removes one session and its index entry. Deleting the
// current session leaves no session current.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	pos := slices.Index(index, id)
	_, found, err := s.backend.Get(ctx, Key(id))
	if err != nil {
		return fmt.Errorf("reading session %s: %w", id, err)
	}
	if pos < 0 && !found {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}

	if err := s.backend.Delete(ctx, Key(id)); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if pos >= 0 {
		index = slices.Delete(index, pos, pos+1)
		if err := storage.SetJSON(ctx, s.backend, indexKey, index); err != nil {
			return fmt.Errorf("writing session index: %w", err)
		}
	}
	cur, err := s.currentID(ctx)
	if err != nil {
		return err
	}
	if cur == id {
		return s.setCurrentLocked(ctx, "")
	}
	return nil
}

// UpdateSessionMetadata merges the non-nil fields of u into the stored
// session. Issues are left untouched.
func (s *Store) UpdateSessionMetadata(ctx context.Context, id string, u MetadataUpdate) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		sess.Name = *u.Name
	}
	if u.Description != nil {
		sess.Description = *u.Description
	}
	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// readIndex returns the session ids in creation order; a missing index is
// empty.
func (s *Store) readIndex(ctx context.Context) ([]string, error) {
	var index []string
	if _, err := storage.GetJSON(ctx, s.backend, indexKey, &index); err != nil {
		return nil, fmt.Errorf("reading session index: %w", err)
	}
	return index, nil
}

func (s *Store) get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	ok, err := storage.GetJSON(ctx, s.backend, Key(id), &sess)
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if sess.Issues == nil {
		sess.Issues = []Issue{}
	}
	return &sess, nil
}

func (s *Store) put(ctx context.Context, sess *Session) error {
	if err := storage.SetJSON(ctx, s.backend, Key(sess.ID), sess); err != nil {
		return fmt.Errorf("writing session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) currentID(ctx context.Context) (string, error) {
	if s.currentLoaded {
		return s.current, nil
	}
	var id string
	if _, err := storage.GetJSON(ctx, s.backend, currentKey, &id); err != nil {
		return "", fmt.Errorf("reading current session: %w", err)
	}
	s.current, s.currentLoaded = id, true
	return id, nil
}

func (s *Store) setCurrentLocked(ctx context.Context, id string) error {
	var err error
	if id == "" {
		err = s.backend.Delete(ctx, currentKey)
	} else {
		err = storage.SetJSON(ctx, s.backend, currentKey, id)
	}
	if err != nil {
		return fmt.Errorf("writing current session: %w", err)
	}
	s.current, s.currentLoaded = id, true
	return nil
}

func (s *Store) degraded(what string, err error) {
	s.logger.Warn(what, "error", err)
	s.metrics.DegradedRead("session")
}
