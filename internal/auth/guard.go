// Package auth throttles local credential checks. After MaxLoginAttempts
// consecutive failures further attempts are refused for LockoutDuration,
// measured from the most recent failure.
package auth

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kalambet/fixhero/internal/metrics"
	"github.com/kalambet/fixhero/internal/storage"
)

const (
	MaxLoginAttempts = 3
	LockoutDuration  = 15 * time.Minute

	attemptsKey = "fixhero:auth:login_attempts"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// attemptRecord is the persisted failed-attempt counter. Timestamp is the
// epoch milliseconds of the latest failure.
type attemptRecord struct {
	Count     int   `json:"count"`
	Timestamp int64 `json:"timestamp"`
}

// LockStatus is the result of CheckLockStatus. When Outcome is degraded the
// guard could not read its record and reports unlocked.
type LockStatus struct {
	Locked           bool            `json:"locked"`
	RemainingSeconds int             `json:"remainingTimeSeconds"`
	Outcome          storage.Outcome `json:"-"`
}

// Guard enforces the lockout. It fails open: storage errors are logged and
// treated as "not locked" so a broken backend cannot lock the user out for
// good. The Outcome on every result says whether that happened.
//
// mu serializes check, verify and record so parallel logins cannot all pass
// the lock check before any failure is counted.
type Guard struct {
	mu sync.Mutex

	backend  storage.Backend
	verifier Verifier
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

func NewGuard(backend storage.Backend, verifier Verifier, m *metrics.Recorder) *Guard {
	return NewGuardWithClock(backend, verifier, m, realClock{})
}

// NewGuardWithClock creates a Guard with a custom clock (for testing).
func NewGuardWithClock(backend storage.Backend, verifier Verifier, m *metrics.Recorder, clock Clock) *Guard {
	return &Guard{
		backend:  backend,
		verifier: verifier,
		clock:    clock,
		logger:   slog.Default().With("component", "auth"),
		metrics:  m,
	}
}

// CheckLockStatus reports whether logins are locked and for how many more
// seconds, rounded up. An expired lockout is cleared as a side effect.
func (g *Guard) CheckLockStatus(ctx context.Context) LockStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockStatus(ctx)
}

func (g *Guard) lockStatus(ctx context.Context) LockStatus {
	var rec attemptRecord
	ok, err := storage.GetJSON(ctx, g.backend, attemptsKey, &rec)
	if err != nil {
		g.degraded("reading login attempts", err)
		return LockStatus{Outcome: storage.OutcomeStorageUnavailable}
	}
	if !ok || rec.Count < MaxLoginAttempts {
		return LockStatus{Outcome: storage.OutcomeOK}
	}

	until := time.UnixMilli(rec.Timestamp).Add(LockoutDuration)
	remaining := until.Sub(g.clock.Now())
	if remaining > 0 {
		return LockStatus{
			Locked:           true,
			RemainingSeconds: int(math.Ceil(remaining.Seconds())),
			Outcome:          storage.OutcomeOK,
		}
	}

	if err := g.backend.Delete(ctx, attemptsKey); err != nil {
		g.degraded("clearing expired lockout", err)
		return LockStatus{Outcome: storage.OutcomeStorageUnavailable}
	}
	g.logger.Info("lockout expired")
	return LockStatus{Outcome: storage.OutcomeOK}
}

// ValidateCredentials checks identifier and secret. While locked it returns
// false without consulting the verifier or recording the attempt. A failure
// increments the counter; a success clears it.
func (g *Guard) ValidateCredentials(ctx context.Context, identifier, secret string) (bool, storage.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := g.lockStatus(ctx)
	if status.Locked {
		g.metrics.LoginAttempt("locked")
		return false, status.Outcome
	}
	outcome := status.Outcome

	if g.verifier.Verify(identifier, secret) {
		g.metrics.LoginAttempt("success")
		if err := g.backend.Delete(ctx, attemptsKey); err != nil {
			g.degraded("resetting login attempts", err)
			outcome = storage.OutcomeStorageUnavailable
		}
		return true, outcome
	}

	g.metrics.LoginAttempt("failure")
	if err := g.recordFailure(ctx); err != nil {
		g.degraded("recording failed login", err)
		outcome = storage.OutcomeStorageUnavailable
	}
	return false, outcome
}

func (g *Guard) recordFailure(ctx context.Context) error {
	var rec attemptRecord
	if _, err := storage.GetJSON(ctx, g.backend, attemptsKey, &rec); err != nil {
		return err
	}
	rec.Count++
	rec.Timestamp = g.clock.Now().UnixMilli()
	if err := storage.SetJSON(ctx, g.backend, attemptsKey, rec); err != nil {
		return err
	}
	if rec.Count == MaxLoginAttempts {
		g.logger.Warn("too many failed logins, locking", "duration", LockoutDuration)
		g.metrics.Lockout()
	}
	return nil
}

func (g *Guard) degraded(what string, err error) {
	g.logger.Warn(what, "error", err)
	g.metrics.DegradedRead("auth")
}
