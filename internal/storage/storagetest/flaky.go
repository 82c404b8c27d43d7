// Package storagetest provides Backend doubles for tests in other packages.
package storagetest

import (
	"context"
	"errors"
	"sync"

	"github.com/kalambet/fixhero/internal/storage"
)

// ErrInjected is returned by a Flaky backend while failures are switched on.
var ErrInjected = errors.New("injected storage failure")

// Flaky wraps a MemoryBackend and fails reads and/or writes on demand.
type Flaky struct {
	*storage.MemoryBackend

	mu         sync.Mutex
	failReads  bool
	failWrites bool
	// failKeys lists keys Set refuses regardless of failWrites.
	failKeys map[string]bool
	// missing lists keys Get reports as absent even when stored.
	missing map[string]bool
}

func NewFlaky() *Flaky {
	return &Flaky{MemoryBackend: storage.NewMemoryBackend(), missing: map[string]bool{}, failKeys: map[string]bool{}}
}

func (f *Flaky) FailReads(v bool) {
	f.mu.Lock()
	f.failReads = v
	f.mu.Unlock()
}

func (f *Flaky) FailWrites(v bool) {
	f.mu.Lock()
	f.failWrites = v
	f.mu.Unlock()
}

// FailWritesTo makes Set fail for key only.
func (f *Flaky) FailWritesTo(key string) {
	f.mu.Lock()
	f.failKeys[key] = true
	f.mu.Unlock()
}

// Hide makes key look absent to Get without removing it.
func (f *Flaky) Hide(key string) {
	f.mu.Lock()
	f.missing[key] = true
	f.mu.Unlock()
}

func (f *Flaky) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	fail, hidden := f.failReads, f.missing[key]
	f.mu.Unlock()
	if fail {
		return nil, false, ErrInjected
	}
	if hidden {
		return nil, false, nil
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *Flaky) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	refused := f.failKeys[key]
	f.mu.Unlock()
	if refused || f.writesFail() {
		return ErrInjected
	}
	return f.MemoryBackend.Set(ctx, key, value)
}

func (f *Flaky) Delete(ctx context.Context, key string) error {
	if f.writesFail() {
		return ErrInjected
	}
	return f.MemoryBackend.Delete(ctx, key)
}

func (f *Flaky) Size(ctx context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	fail := f.failReads
	f.mu.Unlock()
	if fail {
		return 0, ErrInjected
	}
	return f.MemoryBackend.Size(ctx, prefix)
}

func (f *Flaky) writesFail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWrites
}
