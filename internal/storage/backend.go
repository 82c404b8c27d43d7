package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable marks a backend that could not be reached or opened.
var ErrUnavailable = errors.New("storage unavailable")

// Backend is the key-value capability every component persists through.
// Keys are namespaced per concern (fixhero:session:*, fixhero:auth:*, ...),
// so components sharing one Backend never collide.
type Backend interface {
	// Get returns the stored value and true, or nil and false when the key
	// is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Size reports the approximate number of bytes held under keys that
	// start with prefix (key and value lengths). An empty prefix covers
	// the whole backend.
	Size(ctx context.Context, prefix string) (int64, error)
	Close() error
}

// Outcome tells a caller whether a safe default it received reflects the
// real stored state or was assumed because storage failed.
type Outcome uint8

const (
	OutcomeOK Outcome = iota
	OutcomeStorageUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeStorageUnavailable:
		return "storage_unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Degraded reports whether the result was assumed rather than read.
func (o Outcome) Degraded() bool {
	return o != OutcomeOK
}

// GetJSON loads key and unmarshals it into v. It reports false when the key
// is absent.
func GetJSON(ctx context.Context, b Backend, key string, v any) (bool, error) {
	data, ok, err := b.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, b Backend, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return b.Set(ctx, key, data)
}
