// Package kvstore is the persisted key-value layer behind overrides, rollout
// plans, rollout history and integration entity maps.
//
// Backends only move opaque bytes. LoadJSON and SaveJSON layer JSON encoding on
// top, and LoadJSON never fails: a broken or unreachable backend degrades to
// the caller's defaults.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/srab2001/featuregate/internal/observability"
)

// ErrStorage wraps every backend failure.
var ErrStorage = errors.New("storage operation failed")

// Store persists opaque values by key.
type Store interface {
	// Save writes value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error
	// Load returns the value stored under key. A missing key is (nil, false, nil).
	Load(ctx context.Context, key string) ([]byte, bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

func storageError(op, key string, err error) error {
	observability.StorageErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s %q: %w", ErrStorage, op, key, err)
}

// LoadJSON decodes the value stored under key into a T.
// Missing keys, backend failures and corrupt payloads all yield the zero T and
// false; the latter two are logged.
func LoadJSON[T any](ctx context.Context, s Store, key string, log *slog.Logger) (T, bool) {
	var out T
	if s == nil {
		return out, false
	}
	if log == nil {
		log = slog.Default()
	}

	raw, found, err := s.Load(ctx, key)
	if err != nil {
		log.Warn("storage load failed, using defaults", slog.String("key", key), slog.Any("error", err))
		return out, false
	}
	if !found {
		return out, false
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		observability.StorageErrors.WithLabelValues("decode").Inc()
		log.Warn("stored value is corrupt, using defaults", slog.String("key", key), slog.Any("error", err))
		var zero T
		return zero, false
	}
	return out, true
}

// SaveJSON encodes v and writes it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Save(ctx, key, raw)
}

// WithTimeout bounds every operation on s by d. A non-positive d returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: d}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (t *timeoutStore) Save(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Save(ctx, key, value)
}

func (t *timeoutStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Load(ctx, key)
}

func (t *timeoutStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Delete(ctx, key)
}
