// Package kv defines the key-value contract the identity stores are built on
// and the backends that satisfy it.
//
// The contract deliberately has no transactions and no compare-and-swap in its
// base form. Backends that can offer an atomic put-if-absent also implement
// Claimer; callers must treat that as optional.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMisconfigured is returned when a store handle was never bound.
var ErrMisconfigured = errors.New("kv: store binding is not configured")

// Store is a durable string-keyed map.
type Store interface {
	// Get returns nil, nil when the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value under key. A ttl of zero means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the names of all live keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Claimer is implemented by backends with an atomic put-if-absent.
type Claimer interface {
	// PutIfAbsent writes value only if key does not exist and reports
	// whether the write happened.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// GetJSON decodes the value under key into v. It reports false on a miss.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("kv: failed to unmarshal %q: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: failed to marshal %q: %w", key, err)
	}
	return s.Put(ctx, key, data, ttl)
}

// GetString returns the value under key as a string, or "" on a miss.
func GetString(ctx context.Context, s Store, key string) (string, bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return "", false, err
	}
	return string(raw), true, nil
}
