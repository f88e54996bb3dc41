// Package cache provides the key-value store behind the read-through response
// cache, the invalidation coordinator, and the ban flags. Values are opaque
// bytes; by convention they hold JSON text.
package cache

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrUnavailable is returned by a guarded store while its breaker is open.
var ErrUnavailable = errors.New("cache: store unavailable")

// Store is a key-value store with per-entry TTLs and glob-pattern deletion.
// A TTL <= 0 means the entry does not expire on its own.
type Store interface {
	// Get returns the value stored under key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key, replacing any existing value.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// SetNX stores val only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	// Exists reports whether key holds a live value.
	Exists(ctx context.Context, key string) (bool, error)
	// MGet returns one slot per key; misses are nil.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// DeletePattern removes every key matching p and returns the count.
	DeletePattern(ctx context.Context, p Pattern) (int, error)
	// Purge removes every key owned by the store.
	Purge(ctx context.Context) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Pattern is a glob over keys: '*' matches any run of characters and '?'
// matches one. It follows Redis MATCH semantics for the key alphabet used here
// (no '/', '[' or '\').
type Pattern string

// Match reports whether key matches the pattern. Malformed patterns match nothing.
func (p Pattern) Match(key string) bool {
	ok, err := path.Match(string(p), key)
	return err == nil && ok
}

func (p Pattern) String() string { return string(p) }
