package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with its expiration time. Zero expiresAt means
// the entry lives until evicted or the store-wide ceiling passes.
type entry struct {
	data      []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process W-TinyLFU store backed by otter. otter cannot list
// its keys by prefix, so Memory keeps a key index for pattern deletion. The
// index may hold keys otter has already evicted; DeletePattern prunes them.
type Memory struct {
	cache *otter.Cache[string, entry]

	mu    sync.Mutex // guards index and serializes SetNX
	index map[string]struct{}

	now func() time.Time
}

// NewMemory creates an in-memory store with the given max entry count. ceiling
// bounds the lifetime of every entry, including those written with ttl <= 0.
func NewMemory(maxSize int, ceiling time.Duration) (*Memory, error) {
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](ceiling),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{
		cache: c,
		index: make(map[string]struct{}),
		now:   time.Now,
	}, nil
}

// lookup returns a live entry. An expired entry is dropped under mu, after
// a re-read, so a concurrent SetNX that replaced it keeps its value.
func (m *Memory) lookup(key string) (entry, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return entry{}, false
	}
	if !e.expired(m.now()) {
		return e, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(key)
}

// lookupLocked is lookup for callers holding mu.
func (m *Memory) lookupLocked(key string) (entry, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return entry{}, false
	}
	if e.expired(m.now()) {
		m.cache.Invalidate(key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) put(key string, val []byte, ttl time.Duration) {
	e := entry{data: val}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.cache.Set(key, e)
	m.index[key] = struct{}{}
}

// Get retrieves a value if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return e.data, true, nil
}

// Set stores a value with a per-entry TTL.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.put(key, val, ttl)
	m.mu.Unlock()
	return nil
}

// SetNX stores a value only if the key holds no live entry.
func (m *Memory) SetNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookupLocked(key); ok {
		return false, nil
	}
	m.put(key, val, ttl)
	return true, nil
}

// Exists reports whether the key holds a live entry.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

// MGet returns the values for keys, nil for each miss.
func (m *Memory) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if e, ok := m.lookup(k); ok {
			out[i] = e.data
		}
	}
	return out, nil
}

// Delete removes keys and returns how many held live entries.
func (m *Memory) Delete(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := m.lookupLocked(k); ok {
			n++
		}
		m.cache.Invalidate(k)
		delete(m.index, k)
	}
	return n, nil
}

// DeletePattern removes every indexed key matching p.
func (m *Memory) DeletePattern(_ context.Context, p Pattern) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.index {
		_, live := m.lookupLocked(k)
		switch {
		case p.Match(k):
			if live {
				n++
			}
			m.cache.Invalidate(k)
			delete(m.index, k)
		case !live:
			delete(m.index, k)
		}
	}
	return n, nil
}

// Purge removes every entry.
func (m *Memory) Purge(_ context.Context) error {
	m.mu.Lock()
	m.cache.InvalidateAll()
	clear(m.index)
	m.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }
