package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
)

// BreakerState is the state of a Guard's circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota
	// BreakerOpen fails every call with ErrUnavailable.
	BreakerOpen
	// BreakerHalfOpen lets a single probe through.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	ErrorThreshold float64       // weighted error rate to trip (e.g. 0.5)
	MinSamples     int           // minimum calls in the window before tripping
	WindowSeconds  int           // sliding window length, capped at 60
	OpenTimeout    time.Duration // time in OPEN before a probe is allowed
}

// DefaultBreakerConfig returns defaults tuned for a LAN cache: a store that
// fails half of 20 calls in 10s is skipped for 5s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold: 0.5,
		MinSamples:     20,
		WindowSeconds:  10,
		OpenTimeout:    5 * time.Second,
	}
}

// slot holds weighted errors and call counts for one second.
type slot struct {
	errors float64
	total  int
}

// window is a ring of 1-second slots. The array is fixed so a breaker is a
// single allocation.
type window struct {
	slots    [60]slot
	size     int
	head     int
	headTime int64
}

func (w *window) advance(sec int64) {
	if w.headTime == 0 {
		w.headTime = sec
		return
	}
	gap := sec - w.headTime
	if gap <= 0 {
		return
	}
	for i := range min(int(gap), w.size) {
		w.slots[(w.head+1+i)%w.size] = slot{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = sec
}

func (w *window) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.slots[w.head].total++
	w.slots[w.head].errors += weight
}

func (w *window) rate(now time.Time) (float64, int) {
	w.advance(now.Unix())
	var errs float64
	var total int
	for i := range w.size {
		errs += w.slots[i].errors
		total += w.slots[i].total
	}
	if total == 0 {
		return 0, 0
	}
	return errs / float64(total), total
}

func (w *window) reset() {
	w.slots = [60]slot{}
	w.head, w.headTime = 0, 0
}

// breaker is a sliding-window error-rate circuit breaker.
type breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	win      window
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	size := cfg.WindowSeconds
	if size <= 0 || size > 60 {
		size = 60
	}
	return &breaker{cfg: cfg, win: window{size: size}, now: time.Now}
}

func (b *breaker) allow() bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *breaker) record(weight float64) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.win.record(weight, now)

	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		if weight == 0 {
			b.state = BreakerClosed
			b.win.reset()
			return
		}
		b.state = BreakerOpen
		b.openedAt = now
	case BreakerClosed:
		if weight == 0 {
			return
		}
		if rate, n := b.win.rate(now); n >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
	}
}

func (b *breaker) current() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// errorWeight scores a store error for the breaker. Timeouts weigh the most;
// cancellations are the caller's doing and weigh nothing.
func errorWeight(err error) float64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return 1.5
	default:
		return 1.0
	}
}

// Guard wraps a Store with a circuit breaker so a failing backend costs a
// state check instead of a network timeout per call. While open every call
// returns ErrUnavailable, which callers already treat as a miss.
type Guard struct {
	next Store
	cb   *breaker
}

// NewGuard wraps next with a breaker configured by cfg.
func NewGuard(next Store, cfg BreakerConfig) *Guard {
	return &Guard{next: next, cb: newBreaker(cfg)}
}

// State returns the breaker state.
func (g *Guard) State() BreakerState { return g.cb.current() }

func (g *Guard) done(err error) error {
	g.cb.record(errorWeight(err))
	return err
}

// Get implements Store.
func (g *Guard) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !g.cb.allow() {
		return nil, false, ErrUnavailable
	}
	val, ok, err := g.next.Get(ctx, key)
	return val, ok, g.done(err)
}

// Set implements Store.
func (g *Guard) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if !g.cb.allow() {
		return ErrUnavailable
	}
	return g.done(g.next.Set(ctx, key, val, ttl))
}

// SetNX implements Store.
func (g *Guard) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	if !g.cb.allow() {
		return false, ErrUnavailable
	}
	ok, err := g.next.SetNX(ctx, key, val, ttl)
	return ok, g.done(err)
}

// Exists implements Store.
func (g *Guard) Exists(ctx context.Context, key string) (bool, error) {
	if !g.cb.allow() {
		return false, ErrUnavailable
	}
	ok, err := g.next.Exists(ctx, key)
	return ok, g.done(err)
}

// MGet implements Store.
func (g *Guard) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if !g.cb.allow() {
		return nil, ErrUnavailable
	}
	vals, err := g.next.MGet(ctx, keys...)
	return vals, g.done(err)
}

// Delete implements Store.
func (g *Guard) Delete(ctx context.Context, keys ...string) (int, error) {
	if !g.cb.allow() {
		return 0, ErrUnavailable
	}
	n, err := g.next.Delete(ctx, keys...)
	return n, g.done(err)
}

// DeletePattern implements Store.
func (g *Guard) DeletePattern(ctx context.Context, p Pattern) (int, error) {
	if !g.cb.allow() {
		return 0, ErrUnavailable
	}
	n, err := g.next.DeletePattern(ctx, p)
	return n, g.done(err)
}

// Purge implements Store.
func (g *Guard) Purge(ctx context.Context) error {
	if !g.cb.allow() {
		return ErrUnavailable
	}
	return g.done(g.next.Purge(ctx))
}

// Ping bypasses the breaker so health checks see the backend itself.
func (g *Guard) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}
