// Package idempotency deduplicates tool calls that an agent re-issues.
//
// Entries are keyed by a content hash of the operation and its normalized
// arguments, scoped to a session, and expire after a retention window.
// Guard.Do is a get-or-compute: a live entry is replayed without running the
// computation again.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is the retention window used when none is configured.
const DefaultTTL = 30 * time.Minute

// Entry is one cached outcome.
type Entry struct {
	Scope     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Live reports whether the entry is still within its retention window.
func (e Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the live entry for (scope, key), if any.
	Get(ctx context.Context, scope, key string, now time.Time) (Entry, bool, error)
	// Put stores an entry, replacing any previous one for the same key.
	Put(ctx context.Context, e Entry) error
	// DeleteExpired removes every entry that expired at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ComputeFunc produces the payload for a missing entry. The payload is
// cached only when cache is true.
type ComputeFunc func(ctx context.Context) (payload []byte, cache bool, err error)

// Guard implements get-or-compute over a Store.
type Guard struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a guard. A non-positive ttl means DefaultTTL.
func New(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		locks: make(map[string]*keyLock),
	}
}

// WithClock replaces the guard's clock. Used by tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// TTL returns the retention window.
func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// Store returns the underlying store.
func (g *Guard) Store() Store {
	return g.store
}

// Do returns the live payload for (scope, key) or runs compute. Concurrent
// calls for the same key are serialized, so compute runs at most once per
// key while an entry is live.
func (g *Guard) Do(ctx context.Context, scope, key string, compute ComputeFunc) (payload []byte, replayed bool, err error) {
	unlock := g.lock(scope + "\x00" + key)
	defer unlock()

	entry, ok, err := g.store.Get(ctx, scope, key, g.now())
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency entry: %w", err)
	}
	if ok {
		return entry.Payload, true, nil
	}

	payload, cache, err := compute(ctx)
	if err != nil || !cache {
		return payload, false, err
	}

	now := g.now()
	if err := g.store.Put(ctx, Entry{
		Scope:     scope,
		Key:       key,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}); err != nil {
		return payload, false, fmt.Errorf("failed to store idempotency entry: %w", err)
	}
	return payload, false, nil
}

// Sweep removes expired entries from the store.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	return g.store.DeleteExpired(ctx, g.now())
}

func (g *Guard) lock(k string) func() {
	g.mu.Lock()
	l, ok := g.locks[k]
	if !ok {
		l = &keyLock{}
		g.locks[k] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, k)
		}
		g.mu.Unlock()
	}
}
