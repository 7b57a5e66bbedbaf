// Package ratelimit paces remote calls with a fixed-window counter per tenant.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a fixed-window call limit per tenant id.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	store  map[int64]*entry
}

type entry struct {
	count int
	reset time.Time
}

// New creates a new Limiter.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}

	return &Limiter{
		limit:  limit,
		window: window,
		store:  make(map[int64]*entry),
	}
}

// Allow reports whether the tenant may issue another call now. It returns the
// remaining duration until the counter resets.
func (l *Limiter) Allow(tenantID int64) (bool, time.Duration) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.store[tenantID]
	if !ok || now.After(e.reset) {
		l.store[tenantID] = &entry{count: 1, reset: now.Add(l.window)}
		return true, l.window
	}

	if e.count >= l.limit {
		return false, time.Until(e.reset)
	}

	e.count++
	return true, time.Until(e.reset)
}

// Wait blocks until the tenant may issue another call or ctx is done.
func (l *Limiter) Wait(ctx context.Context, tenantID int64) error {
	for {
		ok, retryIn := l.Allow(tenantID)
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Cleanup removes expired entries. The sweeper calls it after each tenant.
func (l *Limiter) Cleanup() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, e := range l.store {
		if now.After(e.reset) {
			delete(l.store, id)
		}
	}
}

// Len returns the number of tracked tenants.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.store)
}
