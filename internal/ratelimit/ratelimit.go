package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound request dispatch per tenant key. Check is an
// atomic check-and-increment: an allow consumes one unit of the
// tenant's quota for the current window. Callers must back off and
// re-check on a deny, never treat it as a failure.
type Limiter interface {
	Check(ctx context.Context, tenantKey string) (bool, error)
}

// Memory is an in-process fixed-window limiter. Suitable when a single
// prism process owns the tenant's quota.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	windowStart time.Time
	count       int
}

// NewMemory creates an in-memory limiter allowing limit checks per
// window per tenant key.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Check consumes one unit of the tenant's quota if available.
func (m *Memory) Check(_ context.Context, tenantKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[tenantKey]
	if !ok || now.Sub(b.windowStart) >= m.window {
		b = &bucket{windowStart: now}
		m.buckets[tenantKey] = b
	}

	if b.count >= m.limit {
		return false, nil
	}
	b.count++
	return true, nil
}
