package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one rate.Limiter per key in process memory. Limits are per replica.
type MemoryLimiter struct {
	policy Policy
	nowF   func() time.Time

	mu       sync.Mutex
	limiters map[string]*memoryEntry
	lastGC   time.Time
}

// NewMemoryLimiter returns a per-process limiter for policy.
func NewMemoryLimiter(policy Policy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   policy,
		nowF:     time.Now,
		limiters: make(map[string]*memoryEntry),
	}
}

// Allow consumes one token for key. It never returns an error.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if !m.policy.Enabled() {
		return true, nil
	}
	now := m.nowF()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.collect(now)
	e, ok := m.limiters[key]
	if !ok {
		e = &memoryEntry{limiter: rate.NewLimiter(rate.Limit(m.policy.perSecond()), m.policy.capacity())}
		m.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// collect drops idle buckets at most once per idleTTL. Caller holds mu.
func (m *MemoryLimiter) collect(now time.Time) {
	if now.Sub(m.lastGC) < idleTTL {
		return
	}
	m.lastGC = now
	for k, e := range m.limiters {
		if now.Sub(e.lastSeen) >= idleTTL {
			delete(m.limiters, k)
		}
	}
}

func (m *MemoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}
