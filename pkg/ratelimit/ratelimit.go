// Package ratelimit throttles inbound integration traffic with a token
// bucket per caller. A Redis-backed store serves multi-instance deployments;
// the in-memory store covers single-node and lite mode.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy is the per-caller budget: sustained requests per minute plus a
// burst ceiling.
type Policy struct {
	RPM   int
	Burst int
}

// DefaultPolicy is applied when no caller-specific policy is configured.
var DefaultPolicy = Policy{RPM: 120, Burst: 30}

func (p Policy) ratePerSecond() float64 {
	rate := float64(p.RPM) / 60.0
	if rate <= 0 {
		rate = 1
	}
	return rate
}

func (p Policy) capacity() float64 {
	if p.Burst <= 0 {
		return 1
	}
	return float64(p.Burst)
}

// Store answers whether one caller may spend cost tokens right now.
type Store interface {
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket), now: time.Now}
}

// Allow refills the caller's bucket for elapsed time and consumes cost
// tokens when available.
func (s *MemoryStore) Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: policy.capacity(), lastRefill: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * policy.ratePerSecond()
		if cap := policy.capacity(); b.tokens > cap {
			b.tokens = cap
		}
		b.lastRefill = now
	}
	b.lastSeen = now

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true, nil
	}
	return false, nil
}

// Prune drops buckets idle for longer than idleFor and reports how many
// were removed. The cleanup queue job calls this periodically.
func (s *MemoryStore) Prune(idleFor time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idleFor)
	removed := 0
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}
