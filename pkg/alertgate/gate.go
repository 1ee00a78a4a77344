// Package alertgate throttles alert emission so that noisy
// evaluators cannot flood notification channels during an alert
// storm. Buckets are keyed per alert source and severity.
package alertgate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines the per-key emission limits.
type Policy struct {
	PerMinute int // sustained alerts per minute
	Burst     int // maximum burst size
}

// DefaultPolicy allows a short burst and a modest sustained rate,
// enough for real escalations without drowning a channel.
func DefaultPolicy() Policy {
	return Policy{PerMinute: 30, Burst: 10}
}

// LimiterStore abstracts the storage for alert rate buckets.
type LimiterStore interface {
	// Allow checks whether the key may emit an alert costing 'cost'.
	// Returns true if allowed, false if throttled.
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// Gate decides whether an alert may be dispatched.
type Gate struct {
	store  LimiterStore
	policy Policy
	logger *slog.Logger

	mu        sync.Mutex
	throttled map[string]int
}

// New creates a Gate over the given store. A nil store gets an
// in-memory one.
func New(store LimiterStore, policy Policy) *Gate {
	if store == nil {
		store = NewMemoryStore()
	}
	if policy.PerMinute <= 0 {
		policy = DefaultPolicy()
	}
	return &Gate{
		store:     store,
		policy:    policy,
		logger:    slog.Default().With("component", "alertgate"),
		throttled: make(map[string]int),
	}
}

// Permit reports whether an alert for the given key may be sent now.
// A failing store must not suppress alerts, so errors fail open.
func (g *Gate) Permit(ctx context.Context, key string) bool {
	allowed, err := g.store.Allow(ctx, key, g.policy, 1)
	if err != nil {
		g.logger.WarnContext(ctx, "limiter store unavailable, allowing alert", "key", key, "error", err)
		return true
	}
	if !allowed {
		g.mu.Lock()
		g.throttled[key]++
		g.mu.Unlock()
	}
	return allowed
}

// ThrottledCount returns how many alerts were suppressed for a key.
func (g *Gate) ThrottledCount(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.throttled[key]
}

// ── In-memory store ──────────────────────────────────────────────────────────

// MemoryStore implements LimiterStore with per-key token buckets.
// Suitable for single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryStore creates an in-memory limiter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{limiters: make(map[string]*keyLimiter)}
}

func (s *MemoryStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kl, exists := s.limiters[key]
	if !exists {
		perSec := rate.Limit(float64(policy.PerMinute) / 60.0)
		if perSec <= 0 {
			perSec = 1
		}
		kl = &keyLimiter{limiter: rate.NewLimiter(perSec, policy.Burst)}
		s.limiters[key] = kl
	}
	kl.lastSeen = time.Now()
	return kl.limiter.AllowN(time.Now(), cost), nil
}

// Sweep removes buckets idle longer than maxIdle to bound memory.
func (s *MemoryStore) Sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, kl := range s.limiters {
		if time.Since(kl.lastSeen) > maxIdle {
			delete(s.limiters, key)
			removed++
		}
	}
	return removed
}
