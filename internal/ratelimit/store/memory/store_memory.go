package memory

import (
	"context"
	"sync"
	"time"

	"credverify/internal/ratelimit"
)

// InMemoryStore implements ratelimit.Store with a sliding window per key.
// It is process-local; use the redis store when several replicas serve
// traffic.
type InMemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string][]time.Time
}

// New returns an empty store. now may be nil.
func New(now func() time.Time) *InMemoryStore {
	if now == nil {
		now = time.Now
	}
	return &InMemoryStore{now: now, windows: make(map[string][]time.Time)}
}

// Allow implements ratelimit.Store.
func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (ratelimit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := prune(s.windows[key], now.Add(-window))

	if len(stamps) >= limit {
		s.windows[key] = stamps
		reset := now.Add(window)
		if len(stamps) > 0 {
			reset = stamps[0].Add(window)
		}
		return ratelimit.Result{Allowed: false, Limit: limit, ResetAt: reset}, nil
	}

	stamps = append(stamps, now)
	s.windows[key] = stamps
	return ratelimit.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(stamps),
		ResetAt:   stamps[0].Add(window),
	}, nil
}

// prune drops timestamps at or before cutoff.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
