package lockout

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// window holds the attempts reserved for one key. The attempts map is
// replaced, never mutated, so readers outside the shard lock stay safe.
type window struct {
	attempts  map[string]struct{}
	expiresAt time.Time
}

// MemoryLimiter keeps counters in a concurrent map; suitable for a single
// serve process.
type MemoryLimiter struct {
	max     int
	window  time.Duration
	entries cmap.ConcurrentMap[string, window]
	nowFunc func() time.Time
}

// NewMemoryLimiter returns a process-local limiter.
func NewMemoryLimiter(maxAttempts int, w time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:     maxAttempts,
		window:  w,
		entries: cmap.New[window](),
		nowFunc: time.Now,
	}
}

func (m *MemoryLimiter) Acquire(_ context.Context, key, attempt string) (bool, error) {
	now := m.nowFunc()
	var allowed bool
	// Upsert runs the callback under the shard lock, which makes the check
	// and the reservation one step.
	m.entries.Upsert(normalizeKey(key), window{}, func(exist bool, current, _ window) window {
		if !exist || now.After(current.expiresAt) {
			current = window{expiresAt: now.Add(m.window)}
		}
		if _, ok := current.attempts[attempt]; ok {
			allowed = true
			return current
		}
		if len(current.attempts) >= m.max {
			return current
		}
		allowed = true
		current.attempts = withAttempt(current.attempts, attempt)
		return current
	})
	return allowed, nil
}

func (m *MemoryLimiter) Release(_ context.Context, key, attempt string) error {
	m.entries.Upsert(normalizeKey(key), window{}, func(exist bool, current, _ window) window {
		if !exist {
			return current
		}
		next := make(map[string]struct{}, len(current.attempts))
		for id := range current.attempts {
			if id != attempt {
				next[id] = struct{}{}
			}
		}
		current.attempts = next
		return current
	})
	return nil
}

func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.entries.Remove(normalizeKey(key))
	return nil
}

func withAttempt(attempts map[string]struct{}, attempt string) map[string]struct{} {
	next := make(map[string]struct{}, len(attempts)+1)
	for id := range attempts {
		next[id] = struct{}{}
	}
	next[attempt] = struct{}{}
	return next
}
