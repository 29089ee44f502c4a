package defense

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type memoryCounter struct {
	count   int64
	expires time.Time
}

// MemoryStore keeps counters in process memory; they reset on restart.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*memoryCounter
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

func (s *MemoryStore) Allow(ctx context.Context, key string, limits []Limit) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	keys := make([]string, len(limits))
	ends := make([]time.Time, len(limits))
	var retry time.Duration
	for i, l := range limits {
		window, remaining := windowBounds(now, l.Period)
		keys[i] = counterKey(key, i, window)
		ends[i] = now.Add(remaining)
		if c, ok := s.counters[keys[i]]; ok && c.count >= l.Count && remaining > retry {
			retry = remaining
		}
	}
	if retry > 0 {
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}

	for i, k := range keys {
		c, ok := s.counters[k]
		if !ok {
			c = &memoryCounter{expires: ends[i]}
			s.counters[k] = c
		}
		c.count++
	}
	return Decision{Allowed: true}, nil
}

// sweep drops expired counters at most once per sweepInterval.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for k, c := range s.counters {
		if !now.Before(c.expires) {
			delete(s.counters, k)
		}
	}
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) Close() error {
	return nil
}
