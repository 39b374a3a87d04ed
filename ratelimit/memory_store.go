package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-mailroom/core"
)

type windowKey struct {
	client string
	start  int64
}

// MemoryCounterStore keeps per-window counters in memory. Suitable for a
// single process and for tests; multi-instance deployments use the SQL store.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[windowKey]int
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counts: map[windowKey]int{}}
}

func (s *MemoryCounterStore) Increment(ctx context.Context, clientKey string, windowStart time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := windowKey{client: clientKey, start: windowStart.UnixNano()}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[key]++
	count := s.counts[key]

	// Drop windows older than the one being incremented so the map does
	// not grow unbounded under long-lived processes.
	for existing := range s.counts {
		if existing.client == clientKey && existing.start < key.start {
			delete(s.counts, existing)
		}
	}
	return count, nil
}

var _ core.CounterStore = (*MemoryCounterStore)(nil)
