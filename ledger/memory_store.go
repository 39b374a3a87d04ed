package ledger

import (
	"context"
	"sync"

	"time"

	"github.com/goliatone/go-mailroom/core"
)

// MemoryItemStore is an in-memory dedup ledger for tests and single-process
// runs. Insert semantics match the SQL store: first writer wins.
type MemoryItemStore struct {
	mu    sync.Mutex
	items map[string]core.ProcessedItem
}

func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{items: map[string]core.ProcessedItem{}}
}

func (s *MemoryItemStore) Insert(ctx context.Context, item core.ProcessedItem) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ItemKey]; exists {
		return false, nil
	}
	s.items[item.ItemKey] = item
	return true, nil
}

func (s *MemoryItemStore) FindByContentHash(ctx context.Context, contentHash string, since time.Time) ([]core.ProcessedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.ProcessedItem
	for _, item := range s.items {
		if item.ContentHash != contentHash {
			continue
		}
		if !since.IsZero() && item.ProcessedAt.Before(since) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// Len reports the number of ledger entries, for tests.
func (s *MemoryItemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

var _ core.ProcessedItemStore = (*MemoryItemStore)(nil)
