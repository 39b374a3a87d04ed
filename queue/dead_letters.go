package queue

import (
	"context"
	"sync"

	"github.com/goliatone/go-mailroom/core"
)

// MemoryDeadLetterStore retains archived envelopes in memory, newest first.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	letters []core.DeadLetter
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

func (s *MemoryDeadLetterStore) Archive(ctx context.Context, letter core.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append([]core.DeadLetter{letter}, s.letters...)
	return nil
}

func (s *MemoryDeadLetterStore) List(ctx context.Context, limit int) ([]core.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.letters) {
		limit = len(s.letters)
	}
	out := make([]core.DeadLetter, limit)
	copy(out, s.letters[:limit])
	return out, nil
}

var _ core.DeadLetterStore = (*MemoryDeadLetterStore)(nil)
