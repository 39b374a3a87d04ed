package sqlstore

import (
	"context"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-mailroom/core"
)

type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *DeadLetterStore) Archive(ctx context.Context, letter core.DeadLetter) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	record := newDeadLetterRecord(letter, time.Now().UTC())
	record.ID = uuid.NewString()
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]core.DeadLetter, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.OrderBy("archived_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeadLetter, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Delete removes an archived letter after a successful replay.
func (s *DeadLetterStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*deadLetterRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

var _ core.DeadLetterStore = (*DeadLetterStore)(nil)
