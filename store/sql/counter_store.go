package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-mailroom/core"
)

type CounterStore struct {
	db *bun.DB
}

func NewCounterStore(db *bun.DB) (*CounterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &CounterStore{db: db}, nil
}

// Increment bumps the counter for one client key and window start and returns
// the new total. Update-then-insert inside a transaction keeps the increment
// atomic without dialect-specific upsert syntax; a concurrent insert loser
// falls back to the update path.
func (s *CounterStore) Increment(ctx context.Context, clientKey string, windowStart time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: counter store is not configured")
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return 0, fmt.Errorf("sqlstore: client key is required")
	}
	windowStart = windowStart.UTC()

	var count int
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		result, err := s.bumpTx(ctx, tx, clientKey, windowStart, now)
		if err != nil {
			return err
		}
		if result == 0 {
			record := &counterRecord{
				ClientKey:   clientKey,
				WindowStart: windowStart,
				Count:       1,
				UpdatedAt:   now,
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			if insertErr == nil {
				count = 1
				return nil
			}
			if !isUniqueViolation(insertErr) {
				return insertErr
			}
			if _, err := s.bumpTx(ctx, tx, clientKey, windowStart, now); err != nil {
				return err
			}
		}

		record := &counterRecord{}
		err = tx.NewSelect().
			Model(record).
			Where("?TableAlias.client_key = ?", clientKey).
			Where("?TableAlias.window_start = ?", windowStart).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return err
		}
		count = record.Count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PruneBefore drops counter rows from windows that ended before the cutoff.
func (s *CounterStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: counter store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*counterRecord)(nil)).
		Where("window_start < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *CounterStore) bumpTx(
	ctx context.Context,
	tx bun.Tx,
	clientKey string,
	windowStart time.Time,
	now time.Time,
) (int64, error) {
	result, err := tx.NewUpdate().
		Model((*counterRecord)(nil)).
		Set("count = count + 1").
		Set("updated_at = ?", now).
		Where("client_key = ?", clientKey).
		Where("window_start = ?", windowStart).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

var _ core.CounterStore = (*CounterStore)(nil)
