package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-mailroom/core"
)

type ProcessedItemStore struct {
	db *bun.DB
}

func NewProcessedItemStore(db *bun.DB) (*ProcessedItemStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ProcessedItemStore{db: db}, nil
}

// Insert claims an item key. The primary key on item_key makes the insert an
// atomic insert-if-absent: the first writer gets claimed=true, every later
// writer observes the unique violation and gets claimed=false.
func (s *ProcessedItemStore) Insert(ctx context.Context, item core.ProcessedItem) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: processed item store is not configured")
	}
	itemKey := strings.TrimSpace(item.ItemKey)
	if itemKey == "" {
		return false, fmt.Errorf("sqlstore: item key is required")
	}
	processedAt := item.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	record := &processedItemRecord{
		ItemKey:     itemKey,
		ContentHash: item.ContentHash,
		Source:      item.Source,
		ProcessedAt: processedAt.UTC(),
		TimeBucket:  item.TimeBucket,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *ProcessedItemStore) FindByContentHash(ctx context.Context, contentHash string, since time.Time) ([]core.ProcessedItem, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: processed item store is not configured")
	}
	contentHash = strings.TrimSpace(contentHash)
	if contentHash == "" {
		return nil, nil
	}
	var records []*processedItemRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.content_hash = ?", contentHash).
		Where("?TableAlias.processed_at >= ?", since.UTC()).
		OrderExpr("?TableAlias.processed_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.ProcessedItem, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.ProcessedItemStore = (*ProcessedItemStore)(nil)
