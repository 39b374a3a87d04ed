package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-mailroom/core"
)

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriptionRecord]
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *SubscriptionStore) GetActive(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if s == nil || s.db == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	record, err := s.findActiveTx(ctx, s.db, core.NormalizeResourceRef(resourceRef))
	if err != nil {
		return core.SubscriptionRecord{}, err
	}
	if record == nil {
		return core.SubscriptionRecord{}, core.ErrNoActiveSubscription
	}
	return record.toDomain(), nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (core.SubscriptionRecord, error) {
	if s == nil || s.db == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.SubscriptionRecord{}, core.ErrSubscriptionNotFound
	}
	record := &subscriptionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", trimmedID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SubscriptionRecord{}, core.ErrSubscriptionNotFound
		}
		return core.SubscriptionRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *SubscriptionStore) Create(ctx context.Context, in core.CreateSubscriptionInput) (core.SubscriptionRecord, error) {
	if s == nil || s.db == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	if core.NormalizeResourceRef(in.ResourceRef) == "" {
		return core.SubscriptionRecord{}, fmt.Errorf("sqlstore: resource ref is required")
	}
	if strings.TrimSpace(in.CallbackURL) == "" {
		return core.SubscriptionRecord{}, fmt.Errorf("sqlstore: callback url is required")
	}
	record := newSubscriptionRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.SubscriptionRecord{}, err
	}
	return record.toDomain(), nil
}

// ActivateExchange runs as a single transaction conditional on the active set
// still matching the caller's view: no active record for a fresh create, or the
// record named by PriorID for a renewal. A losing writer gets the winner's
// record back with swapped=false and leaves the table untouched.
func (s *SubscriptionStore) ActivateExchange(ctx context.Context, in core.ActivateExchangeInput) (core.SubscriptionRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.SubscriptionRecord{}, false, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	resourceRef := core.NormalizeResourceRef(in.ResourceRef)
	if resourceRef == "" {
		return core.SubscriptionRecord{}, false, fmt.Errorf("sqlstore: resource ref is required")
	}

	var out core.SubscriptionRecord
	swapped := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		active, err := s.findActiveTx(ctx, tx, resourceRef)
		if err != nil {
			return err
		}
		if in.PriorID == "" {
			if active != nil {
				out = active.toDomain()
				return nil
			}
		} else {
			if active == nil || active.ID != in.PriorID {
				if active != nil {
					out = active.toDomain()
					return nil
				}
				return core.ErrSubscriptionNotFound
			}
			now := time.Now().UTC()
			result, updateErr := tx.NewUpdate().
				Model((*subscriptionRecord)(nil)).
				Set("is_active = ?", false).
				Set("status = ?", string(core.SubscriptionStatusSuperseded)).
				Set("updated_at = ?", now).
				Where("id = ?", in.PriorID).
				Where("is_active = ?", true).
				Exec(ctx)
			if updateErr != nil {
				return updateErr
			}
			affected, affErr := result.RowsAffected()
			if affErr != nil {
				return affErr
			}
			if affected == 0 {
				out = active.toDomain()
				return nil
			}
		}

		now := time.Now().UTC()
		record := &subscriptionRecord{
			ID:                   uuid.NewString(),
			ResourceRef:          resourceRef,
			RemoteSubscriptionID: in.RemoteSubscriptionID,
			CallbackURL:          in.CallbackURL,
			Status:               string(core.SubscriptionStatusActive),
			IsActive:             true,
			ExpiresAt:            in.ExpiresAt.UTC(),
			Metadata:             core.CopyAnyMap(in.Metadata),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if in.RenewedAt != nil {
			value := in.RenewedAt.UTC()
			record.RenewedAt = &value
		}
		if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
			return insertErr
		}
		out = record.toDomain()
		swapped = true
		return nil
	})
	if err != nil {
		return core.SubscriptionRecord{}, false, err
	}
	return out, swapped, nil
}

func (s *SubscriptionStore) MarkValidated(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.ErrSubscriptionNotFound
	}
	if _, err := s.Get(ctx, trimmedID); err != nil {
		return err
	}
	_, err := s.db.NewUpdate().
		Model((*subscriptionRecord)(nil)).
		Set("status = ?", string(core.SubscriptionStatusActive)).
		Set("is_active = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Where("status = ?", string(core.SubscriptionStatusPendingValidation)).
		Exec(ctx)
	return err
}

func (s *SubscriptionStore) UpdateState(ctx context.Context, id string, status core.SubscriptionStatus, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.ErrSubscriptionNotFound
	}
	record := &subscriptionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", trimmedID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ErrSubscriptionNotFound
		}
		return err
	}
	record.Status = string(status)
	record.IsActive = status == core.SubscriptionStatusActive
	record.UpdatedAt = time.Now().UTC()
	record.Metadata = core.CopyAnyMap(record.Metadata)
	if strings.TrimSpace(reason) != "" {
		record.Metadata["state_reason"] = strings.TrimSpace(reason)
	}
	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *SubscriptionStore) ListExpiring(ctx context.Context, before time.Time) ([]core.SubscriptionRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.is_active = ?", true).
				Where("?TableAlias.expires_at < ?", before.UTC())
		}),
		repository.OrderBy("expires_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.SubscriptionRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SubscriptionStore) findActiveTx(
	ctx context.Context,
	idb bun.IDB,
	resourceRef string,
) (*subscriptionRecord, error) {
	record := &subscriptionRecord{}
	err := idb.NewSelect().
		Model(record).
		Where("?TableAlias.resource_ref = ?", resourceRef).
		Where("?TableAlias.is_active = ?", true).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, nil
	}
	return record, nil
}

var _ core.SubscriptionStore = (*SubscriptionStore)(nil)
