package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-mailroom/core"
)

// MemoryStore is an in-memory subscription store with the same conditional
// exchange semantics as the SQL store. Useful for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]core.SubscriptionRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]core.SubscriptionRecord{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetActive(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.SubscriptionRecord{}, err
	}
	resourceRef = core.NormalizeResourceRef(resourceRef)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.ResourceRef == resourceRef && record.IsActive {
			return record, nil
		}
	}
	return core.SubscriptionRecord{}, core.ErrNoActiveSubscription
}

func (s *MemoryStore) Get(ctx context.Context, id string) (core.SubscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.SubscriptionRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return core.SubscriptionRecord{}, core.ErrSubscriptionNotFound
	}
	return record, nil
}

func (s *MemoryStore) Create(ctx context.Context, in core.CreateSubscriptionInput) (core.SubscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.SubscriptionRecord{}, err
	}

	status := in.Status
	if status == "" {
		status = core.SubscriptionStatusPendingValidation
	}
	record := core.SubscriptionRecord{
		ID:                   uuid.NewString(),
		ResourceRef:          core.NormalizeResourceRef(in.ResourceRef),
		RemoteSubscriptionID: in.RemoteSubscriptionID,
		CallbackURL:          in.CallbackURL,
		Status:               status,
		IsActive:             status == core.SubscriptionStatusActive,
		ExpiresAt:            in.ExpiresAt,
		CreatedAt:            s.now(),
		Metadata:             core.CopyAnyMap(in.Metadata),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return record, nil
}

func (s *MemoryStore) ActivateExchange(ctx context.Context, in core.ActivateExchangeInput) (core.SubscriptionRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.SubscriptionRecord{}, false, err
	}
	resourceRef := core.NormalizeResourceRef(in.ResourceRef)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The exchange is conditional on the active set still matching the
	// caller's view: no active record for a fresh create, or the named
	// prior record for a renewal. Otherwise another writer won and the
	// current active record is returned untouched.
	var active *core.SubscriptionRecord
	for id := range s.records {
		record := s.records[id]
		if record.ResourceRef == resourceRef && record.IsActive {
			active = &record
			break
		}
	}
	if in.PriorID == "" {
		if active != nil {
			return *active, false, nil
		}
	} else {
		if active == nil || active.ID != in.PriorID {
			if active != nil {
				return *active, false, nil
			}
			return core.SubscriptionRecord{}, false, core.ErrSubscriptionNotFound
		}
		prior := s.records[in.PriorID]
		prior.IsActive = false
		prior.Status = core.SubscriptionStatusSuperseded
		s.records[in.PriorID] = prior
	}

	record := core.SubscriptionRecord{
		ID:                   uuid.NewString(),
		ResourceRef:          resourceRef,
		RemoteSubscriptionID: in.RemoteSubscriptionID,
		CallbackURL:          in.CallbackURL,
		Status:               core.SubscriptionStatusActive,
		IsActive:             true,
		ExpiresAt:            in.ExpiresAt,
		CreatedAt:            s.now(),
		RenewedAt:            in.RenewedAt,
		Metadata:             core.CopyAnyMap(in.Metadata),
	}
	s.records[record.ID] = record
	return record, true, nil
}

func (s *MemoryStore) MarkValidated(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return core.ErrSubscriptionNotFound
	}
	if record.Status == core.SubscriptionStatusPendingValidation {
		record.Status = core.SubscriptionStatusActive
		record.IsActive = true
		s.records[id] = record
	}
	return nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, id string, status core.SubscriptionStatus, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return core.ErrSubscriptionNotFound
	}
	record.Status = status
	record.IsActive = status == core.SubscriptionStatusActive
	if reason != "" {
		record.Metadata = core.MergeAnyMap(record.Metadata, map[string]any{"state_reason": reason})
	}
	s.records[id] = record
	return nil
}

func (s *MemoryStore) ListExpiring(ctx context.Context, before time.Time) ([]core.SubscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.SubscriptionRecord
	for _, record := range s.records {
		if record.IsActive && record.ExpiresAt.Before(before) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// All returns every record, for tests.
func (s *MemoryStore) All() []core.SubscriptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.SubscriptionRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var _ core.SubscriptionStore = (*MemoryStore)(nil)
