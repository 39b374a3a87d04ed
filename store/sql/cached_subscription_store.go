package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-mailroom/core"
)

const activeSubscriptionCacheKeyPrefix = "go-mailroom::subscription_active::v1"

// CachedSubscriptionStore layers a read cache over the active-subscription
// lookup, the one query every lifecycle pass and poller sweep repeats. Writes
// go straight to the base store and invalidate the resource's cache entry.
type CachedSubscriptionStore struct {
	base  core.SubscriptionStore
	cache repositorycache.CacheService
}

func NewCachedSubscriptionStore(
	base core.SubscriptionStore,
	cacheService repositorycache.CacheService,
) (*CachedSubscriptionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base subscription store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: subscription cache service is required")
	}
	return &CachedSubscriptionStore{base: base, cache: cacheService}, nil
}

// ActiveSubscriptionCacheKey returns the deterministic cache key for the
// active-subscription read: go-mailroom::subscription_active::v1::<resource_ref>
// with the resource segment URL-path escaped after normalization.
func ActiveSubscriptionCacheKey(resourceRef string) (string, error) {
	normalized := core.NormalizeResourceRef(resourceRef)
	if normalized == "" {
		return "", fmt.Errorf("sqlstore: resource ref is required")
	}
	return strings.Join([]string{
		activeSubscriptionCacheKeyPrefix,
		url.PathEscape(normalized),
	}, "::"), nil
}

func (s *CachedSubscriptionStore) GetActive(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	normalized := core.NormalizeResourceRef(resourceRef)
	cacheKey, err := ActiveSubscriptionCacheKey(normalized)
	if err != nil {
		return core.SubscriptionRecord{}, err
	}

	record, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.SubscriptionRecord, error) {
		fetched, fetchErr := s.base.GetActive(ctx, normalized)
		if fetchErr != nil {
			return core.SubscriptionRecord{}, fetchErr
		}
		return cloneSubscriptionRecord(fetched), nil
	})
	if err != nil {
		return core.SubscriptionRecord{}, err
	}
	return cloneSubscriptionRecord(record), nil
}

func (s *CachedSubscriptionStore) Get(ctx context.Context, id string) (core.SubscriptionRecord, error) {
	if s == nil || s.base == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	return s.base.Get(ctx, id)
}

func (s *CachedSubscriptionStore) Create(ctx context.Context, in core.CreateSubscriptionInput) (core.SubscriptionRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	record, err := s.base.Create(ctx, in)
	if err != nil {
		return core.SubscriptionRecord{}, err
	}
	if err := s.invalidate(ctx, record.ResourceRef); err != nil {
		return core.SubscriptionRecord{}, err
	}
	return record, nil
}

func (s *CachedSubscriptionStore) ActivateExchange(ctx context.Context, in core.ActivateExchangeInput) (core.SubscriptionRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SubscriptionRecord{}, false, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	record, swapped, err := s.base.ActivateExchange(ctx, in)
	if err != nil {
		return core.SubscriptionRecord{}, false, err
	}
	if err := s.invalidate(ctx, in.ResourceRef); err != nil {
		return core.SubscriptionRecord{}, false, err
	}
	return record, swapped, nil
}

func (s *CachedSubscriptionStore) MarkValidated(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	if err := s.base.MarkValidated(ctx, id); err != nil {
		return err
	}
	return s.invalidateByID(ctx, id)
}

func (s *CachedSubscriptionStore) UpdateState(ctx context.Context, id string, status core.SubscriptionStatus, reason string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	if err := s.base.UpdateState(ctx, id, status, reason); err != nil {
		return err
	}
	return s.invalidateByID(ctx, id)
}

func (s *CachedSubscriptionStore) ListExpiring(ctx context.Context, before time.Time) ([]core.SubscriptionRecord, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	return s.base.ListExpiring(ctx, before)
}

func (s *CachedSubscriptionStore) invalidate(ctx context.Context, resourceRef string) error {
	cacheKey, err := ActiveSubscriptionCacheKey(resourceRef)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedSubscriptionStore) invalidateByID(ctx context.Context, id string) error {
	record, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.invalidate(ctx, record.ResourceRef)
}

func cloneSubscriptionRecord(record core.SubscriptionRecord) core.SubscriptionRecord {
	cloned := record
	cloned.Metadata = core.CopyAnyMap(record.Metadata)
	if record.RenewedAt != nil {
		value := *record.RenewedAt
		cloned.RenewedAt = &value
	}
	return cloned
}

var _ core.SubscriptionStore = (*CachedSubscriptionStore)(nil)
