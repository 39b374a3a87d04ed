// Package subscription keeps one active provider push registration alive per
// watched resource. Registrations are time-limited, so a scheduled tick
// renews them well before expiry; the fallback poller covers any gap, which
// is why provider failures here are logged and retried rather than escalated.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mailroom/core"
)

type Config struct {
	// CallbackURL is the public webhook endpoint registered with the
	// provider.
	CallbackURL string
	// ClientState is the shared secret the provider echoes on every
	// delivery.
	ClientState string
	// MaxLifetime caps how far out a registration may expire.
	MaxLifetime time.Duration
	// RenewThreshold is the remaining-life floor below which a renewal is
	// issued.
	RenewThreshold time.Duration
	// TickInterval is the scheduled cadence for Run.
	TickInterval time.Duration
	// Resources are the watched mailbox references.
	Resources []string

	Provider core.MailProvider
	Store    core.SubscriptionStore
	Guard    core.CallGuard
	Observer *core.Observer
	Now      func() time.Time
}

// Manager drives the subscription lifecycle: create when absent, renew when
// expiring, no-op otherwise.
type Manager struct {
	callbackURL    string
	clientState    string
	maxLifetime    time.Duration
	renewThreshold time.Duration
	tickInterval   time.Duration
	resources      []string
	provider       core.MailProvider
	store          core.SubscriptionStore
	guard          core.CallGuard
	observer       *core.Observer
	now            func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("subscription: provider is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("subscription: store is required")
	}
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, fmt.Errorf("subscription: callback url is required")
	}

	maxLifetime := cfg.MaxLifetime
	if maxLifetime <= 0 {
		maxLifetime = 7 * 24 * time.Hour
	}
	renewThreshold := cfg.RenewThreshold
	if renewThreshold <= 0 {
		renewThreshold = 48 * time.Hour
	}
	if renewThreshold >= maxLifetime {
		return nil, fmt.Errorf("subscription: renew threshold %s must be below max lifetime %s", renewThreshold, maxLifetime)
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = 6 * 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	resources := make([]string, 0, len(cfg.Resources))
	for _, resource := range cfg.Resources {
		if ref := core.NormalizeResourceRef(resource); ref != "" {
			resources = append(resources, ref)
		}
	}

	return &Manager{
		callbackURL:    strings.TrimSpace(cfg.CallbackURL),
		clientState:    cfg.ClientState,
		maxLifetime:    maxLifetime,
		renewThreshold: renewThreshold,
		tickInterval:   tickInterval,
		resources:      resources,
		provider:       cfg.Provider,
		store:          cfg.Store,
		guard:          cfg.Guard,
		observer:       cfg.Observer,
		now:            now,
	}, nil
}

// EnsureActive reconciles the registration for one resource. The returned
// record is the active one after reconciliation, whether this call created
// it, renewed it, or another writer won the exchange.
func (m *Manager) EnsureActive(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if m == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("subscription: manager is not configured")
	}
	resourceRef = core.NormalizeResourceRef(resourceRef)
	if resourceRef == "" {
		return core.SubscriptionRecord{}, fmt.Errorf("subscription: resource ref is required")
	}

	startedAt := m.now()
	record, err := m.store.GetActive(ctx, resourceRef)
	switch {
	case errors.Is(err, core.ErrNoActiveSubscription):
		record, err = m.create(ctx, resourceRef)
	case err != nil:
		err = core.MapError(err)
	default:
		record, err = m.reconcile(ctx, record)
	}

	if m.observer != nil {
		m.observer.Observe(ctx, startedAt, "subscription.ensure_active", err, map[string]any{
			"resource_ref":    resourceRef,
			"subscription_id": record.ID,
		})
	}
	return record, err
}

func (m *Manager) reconcile(ctx context.Context, record core.SubscriptionRecord) (core.SubscriptionRecord, error) {
	remaining := record.RemainingLife(m.now())
	if remaining >= m.renewThreshold {
		return record, nil
	}
	renewed, err := m.renew(ctx, record)
	if err == nil {
		return renewed, nil
	}
	// A registration the provider no longer knows about cannot be renewed;
	// replace it instead of waiting for the next tick.
	if errors.Is(err, core.ErrSubscriptionNotFound) {
		if m.observer != nil {
			m.observer.LogWarn(ctx, "remote subscription lost, creating replacement", map[string]any{
				"resource_ref":    record.ResourceRef,
				"subscription_id": record.ID,
			})
		}
		return m.replace(ctx, record)
	}
	return record, err
}

func (m *Manager) create(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	result, err := m.register(ctx, resourceRef)
	if err != nil {
		return core.SubscriptionRecord{}, err
	}
	return m.exchange(ctx, resourceRef, "", result, nil)
}

func (m *Manager) replace(ctx context.Context, prior core.SubscriptionRecord) (core.SubscriptionRecord, error) {
	result, err := m.register(ctx, prior.ResourceRef)
	if err != nil {
		return prior, err
	}
	renewedAt := m.now()
	return m.exchange(ctx, prior.ResourceRef, prior.ID, result, &renewedAt)
}

func (m *Manager) renew(ctx context.Context, prior core.SubscriptionRecord) (core.SubscriptionRecord, error) {
	expiresAt := m.now().Add(m.maxLifetime)
	req := core.RenewSubscriptionRequest{
		RemoteSubscriptionID: prior.RemoteSubscriptionID,
		ExpiresAt:            expiresAt,
	}

	var result core.SubscriptionResult
	err := m.callProvider(ctx, func(callCtx context.Context) error {
		var callErr error
		result, callErr = m.provider.RenewSubscription(callCtx, req)
		return callErr
	})
	if err != nil {
		return prior, err
	}

	renewedAt := m.now()
	return m.exchange(ctx, prior.ResourceRef, prior.ID, result, &renewedAt)
}

func (m *Manager) register(ctx context.Context, resourceRef string) (core.SubscriptionResult, error) {
	req := core.CreateSubscriptionRequest{
		ResourceRef: resourceRef,
		CallbackURL: m.callbackURL,
		ClientState: m.clientState,
		ExpiresAt:   m.now().Add(m.maxLifetime),
	}

	var result core.SubscriptionResult
	err := m.callProvider(ctx, func(callCtx context.Context) error {
		var callErr error
		result, callErr = m.provider.CreateSubscription(callCtx, req)
		return callErr
	})
	return result, err
}

// exchange installs the new registration as the single active record. A lost
// exchange means another scheduled run already installed a fresh record, so
// the winner's record is returned as-is.
func (m *Manager) exchange(ctx context.Context, resourceRef, priorID string, result core.SubscriptionResult, renewedAt *time.Time) (core.SubscriptionRecord, error) {
	record, swapped, err := m.store.ActivateExchange(ctx, core.ActivateExchangeInput{
		ResourceRef:          resourceRef,
		PriorID:              priorID,
		RemoteSubscriptionID: result.RemoteSubscriptionID,
		CallbackURL:          m.callbackURL,
		ExpiresAt:            result.ExpiresAt,
		RenewedAt:            renewedAt,
		Metadata:             result.Metadata,
	})
	if err != nil {
		return core.SubscriptionRecord{}, core.MapError(err)
	}
	if !swapped && m.observer != nil {
		m.observer.LogInfo(ctx, "activation exchange lost to concurrent writer", map[string]any{
			"resource_ref":    resourceRef,
			"subscription_id": record.ID,
		})
	}
	return record, nil
}

func (m *Manager) callProvider(ctx context.Context, op func(ctx context.Context) error) error {
	if m.guard == nil {
		return core.MapError(op(ctx))
	}
	return core.MapError(m.guard.Do(ctx, op))
}

// RenewActive forces a renewal of the active registration regardless of
// remaining life. Operator-triggered early rotation; the scheduled tick
// stays threshold-driven.
func (m *Manager) RenewActive(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if m == nil {
		return core.SubscriptionRecord{}, fmt.Errorf("subscription: manager is not configured")
	}
	resourceRef = core.NormalizeResourceRef(resourceRef)
	if resourceRef == "" {
		return core.SubscriptionRecord{}, fmt.Errorf("subscription: resource ref is required")
	}

	startedAt := m.now()
	record, err := m.store.GetActive(ctx, resourceRef)
	if err != nil {
		return core.SubscriptionRecord{}, core.MapError(err)
	}
	renewed, err := m.renew(ctx, record)

	if m.observer != nil {
		m.observer.Observe(ctx, startedAt, "subscription.renew_active", err, map[string]any{
			"resource_ref":    resourceRef,
			"subscription_id": record.ID,
		})
	}
	return renewed, err
}

// MarkValidated flips a pending record to active once the handshake token
// has been echoed.
func (m *Manager) MarkValidated(ctx context.Context, subscriptionID string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("subscription: manager is not configured")
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return fmt.Errorf("subscription: subscription id is required")
	}
	return core.MapError(m.store.MarkValidated(ctx, subscriptionID))
}

// Cancel tears down the provider registration and retires the record. The
// record is kept for audit, never deleted.
func (m *Manager) Cancel(ctx context.Context, resourceRef string) error {
	if m == nil {
		return fmt.Errorf("subscription: manager is not configured")
	}
	resourceRef = core.NormalizeResourceRef(resourceRef)

	record, err := m.store.GetActive(ctx, resourceRef)
	if err != nil {
		return core.MapError(err)
	}

	err = m.callProvider(ctx, func(callCtx context.Context) error {
		return m.provider.DeleteSubscription(callCtx, record.RemoteSubscriptionID)
	})
	if err != nil && !errors.Is(err, core.ErrSubscriptionNotFound) {
		return err
	}
	return core.MapError(m.store.UpdateState(ctx, record.ID, core.SubscriptionStatusSuperseded, "cancelled"))
}

// RunOnce reconciles every configured resource, continuing past per-resource
// failures.
func (m *Manager) RunOnce(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("subscription: manager is not configured")
	}

	var firstErr error
	for _, resourceRef := range m.resources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.EnsureActive(ctx, resourceRef); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if m.observer != nil {
				m.observer.LogError(ctx, "subscription reconcile failed, will retry next tick", map[string]any{
					"resource_ref": resourceRef,
					"error":        err.Error(),
				})
			}
		}
	}
	return firstErr
}

// Run reconciles on the configured cadence until ctx ends. The first pass
// runs immediately so a cold start does not wait a full tick.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("subscription: manager is not configured")
	}

	if err := m.RunOnce(ctx); err != nil && m.observer != nil {
		m.observer.LogWarn(ctx, "initial subscription pass finished with errors", map[string]any{
			"error": err.Error(),
		})
	}

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil && m.observer != nil {
				m.observer.LogWarn(ctx, "subscription pass finished with errors", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}
