// Package ingest consumes raw notification envelopes, resolves the referenced
// mail item, and forwards new items downstream. Filtering and deduplication
// happen here, off the webhook's acknowledgement path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-mailroom/core"
	"github.com/goliatone/go-mailroom/ledger"
)

type Config struct {
	Provider core.MailProvider
	Guard    core.CallGuard
	Checker  *ledger.Checker
	// Publisher is the downstream ingestion queue boundary.
	Publisher core.DownstreamPublisher
	Filters   []Filter
	// RetryDelay spaces out queue redeliveries after a processing failure.
	RetryDelay time.Duration
	// Workers is the number of concurrent consume loops in Run.
	Workers  int
	Observer *core.Observer
	Now      func() time.Time
}

type Processor struct {
	provider   core.MailProvider
	guard      core.CallGuard
	checker    *ledger.Checker
	publisher  core.DownstreamPublisher
	filters    []Filter
	retryDelay time.Duration
	workers    int
	observer   *core.Observer
	now        func() time.Time
}

func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("ingest: provider is required")
	}
	if cfg.Checker == nil {
		return nil, fmt.Errorf("ingest: ledger checker is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("ingest: downstream publisher is required")
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		provider:   cfg.Provider,
		guard:      cfg.Guard,
		checker:    cfg.Checker,
		publisher:  cfg.Publisher,
		filters:    cfg.Filters,
		retryDelay: retryDelay,
		workers:    workers,
		observer:   cfg.Observer,
		now:        now,
	}, nil
}

// Process handles one delivery end to end. Filter drops and dedup losses are
// final, so the delivery is acked; resolution and forwarding failures are
// nacked back to the transport, which redelivers and eventually dead-letters.
func (p *Processor) Process(ctx context.Context, delivery core.EnvelopeDelivery) error {
	if p == nil {
		return fmt.Errorf("ingest: processor is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("ingest: delivery is required")
	}

	env := delivery.Envelope()
	startedAt := p.now()
	err := p.process(ctx, env)

	if p.observer != nil {
		p.observer.Observe(ctx, startedAt, "ingest.process", err, map[string]any{
			"envelope_id": env.ID,
			"item_ref":    env.ItemRef,
			"source":      core.ItemSourceWebhook,
		})
	}

	if err != nil {
		if p.observer != nil {
			p.observer.LogWarn(ctx, "envelope processing failed, handing back for redelivery", map[string]any{
				"envelope_id": env.ID,
				"item_ref":    env.ItemRef,
				"attempt":     env.Attempt,
				"error":       err.Error(),
			})
		}
		delay := p.retryDelay
		// A throttled provider paces the redelivery when its hint is
		// longer than the configured cadence.
		if hint, ok := core.RetryAfter(err); ok && hint > delay {
			delay = hint
		}
		return delivery.Nack(ctx, core.NackOptions{
			Requeue: true,
			Delay:   delay,
			Reason:  err.Error(),
		})
	}
	return delivery.Ack(ctx)
}

func (p *Processor) process(ctx context.Context, env core.NotificationEnvelope) error {
	if env.ItemRef == "" {
		// A missing reference can never succeed; the nack path still
		// routes it to the dead letter store once attempts run out.
		return fmt.Errorf("ingest: envelope %s carries no item reference", env.ID)
	}

	msg, err := p.resolve(ctx, env.ItemRef)
	if err != nil {
		return err
	}

	if name, reason, dropped := FirstDrop(p.filters, msg); dropped {
		if p.observer != nil {
			p.observer.LogInfo(ctx, "message dropped by loop filter", map[string]any{
				"item_ref": env.ItemRef,
				"filter":   name,
				"reason":   reason,
			})
		}
		return nil
	}

	claimed, err := p.checker.Claim(ctx, env.ItemRef, core.ItemSourceWebhook, msg)
	if err != nil {
		return err
	}
	if !claimed {
		if p.observer != nil {
			p.observer.LogInfo(ctx, "duplicate item skipped", map[string]any{
				"item_ref": env.ItemRef,
			})
		}
		return nil
	}

	item := core.InboundItem{
		ItemKey:     env.ItemRef,
		Source:      core.ItemSourceWebhook,
		Message:     msg,
		ForwardedAt: p.now(),
		Metadata: map[string]any{
			"subscription_id": env.SubscriptionID,
			"resource_ref":    env.ResourceRef,
			"change_type":     env.ChangeType,
		},
	}
	if err := p.publisher.Publish(ctx, item); err != nil {
		return core.MapError(err)
	}

	// The item is already claimed and forwarded; a failed consume mark
	// only risks the poller re-observing it, which the ledger absorbs.
	if err := p.markConsumed(ctx, env.ItemRef); err != nil && p.observer != nil {
		p.observer.LogWarn(ctx, "mark consumed failed, poller will re-observe", map[string]any{
			"item_ref": env.ItemRef,
			"error":    err.Error(),
		})
	}
	return nil
}

func (p *Processor) resolve(ctx context.Context, itemRef string) (core.MailMessage, error) {
	var msg core.MailMessage
	err := p.callProvider(ctx, func(callCtx context.Context) error {
		var callErr error
		msg, callErr = p.provider.GetMessage(callCtx, itemRef)
		return callErr
	})
	return msg, err
}

func (p *Processor) markConsumed(ctx context.Context, itemRef string) error {
	return p.callProvider(ctx, func(callCtx context.Context) error {
		return p.provider.MarkConsumed(callCtx, itemRef)
	})
}

func (p *Processor) callProvider(ctx context.Context, op func(ctx context.Context) error) error {
	if p.guard == nil {
		return core.MapError(op(ctx))
	}
	return core.MapError(p.guard.Do(ctx, op))
}

// Run drains the queue with the configured number of workers until ctx ends.
func (p *Processor) Run(ctx context.Context, dequeuer core.EnvelopeDequeuer) error {
	if p == nil {
		return fmt.Errorf("ingest: processor is not configured")
	}
	if dequeuer == nil {
		return fmt.Errorf("ingest: dequeuer is required")
	}

	errs := make(chan error, p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			errs <- p.consumeLoop(ctx, dequeuer)
		}()
	}

	var firstErr error
	for i := 0; i < p.workers; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Processor) consumeLoop(ctx context.Context, dequeuer core.EnvelopeDequeuer) error {
	for {
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := p.Process(ctx, delivery); err != nil && p.observer != nil {
			p.observer.LogError(ctx, "delivery settlement failed", map[string]any{
				"envelope_id": delivery.Envelope().ID,
				"error":       err.Error(),
			})
		}
	}
}
