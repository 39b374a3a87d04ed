// Package poller is the fallback ingestion path. It scans the watched
// resources directly on a schedule, bypassing the webhook, to catch items
// lost to subscription gaps. It shares the loop filters and the dedup ledger
// with the notification processor, so an item observed by both paths is
// forwarded exactly once.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-mailroom/core"
	"github.com/goliatone/go-mailroom/ingest"
	"github.com/goliatone/go-mailroom/ledger"
)

type Config struct {
	// Interval is the scan cadence.
	Interval time.Duration
	// BatchSize caps messages fetched per resource per pass.
	BatchSize int
	// Resources are the watched mailbox references.
	Resources []string

	Provider  core.MailProvider
	Guard     core.CallGuard
	Checker   *ledger.Checker
	Publisher core.DownstreamPublisher
	Filters   []ingest.Filter
	Observer  *core.Observer
	Now       func() time.Time
}

type Scanner struct {
	interval  time.Duration
	batchSize int
	resources []string
	provider  core.MailProvider
	guard     core.CallGuard
	checker   *ledger.Checker
	publisher core.DownstreamPublisher
	filters   []ingest.Filter
	observer  *core.Observer
	now       func() time.Time
}

func NewScanner(cfg Config) (*Scanner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("poller: provider is required")
	}
	if cfg.Checker == nil {
		return nil, fmt.Errorf("poller: ledger checker is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("poller: downstream publisher is required")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
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

	return &Scanner{
		interval:  interval,
		batchSize: batchSize,
		resources: resources,
		provider:  cfg.Provider,
		guard:     cfg.Guard,
		checker:   cfg.Checker,
		publisher: cfg.Publisher,
		filters:   cfg.Filters,
		observer:  cfg.Observer,
		now:       now,
	}, nil
}

// ScanOnce sweeps every configured resource once. Per-resource failures are
// logged and do not stop the sweep; the next tick retries.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("poller: scanner is not configured")
	}

	var firstErr error
	for _, resourceRef := range s.resources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scanResource(ctx, resourceRef); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if s.observer != nil {
				s.observer.LogWarn(ctx, "poll sweep failed for resource", map[string]any{
					"resource_ref": resourceRef,
					"error":        err.Error(),
				})
			}
		}
	}
	return firstErr
}

func (s *Scanner) scanResource(ctx context.Context, resourceRef string) error {
	startedAt := s.now()

	var messages []core.MailMessage
	err := s.callProvider(ctx, func(callCtx context.Context) error {
		var callErr error
		messages, callErr = s.provider.ListNewMessages(callCtx, resourceRef, s.batchSize)
		return callErr
	})

	forwarded := 0
	if err == nil {
		for _, msg := range messages {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
				break
			}
			ok, msgErr := s.processMessage(ctx, resourceRef, msg)
			if msgErr != nil {
				// Keep sweeping; the item stays unconsumed and the
				// next pass retries it.
				if s.observer != nil {
					s.observer.LogWarn(ctx, "polled message failed, will retry next sweep", map[string]any{
						"resource_ref": resourceRef,
						"item_key":     msg.ID,
						"error":        msgErr.Error(),
					})
				}
				continue
			}
			if ok {
				forwarded++
			}
		}
	}

	if s.observer != nil {
		s.observer.Observe(ctx, startedAt, "poller.scan", err, map[string]any{
			"resource_ref": resourceRef,
			"source":       core.ItemSourcePoller,
		})
		if err == nil {
			s.observer.LogInfo(ctx, "poll sweep finished", map[string]any{
				"resource_ref": resourceRef,
				"observed":     len(messages),
				"forwarded":    forwarded,
			})
		}
	}
	return err
}

// processMessage mirrors the notification processor: filters, then the
// shared ledger claim, then forward and mark consumed.
func (s *Scanner) processMessage(ctx context.Context, resourceRef string, msg core.MailMessage) (bool, error) {
	if msg.ID == "" {
		return false, fmt.Errorf("poller: polled message carries no id")
	}

	if name, reason, dropped := ingest.FirstDrop(s.filters, msg); dropped {
		if s.observer != nil {
			s.observer.LogInfo(ctx, "polled message dropped by loop filter", map[string]any{
				"item_key": msg.ID,
				"filter":   name,
				"reason":   reason,
			})
		}
		return false, s.markConsumed(ctx, msg.ID)
	}

	claimed, err := s.checker.Claim(ctx, msg.ID, core.ItemSourcePoller, msg)
	if err != nil {
		return false, err
	}
	if !claimed {
		// The other path already forwarded it; just stop re-observing.
		return false, s.markConsumed(ctx, msg.ID)
	}

	item := core.InboundItem{
		ItemKey:     msg.ID,
		Source:      core.ItemSourcePoller,
		Message:     msg,
		ForwardedAt: s.now(),
		Metadata: map[string]any{
			"resource_ref": resourceRef,
		},
	}
	if err := s.publisher.Publish(ctx, item); err != nil {
		return false, core.MapError(err)
	}

	if err := s.markConsumed(ctx, msg.ID); err != nil && s.observer != nil {
		s.observer.LogWarn(ctx, "mark consumed failed after forward", map[string]any{
			"item_key": msg.ID,
			"error":    err.Error(),
		})
	}
	return true, nil
}

func (s *Scanner) markConsumed(ctx context.Context, itemRef string) error {
	return s.callProvider(ctx, func(callCtx context.Context) error {
		return s.provider.MarkConsumed(callCtx, itemRef)
	})
}

func (s *Scanner) callProvider(ctx context.Context, op func(ctx context.Context) error) error {
	if s.guard == nil {
		return core.MapError(op(ctx))
	}
	return core.MapError(s.guard.Do(ctx, op))
}

// Run sweeps on the configured cadence until ctx ends.
func (s *Scanner) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("poller: scanner is not configured")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil && s.observer != nil {
				s.observer.LogWarn(ctx, "poll sweep finished with errors", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}
