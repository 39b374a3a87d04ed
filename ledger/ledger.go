// Package ledger implements the processed-item dedup ledger. The primary
// check claims an item key with an atomic insert-if-absent; a secondary check
// compares a normalized content hash against recent entries to catch the same
// logical mail arriving under a different provider identifier.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mailroom/core"
)

type Config struct {
	// Lookback bounds the secondary content-hash comparison.
	Lookback time.Duration
	// HashFields selects which message attributes feed the content hash.
	HashFields []string
	Store      core.ProcessedItemStore
	// Guard isolates ledger storage failures. An open guard trips the
	// same fail-open path as a direct store error.
	Guard    core.CallGuard
	Observer *core.Observer
	Now      func() time.Time
}

// Checker decides whether an item has been seen before and records claims.
type Checker struct {
	lookback   time.Duration
	hashFields []string
	store      core.ProcessedItemStore
	guard      core.CallGuard
	observer   *core.Observer
	now        func() time.Time
}

func NewChecker(cfg Config) (*Checker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger: processed item store is required")
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 90 * 24 * time.Hour
	}
	hashFields := cfg.HashFields
	if len(hashFields) == 0 {
		hashFields = []string{FieldSender, FieldSubject, FieldDate}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Checker{
		lookback:   lookback,
		hashFields: hashFields,
		store:      cfg.Store,
		guard:      cfg.Guard,
		observer:   cfg.Observer,
		now:        now,
	}, nil
}

// Claim atomically records the item key and reports whether this caller won
// the claim. A lost race, a pre-existing key, or an earlier content-hash
// match inside the lookback window all report claimed=false.
//
// The content-hash pass runs after the key insert so a hash duplicate still
// leaves a ledger entry for its own key; a later redelivery of either
// identifier short-circuits on the primary check.
func (c *Checker) Claim(ctx context.Context, itemKey, source string, msg core.MailMessage) (bool, error) {
	if c == nil || c.store == nil {
		return false, fmt.Errorf("ledger: checker is not configured")
	}
	itemKey = strings.TrimSpace(itemKey)
	if itemKey == "" {
		return false, fmt.Errorf("ledger: item key is required")
	}

	now := c.now()
	contentHash := ContentHash(msg, c.hashFields)
	entry := core.ProcessedItem{
		ItemKey:     itemKey,
		ContentHash: contentHash,
		Source:      source,
		ProcessedAt: now,
		TimeBucket:  now.Format("2006-01"),
	}

	var claimed bool
	err := c.guarded(ctx, func(ctx context.Context) error {
		var opErr error
		claimed, opErr = c.store.Insert(ctx, entry)
		return opErr
	})
	if err != nil {
		// An unreachable ledger fails open: forwarding an item twice is
		// a lesser harm than dropping it.
		if c.observer != nil {
			c.observer.LogWarn(ctx, "ledger unreachable, allowing item through", map[string]any{
				"item_key": itemKey,
				"source":   source,
				"error":    err.Error(),
			})
		}
		return true, nil
	}
	if !claimed {
		return false, nil
	}

	var matches []core.ProcessedItem
	err = c.guarded(ctx, func(ctx context.Context) error {
		var opErr error
		matches, opErr = c.store.FindByContentHash(ctx, contentHash, now.Add(-c.lookback))
		return opErr
	})
	if err != nil {
		// The key claim already succeeded; a degraded secondary check
		// must not fail the item.
		if c.observer != nil {
			c.observer.LogWarn(ctx, "content hash lookback degraded, relying on item key dedup", map[string]any{
				"item_key": itemKey,
				"error":    err.Error(),
			})
		}
		return true, nil
	}
	for _, match := range matches {
		if match.ItemKey == itemKey {
			continue
		}
		// Yield only to entries that sort strictly before our own. Two
		// identical items claiming concurrently each see the other's
		// fresh row; the ordering guarantees exactly one of them wins
		// instead of both yielding and the item vanishing.
		if !sortsBefore(match, entry) {
			continue
		}
		if c.observer != nil {
			c.observer.LogInfo(ctx, "content hash duplicate detected", map[string]any{
				"item_key":  itemKey,
				"duplicate": match.ItemKey,
				"source":    source,
			})
		}
		return false, nil
	}
	return true, nil
}

func (c *Checker) guarded(ctx context.Context, op func(ctx context.Context) error) error {
	if c.guard == nil {
		return op(ctx)
	}
	return c.guard.Do(ctx, op)
}

// sortsBefore orders ledger entries by processing time, with the item key as
// a deterministic tie break for same-instant claims.
func sortsBefore(a, b core.ProcessedItem) bool {
	if !a.ProcessedAt.Equal(b.ProcessedAt) {
		return a.ProcessedAt.Before(b.ProcessedAt)
	}
	return a.ItemKey < b.ItemKey
}
