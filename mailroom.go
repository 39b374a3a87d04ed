// Package mailroom ingests inbound email from a push-notification mail
// provider: it keeps a time-limited subscription alive, receives webhook
// deliveries, deduplicates and filters resolved messages, and forwards the
// survivors to a downstream enrichment stage. A fallback poller covers
// webhook gaps with the same filters and dedup ledger.
package mailroom

import (
	"context"

	"github.com/goliatone/go-mailroom/core"
)

type Config = core.Config

type SubscriptionConfig = core.SubscriptionConfig
type LedgerConfig = core.LedgerConfig
type RateLimitConfig = core.RateLimitConfig
type BreakersConfig = core.BreakersConfig
type QueueConfig = core.QueueConfig
type PollerConfig = core.PollerConfig

type SubscriptionRecord = core.SubscriptionRecord
type NotificationEnvelope = core.NotificationEnvelope
type MailMessage = core.MailMessage
type InboundItem = core.InboundItem
type DeadLetter = core.DeadLetter

type ConfigProvider = core.ConfigProvider
type MailProvider = core.MailProvider
type DownstreamPublisher = core.DownstreamPublisher
type SubscriptionStore = core.SubscriptionStore
type ProcessedItemStore = core.ProcessedItemStore
type CounterStore = core.CounterStore
type DeadLetterStore = core.DeadLetterStore

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig resolves configuration through the provider on top of the
// defaults. A nil provider yields the defaults unchanged.
func LoadConfig(ctx context.Context, provider core.ConfigProvider) (Config, error) {
	if provider == nil {
		return DefaultConfig(), nil
	}
	return provider.Load(ctx, DefaultConfig())
}

// Setup builds a service and wraps it in a facade in one call.
func Setup(cfg Config, opts ...Option) (*Facade, error) {
	service, err := NewService(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return NewFacade(service)
}
