package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrNoActiveSubscription = errors.New("core: no active subscription")
	ErrSubscriptionNotFound = errors.New("core: subscription not found")
	ErrItemNotFound         = errors.New("core: item not found")
)

// MailProvider is the external mail system: item resolution by reference,
// mark-as-consumed, and subscription management. Every call is expected to
// be invoked behind a circuit breaker with a bounded timeout.
type MailProvider interface {
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (SubscriptionResult, error)
	RenewSubscription(ctx context.Context, req RenewSubscriptionRequest) (SubscriptionResult, error)
	DeleteSubscription(ctx context.Context, remoteSubscriptionID string) error
	GetMessage(ctx context.Context, itemRef string) (MailMessage, error)
	MarkConsumed(ctx context.Context, itemRef string) error
	ListNewMessages(ctx context.Context, resourceRef string, limit int) ([]MailMessage, error)
}

// SubscriptionStore persists subscription records. All mutations are
// single-row conditional operations so overlapping lifecycle runs can be
// tolerated without a distributed lock.
type SubscriptionStore interface {
	GetActive(ctx context.Context, resourceRef string) (SubscriptionRecord, error)
	Get(ctx context.Context, id string) (SubscriptionRecord, error)
	Create(ctx context.Context, in CreateSubscriptionInput) (SubscriptionRecord, error)
	// ActivateExchange installs a new active record and flips the prior one
	// in a single conditional write. swapped=false means another writer won.
	ActivateExchange(ctx context.Context, in ActivateExchangeInput) (SubscriptionRecord, bool, error)
	MarkValidated(ctx context.Context, id string) error
	UpdateState(ctx context.Context, id string, status SubscriptionStatus, reason string) error
	ListExpiring(ctx context.Context, before time.Time) ([]SubscriptionRecord, error)
}

// ProcessedItemStore is the durable dedup ledger. Insert must be an atomic
// insert-if-absent; claimed=false signals the key already exists.
type ProcessedItemStore interface {
	Insert(ctx context.Context, item ProcessedItem) (bool, error)
	FindByContentHash(ctx context.Context, contentHash string, since time.Time) ([]ProcessedItem, error)
}

// CounterStore backs the inbound rate limiter: one row per client key and
// window start, incremented atomically.
type CounterStore interface {
	Increment(ctx context.Context, clientKey string, windowStart time.Time) (int, error)
}

// InboundRateLimiter guards the webhook endpoint. Allow returns a throttled
// error when the caller is over limit; implementations fail open when their
// own storage check errors.
type InboundRateLimiter interface {
	Allow(ctx context.Context, clientKey string) error
}

// CallGuard wraps an outbound dependency call with failure isolation. While
// the guard is open the operation fails immediately without being invoked.
type CallGuard interface {
	Name() string
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// DownstreamPublisher is the boundary to the out-of-scope enrichment stage.
type DownstreamPublisher interface {
	Publish(ctx context.Context, item InboundItem) error
}

type NackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type EnvelopeEnqueuer interface {
	Enqueue(ctx context.Context, env NotificationEnvelope) error
}

type EnvelopeDelivery interface {
	Envelope() NotificationEnvelope
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts NackOptions) error
}

// EnvelopeDequeuer drains the raw-notification queue. Dequeue blocks until a
// message is visible or the context ends; the transport owns redelivery via
// visibility timeout and dead-letters after attempts are exhausted.
type EnvelopeDequeuer interface {
	Dequeue(ctx context.Context) (EnvelopeDelivery, error)
}

type DeadLetter struct {
	Envelope   NotificationEnvelope
	Reason     string
	ArchivedAt time.Time
}

type DeadLetterStore interface {
	Archive(ctx context.Context, letter DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
}

// TransportRequest / TransportResponse are the protocol-neutral shapes used
// by the REST transport adapter for provider calls.
type TransportRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
	Timeout time.Duration
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	RetryAfter *time.Duration
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
