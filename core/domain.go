package core

import (
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPendingValidation SubscriptionStatus = "pending_validation"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusSuperseded        SubscriptionStatus = "superseded"
	SubscriptionStatusErrored           SubscriptionStatus = "errored"
)

// SubscriptionRecord is the durable state for one provider push registration.
// Records are append-only: a renewal inserts a new active record and flips
// the prior one to superseded, it never deletes.
type SubscriptionRecord struct {
	ID                   string
	ResourceRef          string
	RemoteSubscriptionID string
	CallbackURL          string
	Status               SubscriptionStatus
	IsActive             bool
	ExpiresAt            time.Time
	CreatedAt            time.Time
	RenewedAt            *time.Time
	Metadata             map[string]any
}

// RemainingLife reports how much subscription lifetime is left at now.
func (r SubscriptionRecord) RemainingLife(now time.Time) time.Duration {
	if r.ExpiresAt.IsZero() {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

const (
	ItemSourceWebhook = "webhook"
	ItemSourcePoller  = "poller"
)

// ProcessedItem is a ledger entry. Presence of an ItemKey in the ledger is
// itself the dedup guarantee; entries are created once and never mutated.
type ProcessedItem struct {
	ItemKey     string
	ContentHash string
	Source      string
	ProcessedAt time.Time
	TimeBucket  string
}

// NotificationEnvelope is the transient queue message produced by the webhook
// receiver and consumed by the notification processor. The queue transport
// redelivers it on processing failure; no ordering is assumed between
// envelopes.
type NotificationEnvelope struct {
	ID             string
	SubscriptionID string
	ResourceRef    string
	ItemRef        string
	ChangeType     string
	ReceivedAt     time.Time
	Attempt        int
	Metadata       map[string]any
}

// MailMessage is a provider item resolved by reference.
type MailMessage struct {
	ID         string
	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
	IsRead     bool
	Metadata   map[string]any
}

// InboundItem is the payload handed to the downstream ingestion queue once an
// item clears the filters and the ledger.
type InboundItem struct {
	ItemKey     string
	Source      string
	Message     MailMessage
	ForwardedAt time.Time
	Metadata    map[string]any
}

type CreateSubscriptionRequest struct {
	ResourceRef string
	CallbackURL string
	ClientState string
	ExpiresAt   time.Time
	Metadata    map[string]any
}

type RenewSubscriptionRequest struct {
	RemoteSubscriptionID string
	ExpiresAt            time.Time
	Metadata             map[string]any
}

type SubscriptionResult struct {
	RemoteSubscriptionID string
	ExpiresAt            time.Time
	Metadata             map[string]any
}

type CreateSubscriptionInput struct {
	ResourceRef          string
	RemoteSubscriptionID string
	CallbackURL          string
	Status               SubscriptionStatus
	ExpiresAt            time.Time
	Metadata             map[string]any
}

// ActivateExchangeInput describes the single conditional write that installs
// a replacement active record: insert the new record as active and flip the
// prior record (when PriorID is set) to superseded. A losing writer observes
// swapped=false and must treat the exchange as a no-op.
type ActivateExchangeInput struct {
	ResourceRef          string
	PriorID              string
	RemoteSubscriptionID string
	CallbackURL          string
	ExpiresAt            time.Time
	RenewedAt            *time.Time
	Metadata             map[string]any
}

func NormalizeResourceRef(ref string) string {
	return strings.TrimSpace(strings.ToLower(ref))
}

func CopyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func MergeAnyMap(left map[string]any, right map[string]any) map[string]any {
	merged := CopyAnyMap(left)
	for key, value := range right {
		merged[key] = value
	}
	return merged
}
