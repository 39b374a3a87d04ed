package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:mailroom_subscriptions,alias:ms"`

	ID                   string         `bun:"id,pk"`
	ResourceRef          string         `bun:"resource_ref,notnull"`
	RemoteSubscriptionID string         `bun:"remote_subscription_id"`
	CallbackURL          string         `bun:"callback_url,notnull"`
	Status               string         `bun:"status,notnull"`
	IsActive             bool           `bun:"is_active,notnull"`
	ExpiresAt            time.Time      `bun:"expires_at,notnull"`
	RenewedAt            *time.Time     `bun:"renewed_at,nullzero"`
	Metadata             map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt            time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type processedItemRecord struct {
	bun.BaseModel `bun:"table:mailroom_processed_items,alias:mpi"`

	ItemKey     string    `bun:"item_key,pk"`
	ContentHash string    `bun:"content_hash,notnull"`
	Source      string    `bun:"source,notnull"`
	ProcessedAt time.Time `bun:"processed_at,notnull"`
	TimeBucket  string    `bun:"time_bucket,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type counterRecord struct {
	bun.BaseModel `bun:"table:mailroom_rate_counters,alias:mrc"`

	ClientKey   string    `bun:"client_key,pk"`
	WindowStart time.Time `bun:"window_start,pk"`
	Count       int       `bun:"count,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:mailroom_dead_letters,alias:mdl"`

	ID             string         `bun:"id,pk"`
	EnvelopeID     string         `bun:"envelope_id,notnull"`
	SubscriptionID string         `bun:"subscription_id"`
	ResourceRef    string         `bun:"resource_ref"`
	ItemRef        string         `bun:"item_ref"`
	ChangeType     string         `bun:"change_type"`
	ReceivedAt     time.Time      `bun:"received_at,nullzero"`
	Attempt        int            `bun:"attempt,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	Reason         string         `bun:"reason,notnull"`
	ArchivedAt     time.Time      `bun:"archived_at,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
