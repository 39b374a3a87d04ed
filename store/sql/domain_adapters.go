package sqlstore

import (
	"time"

	"github.com/goliatone/go-mailroom/core"
)

func newSubscriptionRecord(in core.CreateSubscriptionInput, now time.Time) *subscriptionRecord {
	status := in.Status
	if status == "" {
		status = core.SubscriptionStatusPendingValidation
	}
	return &subscriptionRecord{
		ResourceRef:          core.NormalizeResourceRef(in.ResourceRef),
		RemoteSubscriptionID: in.RemoteSubscriptionID,
		CallbackURL:          in.CallbackURL,
		Status:               string(status),
		IsActive:             status == core.SubscriptionStatusActive,
		ExpiresAt:            in.ExpiresAt.UTC(),
		Metadata:             core.CopyAnyMap(in.Metadata),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func (r *subscriptionRecord) toDomain() core.SubscriptionRecord {
	if r == nil {
		return core.SubscriptionRecord{}
	}
	out := core.SubscriptionRecord{
		ID:                   r.ID,
		ResourceRef:          r.ResourceRef,
		RemoteSubscriptionID: r.RemoteSubscriptionID,
		CallbackURL:          r.CallbackURL,
		Status:               core.SubscriptionStatus(r.Status),
		IsActive:             r.IsActive,
		ExpiresAt:            r.ExpiresAt,
		CreatedAt:            r.CreatedAt,
		Metadata:             core.CopyAnyMap(r.Metadata),
	}
	if r.RenewedAt != nil {
		value := *r.RenewedAt
		out.RenewedAt = &value
	}
	return out
}

func (r *processedItemRecord) toDomain() core.ProcessedItem {
	if r == nil {
		return core.ProcessedItem{}
	}
	return core.ProcessedItem{
		ItemKey:     r.ItemKey,
		ContentHash: r.ContentHash,
		Source:      r.Source,
		ProcessedAt: r.ProcessedAt,
		TimeBucket:  r.TimeBucket,
	}
}

func newDeadLetterRecord(letter core.DeadLetter, now time.Time) *deadLetterRecord {
	archivedAt := letter.ArchivedAt
	if archivedAt.IsZero() {
		archivedAt = now
	}
	return &deadLetterRecord{
		EnvelopeID:     letter.Envelope.ID,
		SubscriptionID: letter.Envelope.SubscriptionID,
		ResourceRef:    letter.Envelope.ResourceRef,
		ItemRef:        letter.Envelope.ItemRef,
		ChangeType:     letter.Envelope.ChangeType,
		ReceivedAt:     letter.Envelope.ReceivedAt,
		Attempt:        letter.Envelope.Attempt,
		Metadata:       core.CopyAnyMap(letter.Envelope.Metadata),
		Reason:         letter.Reason,
		ArchivedAt:     archivedAt.UTC(),
		CreatedAt:      now,
	}
}

func (r *deadLetterRecord) toDomain() core.DeadLetter {
	if r == nil {
		return core.DeadLetter{}
	}
	return core.DeadLetter{
		Envelope: core.NotificationEnvelope{
			ID:             r.EnvelopeID,
			SubscriptionID: r.SubscriptionID,
			ResourceRef:    r.ResourceRef,
			ItemRef:        r.ItemRef,
			ChangeType:     r.ChangeType,
			ReceivedAt:     r.ReceivedAt,
			Attempt:        r.Attempt,
			Metadata:       core.CopyAnyMap(r.Metadata),
		},
		Reason:     r.Reason,
		ArchivedAt: r.ArchivedAt,
	}
}
