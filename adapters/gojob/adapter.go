package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-mailroom/core"
)

// JobIDNotification identifies a raw change notification riding the go-job
// queue between the webhook receiver and the notification processor.
const JobIDNotification = "mailroom.notification.process"

// RetryPolicy bounds queue redelivery so a poison envelope cannot loop
// forever: past MaxAttempts the nack is forced to the dead-letter path.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps nack options against the policy for one attempt.
func (p RetryPolicy) NormalizeAttempt(opts core.NackOptions, attempt int) core.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage packs a notification envelope into a go-job message.
// The envelope ID doubles as the idempotency key so broker-side dedup can
// collapse duplicate webhook deliveries before the processor sees them.
func ToExecutionMessage(env core.NotificationEnvelope) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDNotification,
		IdempotencyKey: strings.TrimSpace(env.ID),
		Parameters: map[string]any{
			"envelope_id":     env.ID,
			"subscription_id": env.SubscriptionID,
			"resource_ref":    env.ResourceRef,
			"item_ref":        env.ItemRef,
			"change_type":     env.ChangeType,
			"received_at":     env.ReceivedAt.UTC().Format(time.RFC3339Nano),
			"attempt":         env.Attempt,
			"metadata":        core.CopyAnyMap(env.Metadata),
		},
	}
}

// FromExecutionMessage unpacks a go-job message back into an envelope.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.NotificationEnvelope, error) {
	if msg == nil {
		return core.NotificationEnvelope{}, fmt.Errorf("gojob: execution message is required")
	}
	if msg.JobID != JobIDNotification {
		return core.NotificationEnvelope{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	env := core.NotificationEnvelope{
		ID:             paramString(msg.Parameters, "envelope_id"),
		SubscriptionID: paramString(msg.Parameters, "subscription_id"),
		ResourceRef:    paramString(msg.Parameters, "resource_ref"),
		ItemRef:        paramString(msg.Parameters, "item_ref"),
		ChangeType:     paramString(msg.Parameters, "change_type"),
		Attempt:        paramInt(msg.Parameters, "attempt"),
		Metadata:       paramMap(msg.Parameters, "metadata"),
	}
	if raw := paramString(msg.Parameters, "received_at"); raw != "" {
		receivedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return core.NotificationEnvelope{}, fmt.Errorf("gojob: parse received_at: %w", err)
		}
		env.ReceivedAt = receivedAt
	}
	return env, nil
}

// EnqueuerAdapter bridges the mailroom envelope enqueue contract onto a
// go-job queue enqueuer.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, env core.NotificationEnvelope) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(env))
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	envelope core.NotificationEnvelope
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) (*DeliveryAdapter, error) {
	if delivery == nil {
		return nil, fmt.Errorf("gojob: delivery is required")
	}
	envelope, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		return nil, err
	}
	return &DeliveryAdapter{
		delivery: delivery,
		envelope: envelope,
		policy:   policy,
	}, nil
}

func (d *DeliveryAdapter) Envelope() core.NotificationEnvelope {
	if d == nil {
		return core.NotificationEnvelope{}
	}
	return d.envelope
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.NackOptions) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, d.envelope.Attempt)
	return d.delivery.Nack(ctx, queue.NackOptions{
		Delay:      normalized.Delay,
		Requeue:    normalized.Requeue,
		DeadLetter: normalized.DeadLetter,
		Reason:     normalized.Reason,
	})
}

type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.EnvelopeDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return NewDeliveryAdapter(delivery, a.policy)
}

func paramString(params map[string]any, key string) string {
	value, ok := params[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func paramInt(params map[string]any, key string) int {
	switch value := params[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		// JSON round trips land here.
		return int(value)
	default:
		return 0
	}
}

func paramMap(params map[string]any, key string) map[string]any {
	value, ok := params[key].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return core.CopyAnyMap(value)
}

var (
	_ core.EnvelopeEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.EnvelopeDelivery = (*DeliveryAdapter)(nil)
	_ core.EnvelopeDequeuer = (*DequeuerAdapter)(nil)
)
