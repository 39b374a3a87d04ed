package gojob

import (
	"context"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-mailroom/core"
)

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	lastNack queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage { return s.msg }

func (s *stubQueueDelivery) Ack(_ context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.lastNack = opts
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(_ context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

func TestEnvelopeMappingRoundTrip(t *testing.T) {
	receivedAt := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	original := core.NotificationEnvelope{
		ID:             "env-1",
		SubscriptionID: "sub-1",
		ResourceRef:    "invoices@corp.example",
		ItemRef:        "msg-001",
		ChangeType:     "created",
		ReceivedAt:     receivedAt,
		Attempt:        2,
		Metadata:       map[string]any{"trace_id": "t-1"},
	}

	converted := ToExecutionMessage(original)
	if converted.JobID != JobIDNotification {
		t.Fatalf("expected job id %q, got %q", JobIDNotification, converted.JobID)
	}
	if converted.IdempotencyKey != "env-1" {
		t.Fatalf("expected envelope id as idempotency key, got %q", converted.IdempotencyKey)
	}

	roundTrip, err := FromExecutionMessage(converted)
	if err != nil {
		t.Fatalf("from execution message: %v", err)
	}
	if roundTrip.ID != original.ID ||
		roundTrip.SubscriptionID != original.SubscriptionID ||
		roundTrip.ResourceRef != original.ResourceRef ||
		roundTrip.ItemRef != original.ItemRef ||
		roundTrip.ChangeType != original.ChangeType {
		t.Fatalf("envelope fields did not survive mapping: %+v", roundTrip)
	}
	if !roundTrip.ReceivedAt.Equal(receivedAt) {
		t.Fatalf("expected received_at %v, got %v", receivedAt, roundTrip.ReceivedAt)
	}
	if roundTrip.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", roundTrip.Attempt)
	}
	if roundTrip.Metadata["trace_id"] != "t-1" {
		t.Fatalf("expected metadata to survive mapping")
	}
}

func TestFromExecutionMessageRejectsForeignJobs(t *testing.T) {
	if _, err := FromExecutionMessage(nil); err == nil {
		t.Fatal("expected error for nil message")
	}
	if _, err := FromExecutionMessage(&job.ExecutionMessage{JobID: "other.job"}); err == nil {
		t.Fatal("expected error for foreign job id")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer)

	env := core.NotificationEnvelope{
		ID:          "env-queue-1",
		ResourceRef: "invoices@corp.example",
		ItemRef:     "msg-002",
		ReceivedAt:  time.Now().UTC(),
	}
	if err := enqueueAdapter.Enqueue(ctx, env); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDNotification {
		t.Fatal("expected mapped go-job message")
	}

	rawDelivery := &stubQueueDelivery{msg: enqueuer.last}
	dequeueAdapter := NewDequeuerAdapter(&stubQueueDequeuer{delivery: rawDelivery}, RetryPolicy{})
	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery.Envelope().ID != "env-queue-1" {
		t.Fatalf("expected mapped envelope, got %+v", delivery.Envelope())
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !rawDelivery.acked {
		t.Fatal("expected ack on underlying delivery")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	env := core.NotificationEnvelope{
		ID:         "env-retry",
		ItemRef:    "msg-003",
		ReceivedAt: time.Now().UTC(),
		Attempt:    5,
	}
	rawDelivery := &stubQueueDelivery{msg: ToExecutionMessage(env)}

	delivery, err := NewDeliveryAdapter(rawDelivery, RetryPolicy{
		MaxAttempts:     5,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	})
	if err != nil {
		t.Fatalf("new delivery adapter: %v", err)
	}

	err = delivery.Nack(ctx, core.NackOptions{
		Delay:   5 * time.Minute,
		Requeue: true,
		Reason:  "resolution failed",
	})
	if err != nil {
		t.Fatalf("nack: %v", err)
	}
	// Attempts are exhausted: the requeue is converted to a dead letter and
	// the delay is clamped to the policy maximum.
	if rawDelivery.lastNack.Requeue {
		t.Fatal("expected exhausted delivery not to requeue")
	}
	if !rawDelivery.lastNack.DeadLetter {
		t.Fatal("expected exhausted delivery to dead letter")
	}
	if rawDelivery.lastNack.Delay != time.Minute {
		t.Fatalf("expected delay clamped to 1m, got %v", rawDelivery.lastNack.Delay)
	}
	if rawDelivery.lastNack.Reason != "resolution failed" {
		t.Fatalf("expected reason to pass through, got %q", rawDelivery.lastNack.Reason)
	}
}

func TestNackRetryPolicyAllowsEarlyRequeue(t *testing.T) {
	ctx := context.Background()
	env := core.NotificationEnvelope{
		ID:         "env-early",
		ItemRef:    "msg-004",
		ReceivedAt: time.Now().UTC(),
		Attempt:    1,
	}
	rawDelivery := &stubQueueDelivery{msg: ToExecutionMessage(env)}

	delivery, err := NewDeliveryAdapter(rawDelivery, RetryPolicy{MaxAttempts: 5})
	if err != nil {
		t.Fatalf("new delivery adapter: %v", err)
	}
	if err := delivery.Nack(ctx, core.NackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "provider timeout",
	}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if !rawDelivery.lastNack.Requeue || rawDelivery.lastNack.DeadLetter {
		t.Fatalf("expected plain requeue below the attempt cap, got %+v", rawDelivery.lastNack)
	}
	if rawDelivery.lastNack.Delay != 30*time.Second {
		t.Fatalf("expected delay preserved, got %v", rawDelivery.lastNack.Delay)
	}
}
