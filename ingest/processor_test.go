package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-mailroom/core"
	"github.com/goliatone/go-mailroom/ledger"
	"github.com/goliatone/go-mailroom/providers/devkit"
	"github.com/goliatone/go-mailroom/providers/graph"
	"github.com/goliatone/go-mailroom/queue"
)

type stubProvider struct {
	mu            sync.Mutex
	messages      map[string]core.MailMessage
	getErr        error
	consumeErr    error
	consumedRefs  []string
	getCalls      int
	consumedCalls int
}

func newStubProvider() *stubProvider {
	return &stubProvider{messages: map[string]core.MailMessage{}}
}

func (p *stubProvider) CreateSubscription(ctx context.Context, req core.CreateSubscriptionRequest) (core.SubscriptionResult, error) {
	return core.SubscriptionResult{}, errors.New("not implemented")
}

func (p *stubProvider) RenewSubscription(ctx context.Context, req core.RenewSubscriptionRequest) (core.SubscriptionResult, error) {
	return core.SubscriptionResult{}, errors.New("not implemented")
}

func (p *stubProvider) DeleteSubscription(ctx context.Context, remoteSubscriptionID string) error {
	return errors.New("not implemented")
}

func (p *stubProvider) GetMessage(ctx context.Context, itemRef string) (core.MailMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if p.getErr != nil {
		return core.MailMessage{}, p.getErr
	}
	msg, ok := p.messages[itemRef]
	if !ok {
		return core.MailMessage{}, core.ErrItemNotFound
	}
	return msg, nil
}

func (p *stubProvider) MarkConsumed(ctx context.Context, itemRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumedCalls++
	if p.consumeErr != nil {
		return p.consumeErr
	}
	p.consumedRefs = append(p.consumedRefs, itemRef)
	return nil
}

func (p *stubProvider) ListNewMessages(ctx context.Context, resourceRef string, limit int) ([]core.MailMessage, error) {
	return nil, nil
}

type capturePublisher struct {
	mu    sync.Mutex
	items []core.InboundItem
	err   error
}

func (c *capturePublisher) Publish(ctx context.Context, item core.InboundItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.items = append(c.items, item)
	return nil
}

func (c *capturePublisher) all() []core.InboundItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.InboundItem(nil), c.items...)
}

type fakeDelivery struct {
	env    core.NotificationEnvelope
	acked  bool
	nacked bool
	opts   core.NackOptions
}

func (d *fakeDelivery) Envelope() core.NotificationEnvelope { return d.env }

func (d *fakeDelivery) Ack(ctx context.Context) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(ctx context.Context, opts core.NackOptions) error {
	d.nacked = true
	d.opts = opts
	return nil
}

func newTestProcessor(t *testing.T, provider *stubProvider, publisher *capturePublisher, store core.ProcessedItemStore) *Processor {
	t.Helper()
	checker, err := ledger.NewChecker(ledger.Config{Store: store})
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	processor, err := NewProcessor(Config{
		Provider:  provider,
		Checker:   checker,
		Publisher: publisher,
		Filters:   DefaultFilters("mailroom@corp.example", "[Mailroom Notice]"),
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return processor
}

func envelope(itemRef string) core.NotificationEnvelope {
	return core.NotificationEnvelope{
		ID:             "env-1",
		SubscriptionID: "sub-1",
		ResourceRef:    "shared-inbox@corp.example",
		ItemRef:        itemRef,
		ChangeType:     "created",
		ReceivedAt:     time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestProcessForwardsNewItemAndMarksConsumed(t *testing.T) {
	provider := newStubProvider()
	provider.messages["item-1"] = core.MailMessage{
		ID:      "item-1",
		Sender:  "customer@vendor.example",
		Subject: "Invoice #4521 overdue",
	}
	publisher := &capturePublisher{}
	processor := newTestProcessor(t, provider, publisher, ledger.NewMemoryItemStore())

	delivery := &fakeDelivery{env: envelope("item-1")}
	if err := processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !delivery.acked {
		t.Fatal("successful processing must ack")
	}

	items := publisher.all()
	if len(items) != 1 {
		t.Fatalf("expected 1 forwarded item, got %d", len(items))
	}
	if items[0].ItemKey != "item-1" || items[0].Source != core.ItemSourceWebhook {
		t.Fatalf("unexpected forwarded item: %+v", items[0])
	}
	if items[0].Metadata["subscription_id"] != "sub-1" {
		t.Fatal("forwarded item should carry envelope metadata")
	}
	if len(provider.consumedRefs) != 1 || provider.consumedRefs[0] != "item-1" {
		t.Fatalf("expected mark consumed for item-1, got %v", provider.consumedRefs)
	}
}

func TestProcessDropsFilteredItemWithoutForwarding(t *testing.T) {
	provider := newStubProvider()
	provider.messages["item-1"] = core.MailMessage{
		ID:      "item-1",
		Sender:  "mailroom@corp.example",
		Subject: "[Mailroom Notice] ticket created",
	}
	publisher := &capturePublisher{}
	processor := newTestProcessor(t, provider, publisher, ledger.NewMemoryItemStore())

	delivery := &fakeDelivery{env: envelope("item-1")}
	if err := processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !delivery.acked {
		t.Fatal("filter drops are final and must ack")
	}
	if len(publisher.all()) != 0 {
		t.Fatal("filtered item must not be forwarded")
	}
	if provider.consumedCalls != 0 {
		t.Fatal("filtered item must not be marked consumed")
	}
}

func TestProcessSkipsDuplicateItem(t *testing.T) {
	provider := newStubProvider()
	provider.messages["item-1"] = core.MailMessage{
		ID:      "item-1",
		Sender:  "customer@vendor.example",
		Subject: "Invoice #4521 overdue",
	}
	publisher := &capturePublisher{}
	store := ledger.NewMemoryItemStore()
	processor := newTestProcessor(t, provider, publisher, store)

	first := &fakeDelivery{env: envelope("item-1")}
	if err := processor.Process(context.Background(), first); err != nil {
		t.Fatalf("Process: %v", err)
	}
	second := &fakeDelivery{env: envelope("item-1")}
	if err := processor.Process(context.Background(), second); err != nil {
		t.Fatalf("Process duplicate: %v", err)
	}
	if !second.acked {
		t.Fatal("duplicate must be acked, not redelivered")
	}
	if len(publisher.all()) != 1 {
		t.Fatalf("duplicate must not be forwarded twice, got %d items", len(publisher.all()))
	}
}

func TestProcessNacksOnResolutionFailure(t *testing.T) {
	provider := newStubProvider()
	provider.getErr = errors.New("503 service unavailable")
	publisher := &capturePublisher{}
	processor := newTestProcessor(t, provider, publisher, ledger.NewMemoryItemStore())

	delivery := &fakeDelivery{env: envelope("item-1")}
	if err := processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !delivery.nacked {
		t.Fatal("resolution failure must nack for redelivery")
	}
	if !delivery.opts.Requeue {
		t.Fatal("nack must request requeue")
	}
	if delivery.opts.Reason == "" {
		t.Fatal("nack must carry a reason for the dead letter record")
	}
}

func newThrottledGraphProvider(t *testing.T, retryAfter time.Duration) core.MailProvider {
	t.Helper()
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{
		Response: devkit.ThrottledResponse(retryAfter),
	})
	provider, err := graph.New(graph.Config{
		BaseURL:   "https://graph.test/v1.0",
		Transport: adapter,
		AccessToken: func(ctx context.Context) (string, error) {
			return "token-1", nil
		},
	})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	return provider
}

func TestProcessHonorsProviderRetryAfterHint(t *testing.T) {
	checker, err := ledger.NewChecker(ledger.Config{Store: ledger.NewMemoryItemStore()})
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	processor, err := NewProcessor(Config{
		Provider:   newThrottledGraphProvider(t, 90*time.Second),
		Checker:    checker,
		Publisher:  &capturePublisher{},
		RetryDelay: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	delivery := &fakeDelivery{env: envelope("item-1")}
	if err := processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !delivery.nacked {
		t.Fatal("throttled resolve must nack for redelivery")
	}
	if delivery.opts.Delay != 90*time.Second {
		t.Fatalf("expected the provider's 90s retry-after hint to pace the redelivery, got %s", delivery.opts.Delay)
	}
}

func TestProcessKeepsConfiguredDelayForShortRetryAfterHint(t *testing.T) {
	checker, err := ledger.NewChecker(ledger.Config{Store: ledger.NewMemoryItemStore()})
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	processor, err := NewProcessor(Config{
		Provider:   newThrottledGraphProvider(t, 5*time.Second),
		Checker:    checker,
		Publisher:  &capturePublisher{},
		RetryDelay: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	delivery := &fakeDelivery{env: envelope("item-1")}
	if err := processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if delivery.opts.Delay != 30*time.Second {
		t.Fatalf("a hint below the configured cadence must not shorten it, got %s", delivery.opts.Delay)
	}
}

func TestProcessNacksOnMissingItem(t *testing.T) {
	provider := newStubProvider()
	publisher := &capturePublisher{}
	processor := newTestProcessor(t, provider, publisher, ledger.NewMemoryItemStore())

	delivery := &fakeDelivery{env: envelope("item-unknown")}
	if err := processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !delivery.nacked {
		t.Fatal("a not-found item is never silently discarded")
	}
}

func TestProcessAcksWhenMarkConsumedFails(t *testing.T) {
	provider := newStubProvider()
	provider.messages["item-1"] = core.MailMessage{
		ID:      "item-1",
		Sender:  "customer@vendor.example",
		Subject: "Invoice #4521 overdue",
	}
	provider.consumeErr = errors.New("503 service unavailable")
	publisher := &capturePublisher{}
	processor := newTestProcessor(t, provider, publisher, ledger.NewMemoryItemStore())

	delivery := &fakeDelivery{env: envelope("item-1")}
	if err := processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("Process: %v", err)
	}
	// The item was forwarded; redelivering would duplicate it downstream.
	if !delivery.acked {
		t.Fatal("a failed consume mark must not trigger redelivery")
	}
	if len(publisher.all()) != 1 {
		t.Fatal("item should still have been forwarded")
	}
}

func TestExhaustedRedeliveriesLandInDeadLetters(t *testing.T) {
	provider := newStubProvider()
	provider.getErr = errors.New("503 service unavailable")
	publisher := &capturePublisher{}
	processor := newTestProcessor(t, provider, publisher, ledger.NewMemoryItemStore())
	processor.retryDelay = 0

	letters := queue.NewMemoryDeadLetterStore()
	q := queue.NewMemoryQueue(queue.Config{
		MaxAttempts: 3,
		DeadLetters: letters,
	})
	if err := q.Enqueue(context.Background(), envelope("item-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for attempt := 0; attempt < 3; attempt++ {
		delivery, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue attempt %d: %v", attempt+1, err)
		}
		if err := processor.Process(ctx, delivery); err != nil {
			t.Fatalf("Process attempt %d: %v", attempt+1, err)
		}
	}

	archived, err := letters.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("expected 1 dead letter after exhausted attempts, got %d", len(archived))
	}
	if q.Depth() != 0 {
		t.Fatalf("queue should be drained, depth=%d", q.Depth())
	}
}

func TestRunDrainsQueueUntilCancelled(t *testing.T) {
	provider := newStubProvider()
	provider.messages["item-1"] = core.MailMessage{
		ID:      "item-1",
		Sender:  "customer@vendor.example",
		Subject: "Invoice #4521 overdue",
	}
	publisher := &capturePublisher{}
	processor := newTestProcessor(t, provider, publisher, ledger.NewMemoryItemStore())

	q := queue.NewMemoryQueue(queue.Config{})
	if err := q.Enqueue(context.Background(), envelope("item-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- processor.Run(ctx, q)
	}()

	deadline := time.After(2 * time.Second)
	for len(publisher.all()) == 0 {
		select {
		case <-deadline:
			t.Fatal("item was not processed in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
