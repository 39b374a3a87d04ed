package graph

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-mailroom/core"
	"github.com/goliatone/go-mailroom/providers/devkit"
)

func newTestProvider(t *testing.T, adapter core.TransportAdapter) *Provider {
	t.Helper()
	provider, err := New(Config{
		BaseURL:   "https://graph.test/v1.0",
		Transport: adapter,
		AccessToken: func(ctx context.Context) (string, error) {
			return "token-1", nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return provider
}

func TestCreateSubscription(t *testing.T) {
	expiresAt := time.Date(2026, 3, 8, 8, 0, 0, 0, time.UTC)
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{
		Response: devkit.OKResponse(http.StatusCreated, devkit.SubscriptionCreatedBody("remote-1", expiresAt)),
	})
	provider := newTestProvider(t, adapter)

	result, err := provider.CreateSubscription(context.Background(), core.CreateSubscriptionRequest{
		ResourceRef: "shared-inbox@corp.example",
		CallbackURL: "https://ingest.corp.example/webhook",
		ClientState: "shared-secret",
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if result.RemoteSubscriptionID != "remote-1" {
		t.Fatalf("unexpected remote id %q", result.RemoteSubscriptionID)
	}
	if !result.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("unexpected expiry %s", result.ExpiresAt)
	}

	requests := adapter.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	req := requests[0]
	if req.Method != http.MethodPost || !strings.HasSuffix(req.URL, "/subscriptions") {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
	}
	if req.Headers["Authorization"] != "Bearer token-1" {
		t.Fatal("missing bearer token")
	}
	if !strings.Contains(string(req.Body), `"clientState":"shared-secret"`) {
		t.Fatalf("subscription request must carry client state, body=%s", req.Body)
	}
}

func TestRenewSubscriptionNotFound(t *testing.T) {
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{
		Response: core.TransportResponse{
			StatusCode: http.StatusNotFound,
			Body:       devkit.ErrorBody("ResourceNotFound", "subscription gone"),
		},
	})
	provider := newTestProvider(t, adapter)

	_, err := provider.RenewSubscription(context.Background(), core.RenewSubscriptionRequest{
		RemoteSubscriptionID: "remote-gone",
		ExpiresAt:            time.Now().Add(24 * time.Hour),
	})
	if !errors.Is(err, core.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestGetMessage(t *testing.T) {
	receivedAt := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{
		Response: devkit.OKResponse(http.StatusOK,
			devkit.MessageBody("item-1", "customer@vendor.example", "Invoice #4521 overdue", receivedAt, false)),
	})
	provider := newTestProvider(t, adapter)

	msg, err := provider.GetMessage(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.ID != "item-1" || msg.Sender != "customer@vendor.example" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !msg.ReceivedAt.Equal(receivedAt) {
		t.Fatalf("unexpected receive time %s", msg.ReceivedAt)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{
		Response: core.TransportResponse{
			StatusCode: http.StatusNotFound,
			Body:       devkit.ErrorBody("ErrorItemNotFound", "no such message"),
		},
	})
	provider := newTestProvider(t, adapter)

	_, err := provider.GetMessage(context.Background(), "item-missing")
	if !errors.Is(err, core.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestMarkConsumedPatchesIsRead(t *testing.T) {
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{
		Response: core.TransportResponse{StatusCode: http.StatusOK},
	})
	provider := newTestProvider(t, adapter)

	if err := provider.MarkConsumed(context.Background(), "item-1"); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	requests := adapter.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0].Method != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", requests[0].Method)
	}
	if string(requests[0].Body) != `{"isRead":true}` {
		t.Fatalf("unexpected body %s", requests[0].Body)
	}
}

func TestListNewMessagesEscapesFilter(t *testing.T) {
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{
		Response: devkit.OKResponse(http.StatusOK, devkit.MessageListBody(
			devkit.MessageBody("item-1", "customer@vendor.example", "Invoice", time.Now(), false),
		)),
	})
	provider, err := New(Config{
		BaseURL:       "https://graph.test/v1.0",
		Transport:     adapter,
		ExcludeSender: "o'brien@corp.example",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	messages, err := provider.ListNewMessages(context.Background(), "shared-inbox@corp.example", 25)
	if err != nil {
		t.Fatalf("ListNewMessages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	req := adapter.Requests()[0]
	filter := req.Query["$filter"]
	if !strings.Contains(filter, "isRead eq false") {
		t.Fatalf("missing unread filter: %q", filter)
	}
	if !strings.Contains(filter, "o''brien@corp.example") {
		t.Fatalf("sender must be escaped inside the filter literal: %q", filter)
	}
	if req.Query["$top"] != "25" {
		t.Fatalf("expected top 25, got %q", req.Query["$top"])
	}
}

func TestThrottledResponseCarriesRetryAfter(t *testing.T) {
	adapter := devkit.NewFakeTransportAdapter("rest", devkit.TransportScript{
		Response: devkit.ThrottledResponse(45 * time.Second),
	})
	provider := newTestProvider(t, adapter)

	_, err := provider.GetMessage(context.Background(), "item-1")
	if err == nil {
		t.Fatal("expected throttle error")
	}
	var mapped *goerrors.Error
	if !goerrors.As(err, &mapped) {
		t.Fatalf("expected rich error, got %v", err)
	}
	if mapped.TextCode != core.MailroomErrorRateLimited {
		t.Fatalf("expected %s, got %s", core.MailroomErrorRateLimited, mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 code, got %d", mapped.Code)
	}
}

func TestEscapeFilterValue(t *testing.T) {
	if got := EscapeFilterValue("plain@corp.example"); got != "plain@corp.example" {
		t.Fatalf("unexpected %q", got)
	}
	if got := EscapeFilterValue("a'b''c"); got != "a''b''''c" {
		t.Fatalf("unexpected %q", got)
	}
}
