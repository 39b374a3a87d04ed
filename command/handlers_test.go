package command

import (
	"context"
	"errors"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-mailroom/core"
)

type stubMutatingService struct {
	ensureFn   func(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error)
	renewFn    func(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error)
	validateFn func(ctx context.Context, subscriptionID string) error
	cancelFn   func(ctx context.Context, resourceRef string) error
	pollFn     func(ctx context.Context) error
	replayFn   func(ctx context.Context, envelopeID string) error
}

func (s stubMutatingService) EnsureSubscription(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if s.ensureFn == nil {
		return core.SubscriptionRecord{}, nil
	}
	return s.ensureFn(ctx, resourceRef)
}

func (s stubMutatingService) RenewSubscription(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error) {
	if s.renewFn == nil {
		return core.SubscriptionRecord{}, nil
	}
	return s.renewFn(ctx, resourceRef)
}

func (s stubMutatingService) ValidateSubscription(ctx context.Context, subscriptionID string) error {
	if s.validateFn == nil {
		return nil
	}
	return s.validateFn(ctx, subscriptionID)
}

func (s stubMutatingService) CancelSubscription(ctx context.Context, resourceRef string) error {
	if s.cancelFn == nil {
		return nil
	}
	return s.cancelFn(ctx, resourceRef)
}

func (s stubMutatingService) RunPollScan(ctx context.Context) error {
	if s.pollFn == nil {
		return nil
	}
	return s.pollFn(ctx)
}

func (s stubMutatingService) ReplayDeadLetter(ctx context.Context, envelopeID string) error {
	if s.replayFn == nil {
		return nil
	}
	return s.replayFn(ctx, envelopeID)
}

func TestEnsureSubscriptionCommand_DelegatesAndStoresResult(t *testing.T) {
	expected := core.SubscriptionRecord{
		ID:          "sub-1",
		ResourceRef: "invoices@corp.example",
		Status:      core.SubscriptionStatusActive,
		IsActive:    true,
		ExpiresAt:   time.Now().UTC().Add(7 * 24 * time.Hour),
	}
	called := false
	svc := stubMutatingService{
		ensureFn: func(_ context.Context, resourceRef string) (core.SubscriptionRecord, error) {
			called = true
			if resourceRef != "invoices@corp.example" {
				t.Fatalf("unexpected resource ref %q", resourceRef)
			}
			return expected, nil
		},
	}

	cmd := NewEnsureSubscriptionCommand(svc)
	collector := gocmd.NewResult[core.SubscriptionRecord]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, EnsureSubscriptionMessage{ResourceRef: "invoices@corp.example"}); err != nil {
		t.Fatalf("execute ensure subscription: %v", err)
	}
	if !called {
		t.Fatal("expected service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatal("expected result to be stored")
	}
	if result.ID != expected.ID {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("validate subscription", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			validateFn: func(_ context.Context, subscriptionID string) error {
				called = true
				if subscriptionID != "sub-9" {
					t.Fatalf("unexpected subscription id %q", subscriptionID)
				}
				return nil
			},
		}
		cmd := NewValidateSubscriptionCommand(svc)
		if err := cmd.Execute(context.Background(), ValidateSubscriptionMessage{SubscriptionID: "sub-9"}); err != nil {
			t.Fatalf("execute validate subscription: %v", err)
		}
		if !called {
			t.Fatal("expected validate invocation")
		}
	})

	t.Run("renew subscription", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			renewFn: func(_ context.Context, resourceRef string) (core.SubscriptionRecord, error) {
				called = true
				if resourceRef != "invoices@corp.example" {
					t.Fatalf("unexpected resource ref %q", resourceRef)
				}
				return core.SubscriptionRecord{ID: "sub-renewed"}, nil
			},
		}
		cmd := NewRenewSubscriptionCommand(svc)
		if err := cmd.Execute(context.Background(), RenewSubscriptionMessage{ResourceRef: "invoices@corp.example"}); err != nil {
			t.Fatalf("execute renew subscription: %v", err)
		}
		if !called {
			t.Fatal("expected renew invocation")
		}
	})

	t.Run("cancel subscription", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			cancelFn: func(_ context.Context, resourceRef string) error {
				called = true
				if resourceRef != "invoices@corp.example" {
					t.Fatalf("unexpected resource ref %q", resourceRef)
				}
				return nil
			},
		}
		cmd := NewCancelSubscriptionCommand(svc)
		if err := cmd.Execute(context.Background(), CancelSubscriptionMessage{ResourceRef: "invoices@corp.example"}); err != nil {
			t.Fatalf("execute cancel subscription: %v", err)
		}
		if !called {
			t.Fatal("expected cancel invocation")
		}
	})

	t.Run("run poll scan", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			pollFn: func(_ context.Context) error {
				called = true
				return nil
			},
		}
		cmd := NewRunPollScanCommand(svc)
		if err := cmd.Execute(context.Background(), RunPollScanMessage{}); err != nil {
			t.Fatalf("execute poll scan: %v", err)
		}
		if !called {
			t.Fatal("expected poll scan invocation")
		}
	})

	t.Run("replay dead letter", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			replayFn: func(_ context.Context, envelopeID string) error {
				called = true
				if envelopeID != "env-1" {
					t.Fatalf("unexpected envelope id %q", envelopeID)
				}
				return nil
			},
		}
		cmd := NewReplayDeadLetterCommand(svc)
		if err := cmd.Execute(context.Background(), ReplayDeadLetterMessage{EnvelopeID: "env-1"}); err != nil {
			t.Fatalf("execute replay dead letter: %v", err)
		}
		if !called {
			t.Fatal("expected replay invocation")
		}
	})
}

func TestCommands_PropagateServiceErrors(t *testing.T) {
	boom := errors.New("provider unavailable")
	svc := stubMutatingService{
		ensureFn: func(_ context.Context, _ string) (core.SubscriptionRecord, error) {
			return core.SubscriptionRecord{}, boom
		},
	}
	cmd := NewEnsureSubscriptionCommand(svc)
	if err := cmd.Execute(context.Background(), EnsureSubscriptionMessage{ResourceRef: "x@corp.example"}); !errors.Is(err, boom) {
		t.Fatalf("expected service error propagation, got %v", err)
	}

	var nilCmd *EnsureSubscriptionCommand
	if err := nilCmd.Execute(context.Background(), EnsureSubscriptionMessage{ResourceRef: "x@corp.example"}); err == nil {
		t.Fatal("expected dependency error from unconfigured command")
	}
}

func TestMessageValidation(t *testing.T) {
	cases := []struct {
		name    string
		message interface{ Validate() error }
		wantErr bool
	}{
		{"ensure ok", EnsureSubscriptionMessage{ResourceRef: "invoices@corp.example"}, false},
		{"ensure blank", EnsureSubscriptionMessage{ResourceRef: "   "}, true},
		{"renew ok", RenewSubscriptionMessage{ResourceRef: "invoices@corp.example"}, false},
		{"renew blank", RenewSubscriptionMessage{}, true},
		{"validate ok", ValidateSubscriptionMessage{SubscriptionID: "sub-1"}, false},
		{"validate blank", ValidateSubscriptionMessage{}, true},
		{"cancel blank", CancelSubscriptionMessage{}, true},
		{"poll scan", RunPollScanMessage{}, false},
		{"replay ok", ReplayDeadLetterMessage{EnvelopeID: "env-1"}, false},
		{"replay blank", ReplayDeadLetterMessage{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.message.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
