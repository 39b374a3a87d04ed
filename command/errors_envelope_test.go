package command

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-mailroom/core"
)

func TestEnsureSubscriptionMessage_ValidateReturnsRichError(t *testing.T) {
	err := (EnsureSubscriptionMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad input category, got %q", rich.Category)
	}
	if rich.TextCode != core.MailroomErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.MailroomErrorBadInput, rich.TextCode)
	}
}

func TestReplayDeadLetterMessage_ValidateReturnsRichError(t *testing.T) {
	err := (ReplayDeadLetterMessage{EnvelopeID: "   "}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.MailroomErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.MailroomErrorBadInput, rich.TextCode)
	}
}

func TestEnsureSubscriptionCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *EnsureSubscriptionCommand
	err := cmd.Execute(context.Background(), EnsureSubscriptionMessage{ResourceRef: "users/finance/inbox"})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.MailroomErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.MailroomErrorInternal, rich.TextCode)
	}
}
