package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-mailroom/core"
)

// MutatingService is the facade surface the commands delegate to.
type MutatingService interface {
	EnsureSubscription(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error)
	RenewSubscription(ctx context.Context, resourceRef string) (core.SubscriptionRecord, error)
	ValidateSubscription(ctx context.Context, subscriptionID string) error
	CancelSubscription(ctx context.Context, resourceRef string) error
	RunPollScan(ctx context.Context) error
	ReplayDeadLetter(ctx context.Context, envelopeID string) error
}

type EnsureSubscriptionCommand struct {
	service MutatingService
}

func NewEnsureSubscriptionCommand(service MutatingService) *EnsureSubscriptionCommand {
	return &EnsureSubscriptionCommand{service: service}
}

func (c *EnsureSubscriptionCommand) Execute(ctx context.Context, msg EnsureSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	out, err := c.service.EnsureSubscription(ctx, msg.ResourceRef)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RenewSubscriptionCommand struct {
	service MutatingService
}

func NewRenewSubscriptionCommand(service MutatingService) *RenewSubscriptionCommand {
	return &RenewSubscriptionCommand{service: service}
}

func (c *RenewSubscriptionCommand) Execute(ctx context.Context, msg RenewSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	out, err := c.service.RenewSubscription(ctx, msg.ResourceRef)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ValidateSubscriptionCommand struct {
	service MutatingService
}

func NewValidateSubscriptionCommand(service MutatingService) *ValidateSubscriptionCommand {
	return &ValidateSubscriptionCommand{service: service}
}

func (c *ValidateSubscriptionCommand) Execute(ctx context.Context, msg ValidateSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	return c.service.ValidateSubscription(ctx, msg.SubscriptionID)
}

type CancelSubscriptionCommand struct {
	service MutatingService
}

func NewCancelSubscriptionCommand(service MutatingService) *CancelSubscriptionCommand {
	return &CancelSubscriptionCommand{service: service}
}

func (c *CancelSubscriptionCommand) Execute(ctx context.Context, msg CancelSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	return c.service.CancelSubscription(ctx, msg.ResourceRef)
}

type RunPollScanCommand struct {
	service MutatingService
}

func NewRunPollScanCommand(service MutatingService) *RunPollScanCommand {
	return &RunPollScanCommand{service: service}
}

func (c *RunPollScanCommand) Execute(ctx context.Context, msg RunPollScanMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: poll scan service is required")
	}
	return c.service.RunPollScan(ctx)
}

type ReplayDeadLetterCommand struct {
	service MutatingService
}

func NewReplayDeadLetterCommand(service MutatingService) *ReplayDeadLetterCommand {
	return &ReplayDeadLetterCommand{service: service}
}

func (c *ReplayDeadLetterCommand) Execute(ctx context.Context, msg ReplayDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	return c.service.ReplayDeadLetter(ctx, msg.EnvelopeID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
