package command

import (
	"strings"

	"github.com/goliatone/go-mailroom/core"
)

const (
	TypeEnsureSubscription   = "mailroom.command.subscription.ensure"
	TypeRenewSubscription    = "mailroom.command.subscription.renew"
	TypeValidateSubscription = "mailroom.command.subscription.validate"
	TypeCancelSubscription   = "mailroom.command.subscription.cancel"
	TypeRunPollScan          = "mailroom.command.poll.scan"
	TypeReplayDeadLetter     = "mailroom.command.dead_letter.replay"
)

// EnsureSubscriptionMessage asks the lifecycle manager to reconcile one
// resource: create a subscription when none is active, renew it when its
// remaining life dips below the threshold, and no-op otherwise.
type EnsureSubscriptionMessage struct {
	ResourceRef string
}

func (EnsureSubscriptionMessage) Type() string { return TypeEnsureSubscription }

func (m EnsureSubscriptionMessage) Validate() error {
	if core.NormalizeResourceRef(m.ResourceRef) == "" {
		return commandInvalidInputError("command: resource ref is required")
	}
	return nil
}

// RenewSubscriptionMessage forces an early renewal of the active
// registration, independent of the remaining-life threshold.
type RenewSubscriptionMessage struct {
	ResourceRef string
}

func (RenewSubscriptionMessage) Type() string { return TypeRenewSubscription }

func (m RenewSubscriptionMessage) Validate() error {
	if core.NormalizeResourceRef(m.ResourceRef) == "" {
		return commandInvalidInputError("command: resource ref is required")
	}
	return nil
}

// ValidateSubscriptionMessage completes the provider handshake for a pending
// subscription record.
type ValidateSubscriptionMessage struct {
	SubscriptionID string
}

func (ValidateSubscriptionMessage) Type() string { return TypeValidateSubscription }

func (m ValidateSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return commandInvalidInputError("command: subscription id is required")
	}
	return nil
}

type CancelSubscriptionMessage struct {
	ResourceRef string
}

func (CancelSubscriptionMessage) Type() string { return TypeCancelSubscription }

func (m CancelSubscriptionMessage) Validate() error {
	if core.NormalizeResourceRef(m.ResourceRef) == "" {
		return commandInvalidInputError("command: resource ref is required")
	}
	return nil
}

// RunPollScanMessage triggers one fallback sweep across the monitored
// resources.
type RunPollScanMessage struct{}

func (RunPollScanMessage) Type() string { return TypeRunPollScan }

func (RunPollScanMessage) Validate() error { return nil }

// ReplayDeadLetterMessage re-enqueues an archived envelope with its attempt
// counter reset.
type ReplayDeadLetterMessage struct {
	EnvelopeID string
}

func (ReplayDeadLetterMessage) Type() string { return TypeReplayDeadLetter }

func (m ReplayDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.EnvelopeID) == "" {
		return commandInvalidInputError("command: envelope id is required")
	}
	return nil
}
