package mailroom

import (
	"fmt"

	"github.com/goliatone/go-mailroom/command"
)

// Commands exposes one handler per mutation so hosts can register them with
// their dispatcher of choice.
type Commands struct {
	EnsureSubscription   *command.EnsureSubscriptionCommand
	RenewSubscription    *command.RenewSubscriptionCommand
	ValidateSubscription *command.ValidateSubscriptionCommand
	CancelSubscription   *command.CancelSubscriptionCommand
	RunPollScan          *command.RunPollScanCommand
	ReplayDeadLetter     *command.ReplayDeadLetterCommand
}

// Facade bundles a service with its command handlers.
type Facade struct {
	service  command.MutatingService
	commands Commands
}

func NewFacade(service command.MutatingService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("mailroom: mutating service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			EnsureSubscription:   command.NewEnsureSubscriptionCommand(service),
			RenewSubscription:    command.NewRenewSubscriptionCommand(service),
			ValidateSubscription: command.NewValidateSubscriptionCommand(service),
			CancelSubscription:   command.NewCancelSubscriptionCommand(service),
			RunPollScan:          command.NewRunPollScanCommand(service),
			ReplayDeadLetter:     command.NewReplayDeadLetterCommand(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Service() command.MutatingService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ command.MutatingService = (*Service)(nil)
