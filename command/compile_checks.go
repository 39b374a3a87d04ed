package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EnsureSubscriptionMessage]   = (*EnsureSubscriptionCommand)(nil)
	_ gocmd.Commander[RenewSubscriptionMessage]    = (*RenewSubscriptionCommand)(nil)
	_ gocmd.Commander[ValidateSubscriptionMessage] = (*ValidateSubscriptionCommand)(nil)
	_ gocmd.Commander[CancelSubscriptionMessage]   = (*CancelSubscriptionCommand)(nil)
	_ gocmd.Commander[RunPollScanMessage]          = (*RunPollScanCommand)(nil)
	_ gocmd.Commander[ReplayDeadLetterMessage]     = (*ReplayDeadLetterCommand)(nil)
)
