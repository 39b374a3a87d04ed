package ingest

import (
	"testing"

	"github.com/goliatone/go-mailroom/core"
)

func TestFilterChainOrderAndShortCircuit(t *testing.T) {
	filters := DefaultFilters("mailroom@corp.example", "[Mailroom Notice]")

	cases := []struct {
		name       string
		msg        core.MailMessage
		wantFilter string
	}{
		{
			name: "own outbound identity",
			msg: core.MailMessage{
				Sender:  "Mailroom@Corp.example",
				Subject: "[Mailroom Notice] ticket created",
			},
			// Sender filter wins before the template filter sees it.
			wantFilter: "sender_identity",
		},
		{
			name: "forwarded copy of own output",
			msg: core.MailMessage{
				Sender:  "colleague@corp.example",
				Subject: "[Mailroom Notice] ticket created",
			},
			wantFilter: "outbound_template",
		},
		{
			name: "reply to own notice",
			msg: core.MailMessage{
				Sender:  "customer@vendor.example",
				Subject: "Re: [Mailroom Notice] ticket created",
			},
			wantFilter: "reply_to_notice",
		},
		{
			name: "forwarded reply to own notice",
			msg: core.MailMessage{
				Sender:  "customer@vendor.example",
				Subject: "FWD: [Mailroom Notice] ticket created",
			},
			wantFilter: "reply_to_notice",
		},
		{
			name: "legitimate inbound mail",
			msg: core.MailMessage{
				Sender:  "customer@vendor.example",
				Subject: "Invoice #4521 overdue",
			},
			wantFilter: "",
		},
		{
			name: "reply to unrelated thread",
			msg: core.MailMessage{
				Sender:  "customer@vendor.example",
				Subject: "Re: Invoice #4521 overdue",
			},
			wantFilter: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name, _, dropped := FirstDrop(filters, tc.msg)
			if tc.wantFilter == "" {
				if dropped {
					t.Fatalf("message should pass, dropped by %s", name)
				}
				return
			}
			if !dropped {
				t.Fatalf("expected drop by %s", tc.wantFilter)
			}
			if name != tc.wantFilter {
				t.Fatalf("expected drop by %s, got %s", tc.wantFilter, name)
			}
		})
	}
}

func TestFiltersNoopWithoutConfiguration(t *testing.T) {
	filters := DefaultFilters("", "")
	msg := core.MailMessage{
		Sender:  "anyone@vendor.example",
		Subject: "Re: anything",
	}
	if name, _, dropped := FirstDrop(filters, msg); dropped {
		t.Fatalf("unconfigured filters must not drop, dropped by %s", name)
	}
}
