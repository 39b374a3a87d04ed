package ingest

import (
	"strings"

	"github.com/goliatone/go-mailroom/core"
)

// Filter inspects a resolved message and reports whether it must be dropped.
// Filters guard against ingestion loops: without them the system's own
// output, forwarded copies of it, and replies to its notices would re-enter
// the pipeline.
type Filter interface {
	Name() string
	Drop(msg core.MailMessage) (bool, string)
}

// SenderIdentityFilter drops mail sent by the system's own outbound identity.
type SenderIdentityFilter struct {
	// OutboundIdentity is the address the system sends from.
	OutboundIdentity string
}

func (f SenderIdentityFilter) Name() string { return "sender_identity" }

func (f SenderIdentityFilter) Drop(msg core.MailMessage) (bool, string) {
	identity := strings.ToLower(strings.TrimSpace(f.OutboundIdentity))
	if identity == "" {
		return false, ""
	}
	if strings.ToLower(strings.TrimSpace(msg.Sender)) == identity {
		return true, "sender is own outbound identity"
	}
	return false, ""
}

// OutboundTemplateFilter drops mail whose subject matches the exact template
// this system stamps on its own downstream output. Catches the case where a
// copy of our output is forwarded back by a third party, which bypasses the
// sender check.
type OutboundTemplateFilter struct {
	// SubjectMarker is the literal marker embedded in outbound subjects.
	SubjectMarker string
}

func (f OutboundTemplateFilter) Name() string { return "outbound_template" }

func (f OutboundTemplateFilter) Drop(msg core.MailMessage) (bool, string) {
	marker := strings.TrimSpace(f.SubjectMarker)
	if marker == "" {
		return false, ""
	}
	// Our own output carries the marker at the start of the subject;
	// replies are left for the reply filter.
	if strings.HasPrefix(strings.TrimSpace(msg.Subject), marker) {
		return true, "matches outbound template"
	}
	return false, ""
}

// ReplyToNoticeFilter drops replies to the system's own auto-generated
// notices.
type ReplyToNoticeFilter struct {
	SubjectMarker string
}

func (f ReplyToNoticeFilter) Name() string { return "reply_to_notice" }

var replyPrefixes = []string{"re:", "fw:", "fwd:", "aw:"}

func (f ReplyToNoticeFilter) Drop(msg core.MailMessage) (bool, string) {
	marker := strings.TrimSpace(f.SubjectMarker)
	if marker == "" {
		return false, ""
	}
	subject := strings.TrimSpace(msg.Subject)
	lowered := strings.ToLower(subject)
	for _, prefix := range replyPrefixes {
		if strings.HasPrefix(lowered, prefix) && strings.Contains(subject, marker) {
			return true, "reply to auto-generated notice"
		}
	}
	return false, ""
}

// DefaultFilters builds the fixed, ordered loop-prevention chain.
func DefaultFilters(outboundIdentity, subjectMarker string) []Filter {
	return []Filter{
		SenderIdentityFilter{OutboundIdentity: outboundIdentity},
		OutboundTemplateFilter{SubjectMarker: subjectMarker},
		ReplyToNoticeFilter{SubjectMarker: subjectMarker},
	}
}

// FirstDrop runs the chain in order and short-circuits on the first match.
func FirstDrop(filters []Filter, msg core.MailMessage) (string, string, bool) {
	for _, filter := range filters {
		if drop, reason := filter.Drop(msg); drop {
			return filter.Name(), reason, true
		}
	}
	return "", "", false
}
