package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/goliatone/go-mailroom/core"
)

const (
	FieldSender  = "sender"
	FieldSubject = "subject"
	FieldDate    = "date"
	FieldBody    = "body"
)

// ContentHash derives a stable fingerprint of the selected message fields.
// Sender is lower-cased, subject whitespace is collapsed, and the receive
// time is bucketed to the day so retries and clock skew inside one day still
// collide.
func ContentHash(msg core.MailMessage, fields []string) string {
	if len(fields) == 0 {
		fields = []string{FieldSender, FieldSubject, FieldDate}
	}

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		switch strings.ToLower(strings.TrimSpace(field)) {
		case FieldSender:
			parts = append(parts, strings.ToLower(strings.TrimSpace(msg.Sender)))
		case FieldSubject:
			parts = append(parts, collapseWhitespace(msg.Subject))
		case FieldDate:
			if msg.ReceivedAt.IsZero() {
				parts = append(parts, "")
			} else {
				parts = append(parts, msg.ReceivedAt.UTC().Format("2006-01-02"))
			}
		case FieldBody:
			parts = append(parts, collapseWhitespace(msg.Body))
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func collapseWhitespace(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}
