package devkit

import (
	"fmt"
	"time"

	"github.com/goliatone/go-mailroom/core"
)

// SubscriptionCreatedBody renders a provider subscription resource the way
// the change-notification API returns it.
func SubscriptionCreatedBody(id string, expiresAt time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"resource":"users/shared-inbox/messages","expirationDateTime":%q,"clientState":"***"}`,
		id, expiresAt.UTC().Format(time.RFC3339),
	))
}

// MessageBody renders a provider mail message resource.
func MessageBody(id, sender, subject string, receivedAt time.Time, isRead bool) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"subject":%q,"bodyPreview":"","isRead":%t,"receivedDateTime":%q,"from":{"emailAddress":{"address":%q}}}`,
		id, subject, isRead, receivedAt.UTC().Format(time.RFC3339), sender,
	))
}

// MessageListBody wraps message resources in the provider's collection shape.
func MessageListBody(messages ...[]byte) []byte {
	body := []byte(`{"value":[`)
	for i, msg := range messages {
		if i > 0 {
			body = append(body, ',')
		}
		body = append(body, msg...)
	}
	return append(body, []byte(`]}`)...)
}

// ErrorBody renders the provider's error envelope.
func ErrorBody(code, message string) []byte {
	return []byte(fmt.Sprintf(`{"error":{"code":%q,"message":%q}}`, code, message))
}

// OKResponse is a shorthand for a scripted 2xx transport response.
func OKResponse(status int, body []byte) core.TransportResponse {
	return core.TransportResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

// ThrottledResponse is a scripted 429 with a retry-after hint.
func ThrottledResponse(retryAfter time.Duration) core.TransportResponse {
	return core.TransportResponse{
		StatusCode: 429,
		Headers:    map[string]string{"Retry-After": fmt.Sprintf("%d", int(retryAfter.Seconds()))},
		Body:       ErrorBody("ApplicationThrottled", "too many requests"),
		RetryAfter: &retryAfter,
	}
}
