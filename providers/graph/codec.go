package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mailroom/core"
)

type subscriptionResource struct {
	ID                 string `json:"id"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

type subscriptionRequest struct {
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState"`
}

type renewRequest struct {
	ExpirationDateTime string `json:"expirationDateTime"`
}

type messageResource struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	BodyPreview      string      `json:"bodyPreview"`
	Body             messageBody `json:"body"`
	IsRead           bool        `json:"isRead"`
	ReceivedDateTime string      `json:"receivedDateTime"`
	From             recipient   `json:"from"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type messageCollection struct {
	Value []messageResource `json:"value"`
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeSubscription(body []byte) (core.SubscriptionResult, error) {
	var resource subscriptionResource
	if err := json.Unmarshal(body, &resource); err != nil {
		return core.SubscriptionResult{}, fmt.Errorf("graph: decode subscription resource: %w", err)
	}
	expiresAt, err := parseGraphTime(resource.ExpirationDateTime)
	if err != nil {
		return core.SubscriptionResult{}, err
	}
	return core.SubscriptionResult{
		RemoteSubscriptionID: resource.ID,
		ExpiresAt:            expiresAt,
		Metadata:             map[string]any{"resource": resource.Resource},
	}, nil
}

func decodeMessage(body []byte) (core.MailMessage, error) {
	var resource messageResource
	if err := json.Unmarshal(body, &resource); err != nil {
		return core.MailMessage{}, fmt.Errorf("graph: decode message resource: %w", err)
	}
	return messageFromResource(resource)
}

func decodeMessageList(body []byte) ([]core.MailMessage, error) {
	var collection messageCollection
	if err := json.Unmarshal(body, &collection); err != nil {
		return nil, fmt.Errorf("graph: decode message collection: %w", err)
	}
	out := make([]core.MailMessage, 0, len(collection.Value))
	for _, resource := range collection.Value {
		msg, err := messageFromResource(resource)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func messageFromResource(resource messageResource) (core.MailMessage, error) {
	receivedAt := time.Time{}
	if strings.TrimSpace(resource.ReceivedDateTime) != "" {
		parsed, err := parseGraphTime(resource.ReceivedDateTime)
		if err != nil {
			return core.MailMessage{}, err
		}
		receivedAt = parsed
	}
	body := resource.Body.Content
	if body == "" {
		body = resource.BodyPreview
	}
	return core.MailMessage{
		ID:         resource.ID,
		Sender:     resource.From.EmailAddress.Address,
		Subject:    resource.Subject,
		Body:       body,
		ReceivedAt: receivedAt,
		IsRead:     resource.IsRead,
	}, nil
}

func decodeErrorDetail(body []byte) (string, string) {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", ""
	}
	return envelope.Error.Code, envelope.Error.Message
}

func parseGraphTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		// The API emits fractional seconds with a trailing Z and seven
		// digits on some resources.
		parsed, err = time.Parse("2006-01-02T15:04:05.9999999Z", value)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("graph: parse timestamp %q: %w", value, err)
	}
	return parsed.UTC(), nil
}

// EscapeFilterValue doubles single quotes so a caller-controlled string can
// be embedded inside a quoted OData filter literal without breaking out of
// it.
func EscapeFilterValue(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
