package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChangeNotification is one delivery entry in a provider callback batch,
// shaped after Microsoft Graph change notifications.
type ChangeNotification struct {
	SubscriptionID string       `json:"subscriptionId"`
	ClientState    string       `json:"clientState"`
	ChangeType     string       `json:"changeType"`
	Resource       string       `json:"resource"`
	ResourceData   ResourceData `json:"resourceData"`
}

type ResourceData struct {
	ID       string `json:"id"`
	DataType string `json:"@odata.type,omitempty"`
}

// DeliveryPayload is the batch wrapper around change notifications.
type DeliveryPayload struct {
	Value []ChangeNotification `json:"value"`
}

func DecodeDeliveryPayload(body []byte) (DeliveryPayload, error) {
	var payload DeliveryPayload
	if len(body) == 0 {
		return payload, fmt.Errorf("webhook: request body is required")
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("webhook: invalid delivery payload: %w", err)
	}
	if len(payload.Value) == 0 {
		return payload, fmt.Errorf("webhook: delivery payload carries no entries")
	}
	return payload, nil
}

// ItemRef returns the provider item reference for the entry. Resource data
// carries the item id; the resource path is the fallback some providers use.
func (n ChangeNotification) ItemRef() string {
	if id := strings.TrimSpace(n.ResourceData.ID); id != "" {
		return id
	}
	return strings.TrimSpace(n.Resource)
}
