package types

import "time"

// WebhookEventAll subscribes a webhook to every event type.
const WebhookEventAll = "*"

// Webhook is a registered HTTP endpoint that receives mutation events.
type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	EventType string    `json:"event_type"` // literal event name or "*"
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the webhook subscribes to the given event type.
func (w Webhook) Matches(eventType string) bool {
	return w.Active && (w.EventType == WebhookEventAll || w.EventType == eventType)
}

// WebhookPayload is the JSON body posted to webhook endpoints.
type WebhookPayload struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}
