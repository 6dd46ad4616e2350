package payment

import "encoding/json"

// Webhook event kinds delivered by the gateway.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// Event is the decoded webhook payload. Data carries the intent the event
// refers to.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt int64     `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	IntentID    string `json:"intent_id"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
