package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated      = "OrderCreated"
	EventPaymentAuthorized = "PaymentAuthorized"
	EventPaymentFailed     = "PaymentFailed"
	EventOrderCancelled    = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payload types per event ----

type OrderCreatedPayload struct {
	OrderID       string        `json:"order_id"`
	ExternalID    string        `json:"external_id"`
	UserID        string        `json:"user_id"`
	TotalCents    int64         `json:"total_cents"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        Status        `json:"status"`
}

type PaymentOutcomePayload struct {
	OrderID     string `json:"order_id"`
	IntentID    string `json:"intent_id"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
