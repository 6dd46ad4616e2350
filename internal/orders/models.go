package orders

import "time"

type PaymentMethod string

const (
	MethodCard PaymentMethod = "card"
	MethodUPI  PaymentMethod = "upi"
	MethodBank PaymentMethod = "bank"
	MethodCOD  PaymentMethod = "cod"
)

// Electronic reports whether the method settles through the payment gateway.
// bank and cod stay pending until confirmed manually.
func (m PaymentMethod) Electronic() bool {
	return m == MethodCard || m == MethodUPI
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodUPI, MethodBank, MethodCOD:
		return true
	}
	return false
}

// Address is snapshotted onto the order at creation time. Later edits to the
// user's saved address never touch past orders.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// Item is one ordered line: product, quantity and the chosen variant, plus the
// unit price captured when the order was created.
type Item struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Size       string `json:"size"`
	Color      string `json:"color"`
	PriceCents int64  `json:"price_cents"`
}

type Order struct {
	ID              string        `json:"id"`
	ExternalID      string        `json:"external_id"`
	UserID          string        `json:"user_id"`
	Items           []Item        `json:"items"`
	SubtotalCents   int64         `json:"subtotal_cents"`
	ShippingCents   int64         `json:"shipping_cents"`
	TaxCents        int64         `json:"tax_cents"`
	TotalCents      int64         `json:"total_cents"`
	Status          Status        `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	ShippingAddress Address       `json:"shipping_address"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
