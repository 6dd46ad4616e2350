// Package pricing derives an order total from its line items. All money is
// integer cents; the decimal amounts of the storefront map exactly (9.99 ->
// 999) and repeated computation cannot drift.
package pricing

const (
	// Orders at or above this subtotal ship free.
	FreeShippingThresholdCents int64 = 5000
	FlatShippingCents          int64 = 999
	// Flat tax, percent of subtotal. No jurisdiction logic.
	TaxRatePercent int64 = 8
)

type LineItem struct {
	UnitPriceCents int64
	Quantity       int
}

type Quote struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// Price is a pure function of its inputs. Unit prices must come from the
// product table, never from the client.
func Price(items []LineItem) Quote {
	var subtotal int64
	for _, it := range items {
		subtotal += it.UnitPriceCents * int64(it.Quantity)
	}

	shipping := FlatShippingCents
	if subtotal >= FreeShippingThresholdCents {
		shipping = 0
	}

	tax := roundHalfUpPercent(subtotal, TaxRatePercent)

	return Quote{
		SubtotalCents: subtotal,
		ShippingCents: shipping,
		TaxCents:      tax,
		TotalCents:    subtotal + shipping + tax,
	}
}

// roundHalfUpPercent computes amount*pct/100 rounded half-up in cents.
func roundHalfUpPercent(amount, pct int64) int64 {
	return (amount*pct + 50) / 100
}
