// Package catalog holds the product read model and the inventory ledger.
// Stock is tracked per product, not per size/color variant, matching the
// storefront's data model.
package catalog

import (
	"fmt"
	"time"
)

type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PriceCents    int64     `json:"price_cents"`
	StockQuantity int       `json:"stock_quantity"`
	InStock       bool      `json:"in_stock"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Reservation is one product/quantity pair to hold against an order.
type Reservation struct {
	ProductID string
	Qty       int
}

// Shortfall describes a product that could not be reserved.
type Shortfall struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// NotFoundError names the missing product so checkout can tell the caller
// which cart line is the problem.
type NotFoundError struct {
	ProductID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

// InsufficientStockError names the product whose stock ran out.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: required %d, available %d", name, e.Required, e.Available)
}
