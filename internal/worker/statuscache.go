// Package worker hosts the background side of the order lifecycle: keeping
// the Redis status cache in step with published events, and sweeping orders
// whose payment outcome never arrived over the webhook.
package worker

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/clothly/checkout/internal/orders"
)

// StatusWriter persists the display status derived from an event. An error
// keeps the message uncommitted so it is retried.
type StatusWriter interface {
	SetOrderStatus(ctx context.Context, orderID string, st orders.Status, ps orders.PaymentStatus) error
}

// StatusCache consumes order lifecycle events and refreshes the cached
// display status read by GET /orders/{id}.
type StatusCache struct {
	Cache StatusWriter
	Log   *zap.Logger
}

func (c *StatusCache) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	var status orders.Status
	var paymentStatus orders.PaymentStatus
	var orderID string

	switch env.EventType {
	case orders.EventOrderCreated:
		var p orders.OrderCreatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		orderID, status, paymentStatus = p.OrderID, orders.StatusPending, orders.PaymentPending
	case orders.EventPaymentAuthorized:
		var p orders.PaymentOutcomePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		orderID, status, paymentStatus = p.OrderID, orders.StatusProcessing, orders.PaymentPaid
	case orders.EventPaymentFailed:
		var p orders.PaymentOutcomePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		orderID, status, paymentStatus = p.OrderID, orders.StatusCancelled, orders.PaymentFailed
	case orders.EventOrderCancelled:
		var p orders.OrderCancelledPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		orderID, status, paymentStatus = p.OrderID, orders.StatusCancelled, orders.PaymentFailed
	default:
		return nil
	}

	if err := c.Cache.SetOrderStatus(ctx, orderID, status, paymentStatus); err != nil {
		return err
	}
	if c.Log != nil {
		c.Log.Debug("status_cache_updated",
			zap.String("order_id", orderID),
			zap.String("event_type", env.EventType),
		)
	}
	return nil
}
