package worker

import (
	"context"
	"testing"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/clothly/checkout/internal/kafka"
	"github.com/clothly/checkout/internal/orders"
)

type fakeStatusWriter struct {
	writes map[string]string
}

func (w *fakeStatusWriter) SetOrderStatus(_ context.Context, orderID string, st orders.Status, ps orders.PaymentStatus) error {
	w.writes[orderID] = string(st) + "/" + string(ps)
	return nil
}

func envelopeMsg(eventType string, payload any) kafkago.Message {
	env := orders.Envelope{
		EventType:    eventType,
		EventVersion: 1,
		Payload:      kafkax.MustMarshal(payload),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestHandleOrderEventUpdatesStatus(t *testing.T) {
	cases := []struct {
		name string
		msg  kafkago.Message
		want string
	}{
		{
			name: "order created",
			msg:  envelopeMsg(orders.EventOrderCreated, orders.OrderCreatedPayload{OrderID: "ord-1"}),
			want: "pending/pending",
		},
		{
			name: "payment authorized",
			msg:  envelopeMsg(orders.EventPaymentAuthorized, orders.PaymentOutcomePayload{OrderID: "ord-1"}),
			want: "processing/paid",
		},
		{
			name: "payment failed",
			msg:  envelopeMsg(orders.EventPaymentFailed, orders.PaymentOutcomePayload{OrderID: "ord-1"}),
			want: "cancelled/failed",
		},
		{
			name: "order cancelled",
			msg:  envelopeMsg(orders.EventOrderCancelled, orders.OrderCancelledPayload{OrderID: "ord-1"}),
			want: "cancelled/failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := &fakeStatusWriter{writes: make(map[string]string)}
			c := &StatusCache{Cache: w}
			if err := c.HandleOrderEvent(context.Background(), tc.msg); err != nil {
				t.Fatalf("HandleOrderEvent() error = %v", err)
			}
			if got := w.writes["ord-1"]; got != tc.want {
				t.Fatalf("cached status = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHandleOrderEventIgnoresUnknownTypes(t *testing.T) {
	w := &fakeStatusWriter{writes: make(map[string]string)}
	c := &StatusCache{Cache: w}

	msg := envelopeMsg("OrderShipped", orders.OrderCancelledPayload{OrderID: "ord-1"})
	if err := c.HandleOrderEvent(context.Background(), msg); err != nil {
		t.Fatalf("HandleOrderEvent() error = %v", err)
	}
	if len(w.writes) != 0 {
		t.Fatalf("writes = %v, want none", w.writes)
	}
}
