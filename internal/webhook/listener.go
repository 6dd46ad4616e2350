// Package webhook applies the payment gateway's asynchronous outcome
// notifications to orders. Events are only trusted after HMAC verification;
// duplicate deliveries are harmless because the settling write is guarded.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/clothly/checkout/internal/kafka"
	"github.com/clothly/checkout/internal/orders"
	"github.com/clothly/checkout/internal/payment"
)

type OrderStore interface {
	FindByIntentID(ctx context.Context, intentID string) (*orders.Order, error)
	ApplyPaymentOutcome(ctx context.Context, orderID string, ps orders.PaymentStatus, st orders.Status) (bool, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Deduper short-circuits event ids that already settled. Optional fast path;
// the guarded settlement write is the real idempotency barrier.
type Deduper interface {
	SeenWebhookEvent(ctx context.Context, eventID string) bool
	MarkWebhookEvent(ctx context.Context, eventID string)
}

type Listener struct {
	Secret             []byte
	Tolerance          time.Duration
	Orders             OrderStore
	Dedup              Deduper
	ProducerAuthorized Publisher
	ProducerFailed     Publisher
	Log                *zap.Logger
	Service            string
}

func (l *Listener) logger() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}

// Handle verifies and applies one delivery. payment.ErrInvalidSignature means
// reject with 400; nil means ack 200 (including the benign no-match case);
// any other error means the gateway should redeliver.
func (l *Listener) Handle(ctx context.Context, body []byte, sigHeader string) error {
	if err := payment.VerifySignature(l.Secret, sigHeader, body, time.Now(), l.Tolerance); err != nil {
		return err
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		return fmt.Errorf("%w: malformed event payload", payment.ErrInvalidSignature)
	}

	log := l.logger().With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("intent_id", ev.Data.IntentID),
	)

	switch ev.Type {
	case payment.EventIntentSucceeded, payment.EventIntentFailed:
	default:
		log.Info("webhook_event_ignored")
		return nil
	}

	if l.Dedup != nil && ev.ID != "" && l.Dedup.SeenWebhookEvent(ctx, ev.ID) {
		log.Info("webhook_event_duplicate")
		return nil
	}

	if err := l.ApplyIntentOutcome(ctx, ev.Data.IntentID, ev.Type == payment.EventIntentSucceeded, ev.Data.Reason); err != nil {
		// not marked seen: the non-2xx response makes the gateway redeliver
		// and the retry must not be swallowed as a duplicate
		return err
	}

	if l.Dedup != nil && ev.ID != "" {
		l.Dedup.MarkWebhookEvent(ctx, ev.ID)
	}
	return nil
}

// ApplyIntentOutcome settles the order matched by intentID. Shared with the
// reconciliation sweep, which learns outcomes by polling instead of webhooks.
// A missing match is a no-op: the gateway may deliver for intents this store
// never saw, and retries must not loop on them.
func (l *Listener) ApplyIntentOutcome(ctx context.Context, intentID string, succeeded bool, reason string) error {
	log := l.logger().With(zap.String("intent_id", intentID))

	order, err := l.Orders.FindByIntentID(ctx, intentID)
	if errors.Is(err, orders.ErrNotFound) {
		log.Warn("webhook_no_matching_order")
		return nil
	}
	if err != nil {
		return err
	}

	ps, st := orders.PaymentPaid, orders.StatusProcessing
	if !succeeded {
		ps, st = orders.PaymentFailed, orders.StatusCancelled
	}

	if !orders.CanTransitionPayment(order.PaymentStatus, ps) || !orders.CanTransition(order.Status, st) {
		// already settled; nothing to write
		log.Info("payment_outcome_already_applied", zap.String("order_id", order.ID))
		return nil
	}

	applied, err := l.Orders.ApplyPaymentOutcome(ctx, order.ID, ps, st)
	if err != nil {
		return err
	}
	if !applied {
		// lost a race with a concurrent delivery or the sweep
		log.Info("payment_outcome_already_applied", zap.String("order_id", order.ID))
		return nil
	}

	log.Info("payment_outcome_applied",
		zap.String("order_id", order.ID),
		zap.String("payment_status", string(ps)),
	)
	l.publishOutcome(order, intentID, succeeded, reason)
	return nil
}

func (l *Listener) publishOutcome(o *orders.Order, intentID string, succeeded bool, reason string) {
	producer := l.ProducerAuthorized
	eventType := orders.EventPaymentAuthorized
	if !succeeded {
		producer = l.ProducerFailed
		eventType = orders.EventPaymentFailed
	}
	if producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      l.Service,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.PaymentOutcomePayload{
			OrderID:     o.ID,
			IntentID:    intentID,
			AmountCents: o.TotalCents,
			Reason:      reason,
		}),
	}
	producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
