package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clothly/checkout/internal/orders"
	"github.com/clothly/checkout/internal/payment"
)

type StaleOrderFinder interface {
	FindStalePaymentPending(ctx context.Context, olderThan time.Duration, limit int) ([]orders.Order, error)
}

type OutcomeApplier interface {
	ApplyIntentOutcome(ctx context.Context, intentID string, succeeded bool, reason string) error
}

// Sweeper periodically re-checks electronic orders stuck payment-pending
// against the gateway. Webhooks can be lost or delayed arbitrarily; the
// gateway's intent status is the source of truth, applied through the same
// guarded path as the webhook so the two never conflict.
type Sweeper struct {
	Orders     StaleOrderFinder
	Gateway    payment.Gateway
	Applier    OutcomeApplier
	Interval   time.Duration
	StaleAfter time.Duration
	Batch      int
	Log        *zap.Logger
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Log.Info("reconciliation_sweeper_started",
		zap.Duration("interval", s.Interval),
		zap.Duration("stale_after", s.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.Log.Error("sweep_failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	stale, err := s.Orders.FindStalePaymentPending(ctx, s.StaleAfter, s.Batch)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	s.Log.Info("stale_payment_pending_orders_found", zap.Int("count", len(stale)))

	for _, o := range stale {
		intent, err := s.Gateway.GetPaymentIntent(ctx, o.PaymentIntentID)
		if err != nil {
			s.Log.Warn("gateway_status_check_failed",
				zap.String("order_id", o.ID),
				zap.String("intent_id", o.PaymentIntentID),
				zap.Error(err),
			)
			continue // left for the next pass
		}

		switch intent.Status {
		case payment.IntentStatusSucceeded:
			err = s.Applier.ApplyIntentOutcome(ctx, o.PaymentIntentID, true, "")
		case payment.IntentStatusFailed:
			err = s.Applier.ApplyIntentOutcome(ctx, o.PaymentIntentID, false, "reconciliation sweep")
		default:
			continue // still processing at the gateway
		}
		if err != nil {
			s.Log.Error("sweep_apply_failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return nil
}
