package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clothly/checkout/internal/orders"
)

// Store wraps the shared client with this service's key schema so callers
// never format keys or pick TTLs themselves.
type Store struct {
	Client *redis.Client
}

// GetOrderStatus returns the cached status JSON for an order, if present.
func (s *Store) GetOrderStatus(ctx context.Context, orderID string) (string, bool) {
	v, err := s.Client.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func (s *Store) SetOrderStatus(ctx context.Context, orderID string, st orders.Status, ps orders.PaymentStatus) error {
	body, err := json.Marshal(map[string]any{
		"status":         st,
		"payment_status": ps,
	})
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), body, TTLStatusCache).Err()
}

func (s *Store) SetSubmitIdempotency(ctx context.Context, externalID, orderID string) error {
	return s.Client.Set(ctx, fmt.Sprintf(KeyIdemOrderSubmit, externalID), orderID, TTLIdempotency).Err()
}

// SeenWebhookEvent reports whether a webhook event id was already applied.
// Errors read as not-seen: a Redis outage must degrade to re-processing, which
// the guarded settlement write absorbs.
func (s *Store) SeenWebhookEvent(ctx context.Context, eventID string) bool {
	n, err := s.Client.Exists(ctx, fmt.Sprintf(KeyWebhookDedup, eventID)).Result()
	return err == nil && n > 0
}

func (s *Store) MarkWebhookEvent(ctx context.Context, eventID string) {
	_ = s.Client.Set(ctx, fmt.Sprintf(KeyWebhookDedup, eventID), "1", TTLDedup).Err()
}
