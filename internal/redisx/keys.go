package redisx

import "time"

const (
	// Idempotency shortcut for order submission: idem:order:submit:{external_id} -> order_id
	KeyIdemOrderSubmit = "idem:order:submit:%s"

	// Cache of an order's display status: order_status:{order_id} -> JSON blob
	KeyOrderStatus = "order_status:%s"

	// Dedup for inbound webhook events: dedup:webhook:{event_id}
	KeyWebhookDedup = "dedup:webhook:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
