package orders

const (
	TopicOrderCreated      = "order.created"
	TopicPaymentAuthorized = "order.payment.authorized"
	TopicPaymentFailed     = "order.payment.failed"
	TopicOrderCancelled    = "order.cancelled"
)

// Partition key = order_id so every event of one order keeps its ordering.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
