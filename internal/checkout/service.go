// Package checkout implements the order intake workflow: validate the cart
// against the catalog, price it server-side, persist the order, reserve
// stock, and for electronic methods create a payment intent with the gateway.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/clothly/checkout/internal/catalog"
	kafkax "github.com/clothly/checkout/internal/kafka"
	"github.com/clothly/checkout/internal/orders"
	"github.com/clothly/checkout/internal/payment"
	"github.com/clothly/checkout/internal/pricing"
)

// Catalog is the slice of the product/ledger surface checkout needs.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
	ReserveAll(ctx context.Context, orderID string, items []catalog.Reservation) ([]catalog.Shortfall, error)
	ReleaseAll(ctx context.Context, orderID string) error
}

type OrderStore interface {
	Create(ctx context.Context, o *orders.Order) (existed bool, err error)
	FindByID(ctx context.Context, id string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]orders.Order, error)
	SetPaymentIntent(ctx context.Context, orderID, intentID string) error
	MarkCancelled(ctx context.Context, orderID string, ps orders.PaymentStatus) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type LineItem struct {
	ProductID string
	Quantity  int
	Size      string
	Color     string
}

type SubmitRequest struct {
	// ExternalID makes resubmission of the same checkout idempotent.
	ExternalID      string
	UserID          string
	Items           []LineItem
	ShippingAddress orders.Address
	PaymentMethod   orders.PaymentMethod
}

type SubmitResult struct {
	OrderID    string
	TotalCents int64
	// PaymentRef is set for card/upi orders; the client completes payment
	// against it out-of-band.
	PaymentRef string
	Idempotent bool
}

type Service struct {
	Catalog Catalog
	Orders  OrderStore
	Gateway payment.Gateway
	// Producers are topic-bound, one per published event kind.
	ProducerCreated   Publisher
	ProducerCancelled Publisher
	Log               *zap.Logger
	Service           string
	Currency          string
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "usd"
	}
	return s.Currency
}

// SubmitOrder runs the intake workflow. Validation failures and gateway
// failures leave no live order and no held stock.
func (s *Service) SubmitOrder(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.UserID == "" || len(req.Items) == 0 {
		return nil, ErrInvalidRequest
	}
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, req.PaymentMethod)
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %s", ErrInvalidRequest, it.ProductID)
		}
	}

	log := s.logger().With(zap.String("user_id", req.UserID))

	// 1+2. Resolve every product and check availability, failing on the first
	// problem item so the caller can name it. The reservation below settles
	// any race between this check and the decrement.
	priced := make([]pricing.LineItem, 0, len(req.Items))
	orderItems := make([]orders.Item, 0, len(req.Items))
	reservations := make([]catalog.Reservation, 0, len(req.Items))
	for _, it := range req.Items {
		p, err := s.Catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if !p.InStock || p.StockQuantity < it.Quantity {
			return nil, &catalog.InsufficientStockError{
				ProductID: p.ID, Name: p.Name, Required: it.Quantity, Available: p.StockQuantity,
			}
		}
		priced = append(priced, pricing.LineItem{UnitPriceCents: p.PriceCents, Quantity: it.Quantity})
		orderItems = append(orderItems, orders.Item{
			ProductID: p.ID, Quantity: it.Quantity, Size: it.Size, Color: it.Color, PriceCents: p.PriceCents,
		})
		reservations = append(reservations, catalog.Reservation{ProductID: p.ID, Qty: it.Quantity})
	}

	// 3. Server-side pricing from authoritative prices.
	quote := pricing.Price(priced)

	// 4. Persist pending/pending with the address snapshot.
	now := time.Now().UTC()
	order := &orders.Order{
		ID:              uuid.NewString(),
		ExternalID:      req.ExternalID,
		UserID:          req.UserID,
		Items:           orderItems,
		SubtotalCents:   quote.SubtotalCents,
		ShippingCents:   quote.ShippingCents,
		TaxCents:        quote.TaxCents,
		TotalCents:      quote.TotalCents,
		Status:          orders.StatusPending,
		PaymentStatus:   orders.PaymentPending,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	existed, err := s.Orders.Create(ctx, order)
	if err != nil {
		return nil, err
	}
	if existed {
		return &SubmitResult{
			OrderID:    order.ID,
			TotalCents: order.TotalCents,
			PaymentRef: order.PaymentIntentID,
			Idempotent: true,
		}, nil
	}

	// 5. Reserve stock. A shortfall rolled the whole reservation back; cancel
	// the order so inventory and order state cannot diverge.
	shortfalls, err := s.Catalog.ReserveAll(ctx, order.ID, reservations)
	if err != nil {
		_ = s.Orders.MarkCancelled(ctx, order.ID, orders.PaymentFailed)
		return nil, err
	}
	if len(shortfalls) > 0 {
		if err := s.Orders.MarkCancelled(ctx, order.ID, orders.PaymentFailed); err != nil {
			log.Error("cancel_after_shortfall_failed", zap.String("order_id", order.ID), zap.Error(err))
		}
		s.publishCancelled(order.ID, "insufficient stock")
		sf := shortfalls[0]
		return nil, &catalog.InsufficientStockError{
			ProductID: sf.ProductID, Name: sf.Name, Required: sf.Required, Available: sf.Available,
		}
	}

	// 6. Electronic methods get a payment intent; failure unwinds everything.
	var paymentRef string
	if req.PaymentMethod.Electronic() {
		intent, gerr := s.Gateway.CreatePaymentIntent(ctx, order.TotalCents, s.currency(), map[string]string{
			"order_id": order.ID,
			"user_id":  order.UserID,
		})
		if gerr != nil {
			s.rollback(ctx, order.ID, log)
			return nil, &GatewayError{Err: gerr}
		}
		if err := s.Orders.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
			s.rollback(ctx, order.ID, log)
			return nil, err
		}
		order.PaymentIntentID = intent.ID
		paymentRef = intent.ID
	}

	s.publishCreated(order)
	log.Info("order_submitted",
		zap.String("order_id", order.ID),
		zap.Int64("total_cents", order.TotalCents),
		zap.String("payment_method", string(order.PaymentMethod)),
	)

	return &SubmitResult{OrderID: order.ID, TotalCents: order.TotalCents, PaymentRef: paymentRef}, nil
}

func (s *Service) rollback(ctx context.Context, orderID string, log *zap.Logger) {
	if err := s.Catalog.ReleaseAll(ctx, orderID); err != nil {
		log.Error("release_reservations_failed", zap.String("order_id", orderID), zap.Error(err))
	}
	if err := s.Orders.MarkCancelled(ctx, orderID, orders.PaymentFailed); err != nil {
		log.Error("cancel_order_failed", zap.String("order_id", orderID), zap.Error(err))
	}
	s.publishCancelled(orderID, "payment intent creation failed")
}

func (s *Service) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	o, err := s.Orders.FindByID(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (s *Service) ListOrders(ctx context.Context, userID string, limit, offset int) ([]orders.Order, error) {
	return s.Orders.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) publishCreated(o *orders.Order) {
	if s.ProducerCreated == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID:       o.ID,
			ExternalID:    o.ExternalID,
			UserID:        o.UserID,
			TotalCents:    o.TotalCents,
			PaymentMethod: o.PaymentMethod,
			Status:        o.Status,
		}),
	}
	s.ProducerCreated.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishCancelled(orderID, reason string) {
	if s.ProducerCancelled == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCancelled,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.OrderCancelledPayload{
			OrderID: orderID,
			Reason:  reason,
		}),
	}
	s.ProducerCancelled.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCancelled)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
