package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clothly/checkout/internal/catalog"
	"github.com/clothly/checkout/internal/checkout"
	"github.com/clothly/checkout/internal/orders"
	"github.com/clothly/checkout/internal/payment"
	"github.com/clothly/checkout/internal/webhook"
)

type SubmitOrderReq struct {
	ExternalID      string         `json:"external_id"`
	UserID          string         `json:"user_id"`
	Items           []LineItemReq  `json:"items"`
	ShippingAddress orders.Address `json:"shipping_address"`
	PaymentMethod   string         `json:"payment_method"`
}

type LineItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type SubmitOrderResp struct {
	OrderID    string `json:"order_id"`
	TotalCents int64  `json:"total_cents"`
	PaymentRef string `json:"payment_ref,omitempty"`
	Idempotent bool   `json:"idempotent"`
}

// StatusCache is the fast read path for order status, kept warm on submit and
// by the event consumers. Optional; every method degrades to the DB.
type StatusCache interface {
	GetOrderStatus(ctx context.Context, orderID string) (string, bool)
	SetOrderStatus(ctx context.Context, orderID string, st orders.Status, ps orders.PaymentStatus) error
	SetSubmitIdempotency(ctx context.Context, externalID, orderID string) error
}

type OrdersHandler struct {
	Checkout *checkout.Service
	Catalog  *catalog.Ledger
	Listener *webhook.Listener
	Cache    StatusCache
	Log      *zap.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.submitOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
	r.Post("/webhooks/payment", h.paymentWebhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	items := make([]checkout.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, checkout.LineItem{
			ProductID: it.ProductID, Quantity: it.Quantity, Size: it.Size, Color: it.Color,
		})
	}

	res, err := h.Checkout.SubmitOrder(ctx, checkout.SubmitRequest{
		ExternalID:      req.ExternalID,
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	// A resubmission returns the stored order, which may have settled since;
	// only a fresh order is known to be pending/pending.
	if h.Cache != nil && !res.Idempotent {
		if req.ExternalID != "" {
			_ = h.Cache.SetSubmitIdempotency(ctx, req.ExternalID, res.OrderID)
		}
		_ = h.Cache.SetOrderStatus(ctx, res.OrderID, orders.StatusPending, orders.PaymentPending)
	}

	writeJSON(w, http.StatusCreated, SubmitOrderResp{
		OrderID:    res.OrderID,
		TotalCents: res.TotalCents,
		PaymentRef: res.PaymentRef,
		Idempotent: res.Idempotent,
	})
}

func (h *OrdersHandler) writeSubmitError(w http.ResponseWriter, err error) {
	var nf *catalog.NotFoundError
	var is *catalog.InsufficientStockError
	var ge *checkout.GatewayError
	switch {
	case errors.As(err, &nf), errors.As(err, &is), errors.Is(err, checkout.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &ge):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment processing failed"})
	default:
		h.Log.Error("submit_order_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// status cache fast path
	if h.Cache != nil {
		if s, ok := h.Cache.GetOrderStatus(ctx, orderID); ok {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Checkout.GetOrder(ctx, orderID)
	if errors.Is(err, checkout.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		h.Log.Error("get_order_failed", zap.String("order_id", orderID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	if h.Cache != nil {
		_ = h.Cache.SetOrderStatus(ctx, orderID, o.Status, o.PaymentStatus)
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user_id"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out, err := h.Checkout.ListOrders(ctx, userID, limit, offset)
	if err != nil {
		h.Log.Error("list_orders_failed", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if out == nil {
		out = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		h.Log.Error("list_products_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if ps == nil {
		ps = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

// paymentWebhook needs the raw body for signature verification; no decoding
// happens before VerifySignature passes.
func (h *OrdersHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err = h.Listener.Handle(ctx, body, r.Header.Get(payment.SignatureHeader))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "webhook signature verification failed"})
	case err != nil:
		// non-2xx so the gateway redelivers
		h.Log.Error("webhook_handler_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook handler failed"})
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
