package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/clothly/checkout/internal/catalog"
	"github.com/clothly/checkout/internal/orders"
	"github.com/clothly/checkout/internal/payment"
)

// ---- fakes ----

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]*catalog.Product
	reserved map[string][]catalog.Reservation
	// beforeReserve runs under the lock just before ReserveAll applies,
	// simulating a competing purchase between check and reserve.
	beforeReserve func(products map[string]*catalog.Product)
}

func newFakeCatalog(ps ...*catalog.Product) *fakeCatalog {
	fc := &fakeCatalog{
		products: make(map[string]*catalog.Product),
		reserved: make(map[string][]catalog.Reservation),
	}
	for _, p := range ps {
		fc.products[p.ID] = p
	}
	return fc
}

func (f *fakeCatalog) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, &catalog.NotFoundError{ProductID: id}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCatalog) ReserveAll(_ context.Context, orderID string, items []catalog.Reservation) ([]catalog.Shortfall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beforeReserve != nil {
		f.beforeReserve(f.products)
		f.beforeReserve = nil
	}

	// all-or-nothing: collect shortfalls first, apply only when none
	var shortfalls []catalog.Shortfall
	for _, it := range items {
		p, ok := f.products[it.ProductID]
		if !ok || p.StockQuantity < it.Qty {
			available := 0
			name := ""
			if ok {
				available = p.StockQuantity
				name = p.Name
			}
			shortfalls = append(shortfalls, catalog.Shortfall{
				ProductID: it.ProductID, Name: name, Required: it.Qty, Available: available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return shortfalls, nil
	}
	for _, it := range items {
		p := f.products[it.ProductID]
		p.StockQuantity -= it.Qty
		p.InStock = p.StockQuantity > 0
	}
	f.reserved[orderID] = items
	return nil, nil
}

func (f *fakeCatalog) ReleaseAll(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.reserved[orderID] {
		p := f.products[it.ProductID]
		p.StockQuantity += it.Qty
		p.InStock = true
	}
	delete(f.reserved, orderID)
	return nil
}

func (f *fakeCatalog) stock(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].StockQuantity
}

type fakeOrderStore struct {
	mu         sync.Mutex
	orders     map[string]*orders.Order
	byExternal map[string]string
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:     make(map[string]*orders.Order),
		byExternal: make(map[string]string),
	}
}

func (f *fakeOrderStore) Create(_ context.Context, o *orders.Order) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.ExternalID != "" {
		if id, ok := f.byExternal[o.ExternalID]; ok {
			*o = *f.orders[id]
			return true, nil
		}
		f.byExternal[o.ExternalID] = o.ID
	}
	cp := *o
	f.orders[o.ID] = &cp
	return false, nil
}

func (f *fakeOrderStore) FindByID(_ context.Context, id string) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) ListByUser(_ context.Context, userID string, _, _ int) ([]orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orders.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) SetPaymentIntent(_ context.Context, orderID, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	o.PaymentIntentID = intentID
	return nil
}

func (f *fakeOrderStore) MarkCancelled(_ context.Context, orderID string, ps orders.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	o.Status = orders.StatusCancelled
	o.PaymentStatus = ps
	return nil
}

func (f *fakeOrderStore) get(id string) *orders.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

func (f *fakeOrderStore) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.orders {
		if o.Status != orders.StatusCancelled {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu      sync.Mutex
	created []payment.Intent
	err     error
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, amountCents int64, currency string, _ map[string]string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	in := payment.Intent{
		ID:          fmt.Sprintf("pi_%d", len(g.created)+1),
		Status:      payment.IntentStatusProcessing,
		AmountCents: amountCents,
		Currency:    currency,
	}
	g.created = append(g.created, in)
	return &in, nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, intentID string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, in := range g.created {
		if in.ID == intentID {
			return &in, nil
		}
	}
	return nil, errors.New("intent not found")
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (p *fakePublisher) Publish(_, value []byte, _ ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, value)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

// ---- helpers ----

func testService(fc *fakeCatalog, fo *fakeOrderStore, fg *fakeGateway) (*Service, *fakePublisher, *fakePublisher) {
	created := &fakePublisher{}
	cancelled := &fakePublisher{}
	return &Service{
		Catalog:           fc,
		Orders:            fo,
		Gateway:           fg,
		ProducerCreated:   created,
		ProducerCancelled: cancelled,
		Service:           "checkout-test",
	}, created, cancelled
}

func addr() orders.Address {
	return orders.Address{
		Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US",
	}
}

// ---- tests ----

func TestSubmitOrderCardEndToEnd(t *testing.T) {
	fc := newFakeCatalog(
		&catalog.Product{ID: "prod-a", Name: "Linen Shirt", PriceCents: 3000, StockQuantity: 10, InStock: true},
		&catalog.Product{ID: "prod-b", Name: "Denim Jacket", PriceCents: 2500, StockQuantity: 10, InStock: true},
	)
	fo := newFakeOrderStore()
	fg := &fakeGateway{}
	svc, created, _ := testService(fc, fo, fg)

	res, err := svc.SubmitOrder(context.Background(), SubmitRequest{
		UserID: "user-1",
		Items: []LineItem{
			{ProductID: "prod-a", Quantity: 1, Size: "M", Color: "white"},
			{ProductID: "prod-b", Quantity: 1, Size: "L", Color: "blue"},
		},
		ShippingAddress: addr(),
		PaymentMethod:   orders.MethodCard,
	})
	if err != nil {
		t.Fatalf("SubmitOrder() error = %v", err)
	}

	// 30.00 + 25.00 = 55.00, free shipping, tax 4.40, total 59.40
	if res.TotalCents != 5940 {
		t.Fatalf("total = %d, want 5940", res.TotalCents)
	}
	if res.PaymentRef == "" {
		t.Fatal("expected a payment ref for card order")
	}

	o := fo.get(res.OrderID)
	if o == nil {
		t.Fatal("order not persisted")
	}
	if o.Status != orders.StatusPending || o.PaymentStatus != orders.PaymentPending {
		t.Fatalf("order state = %s/%s, want pending/pending", o.Status, o.PaymentStatus)
	}
	if o.SubtotalCents != 5500 || o.ShippingCents != 0 || o.TaxCents != 440 {
		t.Fatalf("quote = %d/%d/%d, want 5500/0/440", o.SubtotalCents, o.ShippingCents, o.TaxCents)
	}
	if o.PaymentIntentID != res.PaymentRef {
		t.Fatalf("intent id %q not stored on order", res.PaymentRef)
	}
	if len(fg.created) != 1 || fg.created[0].AmountCents != 5940 {
		t.Fatalf("gateway intent = %+v, want one intent for 5940", fg.created)
	}
	if fc.stock("prod-a") != 9 || fc.stock("prod-b") != 9 {
		t.Fatalf("stock = %d/%d, want 9/9", fc.stock("prod-a"), fc.stock("prod-b"))
	}
	if created.count() != 1 {
		t.Fatalf("order created events = %d, want 1", created.count())
	}

	// address is a snapshot, not a live reference
	if o.ShippingAddress != addr() {
		t.Fatalf("address snapshot = %+v", o.ShippingAddress)
	}
}

func TestSubmitOrderProductNotFound(t *testing.T) {
	fc := newFakeCatalog()
	fo := newFakeOrderStore()
	svc, _, _ := testService(fc, fo, &fakeGateway{})

	_, err := svc.SubmitOrder(context.Background(), SubmitRequest{
		UserID:          "user-1",
		Items:           []LineItem{{ProductID: "ghost", Quantity: 1, Size: "M", Color: "red"}},
		ShippingAddress: addr(),
		PaymentMethod:   orders.MethodCOD,
	})

	var nf *catalog.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if nf.ProductID != "ghost" {
		t.Fatalf("error names %q, want ghost", nf.ProductID)
	}
	if fo.liveCount() != 0 {
		t.Fatal("no order should be persisted")
	}
}

func TestSubmitOrderInsufficientStock(t *testing.T) {
	fc := newFakeCatalog(
		&catalog.Product{ID: "prod-c", Name: "Wool Scarf", PriceCents: 1500, StockQuantity: 0, InStock: false},
	)
	fo := newFakeOrderStore()
	svc, _, _ := testService(fc, fo, &fakeGateway{})

	_, err := svc.SubmitOrder(context.Background(), SubmitRequest{
		UserID:          "user-1",
		Items:           []LineItem{{ProductID: "prod-c", Quantity: 1, Size: "OS", Color: "grey"}},
		ShippingAddress: addr(),
		PaymentMethod:   orders.MethodCard,
	})

	var is *catalog.InsufficientStockError
	if !errors.As(err, &is) {
		t.Fatalf("error = %v, want InsufficientStockError", err)
	}
	if is.ProductID != "prod-c" || is.Name != "Wool Scarf" {
		t.Fatalf("error names %q/%q, want prod-c/Wool Scarf", is.ProductID, is.Name)
	}
	if fo.liveCount() != 0 {
		t.Fatal("no order should be persisted")
	}
}

func TestSubmitOrderReservationShortfallRollsBack(t *testing.T) {
	fc := newFakeCatalog(
		&catalog.Product{ID: "prod-a", Name: "Linen Shirt", PriceCents: 3000, StockQuantity: 5, InStock: true},
		&catalog.Product{ID: "prod-b", Name: "Denim Jacket", PriceCents: 2500, StockQuantity: 1, InStock: true},
	)
	// A competing purchase drains prod-b between the availability check and
	// the reservation.
	fc.beforeReserve = func(products map[string]*catalog.Product) {
		products["prod-b"].StockQuantity = 0
		products["prod-b"].InStock = false
	}
	fo := newFakeOrderStore()
	svc, _, cancelled := testService(fc, fo, &fakeGateway{})

	res, err := svc.SubmitOrder(context.Background(), SubmitRequest{
		UserID: "user-1",
		Items: []LineItem{
			{ProductID: "prod-a", Quantity: 2, Size: "M", Color: "white"},
			{ProductID: "prod-b", Quantity: 1, Size: "L", Color: "blue"},
		},
		ShippingAddress: addr(),
		PaymentMethod:   orders.MethodCard,
	})

	var is *catalog.InsufficientStockError
	if !errors.As(err, &is) {
		t.Fatalf("error = %v (res=%+v), want InsufficientStockError", err, res)
	}
	if is.ProductID != "prod-b" {
		t.Fatalf("error names %q, want prod-b", is.ProductID)
	}
	// first item's reservation must be undone
	if got := fc.stock("prod-a"); got != 5 {
		t.Fatalf("prod-a stock = %d, want 5 (all-or-nothing)", got)
	}
	if fo.liveCount() != 0 {
		t.Fatal("order must not remain in a non-cancelled state")
	}
	if cancelled.count() != 1 {
		t.Fatalf("cancelled events = %d, want 1", cancelled.count())
	}
}

func TestSubmitOrderGatewayFailureRollsBack(t *testing.T) {
	fc := newFakeCatalog(
		&catalog.Product{ID: "prod-a", Name: "Linen Shirt", PriceCents: 3000, StockQuantity: 5, InStock: true},
	)
	fo := newFakeOrderStore()
	fg := &fakeGateway{err: errors.New("connection timeout")}
	svc, created, cancelled := testService(fc, fo, fg)

	_, err := svc.SubmitOrder(context.Background(), SubmitRequest{
		UserID:          "user-1",
		Items:           []LineItem{{ProductID: "prod-a", Quantity: 1, Size: "M", Color: "white"}},
		ShippingAddress: addr(),
		PaymentMethod:   orders.MethodUPI,
	})

	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v, want GatewayError", err)
	}
	if got := fc.stock("prod-a"); got != 5 {
		t.Fatalf("prod-a stock = %d, want 5 (reservation released)", got)
	}
	if fo.liveCount() != 0 {
		t.Fatal("order must be cancelled after gateway failure")
	}
	if created.count() != 0 {
		t.Fatal("no created event should be published for a rolled-back order")
	}
	if cancelled.count() != 1 {
		t.Fatalf("cancelled events = %d, want 1", cancelled.count())
	}
}

func TestSubmitOrderCODSkipsGateway(t *testing.T) {
	fc := newFakeCatalog(
		&catalog.Product{ID: "prod-a", Name: "Linen Shirt", PriceCents: 3000, StockQuantity: 5, InStock: true},
	)
	fo := newFakeOrderStore()
	fg := &fakeGateway{}
	svc, _, _ := testService(fc, fo, fg)

	res, err := svc.SubmitOrder(context.Background(), SubmitRequest{
		UserID:          "user-1",
		Items:           []LineItem{{ProductID: "prod-a", Quantity: 1, Size: "M", Color: "white"}},
		ShippingAddress: addr(),
		PaymentMethod:   orders.MethodCOD,
	})
	if err != nil {
		t.Fatalf("SubmitOrder() error = %v", err)
	}
	if res.PaymentRef != "" {
		t.Fatal("cod order should not get a payment ref")
	}
	if fg.calls() != 0 {
		t.Fatal("gateway must not be called for cod")
	}
	o := fo.get(res.OrderID)
	if o.Status != orders.StatusPending || o.PaymentStatus != orders.PaymentPending {
		t.Fatalf("order state = %s/%s, want pending/pending", o.Status, o.PaymentStatus)
	}
}

func TestSubmitOrderIdempotentResubmit(t *testing.T) {
	fc := newFakeCatalog(
		&catalog.Product{ID: "prod-a", Name: "Linen Shirt", PriceCents: 3000, StockQuantity: 5, InStock: true},
	)
	fo := newFakeOrderStore()
	fg := &fakeGateway{}
	svc, _, _ := testService(fc, fo, fg)

	req := SubmitRequest{
		ExternalID:      "chk-123",
		UserID:          "user-1",
		Items:           []LineItem{{ProductID: "prod-a", Quantity: 1, Size: "M", Color: "white"}},
		ShippingAddress: addr(),
		PaymentMethod:   orders.MethodCard,
	}

	first, err := svc.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("first SubmitOrder() error = %v", err)
	}
	second, err := svc.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("second SubmitOrder() error = %v", err)
	}

	if !second.Idempotent {
		t.Fatal("second submission should be flagged idempotent")
	}
	if second.OrderID != first.OrderID {
		t.Fatalf("order ids differ: %s vs %s", first.OrderID, second.OrderID)
	}
	if fg.calls() != 1 {
		t.Fatalf("gateway calls = %d, want 1", fg.calls())
	}
	if got := fc.stock("prod-a"); got != 4 {
		t.Fatalf("stock = %d, want 4 (decremented once)", got)
	}
}

func TestSubmitOrderInventoryConservation(t *testing.T) {
	const initialStock = 5
	const attempts = 20

	fc := newFakeCatalog(
		&catalog.Product{ID: "prod-a", Name: "Linen Shirt", PriceCents: 3000, StockQuantity: initialStock, InStock: true},
	)
	fo := newFakeOrderStore()
	svc, _, _ := testService(fc, fo, &fakeGateway{})

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SubmitOrder(context.Background(), SubmitRequest{
				UserID:          fmt.Sprintf("user-%d", i),
				Items:           []LineItem{{ProductID: "prod-a", Quantity: 1, Size: "M", Color: "white"}},
				ShippingAddress: addr(),
				PaymentMethod:   orders.MethodCOD,
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var is *catalog.InsufficientStockError
		if !errors.As(err, &is) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != initialStock {
		t.Fatalf("successful orders = %d, want exactly %d", successes, initialStock)
	}
	if got := fc.stock("prod-a"); got != 0 {
		t.Fatalf("final stock = %d, want 0", got)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	fc := newFakeCatalog(
		&catalog.Product{ID: "prod-a", Name: "Linen Shirt", PriceCents: 3000, StockQuantity: 5, InStock: true},
	)
	svc, _, _ := testService(fc, newFakeOrderStore(), &fakeGateway{})

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing user", SubmitRequest{Items: []LineItem{{ProductID: "prod-a", Quantity: 1}}, PaymentMethod: orders.MethodCOD}},
		{"no items", SubmitRequest{UserID: "u", PaymentMethod: orders.MethodCOD}},
		{"zero quantity", SubmitRequest{UserID: "u", Items: []LineItem{{ProductID: "prod-a", Quantity: 0}}, PaymentMethod: orders.MethodCOD}},
		{"bad method", SubmitRequest{UserID: "u", Items: []LineItem{{ProductID: "prod-a", Quantity: 1}}, PaymentMethod: "paypal"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SubmitOrder(context.Background(), tc.req); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}
