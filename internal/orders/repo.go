package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("order not found")

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, COALESCE(external_id, ''), user_id, subtotal_cents, shipping_cents, tax_cents, total_cents,
	status, payment_status, payment_method, COALESCE(payment_intent_id, ''),
	ship_street, ship_city, ship_state, ship_zip, ship_country, created_at, updated_at`

// Create persists the order header, its immutable line items and the shipping
// address snapshot in one transaction. If external_id was already submitted it
// returns the existing order instead (idempotent resubmission).
func (r *Repo) Create(ctx context.Context, o *Order) (existed bool, err error) {
	if o.ExternalID != "" {
		existing, err := r.FindByExternalID(ctx, o.ExternalID)
		if err == nil {
			*o = *existing
			return true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, external_id, user_id, subtotal_cents, shipping_cents, tax_cents, total_cents,
		                    status, payment_status, payment_method,
		                    ship_street, ship_city, ship_state, ship_zip, ship_country)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		o.ID, nullIfEmpty(o.ExternalID), o.UserID, o.SubtotalCents, o.ShippingCents, o.TaxCents, o.TotalCents,
		o.Status, o.PaymentStatus, o.PaymentMethod,
		o.ShippingAddress.Street, o.ShippingAddress.City, o.ShippingAddress.State,
		o.ShippingAddress.ZipCode, o.ShippingAddress.Country,
	)
	if err != nil {
		return false, err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, size, color, price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, it.ProductID, it.Quantity, it.Size, it.Color, it.PriceCents,
		)
		if err != nil {
			return false, err
		}
	}

	return false, tx.Commit(ctx)
}

func (r *Repo) FindByID(ctx context.Context, id string) (*Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (*Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id = $1`, externalID)
}

// FindByIntentID is the webhook lookup path; payment_intent_id is indexed.
func (r *Repo) FindByIntentID(ctx context.Context, intentID string) (*Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, intentID)
}

func (r *Repo) findOne(ctx context.Context, query string, arg any) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.ExternalID, &o.UserID, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.PaymentIntentID,
		&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.State,
		&o.ShippingAddress.ZipCode, &o.ShippingAddress.Country, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, quantity, size, color, price_cents
		FROM order_items WHERE order_id = $1`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Size, &it.Color, &it.PriceCents); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *Repo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.ExternalID, &o.UserID, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
			&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.PaymentIntentID,
			&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.State,
			&o.ShippingAddress.ZipCode, &o.ShippingAddress.Country, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) SetPaymentIntent(ctx context.Context, orderID, intentID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_intent_id = $2, updated_at = now() WHERE id = $1`,
		orderID, intentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyPaymentOutcome settles the payment exactly once. The guard on
// payment_status = 'pending' makes duplicate webhook deliveries no-ops:
// applied=false with no error means the outcome was already recorded.
func (r *Repo) ApplyPaymentOutcome(ctx context.Context, orderID string, ps PaymentStatus, st Status) (applied bool, err error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status = $2, status = $3, updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`,
		orderID, ps, st)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// MarkCancelled is the intake rollback path: the order row stays for audit but
// can never be mistaken for a live one.
func (r *Repo) MarkCancelled(ctx context.Context, orderID string, ps PaymentStatus) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET status = 'cancelled', payment_status = $2, updated_at = now()
		WHERE id = $1`,
		orderID, ps)
	return err
}

// FindStalePaymentPending returns electronic orders that have a payment intent
// but no settled outcome after olderThan. The sweep worker re-checks these
// against the gateway in case a webhook was lost.
func (r *Repo) FindStalePaymentPending(ctx context.Context, olderThan time.Duration, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE payment_status = 'pending'
		  AND payment_method IN ('card', 'upi')
		  AND payment_intent_id IS NOT NULL
		  AND status = 'pending'
		  AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`,
		time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.ExternalID, &o.UserID, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
			&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.PaymentIntentID,
			&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.State,
			&o.ShippingAddress.ZipCode, &o.ShippingAddress.Country, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
