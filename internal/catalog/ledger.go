package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger is the authoritative stock counter. All mutation goes through
// ReserveAll / ReleaseAll; callers never read-modify-write the counter.
type Ledger struct{ DB *pgxpool.Pool }

func (l *Ledger) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	err := l.DB.QueryRow(ctx, `
		SELECT id, name, price_cents, stock_quantity, in_stock, created_at, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.PriceCents, &p.StockQuantity, &p.InStock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{ProductID: id}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *Ledger) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, name, price_cents, stock_quantity, in_stock, created_at, updated_at
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.StockQuantity, &p.InStock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CheckAvailability is advisory only; ReserveAll is the operation that
// actually settles contention.
func (l *Ledger) CheckAvailability(ctx context.Context, productID string, qty int) (bool, error) {
	p, err := l.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	return p.InStock && p.StockQuantity >= qty, nil
}

// ReserveAll decrements stock for every item inside one transaction. Each
// decrement is conditional (stock_quantity >= qty in the UPDATE itself), so
// two concurrent orders for the last unit cannot both succeed; the loser sees
// RowsAffected 0 and lands in the shortfall list. Any shortfall rolls the
// whole transaction back, leaving no partial holds.
func (l *Ledger) ReserveAll(ctx context.Context, orderID string, items []Reservation) (shortfalls []Shortfall, err error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		ct, err := tx.Exec(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $2,
			    in_stock = stock_quantity - $2 > 0,
			    updated_at = now()
			WHERE id = $1 AND stock_quantity >= $2`,
			it.ProductID, it.Qty)
		if err != nil {
			return nil, err
		}
		if ct.RowsAffected() != 1 {
			var name string
			var available int
			if qerr := tx.QueryRow(ctx,
				`SELECT name, stock_quantity FROM products WHERE id = $1`,
				it.ProductID).Scan(&name, &available); qerr != nil && !errors.Is(qerr, pgx.ErrNoRows) {
				return nil, qerr
			}
			shortfalls = append(shortfalls, Shortfall{
				ProductID: it.ProductID, Name: name, Required: it.Qty, Available: available,
			})
			continue
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO reservations (order_id, product_id, qty, status)
			VALUES ($1, $2, $3, 'RESERVED')
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			orderID, it.ProductID, it.Qty)
		if err != nil {
			return nil, err
		}
	}

	if len(shortfalls) > 0 {
		return shortfalls, nil // rollback via defer
	}
	return nil, tx.Commit(ctx)
}

// ReleaseAll compensates a failed checkout: stock held by RESERVED rows goes
// back and the rows flip to RELEASED, so a replay releases nothing twice.
func (l *Ledger) ReleaseAll(ctx context.Context, orderID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM reservations
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID)
	if err != nil {
		return err
	}

	type rec struct {
		pid string
		qty int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.pid, &x.qty); err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, x := range recs {
		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity + $2,
			    in_stock = true,
			    updated_at = now()
			WHERE id = $1`, x.pid, x.qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status = 'RELEASED'
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
