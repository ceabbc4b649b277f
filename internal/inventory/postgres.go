package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

type PostgresLedger struct{ DB postgres.DB }

var _ Ledger = (*PostgresLedger)(nil)

func (l *PostgresLedger) Reserve(ctx context.Context, orderID, productID string, qty int, expiresAt time.Time) error {
	if qty <= 0 {
		return ErrInvalidQty
	}
	return postgres.WithTx(ctx, l.DB, func(tx pgx.Tx) error {
		// The hold row goes first: a duplicate (order, product) must not decrement again.
		ct, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, qty, status, expires_at)
			VALUES ($1, $2, $3, 'RESERVED', $4)
			ON CONFLICT (order_id, product_id) DO NOTHING`,
			orderID, productID, qty, nullTime(expiresAt))
		if err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return ErrUnknownProduct
			}
			return err
		}
		if ct.RowsAffected() == 0 {
			return nil
		}

		// Check and decrement in one statement; the row lock serializes concurrent reservers.
		var left int
		err = tx.QueryRow(ctx, `
			UPDATE inventory SET available = available - $2, updated_at = now()
			WHERE product_id = $1 AND available >= $2
			RETURNING available`, productID, qty).Scan(&left)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		var available int
		err = tx.QueryRow(ctx, `SELECT available FROM inventory WHERE product_id = $1`, productID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownProduct
		}
		if err != nil {
			return err
		}
		// Rolled back by WithTx, taking the hold row with it.
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
	})
}

func (l *PostgresLedger) Release(ctx context.Context, orderID string) (int, error) {
	var units int
	err := postgres.WithTx(ctx, l.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE reservations SET status = 'RELEASED', updated_at = now()
			WHERE order_id = $1 AND status = 'RESERVED'
			RETURNING product_id, qty`, orderID)
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
			if _, err := tx.Exec(ctx, `UPDATE inventory SET available = available + $2, updated_at = now() WHERE product_id = $1`, x.pid, x.qty); err != nil {
				return err
			}
			units += x.qty
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return units, nil
}

func (l *PostgresLedger) Commit(ctx context.Context, orderID string) error {
	_, err := l.DB.Exec(ctx, `
		UPDATE reservations SET status = 'COMMITTED', expires_at = NULL, updated_at = now()
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID)
	return err
}

func (l *PostgresLedger) Available(ctx context.Context, productID string) (int, error) {
	var n int
	err := l.DB.QueryRow(ctx, `SELECT available FROM inventory WHERE product_id = $1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUnknownProduct
	}
	return n, err
}

func (l *PostgresLedger) Holds(ctx context.Context, orderID string) ([]Hold, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT order_id::text, product_id, qty, status, expires_at
		FROM reservations WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Hold
	for rows.Next() {
		var h Hold
		var status string
		var exp *time.Time
		if err := rows.Scan(&h.OrderID, &h.ProductID, &h.Qty, &status, &exp); err != nil {
			return nil, err
		}
		h.Status = HoldStatus(status)
		if exp != nil {
			h.ExpiresAt = *exp
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT DISTINCT order_id::text FROM reservations
		WHERE status = 'RESERVED' AND expires_at IS NOT NULL AND expires_at <= $1
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
