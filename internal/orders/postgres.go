package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

type PostgresStore struct{ DB postgres.DB }

var _ Store = (*PostgresStore)(nil)

const orderColumns = `id::text, user_id, line_items, shipping_address, payment_method, payment_status, status,
	subtotal_cents, shipping_cents, total_cents, currency, external_payment_ref, receipt_url, notes, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, o Order) error {
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	var addr []byte
	if o.ShippingAddress != nil {
		if addr, err = json.Marshal(o.ShippingAddress); err != nil {
			return fmt.Errorf("encode address: %w", err)
		}
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO orders(id, user_id, line_items, shipping_address, payment_method, payment_status, status,
			subtotal_cents, shipping_cents, total_cents, currency, external_payment_ref, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.UserID, items, addr, string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status),
		o.SubtotalCents, o.ShippingCents, o.TotalCents, o.Currency, nullString(o.ExternalPaymentRef), nullString(o.Notes))
	if postgres.IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrNotFound
	}
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (s *PostgresStore) GetByPaymentRef(ctx context.Context, ref string) (Order, error) {
	if ref == "" {
		return Order{}, ErrNotFound
	}
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_payment_ref = $1`, ref))
}

func (s *PostgresStore) ListByIDs(ctx context.Context, ids []string) ([]Order, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return []Order{}, nil
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ANY($1::uuid[]) ORDER BY created_at DESC`, valid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to State) (Order, error) {
	if !CanMove(from, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o, err := scanOrder(s.DB.QueryRow(ctx, `
		UPDATE orders SET status = $2, payment_status = $3, updated_at = now()
		WHERE id = $1 AND status = $4 AND payment_status = $5
		RETURNING `+orderColumns,
		id, string(to.Status), string(to.PaymentStatus), string(from.Status), string(from.PaymentStatus)))
	if errors.Is(err, ErrNotFound) {
		return s.missOrStale(ctx, id, ErrStaleTransition)
	}
	return o, err
}

func (s *PostgresStore) SetPaymentRef(ctx context.Context, id, ref string) (Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `
		UPDATE orders SET external_payment_ref = $2, updated_at = now()
		WHERE id = $1 AND (external_payment_ref IS NULL OR external_payment_ref = $2
			OR (status = 'pending' AND payment_status = 'pending'))
		RETURNING `+orderColumns, id, ref))
	switch {
	case postgres.IsUniqueViolation(err):
		return Order{}, ErrPaymentRefConflict
	case errors.Is(err, ErrNotFound):
		return s.missOrStale(ctx, id, ErrPaymentRefConflict)
	}
	return o, err
}

func (s *PostgresStore) SetReceiptURL(ctx context.Context, id, url string) error {
	ct, err := s.DB.Exec(ctx, `UPDATE orders SET receipt_url = $2, updated_at = now() WHERE id = $1`, id, url)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// missOrStale tells a missing order apart from a guarded update that matched nothing.
func (s *PostgresStore) missOrStale(ctx context.Context, id string, stale error) (Order, error) {
	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Order{}, err
	}
	if !exists {
		return Order{}, ErrNotFound
	}
	return Order{}, stale
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                         Order
		items, addr               []byte
		method, payStatus, status string
		ref, receipt, notes       *string
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &addr, &method, &payStatus, &status,
		&o.SubtotalCents, &o.ShippingCents, &o.TotalCents, &o.Currency, &ref, &receipt, &notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(items, &o.LineItems); err != nil {
		return Order{}, fmt.Errorf("decode line items: %w", err)
	}
	if len(addr) > 0 {
		o.ShippingAddress = &Address{}
		if err := json.Unmarshal(addr, o.ShippingAddress); err != nil {
			return Order{}, fmt.Errorf("decode address: %w", err)
		}
	}
	o.PaymentMethod = PaymentMethod(method)
	o.PaymentStatus = PaymentStatus(payStatus)
	o.Status = Status(status)
	o.ExternalPaymentRef = deref(ref)
	o.ReceiptURL = deref(receipt)
	o.Notes = deref(notes)
	return o, nil
}

type PostgresIndex struct{ DB postgres.DB }

var _ Index = (*PostgresIndex)(nil)

func (x *PostgresIndex) Append(ctx context.Context, userID, orderID string) error {
	_, err := x.DB.Exec(ctx, `
		INSERT INTO user_orders(user_id, order_id) VALUES ($1, $2)
		ON CONFLICT (user_id, order_id) DO NOTHING`, userID, orderID)
	return err
}

func (x *PostgresIndex) ListByUser(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := x.DB.Query(ctx, `
		SELECT order_id::text FROM user_orders WHERE user_id = $1
		ORDER BY created_at DESC, order_id LIMIT $2`, userID, limit)
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

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
