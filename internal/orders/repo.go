package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-art-storefront/internal/shipping"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition means the lifecycle does not allow from -> to.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStaleStatus means the order moved on between read and update.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

// Repo persists orders. Items and totals are written once by Create; updates
// only touch status fields, and only when the current value still matches.
type Repo interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// List returns every order, newest first; an empty status means all.
	List(ctx context.Context, status Status) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, trackingNumber string) (Order, error)
	UpdatePaymentStatus(ctx context.Context, id string, from, to PaymentStatus) (Order, error)
}

type PGRepo struct{ DB *pgxpool.Pool }

const orderCols = `id, user_id, items, subtotal, shipping_cost, total_amount, shipping_method,
	shipping_address, payment_id, payment_status, order_status, notes, tracking_number, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, o Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO orders(`+orderCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		o.ID, o.User, items, o.Subtotal, o.ShippingCost, o.TotalAmount, string(o.ShippingMethod),
		addr, o.PaymentID, string(o.PaymentStatus), string(o.OrderStatus), o.Notes, o.TrackingNumber,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (r *PGRepo) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.query(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *PGRepo) List(ctx context.Context, status Status) ([]Order, error) {
	if status == "" {
		return r.query(ctx, `SELECT `+orderCols+` FROM orders ORDER BY created_at DESC`)
	}
	return r.query(ctx, `SELECT `+orderCols+` FROM orders WHERE order_status=$1 ORDER BY created_at DESC`, string(status))
}

func (r *PGRepo) UpdateStatus(ctx context.Context, id string, from, to Status, trackingNumber string) (Order, error) {
	if !CanTransition(from, to) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders
		   SET order_status = $3,
		       tracking_number = COALESCE(NULLIF($4, ''), tracking_number),
		       updated_at = now()
		 WHERE id = $1 AND order_status = $2
		RETURNING `+orderCols, id, string(from), string(to), trackingNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, r.missOrStale(ctx, id)
	}
	return o, err
}

func (r *PGRepo) UpdatePaymentStatus(ctx context.Context, id string, from, to PaymentStatus) (Order, error) {
	if !CanTransitionPayment(from, to) {
		return Order{}, fmt.Errorf("%w: payment %s to %s", ErrInvalidTransition, from, to)
	}
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET payment_status = $3, updated_at = now()
		 WHERE id = $1 AND payment_status = $2
		RETURNING `+orderCols, id, string(from), string(to)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, r.missOrStale(ctx, id)
	}
	return o, err
}

func (r *PGRepo) missOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleStatus
}

func (r *PGRepo) query(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
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

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                       Order
		items, addr             []byte
		method, payment, status string
	)
	err := row.Scan(&o.ID, &o.User, &items, &o.Subtotal, &o.ShippingCost, &o.TotalAmount, &method,
		&addr, &o.PaymentID, &payment, &status, &o.Notes, &o.TrackingNumber, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, fmt.Errorf("decode items of %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("decode address of %s: %w", o.ID, err)
	}
	o.ShippingMethod = shipping.Method(method)
	o.PaymentStatus = PaymentStatus(payment)
	o.OrderStatus = Status(status)
	return o, nil
}
