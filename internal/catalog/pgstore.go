package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

const productColumns = `id, name, price, discount_price, stock, is_active, sold_count, created_at, updated_at`

// Reserve decrements stock and bumps sold_count in one statement, guarded by
// is_active AND stock >= qty, and records the hold in the same statement.
func (s *PGStore) Reserve(ctx context.Context, h Hold) (Product, error) {
	row := s.DB.QueryRow(ctx, `
		WITH upd AS (
			UPDATE products
			   SET stock = stock - $3, sold_count = sold_count + $3, updated_at = now()
			 WHERE id = $2 AND is_active AND stock >= $3
			RETURNING `+productColumns+`
		), ins AS (
			INSERT INTO reservations (id, order_id, product_id, qty, status)
			SELECT $1, $4, id, $3, 'RESERVED' FROM upd
		)
		SELECT `+productColumns+` FROM upd`,
		h.ID, h.ProductID, h.Quantity, h.OrderID)

	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotReserved
	}
	if err != nil {
		return Product{}, fmt.Errorf("reserve %s: %w", h.ProductID, err)
	}
	return p, nil
}

// Release hands a hold back. A hold that is already released is a no-op,
// so retrying after an ambiguous failure never restocks twice.
func (s *PGStore) Release(ctx context.Context, holdID string) error {
	_, err := s.DB.Exec(ctx, `
		WITH rel AS (
			UPDATE reservations SET status = 'RELEASED', released_at = now()
			 WHERE id = $1 AND status = 'RESERVED'
			RETURNING product_id, qty
		)
		UPDATE products p
		   SET stock = p.stock + r.qty, sold_count = p.sold_count - r.qty, updated_at = now()
		  FROM (SELECT product_id, SUM(qty)::int AS qty FROM rel GROUP BY product_id) r
		 WHERE p.id = r.product_id`, holdID)
	if err != nil {
		return fmt.Errorf("release hold %s: %w", holdID, err)
	}
	return nil
}

// ReleaseOrder releases every hold still held by orderID and returns how many
// units went back on the shelf.
func (s *PGStore) ReleaseOrder(ctx context.Context, orderID string) (int, error) {
	var units int
	err := s.DB.QueryRow(ctx, `
		WITH rel AS (
			UPDATE reservations SET status = 'RELEASED', released_at = now()
			 WHERE order_id = $1 AND status = 'RESERVED'
			RETURNING product_id, qty
		), agg AS (
			SELECT product_id, SUM(qty)::int AS qty FROM rel GROUP BY product_id
		), upd AS (
			UPDATE products p
			   SET stock = p.stock + agg.qty, sold_count = p.sold_count - agg.qty, updated_at = now()
			  FROM agg WHERE p.id = agg.product_id
			RETURNING agg.qty
		)
		SELECT COALESCE(SUM(qty), 0)::int FROM upd`, orderID).Scan(&units)
	if err != nil {
		return 0, fmt.Errorf("release order %s: %w", orderID, err)
	}
	return units, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (s *PGStore) List(ctx context.Context, activeOnly bool) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products
	                              WHERE is_active OR NOT $1 ORDER BY name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Put inserts or replaces the catalog fields of a product. Used for seeding;
// it never touches stock of an existing row except through the given value.
func (s *PGStore) Put(ctx context.Context, p Product) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products (id, name, price, discount_price, stock, is_active, sold_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		   SET name = EXCLUDED.name, price = EXCLUDED.price, discount_price = EXCLUDED.discount_price,
		       stock = EXCLUDED.stock, is_active = EXCLUDED.is_active, updated_at = now()`,
		p.ID, p.Name, p.Price, p.DiscountPrice, p.Stock, p.IsActive, p.SoldCount)
	return err
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.DiscountPrice, &p.Stock, &p.IsActive, &p.SoldCount, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
