// Package inventory reserves stock for a cart, one product at a time, and
// undoes earlier reservations when a later one fails.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/apperr"
	"github.com/ariefcatur/go-art-storefront/internal/catalog"
	"github.com/ariefcatur/go-art-storefront/internal/metrics"
)

var tracer = otel.Tracer("storefront/inventory")

// Store is the slice of the catalog the engine needs. Reserve must be a single
// atomic conditional write; Release must be idempotent per hold ID.
type Store interface {
	Reserve(ctx context.Context, h catalog.Hold) (catalog.Product, error)
	Release(ctx context.Context, holdID string) error
	ReleaseOrder(ctx context.Context, orderID string) (int, error)
	Get(ctx context.Context, id string) (catalog.Product, error)
}

type Line struct {
	ProductID string
	Quantity  int
}

// Reservation is a committed hold plus the product as it looked right after
// the stock was taken.
type Reservation struct {
	HoldID   string
	Quantity int
	Product  catalog.Product
}

type Engine struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Registry

	OpTimeout time.Duration
	Attempts  int
	Backoff   time.Duration
}

func NewEngine(store Store, log *zap.Logger, m *metrics.Registry) *Engine {
	return &Engine{
		store:     store,
		log:       log,
		metrics:   m,
		OpTimeout: 5 * time.Second,
		Attempts:  3,
		Backoff:   50 * time.Millisecond,
	}
}

// Reserve takes stock for every line, in order. Either all lines are reserved
// and their snapshots returned, or none are: earlier holds are released
// before the first failure is returned.
func (e *Engine) Reserve(ctx context.Context, orderID string, lines []Line) ([]Reservation, error) {
	ctx, span := tracer.Start(ctx, "inventory.Reserve", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("order.lines", len(lines)),
	))
	defer span.End()

	held := make([]Reservation, 0, len(lines))
	for i, ln := range lines {
		hold := catalog.Hold{ID: uuid.NewString(), OrderID: orderID, ProductID: ln.ProductID, Quantity: ln.Quantity}

		p, err := e.reserveOne(ctx, hold)
		if err == nil {
			held = append(held, Reservation{HoldID: hold.ID, Quantity: ln.Quantity, Product: p})
			e.metrics.Reserved.Inc()
			continue
		}

		cause := err
		if errors.Is(err, catalog.ErrNotReserved) {
			cause = e.diagnose(ctx, ln)
		} else {
			// The write may have landed before the error came back. Releasing
			// an unknown hold is a no-op, so roll it back with the rest.
			held = append(held, Reservation{HoldID: hold.ID, Quantity: ln.Quantity, Product: catalog.Product{ID: ln.ProductID}})
		}
		e.metrics.ReserveRejected.WithLabelValues(apperr.KindOf(cause).String()).Inc()
		span.RecordError(cause)
		e.log.Info("reservation rejected",
			zap.String("order_id", orderID),
			zap.String("product_id", ln.ProductID),
			zap.Int("line", i),
			zap.Int("qty", ln.Quantity),
			zap.Error(cause),
		)

		if rbErr := e.Release(ctx, held); rbErr != nil {
			return nil, rbErr
		}
		return nil, cause
	}
	return held, nil
}

func (e *Engine) reserveOne(ctx context.Context, h catalog.Hold) (catalog.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, e.OpTimeout)
	defer cancel()
	return e.store.Reserve(ctx, h)
}

// diagnose reads the product back to explain why the conditional update
// matched nothing.
func (e *Engine) diagnose(ctx context.Context, ln Line) error {
	ctx, cancel := context.WithTimeout(ctx, e.OpTimeout)
	defer cancel()

	p, err := e.store.Get(ctx, ln.ProductID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return apperr.NotFound("Product not found")
	case err != nil:
		return fmt.Errorf("read product %s: %w", ln.ProductID, err)
	case !p.IsActive:
		return apperr.Conflict(fmt.Sprintf("%s is not available", p.Name))
	default:
		// Stock may have come back between the update and this read; the
		// update still lost, so report what is there now.
		return apperr.Conflict(fmt.Sprintf("Insufficient stock for %s. Available: %d", p.Name, p.Stock))
	}
}

// Release hands back every reservation, newest first. It ignores
// cancellation of ctx: once stock is taken it has to go back. Each hold is
// retried with backoff; holds that still fail are logged as integrity
// failures and reported together.
func (e *Engine) Release(ctx context.Context, rs []Reservation) error {
	if len(rs) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	e.metrics.Rollbacks.Inc()

	var errs []error
	for i := len(rs) - 1; i >= 0; i-- {
		r := rs[i]
		err := e.retry(ctx, func(ctx context.Context) error { return e.store.Release(ctx, r.HoldID) })
		if err != nil {
			e.metrics.RollbackFailures.Inc()
			e.log.Error("inventory rollback failed",
				zap.Bool("integrity", true),
				zap.String("hold_id", r.HoldID),
				zap.String("product_id", r.Product.ID),
				zap.Int("qty", r.Quantity),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperr.Integrity("inventory rollback failed", errors.Join(errs...))
	}
	return nil
}

// ReleaseOrder returns all stock still held by a placed order.
func (e *Engine) ReleaseOrder(ctx context.Context, orderID string) (int, error) {
	ctx = context.WithoutCancel(ctx)
	var units int
	err := e.retry(ctx, func(ctx context.Context) error {
		n, err := e.store.ReleaseOrder(ctx, orderID)
		units = n
		return err
	})
	if err != nil {
		e.metrics.RollbackFailures.Inc()
		e.log.Error("order restock failed",
			zap.Bool("integrity", true),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return 0, apperr.Integrity("order restock failed", err)
	}
	return units, nil
}

func (e *Engine) retry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < max(e.Attempts, 1); attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(e.Backoff, attempt))
		}
		opCtx, cancel := context.WithTimeout(ctx, e.OpTimeout)
		err = fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

// backoff doubles base per attempt and adds up to 50% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	exp := base * time.Duration(1<<(attempt-1))
	return exp + time.Duration(rand.Int64N(int64(exp/2)+1))
}
