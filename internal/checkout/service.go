// Package checkout turns a cart into a committed order: stock is reserved,
// prices are locked from the reserved snapshot, shipping is verified and the
// order is written once. Any failure after stock is taken hands it back
// before the error returns.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/apperr"
	"github.com/ariefcatur/go-art-storefront/internal/catalog"
	"github.com/ariefcatur/go-art-storefront/internal/inventory"
	"github.com/ariefcatur/go-art-storefront/internal/metrics"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
	"github.com/ariefcatur/go-art-storefront/internal/pricing"
	"github.com/ariefcatur/go-art-storefront/internal/redisx"
	"github.com/ariefcatur/go-art-storefront/internal/shipping"
)

var tracer = otel.Tracer("storefront/checkout")

type Events interface {
	Publish(ctx context.Context, ev orders.Envelope) error
}

type StatusCache interface {
	Set(ctx context.Context, o orders.Order) error
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
}

type Shipper interface {
	CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (shipping.Shipment, error)
}

type Catalog interface {
	Get(ctx context.Context, id string) (catalog.Product, error)
}

// Deps wires a Service. Events, Cache and Shipper are optional.
type Deps struct {
	Inventory *inventory.Engine
	Shipping  *shipping.Verifier
	Catalog   Catalog
	Orders    orders.Repo
	Events    Events
	Cache     StatusCache
	Shipper   Shipper
	Log       *zap.Logger
	Metrics   *metrics.Registry
	Service   string
	// StoreTimeout bounds each order repository call.
	StoreTimeout time.Duration
}

type Service struct {
	Deps
	now func() time.Time
}

func NewService(d Deps) *Service {
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 5 * time.Second
	}
	return &Service{Deps: d, now: func() time.Time { return time.Now().UTC() }}
}

type ItemInput struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type PlaceRequest struct {
	Items           []ItemInput      `json:"items"`
	ShippingAddress orders.Address   `json:"shippingAddress"`
	ShippingMethod  string           `json:"shippingMethod"`
	ShippingCost    *decimal.Decimal `json:"shippingCost"`
	PaymentID       string           `json:"paymentId"`
	Notes           string           `json:"notes"`
}

func (r PlaceRequest) validate() (shipping.Method, error) {
	if len(r.Items) == 0 {
		return "", apperr.Validation("Order must contain at least one item")
	}
	for _, it := range r.Items {
		if it.Product == "" {
			return "", apperr.Validation("Product is required for every item")
		}
		if it.Quantity <= 0 {
			return "", apperr.Validation("Quantity must be a positive integer")
		}
	}
	a := r.ShippingAddress
	if a.FullName == "" || a.Line1 == "" || a.City == "" || a.PostalCode == "" {
		return "", apperr.Validation("Shipping address is incomplete")
	}
	m, err := shipping.ParseMethod(r.ShippingMethod)
	if err != nil {
		return "", apperr.Validation("Invalid shipping method")
	}
	if r.ShippingCost != nil && r.ShippingCost.IsNegative() {
		return "", apperr.Validation("Invalid shipping cost")
	}
	return m, nil
}

// Place runs one checkout for userID. It is not idempotent: the same request
// sent twice creates two orders and takes stock twice.
func (s *Service) Place(ctx context.Context, userID string, req PlaceRequest) (orders.Order, error) {
	start := time.Now()
	method, err := req.validate()
	if err != nil {
		s.Metrics.PlacementFailed.WithLabelValues(apperr.KindOf(err).String()).Inc()
		return orders.Order{}, err
	}

	// Once stock may be taken the client going away must not stop us
	// halfway; each step still has its own deadline.
	ctx = context.WithoutCancel(ctx)
	orderID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "checkout.Place", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("user.id", userID),
		attribute.Int("order.items", len(req.Items)),
		attribute.String("shipping.method", string(method)),
	))
	defer span.End()
	log := s.Log.With(zap.String("order_id", orderID), zap.String("user_id", userID))

	o, err := s.place(ctx, log, orderID, userID, method, req)
	if err != nil {
		kind := apperr.KindOf(err)
		s.Metrics.PlacementFailed.WithLabelValues(kind.String()).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		return orders.Order{}, err
	}
	s.Metrics.OrdersPlaced.Inc()
	s.Metrics.PlacementLatency.Observe(time.Since(start).Seconds())

	s.cache(ctx, log, o)
	s.publish(ctx, log, orders.EventOrderPlaced, o.ID, orders.PlacedPayload(o))
	log.Info("order placed",
		zap.Int64("total", o.TotalAmount),
		zap.Int64("shipping", o.ShippingCost),
		zap.Int("items", len(o.Items)),
	)
	return o, nil
}

func (s *Service) place(ctx context.Context, log *zap.Logger, orderID, userID string, method shipping.Method, req PlaceRequest) (orders.Order, error) {
	lines := make([]inventory.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = inventory.Line{ProductID: it.Product, Quantity: it.Quantity}
	}
	held, err := s.Inventory.Reserve(ctx, orderID, lines)
	if err != nil {
		return orders.Order{}, err
	}

	priced := pricing.Lock(held)
	subtotal := pricing.Subtotal(priced)

	quote, err := s.Shipping.Verify(ctx, shipping.Request{
		Method:         method,
		Subtotal:       subtotal,
		DestinationPin: req.ShippingAddress.PostalCode,
		ClientCost:     req.ShippingCost,
	})
	if err != nil {
		return orders.Order{}, s.compensate(ctx, log, held, err)
	}

	now := s.now()
	o := orders.Order{
		ID:              orderID,
		User:            userID,
		Items:           make([]orders.Item, len(priced)),
		Subtotal:        subtotal,
		ShippingCost:    quote.Cost,
		TotalAmount:     subtotal + quote.Cost,
		ShippingMethod:  method,
		ShippingAddress: req.ShippingAddress,
		PaymentID:       req.PaymentID,
		PaymentStatus:   orders.PaymentPending,
		OrderStatus:     orders.StatusPlaced,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.PaymentID != "" {
		o.PaymentStatus = orders.PaymentPaid
	}
	for i, l := range priced {
		o.Items[i] = orders.Item{Product: l.ProductID, Name: l.Name, Quantity: l.Quantity, Price: l.UnitPrice}
	}

	if err := s.persist(ctx, o); err != nil {
		return orders.Order{}, s.compensate(ctx, log, held, err)
	}
	return o, nil
}

// persist writes the order. When the insert reports an error we look the
// order up once: a write that landed before a lost reply counts as done.
func (s *Service) persist(ctx context.Context, o orders.Order) error {
	cctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	err := s.Orders.Create(cctx, o)
	cancel()
	if err == nil {
		return nil
	}
	gctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	if _, gerr := s.Orders.Get(gctx, o.ID); gerr == nil {
		s.Log.Warn("order insert reported an error but the row exists", zap.String("order_id", o.ID), zap.Error(err))
		return nil
	}
	return fmt.Errorf("save order: %w", err)
}

// compensate releases every hold and returns cause, or the integrity error
// if stock could not be put back.
func (s *Service) compensate(ctx context.Context, log *zap.Logger, held []inventory.Reservation, cause error) error {
	log.Info("rolling back reservations", zap.Int("holds", len(held)), zap.Error(cause))
	if err := s.Inventory.Release(ctx, held); err != nil {
		return errors.Join(err, cause)
	}
	return cause
}

func (s *Service) cache(ctx context.Context, log *zap.Logger, o orders.Order) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Set(ctx, o); err != nil {
		log.Warn("status cache write failed", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	ev, err := orders.NewEnvelope(eventType, s.Service, orderID, payload)
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
		err = s.Events.Publish(pctx, ev)
		cancel()
	}
	if err != nil {
		log.Warn("publish event failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
