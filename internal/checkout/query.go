package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/apperr"
	"github.com/ariefcatur/go-art-storefront/internal/catalog"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
	"github.com/ariefcatur/go-art-storefront/internal/pricing"
	"github.com/ariefcatur/go-art-storefront/internal/redisx"
	"github.com/ariefcatur/go-art-storefront/internal/shipping"
)

// Viewer is who is asking. Admins can see every order.
type Viewer struct {
	UserID string
	Admin  bool
}

func (v Viewer) owns(userID string) bool { return v.Admin || v.UserID == userID }

func (s *Service) Get(ctx context.Context, v Viewer, orderID string) (orders.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if !v.owns(o.User) {
		return orders.Order{}, apperr.Forbidden("Not authorized to view this order")
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, v Viewer) ([]orders.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return s.Orders.ListByUser(ctx, v.UserID)
}

func (s *Service) ListAll(ctx context.Context, status orders.Status) ([]orders.Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("Invalid order status")
	}
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	return s.Orders.List(ctx, status)
}

// Status answers from the cache when it can and refills it on a miss.
func (s *Service) Status(ctx context.Context, v Viewer, orderID string) (redisx.CachedStatus, error) {
	if s.Cache != nil {
		cs, ok, err := s.Cache.Get(ctx, orderID)
		if err != nil {
			s.Log.Warn("status cache read failed", zap.String("order_id", orderID), zap.Error(err))
		}
		if ok {
			if !v.owns(cs.UserID) {
				return redisx.CachedStatus{}, apperr.Forbidden("Not authorized to view this order")
			}
			return cs, nil
		}
	}
	o, err := s.Get(ctx, v, orderID)
	if err != nil {
		return redisx.CachedStatus{}, err
	}
	s.cache(ctx, s.Log, o)
	return redisx.StatusOf(o), nil
}

func (s *Service) load(ctx context.Context, orderID string) (orders.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	o, err := s.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.Order{}, apperr.NotFound("Order not found")
	}
	return o, err
}

type QuoteRequest struct {
	Items          []ItemInput      `json:"items"`
	ShippingMethod string           `json:"shippingMethod"`
	PostalCode     string           `json:"postalCode"`
	ShippingCost   *decimal.Decimal `json:"shippingCost"`
}

type QuoteResult struct {
	Subtotal     int64           `json:"subtotal"`
	ShippingCost int64           `json:"shippingCost"`
	TotalAmount  int64           `json:"totalAmount"`
	Method       shipping.Method `json:"shippingMethod"`
	Source       shipping.Source `json:"source"`
}

// Quote prices a cart at current catalog prices without reserving anything.
// The figure is a preview; Place recomputes it from the reserved snapshot.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
	if len(req.Items) == 0 {
		return QuoteResult{}, apperr.Validation("Order must contain at least one item")
	}
	method, err := shipping.ParseMethod(req.ShippingMethod)
	if err != nil {
		return QuoteResult{}, apperr.Validation("Invalid shipping method")
	}
	if req.ShippingCost != nil && req.ShippingCost.IsNegative() {
		return QuoteResult{}, apperr.Validation("Invalid shipping cost")
	}
	var subtotal int64
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return QuoteResult{}, apperr.Validation("Quantity must be a positive integer")
		}
		p, err := s.product(ctx, it.Product)
		if err != nil {
			return QuoteResult{}, err
		}
		if !p.IsActive {
			return QuoteResult{}, apperr.Conflict(fmt.Sprintf("%s is not available", p.Name))
		}
		subtotal += pricing.UnitPrice(p) * int64(it.Quantity)
	}
	q, err := s.Shipping.Verify(ctx, shipping.Request{
		Method:         method,
		Subtotal:       subtotal,
		DestinationPin: req.PostalCode,
		ClientCost:     req.ShippingCost,
	})
	if err != nil {
		return QuoteResult{}, err
	}
	return QuoteResult{
		Subtotal:     subtotal,
		ShippingCost: q.Cost,
		TotalAmount:  subtotal + q.Cost,
		Method:       method,
		Source:       q.Source,
	}, nil
}

func (s *Service) product(ctx context.Context, id string) (catalog.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	p, err := s.Catalog.Get(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Product{}, apperr.NotFound("Product not found")
	}
	return p, err
}
