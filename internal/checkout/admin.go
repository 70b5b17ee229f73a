package checkout

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/apperr"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
	"github.com/ariefcatur/go-art-storefront/internal/shipping"
)

// Transition moves an order along its lifecycle. Cancelling hands the
// order's stock back; cancelling an already cancelled order only retries
// that restock. Shipping a carrier order that has no tracking number yet
// books it with the carrier first.
func (s *Service) Transition(ctx context.Context, orderID string, to orders.Status) (orders.Order, error) {
	if !to.Valid() {
		return orders.Order{}, apperr.Validation("Invalid order status")
	}
	cur, err := s.load(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	log := s.Log.With(zap.String("order_id", orderID))
	if cur.OrderStatus == orders.StatusCancelled && to == orders.StatusCancelled {
		if err := s.restock(ctx, log, orderID); err != nil {
			return orders.Order{}, err
		}
		return cur, nil
	}
	if !orders.CanTransition(cur.OrderStatus, to) {
		return orders.Order{}, invalidTransition("order", cur.OrderStatus, to)
	}

	var tracking string
	if to == orders.StatusShipped && cur.ShippingMethod == shipping.MethodCarrier && cur.TrackingNumber == "" && s.Shipper != nil {
		sh, err := s.Shipper.CreateShipment(ctx, shipmentFor(cur))
		if err != nil {
			log.Error("carrier booking failed", zap.Error(err))
			return orders.Order{}, apperr.Unavailable("Could not book shipment with carrier", err)
		}
		tracking = sh.TrackingNumber()
	}

	updated, err := s.update(ctx, func(ctx context.Context) (orders.Order, error) {
		return s.Orders.UpdateStatus(ctx, orderID, cur.OrderStatus, to, tracking)
	})
	if err != nil {
		return orders.Order{}, err
	}

	s.cache(ctx, log, updated)
	s.publish(ctx, log, orders.EventOrderStatusChanged, orderID, orders.OrderStatusChangedPayload{
		OrderID:        orderID,
		UserID:         updated.User,
		From:           cur.OrderStatus,
		To:             to,
		TrackingNumber: updated.TrackingNumber,
	})
	if to == orders.StatusCancelled {
		// The cancel is committed either way; a failed restock is retried by
		// cancelling again.
		if err := s.restock(ctx, log, orderID); err != nil {
			return orders.Order{}, err
		}
	}
	return updated, nil
}

// restock is safe to repeat: only holds still reserved are released.
func (s *Service) restock(ctx context.Context, log *zap.Logger, orderID string) error {
	units, err := s.Inventory.ReleaseOrder(ctx, orderID)
	if err != nil {
		return err
	}
	log.Info("order cancelled, stock returned", zap.Int("units", units))
	return nil
}

func invalidTransition[T ~string](what string, from, to T) error {
	return apperr.Validation(fmt.Sprintf("Cannot change %s status from %s to %s", what, from, to))
}

func (s *Service) SetPaymentStatus(ctx context.Context, orderID string, to orders.PaymentStatus) (orders.Order, error) {
	if !to.Valid() {
		return orders.Order{}, apperr.Validation("Invalid payment status")
	}
	cur, err := s.load(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if !orders.CanTransitionPayment(cur.PaymentStatus, to) {
		return orders.Order{}, invalidTransition("payment", cur.PaymentStatus, to)
	}
	updated, err := s.update(ctx, func(ctx context.Context) (orders.Order, error) {
		return s.Orders.UpdatePaymentStatus(ctx, orderID, cur.PaymentStatus, to)
	})
	if err != nil {
		return orders.Order{}, err
	}

	log := s.Log.With(zap.String("order_id", orderID))
	s.cache(ctx, log, updated)
	s.publish(ctx, log, orders.EventPaymentStatusChanged, orderID, orders.PaymentStatusChangedPayload{
		OrderID: orderID,
		UserID:  updated.User,
		From:    cur.PaymentStatus,
		To:      to,
	})
	return updated, nil
}

func (s *Service) update(ctx context.Context, fn func(context.Context) (orders.Order, error)) (orders.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.StoreTimeout)
	defer cancel()
	o, err := fn(ctx)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return orders.Order{}, apperr.NotFound("Order not found")
	case errors.Is(err, orders.ErrInvalidTransition):
		return orders.Order{}, apperr.Validation("Order cannot move to that status")
	case errors.Is(err, orders.ErrStaleStatus):
		return orders.Order{}, apperr.Conflict("Order was updated by someone else, reload and retry")
	}
	return o, err
}

func shipmentFor(o orders.Order) shipping.ShipmentRequest {
	a := o.ShippingAddress
	req := shipping.ShipmentRequest{
		OrderID:      o.ID,
		OrderDate:    o.CreatedAt.Format("2006-01-02 15:04"),
		CustomerName: a.FullName,
		Address:      a.Line1,
		City:         a.City,
		State:        a.State,
		Pincode:      a.PostalCode,
		Country:      a.Country,
		Phone:        a.Phone,
		SameAsBill:   true,
		PaymentMode:  "Prepaid",
		SubTotal:     o.Subtotal,
	}
	if a.Line2 != "" {
		req.Address += ", " + a.Line2
	}
	for _, it := range o.Items {
		req.Items = append(req.Items, shipping.ShipmentItem{
			Name:         it.Name,
			SKU:          it.Product,
			Units:        it.Quantity,
			SellingPrice: it.Price,
		})
	}
	return req
}
