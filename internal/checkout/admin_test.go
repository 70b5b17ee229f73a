package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-art-storefront/internal/apperr"
	"github.com/ariefcatur/go-art-storefront/internal/catalog"
	"github.com/ariefcatur/go-art-storefront/internal/inventory"
	"github.com/ariefcatur/go-art-storefront/internal/metrics"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
	"github.com/ariefcatur/go-art-storefront/internal/shipping"
)

func placed(t *testing.T, f *fixture, method string, items ...ItemInput) orders.Order {
	t.Helper()
	req := request(items...)
	req.ShippingMethod = method
	req.ShippingCost = cost("90")
	o, err := f.svc.Place(context.Background(), "u1", req)
	require.NoError(t, err)
	return o
}

func TestTransition_WalksTheLifecycle(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := placed(t, f, "standard", ItemInput{"lotus", 1})

	for _, to := range []orders.Status{orders.StatusConfirmed, orders.StatusInProgress, orders.StatusShipped, orders.StatusDelivered} {
		got, err := f.svc.Transition(ctx, o.ID, to)
		require.NoError(t, err, "to %s", to)
		assert.Equal(t, to, got.OrderStatus)
	}
	assert.Zero(t, f.shipper.calls, "standard orders are not booked with the carrier")

	_, err := f.svc.Transition(ctx, o.ID, orders.StatusCancelled)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.EqualError(t, err, "Cannot change order status from delivered to cancelled")

	cs, ok, _ := f.cache.Get(ctx, o.ID)
	require.True(t, ok)
	assert.Equal(t, orders.StatusDelivered, cs.Status)
}

func TestTransition_RejectsSkipsAndUnknownStatus(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := placed(t, f, "standard", ItemInput{"lotus", 1})

	_, err := f.svc.Transition(context.Background(), o.ID, orders.StatusShipped)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.Transition(context.Background(), o.ID, "lost")
	assert.EqualError(t, err, "Invalid order status")

	_, err = f.svc.Transition(context.Background(), "ghost", orders.StatusConfirmed)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestTransition_CancelReturnsStockOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := placed(t, f, "standard", ItemInput{"lotus", 2}, ItemInput{"bells", 1})
	require.Equal(t, 3, f.stock(t, "lotus"))

	got, err := f.svc.Transition(ctx, o.ID, orders.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.OrderStatus)
	assert.Equal(t, 5, f.stock(t, "lotus"))
	assert.Equal(t, 1, f.stock(t, "bells"))

	again, err := f.svc.Transition(ctx, o.ID, orders.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, again.OrderStatus)
	assert.Equal(t, 5, f.stock(t, "lotus"))
	assert.Equal(t, 1, f.stock(t, "bells"))
	assert.Equal(t, []string{orders.EventOrderPlaced, orders.EventOrderStatusChanged}, f.events.types())
}

// brokenRestock fails the first failures calls to ReleaseOrder.
type brokenRestock struct {
	*catalog.MemoryStore
	failures int
}

func (b *brokenRestock) ReleaseOrder(ctx context.Context, orderID string) (int, error) {
	if b.failures > 0 {
		b.failures--
		return 0, errDBDown
	}
	return b.MemoryStore.ReleaseOrder(ctx, orderID)
}

func TestTransition_FailedRestockIsRetriedByCancellingAgain(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := placed(t, f, "standard", ItemInput{"lotus", 2})
	require.Equal(t, 3, f.stock(t, "lotus"))

	engine := inventory.NewEngine(&brokenRestock{MemoryStore: f.store, failures: 1}, zaptest.NewLogger(t), metrics.NewRegistry())
	engine.Attempts = 1
	f.svc.Inventory = engine

	_, err := f.svc.Transition(ctx, o.ID, orders.StatusCancelled)
	require.Error(t, err)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
	assert.Equal(t, 3, f.stock(t, "lotus"))

	got, err := f.svc.Transition(ctx, o.ID, orders.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.OrderStatus)
	assert.Equal(t, 5, f.stock(t, "lotus"))
	assert.Equal(t, []string{orders.EventOrderPlaced, orders.EventOrderStatusChanged}, f.events.types())
}

func TestTransition_ShippingCarrierOrderBooksShipment(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := placed(t, f, "carrier", ItemInput{"lotus", 2})

	for _, to := range []orders.Status{orders.StatusConfirmed, orders.StatusInProgress} {
		_, err := f.svc.Transition(ctx, o.ID, to)
		require.NoError(t, err)
	}
	got, err := f.svc.Transition(ctx, o.ID, orders.StatusShipped)
	require.NoError(t, err)

	assert.Equal(t, "AWB-991", got.TrackingNumber)
	assert.Equal(t, 1, f.shipper.calls)
	assert.Equal(t, o.ID, f.shipper.last.OrderID)
	assert.Equal(t, "411001", f.shipper.last.Pincode)
	assert.Equal(t, []shipping.ShipmentItem{{Name: "Lotus Pond", SKU: "lotus", Units: 2, SellingPrice: 800}}, f.shipper.last.Items)
}

func TestTransition_CarrierBookingFailureKeepsStatus(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := placed(t, f, "carrier", ItemInput{"lotus", 1})
	for _, to := range []orders.Status{orders.StatusConfirmed, orders.StatusInProgress} {
		_, err := f.svc.Transition(ctx, o.ID, to)
		require.NoError(t, err)
	}
	f.shipper.err = errors.New("carrier 500")

	_, err := f.svc.Transition(ctx, o.ID, orders.StatusShipped)

	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	stored, _ := f.repo.Get(ctx, o.ID)
	assert.Equal(t, orders.StatusInProgress, stored.OrderStatus)
}

func TestSetPaymentStatus(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := placed(t, f, "standard", ItemInput{"lotus", 1})

	got, err := f.svc.SetPaymentStatus(ctx, o.ID, orders.PaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFailed, got.PaymentStatus)

	got, err = f.svc.SetPaymentStatus(ctx, o.ID, orders.PaymentPaid)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, o.TotalAmount, got.TotalAmount)

	_, err = f.svc.SetPaymentStatus(ctx, o.ID, orders.PaymentPending)
	assert.EqualError(t, err, "Cannot change payment status from paid to pending")

	_, err = f.svc.SetPaymentStatus(ctx, o.ID, "void")
	assert.EqualError(t, err, "Invalid payment status")
}

func TestGetAndStatus_OwnerOrAdminOnly(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := placed(t, f, "standard", ItemInput{"lotus", 1})

	_, err := f.svc.Get(ctx, Viewer{UserID: "u2"}, o.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.Get(ctx, Viewer{UserID: "u2", Admin: true}, o.ID)
	assert.NoError(t, err)

	_, err = f.svc.Status(ctx, Viewer{UserID: "u2"}, o.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	cs, err := f.svc.Status(ctx, Viewer{UserID: "u1"}, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPlaced, cs.Status)
}

func TestStatus_RefillsCacheOnMiss(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := placed(t, f, "standard", ItemInput{"lotus", 1})
	f.cache.m = nil

	cs, err := f.svc.Status(ctx, Viewer{UserID: "u1"}, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, cs.PaymentStatus)

	_, ok, _ := f.cache.Get(ctx, o.ID)
	assert.True(t, ok)
}

func TestListAll_FiltersByStatus(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a := placed(t, f, "standard", ItemInput{"lotus", 1})
	placed(t, f, "standard", ItemInput{"lotus", 1})
	_, err := f.svc.Transition(ctx, a.ID, orders.StatusConfirmed)
	require.NoError(t, err)

	got, err := f.svc.ListAll(ctx, orders.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	_, err = f.svc.ListAll(ctx, "bogus")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestQuote_PreviewsWithoutReserving(t *testing.T) {
	f := newFixture(t, nil, nil)

	q, err := f.svc.Quote(context.Background(), QuoteRequest{Items: []ItemInput{{"lotus", 2}}, PostalCode: "411001"})
	require.NoError(t, err)
	assert.Equal(t, int64(1600), q.Subtotal)
	assert.Equal(t, int64(75), q.ShippingCost)
	assert.Equal(t, shipping.SourceRule, q.Source)
	assert.Equal(t, 5, f.stock(t, "lotus"))

	_, err = f.svc.Quote(context.Background(), QuoteRequest{Items: []ItemInput{{"sketch", 1}}})
	assert.EqualError(t, err, "Old Sketch is not available")

	_, err = f.svc.Quote(context.Background(), QuoteRequest{Items: []ItemInput{{"lotus", 1}}, ShippingMethod: "carrier", ShippingCost: cost("-5")})
	assert.EqualError(t, err, "Invalid shipping cost")
}
