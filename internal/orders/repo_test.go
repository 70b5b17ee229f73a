package orders_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-art-storefront/internal/orders"
	"github.com/ariefcatur/go-art-storefront/internal/postgres"
	"github.com/ariefcatur/go-art-storefront/internal/shipping"
)

func newPGRepo(t *testing.T) *orders.PGRepo {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	return &orders.PGRepo{DB: pool}
}

func TestPGRepo_CreateGetUpdate(t *testing.T) {
	r := newPGRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	o := orders.Order{
		ID:              uuid.NewString(),
		User:            uuid.NewString(),
		Items:           []orders.Item{{Product: "p1", Name: "Lotus", Quantity: 2, Price: 800}},
		Subtotal:        1600,
		ShippingCost:    75,
		TotalAmount:     1675,
		ShippingMethod:  shipping.MethodStandard,
		ShippingAddress: orders.Address{FullName: "A", City: "Pune", PostalCode: "411001", Country: "IN"},
		PaymentStatus:   orders.PaymentPending,
		OrderStatus:     orders.StatusPlaced,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, r.Create(ctx, o))

	got, err := r.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Items, got.Items)
	assert.Equal(t, o.ShippingAddress, got.ShippingAddress)
	assert.Equal(t, int64(1675), got.TotalAmount)

	upd, err := r.UpdateStatus(ctx, o.ID, orders.StatusPlaced, orders.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, upd.OrderStatus)

	_, err = r.UpdateStatus(ctx, o.ID, orders.StatusPlaced, orders.StatusCancelled, "")
	assert.ErrorIs(t, err, orders.ErrStaleStatus)
	_, err = r.UpdateStatus(ctx, uuid.NewString(), orders.StatusPlaced, orders.StatusCancelled, "")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	_, err = r.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, orders.StatusDelivered, "")
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	mine, err := r.ListByUser(ctx, o.User)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, o.ID, mine[0].ID)
}
