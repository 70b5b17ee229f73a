package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-art-storefront/internal/orders"
)

// StatusCache is a read-through cache of order status. The orders table stays
// the source of truth; a miss or a Redis error just means "ask the DB".
type StatusCache struct {
	RDB redis.Cmdable
}

type CachedStatus struct {
	OrderID        string               `json:"order_id"`
	UserID         string               `json:"user_id"`
	Status         orders.Status        `json:"status"`
	PaymentStatus  orders.PaymentStatus `json:"payment_status"`
	TrackingNumber string               `json:"tracking_number,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func StatusOf(o orders.Order) CachedStatus {
	return CachedStatus{
		OrderID:        o.ID,
		UserID:         o.User,
		Status:         o.OrderStatus,
		PaymentStatus:  o.PaymentStatus,
		TrackingNumber: o.TrackingNumber,
		UpdatedAt:      o.UpdatedAt.UTC(),
	}
}

func (c *StatusCache) Set(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(StatusOf(o))
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, o.ID), b, TTLStatusCache).Err()
}

// Get reports ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	raw, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var v CachedStatus
	if err := json.Unmarshal(raw, &v); err != nil {
		return CachedStatus{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return v, true, nil
}
