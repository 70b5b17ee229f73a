package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps orders in process. Used with STORE_DRIVER=memory and in
// tests.
type MemoryRepo struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{orders: make(map[string]Order)}
}

func (r *MemoryRepo) Create(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("insert order %s: duplicate id", o.ID)
	}
	r.orders[o.ID] = o.clone()
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o.clone(), nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	return r.filter(func(o Order) bool { return o.User == userID }), nil
}

func (r *MemoryRepo) List(_ context.Context, status Status) ([]Order, error) {
	return r.filter(func(o Order) bool { return status == "" || o.OrderStatus == status }), nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, id string, from, to Status, trackingNumber string) (Order, error) {
	if !CanTransition(from, to) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	return r.update(id, func(o *Order) bool {
		if o.OrderStatus != from {
			return false
		}
		o.OrderStatus = to
		if trackingNumber != "" {
			o.TrackingNumber = trackingNumber
		}
		return true
	})
}

func (r *MemoryRepo) UpdatePaymentStatus(_ context.Context, id string, from, to PaymentStatus) (Order, error) {
	if !CanTransitionPayment(from, to) {
		return Order{}, fmt.Errorf("%w: payment %s to %s", ErrInvalidTransition, from, to)
	}
	return r.update(id, func(o *Order) bool {
		if o.PaymentStatus != from {
			return false
		}
		o.PaymentStatus = to
		return true
	})
}

func (r *MemoryRepo) update(id string, apply func(*Order) bool) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !apply(&o) {
		return Order{}, ErrStaleStatus
	}
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	return o.clone(), nil
}

func (r *MemoryRepo) filter(keep func(Order) bool) []Order {
	r.mu.RLock()
	out := []Order{}
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o.clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
