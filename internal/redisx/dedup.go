package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers which events a service has already handled.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

// Claim returns true the first time it sees eventID.
func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), 1, TTLDedup).Result()
}

// Forget drops a claim so a failed event is processed again on redelivery.
func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Err()
}
