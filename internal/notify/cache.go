package notify

import (
	"context"
	"errors"
	"fmt"
	"github.com/goccy/go-json"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/redisx"
	"github.com/redis/go-redis/v9"
	"time"
)

// CachedStatus is what the status cache holds per order.
type CachedStatus struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type StatusCache struct {
	Redis *redis.Client
}

func (c *StatusCache) Put(ctx context.Context, t orders.Transition) error {
	b, err := json.Marshal(CachedStatus{OrderID: t.OrderID, Status: t.To, UpdatedAt: t.At})
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, t.OrderID), b, redisx.TTLStatusCache).Err()
}

func (c *StatusCache) Drop(ctx context.Context, orderID string) error {
	return c.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Err()
}

// Get returns the cached status; ok is false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	b, err := c.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var s CachedStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return CachedStatus{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return s, true, nil
}
