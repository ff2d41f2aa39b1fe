// Package tracking turns carrier delivery events into received orders.
package tracking

import (
	"context"
	"errors"
	"fmt"
	kafkax "github.com/jtj60/dorado-exchange-sub004/internal/kafka"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Receiver interface {
	MarkReceived(ctx context.Context, orderID string) (orders.PurchaseOrder, error)
}

type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Handler struct {
	Engine Receiver
	Dedup  Deduper
	Log    *zap.Logger
}

// Handle processes one delivery event. It returns nil when the offset may be
// committed: on success, for duplicates, for orders already past IN_TRANSIT
// and for events that can never succeed.
func (h *Handler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		h.Log.Error("dropping undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventShipmentDelivered {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.ShipmentDeliveredPayload](env.Payload)
	if err != nil {
		h.Log.Error("dropping event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	fresh, err := h.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !fresh {
		return nil
	}

	_, err = h.Engine.MarkReceived(ctx, p.OrderID)
	switch {
	case err == nil:
		h.Log.Info("order received",
			zap.String("order_id", p.OrderID), zap.String("tracking_number", p.TrackingNumber))
		return nil
	case errors.Is(err, orders.ErrStateViolation):
		return nil
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrInvalidInput):
		h.Log.Warn("delivery for unknown order",
			zap.String("order_id", p.OrderID), zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if rerr := h.Dedup.Release(context.WithoutCancel(ctx), env.EventID); rerr != nil {
		h.Log.Warn("dedup release failed", zap.String("event_id", env.EventID), zap.Error(rerr))
	}
	return fmt.Errorf("mark received %s: %w", p.OrderID, err)
}

// RedisDedup claims event ids in Redis for one consuming service.
type RedisDedup struct {
	Redis   *redis.Client
	Service string
}

func (d *RedisDedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return redisx.Claim(ctx, d.Redis, d.Service, eventID)
}

func (d *RedisDedup) Release(ctx context.Context, eventID string) error {
	return redisx.Release(ctx, d.Redis, d.Service, eventID)
}
