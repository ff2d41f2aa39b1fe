// Package notify fans committed order transitions out to Kafka and keeps the
// Redis status cache fresh.
package notify

import (
	"context"
	"errors"
	"fmt"
	kafkax "github.com/jtj60/dorado-exchange-sub004/internal/kafka"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
)

type Publisher interface {
	PublishEnvelope(env orders.Envelope) error
}

type Cache interface {
	Put(ctx context.Context, t orders.Transition) error
	Drop(ctx context.Context, orderID string) error
}

type Notifier struct {
	Producer Publisher
	Cache    Cache
	Service  string
}

// Notify publishes t as an order event and updates the cached status. Both
// are attempted; their failures are joined.
func (n *Notifier) Notify(ctx context.Context, t orders.Transition) error {
	var errs []error

	env, err := kafkax.NewEnvelope(t.Event, n.Service, t.OrderID, t)
	if err != nil {
		errs = append(errs, err)
	} else if err := n.Producer.PublishEnvelope(env); err != nil {
		errs = append(errs, fmt.Errorf("publish %s: %w", t.Event, err))
	}

	if n.Cache != nil {
		if t.Event == orders.EventOrderPurged {
			err = n.Cache.Drop(ctx, t.OrderID)
		} else {
			err = n.Cache.Put(ctx, t)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("status cache: %w", err))
		}
	}
	return errors.Join(errs...)
}
