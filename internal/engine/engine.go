// Package engine drives purchase orders through negotiation and settlement.
// Every operation runs as one unit of work: the order row is locked, the
// current status is re-checked, monetary figures are derived, and all writes
// plus downstream calls either commit together or not at all.
package engine

import (
	"context"
	"github.com/jtj60/dorado-exchange-sub004/internal/negotiation"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"sync"
	"time"
)

type SpotFeed interface {
	LiveSpots(ctx context.Context) (map[orders.Metal]orders.Quote, error)
}

type Carrier interface {
	Tracking(ctx context.Context, trackingNumber string) (orders.Tracking, error)
	// ShipmentCharge returns the invoiced charge of a shipment; an error means
	// the amount is not known yet.
	ShipmentCharge(ctx context.Context, trackingNumber string) (decimal.Decimal, error)
	CreateReturnLabel(ctx context.Context, orderID string) (orders.Label, error)
	CancelLabel(ctx context.Context, labelID string) error
}

type Payout interface {
	Disburse(ctx context.Context, req orders.PayoutRequest) (string, error)
	Status(ctx context.Context, ref string) (orders.PayoutState, error)
	Cancel(ctx context.Context, ref string) error
}

type Notifier interface {
	Notify(ctx context.Context, t orders.Transition) error
}

type Engine struct {
	Store    orders.Store
	Spots    SpotFeed
	Carrier  Carrier
	Payout   Payout
	Notifier Notifier
	Log      *zap.Logger
	Policy   negotiation.Policy
	Now      func() time.Time

	SweepBatch    int
	SweepWorkers  int
	SweepCooldown time.Duration

	heldMu sync.Mutex
	held   map[string]time.Time
}

func (e *Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func transition(o orders.PurchaseOrder, from orders.Status, event string, at time.Time) orders.Transition {
	return orders.Transition{
		OrderID: o.ID,
		Number:  o.Number,
		UserID:  o.UserID,
		From:    from,
		To:      o.Status,
		Event:   event,
		At:      at,
	}
}
