package engine

import (
	"context"
	"errors"
	"fmt"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"time"
)

type IntakeRequest struct {
	IdempotencyKey string
	UserID         string
	PayoutMethod   string
	PayoutFee      decimal.Decimal
	RefinerFee     decimal.Decimal
	SpotsLocked    bool
	ShippingPaid   bool
	Carrier        string
	TrackingNumber string
	PickupID       string
	Items          []orders.Item
}

func (r IntakeRequest) validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: missing user", orders.ErrInvalidInput)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: order has no items", orders.ErrInvalidInput)
	}
	if r.PayoutFee.IsNegative() || r.RefinerFee.IsNegative() {
		return fmt.Errorf("%w: fees must not be negative", orders.ErrInvalidInput)
	}
	for _, it := range r.Items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Intake creates an order in IN_TRANSIT together with its items, the inbound
// shipment stub and the customer spot snapshots. A retry carrying the same
// idempotency key returns the order created the first time.
func (e *Engine) Intake(ctx context.Context, req IntakeRequest) (orders.PurchaseOrder, error) {
	if err := req.validate(); err != nil {
		return orders.PurchaseOrder{}, err
	}
	spots, err := e.Spots.LiveSpots(ctx)
	if err != nil {
		return orders.PurchaseOrder{}, orders.Downstream("live spots", err)
	}

	var out orders.PurchaseOrder
	err = e.inUnit(ctx, "intake", func(ctx context.Context, u orders.Unit, p *Plan) error {
		if req.IdempotencyKey != "" {
			existing, err := u.OrderByKey(ctx, req.IdempotencyKey)
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, orders.ErrNotFound) {
				return err
			}
		}

		now := e.now()
		o := orders.PurchaseOrder{
			IdempotencyKey: req.IdempotencyKey,
			UserID:         req.UserID,
			Status:         orders.StatusInTransit,
			PayoutMethod:   req.PayoutMethod,
			PayoutFee:      req.PayoutFee,
			RefinerFee:     req.RefinerFee,
			SpotsLocked:    req.SpotsLocked,
			ShippingPaid:   req.ShippingPaid,
			PickupID:       req.PickupID,
		}
		if err := u.InsertOrder(ctx, &o); err != nil {
			return err
		}

		items := make([]orders.Item, 0, len(req.Items))
		for _, it := range req.Items {
			it.ID = ""
			it.OrderID = o.ID
			it.RefinerPremium = nil
			if err := u.InsertItem(ctx, &it); err != nil {
				return err
			}
			items = append(items, it)
		}

		inbound := orders.Shipment{
			OrderID:        o.ID,
			Direction:      orders.ShipmentInbound,
			Carrier:        req.Carrier,
			TrackingNumber: req.TrackingNumber,
			Status:         "ACTIVE",
		}
		if err := u.InsertShipment(ctx, &inbound); err != nil {
			return err
		}
		o.InboundShipmentID = inbound.ID
		if err := u.UpdateOrder(ctx, o); err != nil {
			return err
		}

		if _, err := captureCustomerSnapshot(ctx, u, o.ID, items, spots, now); err != nil {
			return err
		}

		out = o
		p.Emit(transition(o, "", orders.EventOrderCreated, now))
		return nil
	})
	if errors.Is(err, orders.ErrAlreadyExists) && req.IdempotencyKey != "" {
		// A concurrent intake with the same key committed first.
		return e.orderByKey(ctx, req.IdempotencyKey)
	}
	if err != nil {
		return orders.PurchaseOrder{}, err
	}
	e.log().Info("order intake",
		zap.String("order_id", out.ID), zap.Int64("number", out.Number), zap.Int("items", len(req.Items)))
	return out, nil
}

func (e *Engine) orderByKey(ctx context.Context, key string) (orders.PurchaseOrder, error) {
	u, err := e.Store.Begin(ctx)
	if err != nil {
		return orders.PurchaseOrder{}, err
	}
	defer func() { _ = u.Rollback(ctx) }()
	o, err := u.OrderByKey(ctx, key)
	if err != nil {
		return orders.PurchaseOrder{}, fmt.Errorf("intake %q: %w", key, err)
	}
	return o, nil
}

// CaptureCustomerSnapshot copies the given live quotes into customer snapshots
// for every metal among the order's items that has none yet. It returns the
// number of snapshots created; a second call creates none.
func (e *Engine) CaptureCustomerSnapshot(ctx context.Context, orderID string, spots map[orders.Metal]orders.Quote) (int, error) {
	var created int
	err := e.inUnit(ctx, "capture customer snapshot", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Settled() {
			return fmt.Errorf("%w: order %s is %s", orders.ErrInvalidTransition, o.ID, o.Status)
		}
		items, err := u.LockItems(ctx, orderID)
		if err != nil {
			return err
		}
		created, err = captureCustomerSnapshot(ctx, u, orderID, items, spots, e.now())
		return err
	})
	return created, err
}

func captureCustomerSnapshot(ctx context.Context, u orders.Unit, orderID string, items []orders.Item,
	spots map[orders.Metal]orders.Quote, now time.Time) (int, error) {
	existing, err := u.Snapshots(ctx, orderID, orders.PartyCustomer)
	if err != nil {
		return 0, err
	}
	have := make(map[orders.Metal]bool, len(existing))
	for _, s := range existing {
		have[s.Metal] = true
	}

	created := 0
	for _, it := range items {
		if have[it.Metal] {
			continue
		}
		q, ok := spots[it.Metal]
		if !ok {
			return created, orders.Downstream("live spots", fmt.Errorf("no quote for %s", it.Metal))
		}
		if !q.Bid.IsPositive() || !q.Ask.IsPositive() || !q.ScrapMultiplier.IsPositive() {
			return created, orders.Downstream("live spots", fmt.Errorf("unusable quote for %s", it.Metal))
		}
		s := orders.Snapshot{
			OrderID:         orderID,
			Metal:           it.Metal,
			Party:           orders.PartyCustomer,
			Bid:             q.Bid,
			Ask:             q.Ask,
			ScrapMultiplier: q.ScrapMultiplier,
			CapturedAt:      now,
		}
		if err := u.InsertSnapshot(ctx, &s); err != nil {
			return created, err
		}
		have[it.Metal] = true
		created++
	}
	return created, nil
}
