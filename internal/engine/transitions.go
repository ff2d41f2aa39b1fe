package engine

import (
	"context"
	"fmt"
	"github.com/jtj60/dorado-exchange-sub004/internal/negotiation"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/settlement"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"time"
)

// MarkReceived moves an in-transit order to RECEIVED once the carrier reports
// the inbound shipment delivered.
func (e *Engine) MarkReceived(ctx context.Context, orderID string) (orders.PurchaseOrder, error) {
	var out orders.PurchaseOrder
	err := e.inUnit(ctx, "mark received", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := orders.Guard(o, orders.StatusReceived); err != nil {
			return err
		}
		inbound, err := u.Shipment(ctx, o.InboundShipmentID)
		if err != nil {
			return fmt.Errorf("inbound shipment of order %s: %w", o.ID, err)
		}
		tr, err := e.Carrier.Tracking(ctx, inbound.TrackingNumber)
		if err != nil {
			return orders.Downstream("carrier tracking", err)
		}
		if !tr.Delivered {
			return fmt.Errorf("%w: %s is %s", orders.ErrNotDelivered, inbound.TrackingNumber, tr.Status)
		}

		inbound.Status = "DELIVERED"
		if err := u.UpdateShipment(ctx, inbound); err != nil {
			return err
		}
		from := o.Status
		o.Status = orders.StatusReceived
		if err := u.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o
		p.Emit(transition(o, from, orders.EventOrderReceived, e.now()))
		return nil
	})
	return out, err
}

// CaptureRefinerSnapshot records the refiner's quote for one metal, replacing
// bid and ask if the metal was already quoted. Snapshots are frozen once the
// order is accepted.
func (e *Engine) CaptureRefinerSnapshot(ctx context.Context, orderID string, metal orders.Metal, bid, ask decimal.Decimal) (orders.Snapshot, error) {
	if !metal.Valid() {
		return orders.Snapshot{}, fmt.Errorf("%w: unknown metal %q", orders.ErrInvalidInput, metal)
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		return orders.Snapshot{}, fmt.Errorf("%w: bid and ask must be positive", orders.ErrInvalidInput)
	}

	var out orders.Snapshot
	err := e.inUnit(ctx, "capture refiner snapshot", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Settled() {
			return fmt.Errorf("%w: refiner snapshot of order %s is frozen in %s",
				orders.ErrInvalidTransition, o.ID, o.Status)
		}
		existing, err := u.Snapshots(ctx, orderID, orders.PartyRefiner)
		if err != nil {
			return err
		}
		for _, s := range existing {
			if s.Metal != metal {
				continue
			}
			s.Bid, s.Ask, s.CapturedAt = bid, ask, e.now()
			out = s
			return u.UpdateSnapshot(ctx, s)
		}
		out = orders.Snapshot{
			OrderID:         orderID,
			Metal:           metal,
			Party:           orders.PartyRefiner,
			Bid:             bid,
			Ask:             ask,
			ScrapMultiplier: decimal.NewFromInt(1),
			CapturedAt:      e.now(),
		}
		return u.InsertSnapshot(ctx, &out)
	})
	return out, err
}

// SetRefinerPremium records the refiner's premium for one item. Premiums can
// change until the offer goes out.
func (e *Engine) SetRefinerPremium(ctx context.Context, orderID, itemID string, premium decimal.Decimal) (orders.Item, error) {
	if premium.LessThanOrEqual(decimal.NewFromInt(-1)) {
		return orders.Item{}, fmt.Errorf("%w: premium %s must be greater than -1", orders.ErrInvalidInput, premium)
	}

	var out orders.Item
	err := e.inUnit(ctx, "set refiner premium", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != orders.StatusInTransit && o.Status != orders.StatusReceived {
			return fmt.Errorf("%w: order %s is %s, appraisal is closed", orders.ErrStateViolation, o.ID, o.Status)
		}
		items, err := u.LockItems(ctx, orderID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.ID != itemID {
				continue
			}
			prem := premium
			it.RefinerPremium = &prem
			out = it
			return u.UpdateItem(ctx, it)
		}
		return fmt.Errorf("item %s on order %s: %w", itemID, orderID, orders.ErrNotFound)
	})
	return out, err
}

// SendOffer prices the appraised order and opens the negotiation window.
func (e *Engine) SendOffer(ctx context.Context, orderID string) (orders.PurchaseOrder, settlement.Breakdown, error) {
	var (
		out orders.PurchaseOrder
		b   settlement.Breakdown
	)
	err := e.inUnit(ctx, "send offer", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := orders.Guard(o, orders.StatusOfferSent); err != nil {
			return err
		}
		b, err = price(ctx, u, o)
		if err != nil {
			return err
		}

		now := e.now()
		amount := b.OfferAmount()
		expires := now.Add(e.Policy.Window(o.SpotsLocked))
		from := o.Status
		o.OfferAmount = &amount
		o.OfferSentAt = &now
		o.OfferExpiresAt = &expires
		o.Status = orders.StatusOfferSent
		if err := u.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o

		t := transition(o, from, orders.EventOfferSent, now)
		t.Amount = &amount
		t.ExpiresAt = &expires
		p.Emit(t)
		return nil
	})
	if err != nil {
		return orders.PurchaseOrder{}, settlement.Breakdown{}, err
	}
	e.log().Info("offer sent",
		zap.String("order_id", out.ID), zap.String("amount", out.OfferAmount.StringFixed(2)),
		zap.Timep("expires_at", out.OfferExpiresAt))
	return out, b, nil
}

// price loads the order's items and both parties' snapshots and computes the
// breakdown. An order without items is not appraised.
func price(ctx context.Context, u orders.Unit, o orders.PurchaseOrder) (settlement.Breakdown, error) {
	items, err := u.LockItems(ctx, o.ID)
	if err != nil {
		return settlement.Breakdown{}, err
	}
	if len(items) == 0 {
		return settlement.Breakdown{}, fmt.Errorf("%w: order %s has no items", orders.ErrIncompleteAppraisal, o.ID)
	}
	customer, err := u.Snapshots(ctx, o.ID, orders.PartyCustomer)
	if err != nil {
		return settlement.Breakdown{}, err
	}
	refiner, err := u.Snapshots(ctx, o.ID, orders.PartyRefiner)
	if err != nil {
		return settlement.Breakdown{}, err
	}
	return settlement.Compute(settlement.Input{Order: o, Items: items, Customer: customer, Refiner: refiner})
}

// Accept fixes the order's price at the quoted offer and credits the
// customer. It is valid from OFFER_SENT and from REJECTED.
func (e *Engine) Accept(ctx context.Context, orderID string) (orders.PurchaseOrder, error) {
	var out orders.PurchaseOrder
	err := e.inUnit(ctx, "accept", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == orders.StatusOfferSent && o.SpotsLocked {
			if t, ok := negotiation.ForOrder(o); ok && t.IsExpired(e.now()) {
				return fmt.Errorf("%w: locked offer on order %s expired at %s",
					orders.ErrStateViolation, o.ID, t.ExpiresAt.Format(time.RFC3339))
			}
		}
		out, err = e.accept(ctx, u, p, o, false)
		return err
	})
	return out, err
}

func (e *Engine) accept(ctx context.Context, u orders.Unit, p *Plan, o orders.PurchaseOrder, automatic bool) (orders.PurchaseOrder, error) {
	if err := orders.Guard(o, orders.StatusAccepted); err != nil {
		return o, err
	}
	if o.OfferAmount == nil {
		return o, fmt.Errorf("%w: order %s has no quoted offer", orders.ErrSettlementInconsistency, o.ID)
	}
	if o.TotalPrice != nil {
		return o, fmt.Errorf("%w: order %s is already priced at %s",
			orders.ErrSettlementInconsistency, o.ID, o.TotalPrice.StringFixed(2))
	}
	b, err := price(ctx, u, o)
	if err != nil {
		return o, err
	}
	if !b.OfferAmount().Equal(*o.OfferAmount) {
		return o, fmt.Errorf("%w: order %s quoted %s but now prices at %s",
			orders.ErrSettlementInconsistency, o.ID, o.OfferAmount.StringFixed(2), b.OfferAmount().StringFixed(2))
	}

	now := e.now()
	from := o.Status
	total := *o.OfferAmount
	o.TotalPrice = &total
	o.Status = orders.StatusAccepted

	if from == orders.StatusRejected && o.ReturnShipmentID != "" {
		ret, err := u.Shipment(ctx, o.ReturnShipmentID)
		if err != nil {
			return o, fmt.Errorf("return shipment of order %s: %w", o.ID, err)
		}
		if ret.LabelID != "" && ret.Status != "CANCELLED" {
			label := ret.LabelID
			p.Call(Step{
				Name: "cancel return label",
				Do:   func(ctx context.Context) error { return e.Carrier.CancelLabel(ctx, label) },
			})
		}
		ret.Status = "CANCELLED"
		if err := u.UpdateShipment(ctx, ret); err != nil {
			return o, err
		}
	}

	if err := u.AppendLedger(ctx, &orders.LedgerEntry{
		UserID:  o.UserID,
		OrderID: o.ID,
		Kind:    orders.LedgerCredit,
		Amount:  total,
		Memo:    fmt.Sprintf("purchase order #%d accepted", o.Number),
	}); err != nil {
		return o, err
	}
	if err := u.UpdateOrder(ctx, o); err != nil {
		return o, err
	}

	t := transition(o, from, orders.EventOfferAccepted, now)
	t.Automatic = automatic
	t.Amount = &total
	p.Emit(t)
	return o, nil
}

// Reject declines the offer. The customer's items go back through a return
// shipment whose label is created here; automatic rejections do the same.
func (e *Engine) Reject(ctx context.Context, orderID, notes string) (orders.PurchaseOrder, error) {
	var out orders.PurchaseOrder
	err := e.inUnit(ctx, "reject", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		out, err = e.reject(ctx, u, p, o, notes, false)
		return err
	})
	return out, err
}

func (e *Engine) reject(ctx context.Context, u orders.Unit, p *Plan, o orders.PurchaseOrder, notes string, automatic bool) (orders.PurchaseOrder, error) {
	if err := orders.Guard(o, orders.StatusRejected); err != nil {
		return o, err
	}
	now := e.now()
	from := o.Status
	o.Status = orders.StatusRejected
	if notes != "" {
		o.Notes = notes
	}

	ret := &orders.Shipment{
		OrderID:   o.ID,
		Direction: orders.ShipmentReturn,
		Status:    "PENDING",
	}
	if err := u.InsertShipment(ctx, ret); err != nil {
		return o, err
	}
	o.ReturnShipmentID = ret.ID
	p.Call(e.returnLabel(u, o.ID, ret))
	if err := u.UpdateOrder(ctx, o); err != nil {
		return o, err
	}

	t := transition(o, from, orders.EventOfferRejected, now)
	t.Automatic = automatic
	p.Emit(t)
	return o, nil
}

// returnLabel asks the carrier for a return label and stores it on ret.
func (e *Engine) returnLabel(u orders.Unit, orderID string, ret *orders.Shipment) Step {
	var labelID string
	return Step{
		Name: "create return label",
		Do: func(ctx context.Context) error {
			l, err := e.Carrier.CreateReturnLabel(ctx, orderID)
			if err != nil {
				return err
			}
			ret.Carrier, ret.TrackingNumber, ret.LabelID = l.Carrier, l.TrackingNumber, l.LabelID
			ret.Status = "ACTIVE"
			if err := u.UpdateShipment(ctx, *ret); err != nil {
				_ = e.Carrier.CancelLabel(context.WithoutCancel(ctx), l.LabelID)
				return err
			}
			labelID = l.LabelID
			return nil
		},
		Undo: func(ctx context.Context) error { return e.Carrier.CancelLabel(ctx, labelID) },
	}
}

// IssueReturnLabel creates the return label of a rejected order that has
// none. An order that already has one is returned unchanged.
func (e *Engine) IssueReturnLabel(ctx context.Context, orderID string) (orders.Shipment, error) {
	var out orders.Shipment
	err := e.inUnit(ctx, "issue return label", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != orders.StatusRejected {
			return fmt.Errorf("%w: order %s is %s, return labels are issued for rejected orders",
				orders.ErrStateViolation, o.ID, o.Status)
		}
		if o.ReturnShipmentID == "" {
			return fmt.Errorf("%w: order %s has no return shipment", orders.ErrSettlementInconsistency, o.ID)
		}
		ret, err := u.Shipment(ctx, o.ReturnShipmentID)
		if err != nil {
			return fmt.Errorf("return shipment of order %s: %w", o.ID, err)
		}
		out = ret
		if ret.LabelID != "" {
			return nil
		}
		p.Call(e.returnLabel(u, o.ID, &out))
		return nil
	})
	return out, err
}

// Cancel closes a rejected order once both shipping legs are invoiced. The
// charges are debited from the customer's balance unless shipping was paid.
func (e *Engine) Cancel(ctx context.Context, orderID string) (orders.PurchaseOrder, error) {
	var out orders.PurchaseOrder
	err := e.inUnit(ctx, "cancel", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := orders.Guard(o, orders.StatusCancelled); err != nil {
			return err
		}
		if o.ReturnShipmentID == "" {
			return fmt.Errorf("%w: order %s has no return shipment", orders.ErrSettlementInconsistency, o.ID)
		}
		inbound, err := u.Shipment(ctx, o.InboundShipmentID)
		if err != nil {
			return fmt.Errorf("inbound shipment of order %s: %w", o.ID, err)
		}
		ret, err := u.Shipment(ctx, o.ReturnShipmentID)
		if err != nil {
			return fmt.Errorf("return shipment of order %s: %w", o.ID, err)
		}
		if ret.LabelID == "" {
			return fmt.Errorf("%w: order %s has no return label yet", orders.ErrStateViolation, o.ID)
		}

		p.Call(Step{
			Name: "shipping charges",
			Do: func(ctx context.Context) error {
				in, err := e.Carrier.ShipmentCharge(ctx, inbound.TrackingNumber)
				if err != nil {
					return fmt.Errorf("inbound %s: %w", inbound.TrackingNumber, err)
				}
				back, err := e.Carrier.ShipmentCharge(ctx, ret.TrackingNumber)
				if err != nil {
					return fmt.Errorf("return %s: %w", ret.TrackingNumber, err)
				}
				inbound.Charge, ret.Charge = &in, &back
				if err := u.UpdateShipment(ctx, inbound); err != nil {
					return err
				}
				if err := u.UpdateShipment(ctx, ret); err != nil {
					return err
				}
				due := in.Add(back)
				if o.ShippingPaid || !due.IsPositive() {
					return nil
				}
				return u.AppendLedger(ctx, &orders.LedgerEntry{
					UserID:  o.UserID,
					OrderID: o.ID,
					Kind:    orders.LedgerDebit,
					Amount:  due,
					Memo:    fmt.Sprintf("purchase order #%d return shipping", o.Number),
				})
			},
		})

		from := o.Status
		o.Status = orders.StatusCancelled
		if err := u.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o
		p.Emit(transition(o, from, orders.EventOrderCancelled, e.now()))
		return nil
	})
	return out, err
}

// ConfirmPayout starts disbursing the accepted price, less the payout fee,
// through the chosen method. An empty method keeps the one chosen at intake.
func (e *Engine) ConfirmPayout(ctx context.Context, orderID, method string) (orders.PurchaseOrder, error) {
	var out orders.PurchaseOrder
	err := e.inUnit(ctx, "confirm payout", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := orders.Guard(o, orders.StatusPaymentProcessing); err != nil {
			return err
		}
		if method != "" {
			o.PayoutMethod = method
		}
		if o.PayoutMethod == "" {
			return fmt.Errorf("%w: order %s has no payout method", orders.ErrInvalidInput, o.ID)
		}
		if o.TotalPrice == nil {
			return fmt.Errorf("%w: accepted order %s has no total price", orders.ErrSettlementInconsistency, o.ID)
		}
		amount := o.TotalPrice.Sub(o.PayoutFee)
		if amount.IsNegative() {
			return fmt.Errorf("%w: payout fee %s exceeds total %s on order %s",
				orders.ErrSettlementInconsistency, o.PayoutFee.StringFixed(2), o.TotalPrice.StringFixed(2), o.ID)
		}

		from := o.Status
		o.Status = orders.StatusPaymentProcessing
		var entries []orders.LedgerEntry
		if amount.IsPositive() {
			entries = append(entries, orders.LedgerEntry{
				UserID: o.UserID, OrderID: o.ID, Kind: orders.LedgerDebit, Amount: amount,
				Memo: fmt.Sprintf("purchase order #%d payout via %s", o.Number, o.PayoutMethod),
			})
		}
		if o.PayoutFee.IsPositive() {
			entries = append(entries, orders.LedgerEntry{
				UserID: o.UserID, OrderID: o.ID, Kind: orders.LedgerDebit, Amount: o.PayoutFee,
				Memo: fmt.Sprintf("purchase order #%d payout fee", o.Number),
			})
		}
		for i := range entries {
			if err := u.AppendLedger(ctx, &entries[i]); err != nil {
				return err
			}
		}

		// Nothing is left to disburse when the fee eats the whole price.
		if amount.IsPositive() {
			var ref string
			p.Call(Step{
				Name: "payout disburse",
				Do: func(ctx context.Context) error {
					r, err := e.Payout.Disburse(ctx, orders.PayoutRequest{
						OrderID:        o.ID,
						UserID:         o.UserID,
						Method:         o.PayoutMethod,
						Amount:         amount,
						IdempotencyKey: "payout:" + o.ID,
					})
					if err != nil {
						return err
					}
					o.PayoutRef = r
					if err := u.UpdateOrder(ctx, o); err != nil {
						if cerr := e.Payout.Cancel(context.WithoutCancel(ctx), r); cerr != nil {
							e.log().Error("payout void failed",
								zap.String("order_id", o.ID), zap.String("payout_ref", r), zap.Error(cerr))
						}
						return err
					}
					ref = r
					out = o
					return nil
				},
				Undo: func(ctx context.Context) error { return e.Payout.Cancel(ctx, ref) },
			})
		}
		if err := u.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o

		t := transition(o, from, orders.EventPayoutStarted, e.now())
		t.Amount = &amount
		p.Emit(t)
		return nil
	})
	return out, err
}

// Complete closes the order once the payout collaborator reports the
// disbursement settled.
func (e *Engine) Complete(ctx context.Context, orderID string) (orders.PurchaseOrder, error) {
	var out orders.PurchaseOrder
	err := e.inUnit(ctx, "complete", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := orders.Guard(o, orders.StatusCompleted); err != nil {
			return err
		}
		if o.TotalPrice == nil {
			return fmt.Errorf("%w: order %s has no total price", orders.ErrSettlementInconsistency, o.ID)
		}
		owed := o.TotalPrice.Sub(o.PayoutFee).IsPositive()
		switch {
		case o.PayoutRef == "" && owed:
			return fmt.Errorf("%w: order %s has no payout reference", orders.ErrSettlementInconsistency, o.ID)
		case o.PayoutRef != "":
			state, err := e.Payout.Status(ctx, o.PayoutRef)
			if err != nil {
				return orders.Downstream("payout status", err)
			}
			if state != orders.PayoutSettled {
				return orders.Downstream("payout status", fmt.Errorf("payout %s is %s", o.PayoutRef, state))
			}
		}

		from := o.Status
		o.Status = orders.StatusCompleted
		if err := u.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out = o
		p.Emit(transition(o, from, orders.EventOrderCompleted, e.now()))
		return nil
	})
	return out, err
}

// Purge deletes a cancelled order with its items, snapshots and shipments.
// Ledger entries stay.
func (e *Engine) Purge(ctx context.Context, orderID string) error {
	return e.inUnit(ctx, "purge", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != orders.StatusCancelled {
			return fmt.Errorf("%w: order %s is %s, only cancelled orders can be purged",
				orders.ErrStateViolation, o.ID, o.Status)
		}
		if err := u.DeleteOrder(ctx, o.ID); err != nil {
			return err
		}
		p.Emit(transition(o, o.Status, orders.EventOrderPurged, e.now()))
		return nil
	})
}
