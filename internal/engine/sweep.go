package engine

import (
	"context"
	"errors"
	"fmt"
	"github.com/jtj60/dorado-exchange-sub004/internal/negotiation"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"time"
)

const (
	defaultSweepBatch    = 100
	defaultSweepWorkers  = 4
	defaultSweepCooldown = 15 * time.Minute
)

// SweepReport summarizes one pass over expired offers.
type SweepReport struct {
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected"`
	// Skipped orders were resolved by someone else between listing and locking.
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
}

func (r SweepReport) Resolved() int { return len(r.Accepted) + len(r.Rejected) }

type sweepOutcome struct {
	id      string
	to      orders.Status
	skipped bool
	failed  bool
}

// ResolveExpiredOffers resolves every OFFER_SENT order whose window closed at
// or before now: unlocked offers are accepted, locked offers rejected. Orders
// already resolved are skipped, so running the sweep twice is harmless. The
// returned error joins the failures that were neither skips nor successes.
//
// An order that fails is left out of the listing until the cooldown has
// passed, so a batch of stuck orders cannot hide newer expired offers.
func (e *Engine) ResolveExpiredOffers(ctx context.Context, now time.Time) (SweepReport, error) {
	batch := e.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	workers := e.SweepWorkers
	if workers <= 0 {
		workers = defaultSweepWorkers
	}

	ids, err := e.Store.ExpiredOffers(ctx, now, batch, e.heldBack(now))
	if err != nil {
		return SweepReport{}, fmt.Errorf("list expired offers: %w", err)
	}

	p := pool.NewWithResults[sweepOutcome]().WithErrors().WithCollectErrored().WithMaxGoroutines(workers)
	for _, id := range ids {
		p.Go(func() (sweepOutcome, error) {
			to, err := e.ResolveExpiredOffer(ctx, id, now)
			switch {
			case err == nil:
				return sweepOutcome{id: id, to: to}, nil
			case errors.Is(err, orders.ErrStateViolation):
				return sweepOutcome{id: id, skipped: true}, nil
			default:
				return sweepOutcome{id: id, failed: true}, fmt.Errorf("order %s: %w", id, err)
			}
		})
	}
	outs, err := p.Wait()

	var rep SweepReport
	for _, out := range outs {
		switch {
		case out.failed:
			rep.Failed = append(rep.Failed, out.id)
			e.holdBack(out.id, now)
		case out.skipped:
			rep.Skipped = append(rep.Skipped, out.id)
		case out.to == orders.StatusAccepted:
			rep.Accepted = append(rep.Accepted, out.id)
		default:
			rep.Rejected = append(rep.Rejected, out.id)
		}
	}

	if len(ids) > 0 {
		e.log().Info("expired offers swept",
			zap.Int("due", len(ids)), zap.Int("accepted", len(rep.Accepted)),
			zap.Int("rejected", len(rep.Rejected)), zap.Int("skipped", len(rep.Skipped)),
			zap.Int("failed", len(rep.Failed)))
	}
	return rep, err
}

func (e *Engine) holdBack(orderID string, now time.Time) {
	cooldown := e.SweepCooldown
	if cooldown <= 0 {
		cooldown = defaultSweepCooldown
	}
	e.heldMu.Lock()
	defer e.heldMu.Unlock()
	if e.held == nil {
		e.held = map[string]time.Time{}
	}
	e.held[orderID] = now.Add(cooldown)
}

// heldBack lists orders still cooling down after a failed resolution and
// forgets the ones whose cooldown is over.
func (e *Engine) heldBack(now time.Time) []string {
	e.heldMu.Lock()
	defer e.heldMu.Unlock()
	var ids []string
	for id, until := range e.held {
		if !now.Before(until) {
			delete(e.held, id)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ResolveExpiredOffer applies the expiry policy to one order and returns the
// status it moved to. The order is re-read under its lock; if it is no longer
// an open, expired offer the call fails with a state violation and changes
// nothing.
func (e *Engine) ResolveExpiredOffer(ctx context.Context, orderID string, now time.Time) (orders.Status, error) {
	var to orders.Status
	err := e.inUnit(ctx, "resolve expired offer", func(ctx context.Context, u orders.Unit, p *Plan) error {
		o, err := u.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != orders.StatusOfferSent {
			return &orders.TransitionError{OrderID: o.ID, From: o.Status, To: negotiation.OnExpiry(o.SpotsLocked)}
		}
		t, ok := negotiation.ForOrder(o)
		if !ok {
			return fmt.Errorf("%w: order %s has no offer window", orders.ErrSettlementInconsistency, o.ID)
		}
		if !t.IsExpired(now) {
			return fmt.Errorf("%w: offer on order %s open until %s",
				orders.ErrStateViolation, o.ID, t.ExpiresAt.Format(time.RFC3339))
		}

		switch to = negotiation.OnExpiry(o.SpotsLocked); to {
		case orders.StatusAccepted:
			_, err = e.accept(ctx, u, p, o, true)
		default:
			_, err = e.reject(ctx, u, p, o, "", true)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return to, nil
}
