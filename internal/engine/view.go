package engine

import (
	"context"
	"errors"
	"github.com/jtj60/dorado-exchange-sub004/internal/negotiation"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/settlement"
)

// View is the read model of one order.
type View struct {
	orders.Aggregate
	// Breakdown is nil while the appraisal is incomplete.
	Breakdown *settlement.Breakdown
	Timer     *negotiation.Status
}

// View loads an order without locking it. Pricing errors other than an
// incomplete appraisal are returned, never hidden.
func (e *Engine) View(ctx context.Context, orderID string) (View, error) {
	agg, err := e.Store.Load(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	v := View{Aggregate: agg}

	if len(agg.Items) > 0 {
		b, err := settlement.Compute(settlement.Input{
			Order:    agg.Order,
			Items:    agg.Items,
			Customer: agg.CustomerSnapshots,
			Refiner:  agg.RefinerSnapshots,
		})
		switch {
		case err == nil:
			v.Breakdown = &b
		case !errors.Is(err, orders.ErrIncompleteAppraisal):
			return View{}, err
		}
	}

	if t, ok := negotiation.ForOrder(agg.Order); ok && agg.Order.Status == orders.StatusOfferSent {
		st := t.Status(e.now(), agg.Order.SpotsLocked)
		v.Timer = &st
	}
	return v, nil
}
