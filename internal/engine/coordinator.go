package engine

import (
	"context"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"go.uber.org/zap"
)

// Step is a downstream call made as part of a transition. Do may stage more
// writes on the unit (e.g. store a payout reference); Undo compensates a
// completed Do when a later step or the commit fails.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// Plan collects what a transition wants to happen beyond its local writes.
type Plan struct {
	steps  []Step
	events []orders.Transition
}

func (p *Plan) Call(s Step) { p.steps = append(p.steps, s) }

func (p *Plan) Emit(t orders.Transition) { p.events = append(p.events, t) }

// txFunc locks, guards, computes and stages writes. Returning an error before
// any Call leaves nothing to undo.
type txFunc func(ctx context.Context, u orders.Unit, p *Plan) error

// inUnit runs fn inside one unit of work: local writes are staged, downstream
// steps run in order, and the unit commits only after every step succeeded.
// Any failure rolls the unit back and compensates completed steps in reverse.
// Events are published after commit and never affect the outcome.
func (e *Engine) inUnit(ctx context.Context, op string, fn txFunc) error {
	u, err := e.Store.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = u.Rollback(ctx)
		}
	}()

	var p Plan
	if err := fn(ctx, u, &p); err != nil {
		return err
	}

	done := 0
	for _, s := range p.steps {
		if err := s.Do(ctx); err != nil {
			e.compensate(ctx, op, p.steps[:done])
			e.log().Warn("transition rolled back",
				zap.String("op", op), zap.String("step", s.Name), zap.Error(err))
			return orders.Downstream(s.Name, err)
		}
		done++
	}

	if err := u.Commit(ctx); err != nil {
		e.compensate(ctx, op, p.steps)
		return err
	}
	committed = true

	for _, t := range p.events {
		e.publish(ctx, t)
	}
	return nil
}

func (e *Engine) compensate(ctx context.Context, op string, steps []Step) {
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.Undo == nil {
			continue
		}
		if err := s.Undo(context.WithoutCancel(ctx)); err != nil {
			e.log().Error("compensation failed",
				zap.String("op", op), zap.String("step", s.Name), zap.Error(err))
		}
	}
}

func (e *Engine) publish(ctx context.Context, t orders.Transition) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(context.WithoutCancel(ctx), t); err != nil {
		e.log().Warn("notify failed",
			zap.String("order_id", t.OrderID), zap.String("event", t.Event), zap.Error(err))
	}
}
