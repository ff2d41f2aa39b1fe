package engine

import (
	"context"
	"errors"
	"fmt"
	"github.com/jtj60/dorado-exchange-sub004/internal/negotiation"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders/orderstest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeFeed struct {
	quotes map[orders.Metal]orders.Quote
	err    error
}

func (f *fakeFeed) LiveSpots(ctx context.Context) (map[orders.Metal]orders.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

type fakeCarrier struct {
	mu          sync.Mutex
	delivered   map[string]bool
	charges     map[string]decimal.Decimal
	labelErr    error
	labelErrFor map[string]error // by order id
	seq         int
	labels      []string
	cancelled   []string
}

func (c *fakeCarrier) Tracking(ctx context.Context, trackingNumber string) (orders.Tracking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivered[trackingNumber] {
		return orders.Tracking{TrackingNumber: trackingNumber, Status: "DELIVERED", Delivered: true}, nil
	}
	return orders.Tracking{TrackingNumber: trackingNumber, Status: "IN_TRANSIT"}, nil
}

func (c *fakeCarrier) ShipmentCharge(ctx context.Context, trackingNumber string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.charges[trackingNumber]
	if !ok {
		return decimal.Zero, fmt.Errorf("no invoice for %s", trackingNumber)
	}
	return v, nil
}

func (c *fakeCarrier) CreateReturnLabel(ctx context.Context, orderID string) (orders.Label, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.labelErr != nil {
		return orders.Label{}, c.labelErr
	}
	if err := c.labelErrFor[orderID]; err != nil {
		return orders.Label{}, err
	}
	c.seq++
	l := orders.Label{
		Carrier:        "fedex",
		TrackingNumber: fmt.Sprintf("RET-%d", c.seq),
		LabelID:        fmt.Sprintf("LBL-%d", c.seq),
	}
	c.labels = append(c.labels, l.LabelID)
	return l, nil
}

func (c *fakeCarrier) CancelLabel(ctx context.Context, labelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, labelID)
	return nil
}

type fakePayout struct {
	mu        sync.Mutex
	err       error
	state     orders.PayoutState
	disbursed []orders.PayoutRequest
	cancelled []string
}

func (p *fakePayout) Disburse(ctx context.Context, req orders.PayoutRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.disbursed = append(p.disbursed, req)
	return fmt.Sprintf("po-%d", len(p.disbursed)), nil
}

func (p *fakePayout) Status(ctx context.Context, ref string) (orders.PayoutState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

func (p *fakePayout) Cancel(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, ref)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	events []orders.Transition
}

func (n *fakeNotifier) Notify(ctx context.Context, t orders.Transition) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, t)
	return n.err
}

func (n *fakeNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, t := range n.events {
		out = append(out, t.Event)
	}
	return out
}

func (n *fakeNotifier) last() orders.Transition {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

type harness struct {
	store   *orderstest.Store
	feed    *fakeFeed
	carrier *fakeCarrier
	payout  *fakePayout
	notes   *fakeNotifier
	eng     *Engine
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: orderstest.New(),
		feed: &fakeFeed{quotes: map[orders.Metal]orders.Quote{
			orders.Gold:     {Bid: d("200"), Ask: d("210"), ScrapMultiplier: d("1")},
			orders.Silver:   {Bid: d("50"), Ask: d("52"), ScrapMultiplier: d("1")},
			orders.Platinum: {Bid: d("900"), Ask: d("950"), ScrapMultiplier: d("0.95")},
		}},
		carrier: &fakeCarrier{delivered: map[string]bool{}, charges: map[string]decimal.Decimal{}},
		payout:  &fakePayout{state: orders.PayoutPending},
		notes:   &fakeNotifier{},
		now:     time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
	h.eng = &Engine{
		Store:    h.store,
		Spots:    h.feed,
		Carrier:  h.carrier,
		Payout:   h.payout,
		Notifier: h.notes,
		Policy:   negotiation.DefaultPolicy(),
		Now:      func() time.Time { return h.now },
	}
	return h
}

func intakeRequest(locked bool) IntakeRequest {
	return IntakeRequest{
		UserID:         "user-1",
		PayoutMethod:   "ach",
		PayoutFee:      d("5"),
		RefinerFee:     d("10"),
		SpotsLocked:    locked,
		Carrier:        "fedex",
		TrackingNumber: "IN-1",
		Items: []orders.Item{
			{
				Kind: orders.KindScrap, Metal: orders.Gold,
				GrossWeight: d("1"), WeightUnit: orders.UnitTroyOunce, Purity: d("1"),
			},
			{
				Kind: orders.KindBullion, Metal: orders.Silver,
				ProductID: "eagle-1oz", Quantity: 1, UnitContent: d("1"), PriceSide: orders.SideBid,
			},
		},
	}
}

func (h *harness) intake(t *testing.T, locked bool) orders.PurchaseOrder {
	t.Helper()
	o, err := h.eng.Intake(context.Background(), intakeRequest(locked))
	require.NoError(t, err)
	return o
}

// appraise receives the order and records a full refiner appraisal: gold at
// 230 and silver at 55 with zero refiner premiums.
func (h *harness) appraise(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	h.carrier.mu.Lock()
	h.carrier.delivered["IN-1"] = true
	h.carrier.mu.Unlock()

	_, err := h.eng.MarkReceived(ctx, id)
	require.NoError(t, err)
	_, err = h.eng.CaptureRefinerSnapshot(ctx, id, orders.Gold, d("230"), d("240"))
	require.NoError(t, err)
	_, err = h.eng.CaptureRefinerSnapshot(ctx, id, orders.Silver, d("55"), d("57"))
	require.NoError(t, err)

	agg, err := h.store.Load(ctx, id)
	require.NoError(t, err)
	for _, it := range agg.Items {
		_, err := h.eng.SetRefinerPremium(ctx, id, it.ID, decimal.Zero)
		require.NoError(t, err)
	}
}

func (h *harness) offer(t *testing.T, locked bool) orders.PurchaseOrder {
	t.Helper()
	o := h.intake(t, locked)
	h.appraise(t, o.ID)
	o, _, err := h.eng.SendOffer(context.Background(), o.ID)
	require.NoError(t, err)
	return o
}

func (h *harness) order(t *testing.T, id string) orders.PurchaseOrder {
	t.Helper()
	o, ok := h.store.Order(id)
	require.True(t, ok, "order %s not stored", id)
	return o
}

func ledgerFor(s *orderstest.Store, orderID string) []orders.LedgerEntry {
	var out []orders.LedgerEntry
	for _, e := range s.Ledger() {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

var errBoom = errors.New("boom")
