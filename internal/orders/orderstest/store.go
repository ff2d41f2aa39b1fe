// Package orderstest provides an in-memory orders.Store for tests. Units stage
// their writes privately and publish them on Commit; LockOrder blocks while
// another unit holds the same order, like SELECT ... FOR UPDATE.
package orderstest

import (
	"context"
	"github.com/google/uuid"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"sort"
	"sync"
	"time"
)

type Store struct {
	mu        sync.Mutex
	orders    map[string]orders.PurchaseOrder
	items     map[string]orders.Item
	snapshots map[string]orders.Snapshot
	shipments map[string]orders.Shipment
	ledger    []orders.LedgerEntry
	seq       int64

	rowMu sync.Mutex
	rows  map[string]*sync.Mutex

	// CommitErr, when set, makes every Commit fail after staging.
	CommitErr error
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:    map[string]orders.PurchaseOrder{},
		items:     map[string]orders.Item{},
		snapshots: map[string]orders.Snapshot{},
		shipments: map[string]orders.Shipment{},
		rows:      map[string]*sync.Mutex{},
	}
}

func (s *Store) Begin(ctx context.Context) (orders.Unit, error) {
	return &unit{
		s:         s,
		orders:    map[string]orders.PurchaseOrder{},
		deleted:   map[string]bool{},
		items:     map[string]orders.Item{},
		snapshots: map[string]orders.Snapshot{},
		shipments: map[string]orders.Shipment{},
	}, nil
}

func (s *Store) ExpiredOffers(ctx context.Context, now time.Time, limit int, skip []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}
	var due []orders.PurchaseOrder
	for _, o := range s.orders {
		if skipped[o.ID] {
			continue
		}
		if o.Status == orders.StatusOfferSent && o.OfferExpiresAt != nil && !o.OfferExpiresAt.After(now) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].OfferExpiresAt.Before(*due[j].OfferExpiresAt) })
	ids := make([]string, 0, len(due))
	for i, o := range due {
		if limit > 0 && i >= limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (s *Store) Load(ctx context.Context, orderID string) (orders.Aggregate, error) {
	u, _ := s.Begin(ctx)
	defer u.Rollback(ctx)
	uu := u.(*unit)

	o, ok := uu.order(orderID)
	if !ok {
		return orders.Aggregate{}, orders.ErrNotFound
	}
	agg := orders.Aggregate{Order: o}
	agg.Items, _ = uu.LockItems(ctx, orderID)
	agg.CustomerSnapshots, _ = uu.Snapshots(ctx, orderID, orders.PartyCustomer)
	agg.RefinerSnapshots, _ = uu.Snapshots(ctx, orderID, orders.PartyRefiner)
	if sh, err := uu.Shipment(ctx, o.InboundShipmentID); err == nil {
		agg.Inbound = &sh
	}
	if sh, err := uu.Shipment(ctx, o.ReturnShipmentID); err == nil {
		agg.Return = &sh
	}
	return agg, nil
}

// Order returns the committed order.
func (s *Store) Order(id string) (orders.PurchaseOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// Ledger returns the committed ledger entries in append order.
func (s *Store) Ledger() []orders.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.LedgerEntry(nil), s.ledger...)
}

// Snapshots returns every committed snapshot of an order for one party.
func (s *Store) Snapshots(orderID string, party orders.Party) []orders.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Snapshot
	for _, sn := range s.snapshots {
		if sn.OrderID == orderID && sn.Party == party {
			out = append(out, sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metal < out[j].Metal })
	return out
}

// Put stores an order directly, bypassing units; for test setup.
func (s *Store) Put(o orders.PurchaseOrder, items ...orders.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	for _, it := range items {
		s.items[it.ID] = it
	}
}

func (s *Store) rowLock(key string) *sync.Mutex {
	s.rowMu.Lock()
	defer s.rowMu.Unlock()
	m, ok := s.rows[key]
	if !ok {
		m = &sync.Mutex{}
		s.rows[key] = m
	}
	return m
}

type unit struct {
	s    *Store
	held []*sync.Mutex
	done bool

	orders    map[string]orders.PurchaseOrder
	deleted   map[string]bool
	items     map[string]orders.Item
	snapshots map[string]orders.Snapshot
	shipments map[string]orders.Shipment
	ledger    []orders.LedgerEntry
}

func (u *unit) lock(key string) {
	m := u.s.rowLock(key)
	m.Lock()
	u.held = append(u.held, m)
}

func (u *unit) release() {
	if u.done {
		return
	}
	u.done = true
	for i := len(u.held) - 1; i >= 0; i-- {
		u.held[i].Unlock()
	}
	u.held = nil
}

func (u *unit) order(id string) (orders.PurchaseOrder, bool) {
	if u.deleted[id] {
		return orders.PurchaseOrder{}, false
	}
	if o, ok := u.orders[id]; ok {
		return o, true
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	o, ok := u.s.orders[id]
	return o, ok
}

func (u *unit) LockOrder(ctx context.Context, orderID string) (orders.PurchaseOrder, error) {
	u.lock("order:" + orderID)
	o, ok := u.order(orderID)
	if !ok {
		return orders.PurchaseOrder{}, orders.ErrNotFound
	}
	return o, nil
}

func (u *unit) LockItems(ctx context.Context, orderID string) ([]orders.Item, error) {
	merged := map[string]orders.Item{}
	u.s.mu.Lock()
	for id, it := range u.s.items {
		if it.OrderID == orderID {
			merged[id] = it
		}
	}
	u.s.mu.Unlock()
	for id, it := range u.items {
		if it.OrderID == orderID {
			merged[id] = it
		}
	}
	out := make([]orders.Item, 0, len(merged))
	for _, it := range merged {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u *unit) OrderByKey(ctx context.Context, key string) (orders.PurchaseOrder, error) {
	u.lock("key:" + key)
	for _, o := range u.orders {
		if o.IdempotencyKey == key {
			return o, nil
		}
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, o := range u.s.orders {
		if key != "" && o.IdempotencyKey == key {
			return o, nil
		}
	}
	return orders.PurchaseOrder{}, orders.ErrNotFound
}

func (u *unit) InsertOrder(ctx context.Context, o *orders.PurchaseOrder) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	u.s.mu.Lock()
	u.s.seq++
	o.Number = u.s.seq
	u.s.mu.Unlock()
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	u.lock("order:" + o.ID)
	u.orders[o.ID] = *o
	return nil
}

func (u *unit) UpdateOrder(ctx context.Context, o orders.PurchaseOrder) error {
	if _, ok := u.order(o.ID); !ok {
		return orders.ErrNotFound
	}
	o.UpdatedAt = time.Now()
	u.orders[o.ID] = o
	return nil
}

func (u *unit) DeleteOrder(ctx context.Context, orderID string) error {
	if _, ok := u.order(orderID); !ok {
		return orders.ErrNotFound
	}
	delete(u.orders, orderID)
	u.deleted[orderID] = true
	return nil
}

func (u *unit) InsertItem(ctx context.Context, it *orders.Item) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	u.items[it.ID] = *it
	return nil
}

func (u *unit) UpdateItem(ctx context.Context, it orders.Item) error {
	items, _ := u.LockItems(ctx, it.OrderID)
	for _, cur := range items {
		if cur.ID == it.ID {
			u.items[it.ID] = it
			return nil
		}
	}
	return orders.ErrNotFound
}

func (u *unit) Snapshots(ctx context.Context, orderID string, party orders.Party) ([]orders.Snapshot, error) {
	merged := map[string]orders.Snapshot{}
	u.s.mu.Lock()
	for id, sn := range u.s.snapshots {
		if sn.OrderID == orderID && sn.Party == party {
			merged[id] = sn
		}
	}
	u.s.mu.Unlock()
	for id, sn := range u.snapshots {
		if sn.OrderID == orderID && sn.Party == party {
			merged[id] = sn
		}
	}
	out := make([]orders.Snapshot, 0, len(merged))
	for _, sn := range merged {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metal < out[j].Metal })
	return out, nil
}

func (u *unit) InsertSnapshot(ctx context.Context, sn *orders.Snapshot) error {
	existing, _ := u.Snapshots(ctx, sn.OrderID, sn.Party)
	for _, e := range existing {
		if e.Metal == sn.Metal {
			return orders.ErrAlreadyExists
		}
	}
	if sn.ID == "" {
		sn.ID = uuid.NewString()
	}
	u.snapshots[sn.ID] = *sn
	return nil
}

func (u *unit) UpdateSnapshot(ctx context.Context, sn orders.Snapshot) error {
	existing, _ := u.Snapshots(ctx, sn.OrderID, sn.Party)
	for _, e := range existing {
		if e.ID == sn.ID {
			u.snapshots[sn.ID] = sn
			return nil
		}
	}
	return orders.ErrNotFound
}

func (u *unit) Shipment(ctx context.Context, id string) (orders.Shipment, error) {
	if sh, ok := u.shipments[id]; ok {
		return sh, nil
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	sh, ok := u.s.shipments[id]
	if !ok {
		return orders.Shipment{}, orders.ErrNotFound
	}
	return sh, nil
}

func (u *unit) InsertShipment(ctx context.Context, sh *orders.Shipment) error {
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	sh.CreatedAt = time.Now()
	u.shipments[sh.ID] = *sh
	return nil
}

func (u *unit) UpdateShipment(ctx context.Context, sh orders.Shipment) error {
	if _, err := u.Shipment(ctx, sh.ID); err != nil {
		return err
	}
	u.shipments[sh.ID] = sh
	return nil
}

func (u *unit) AppendLedger(ctx context.Context, e *orders.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now()
	u.ledger = append(u.ledger, *e)
	return nil
}

func (u *unit) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}
	defer u.release()
	if u.s.CommitErr != nil {
		return u.s.CommitErr
	}

	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for id, o := range u.orders {
		u.s.orders[id] = o
	}
	for id, it := range u.items {
		u.s.items[id] = it
	}
	for id, sn := range u.snapshots {
		u.s.snapshots[id] = sn
	}
	for id, sh := range u.shipments {
		u.s.shipments[id] = sh
	}
	u.s.ledger = append(u.s.ledger, u.ledger...)
	for id := range u.deleted {
		delete(u.s.orders, id)
		for iid, it := range u.s.items {
			if it.OrderID == id {
				delete(u.s.items, iid)
			}
		}
		for sid, sn := range u.s.snapshots {
			if sn.OrderID == id {
				delete(u.s.snapshots, sid)
			}
		}
		for sid, sh := range u.s.shipments {
			if sh.OrderID == id {
				delete(u.s.shipments, sid)
			}
		}
	}
	return nil
}

func (u *unit) Rollback(ctx context.Context) error {
	u.release()
	return nil
}
