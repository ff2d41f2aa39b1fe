package orders

import (
	"context"
	"time"
)

// Store is the transactional row store behind the engine. Every mutation goes
// through a Unit; the read-only helpers never lock.
type Store interface {
	Begin(ctx context.Context) (Unit, error)
	// ExpiredOffers lists ids of OFFER_SENT orders whose offer expired at or
	// before now, oldest first, leaving out the ids in skip.
	ExpiredOffers(ctx context.Context, now time.Time, limit int, skip []string) ([]string, error)
	Load(ctx context.Context, orderID string) (Aggregate, error)
}

// Unit is one all-or-nothing unit of work. LockOrder serializes concurrent
// units on the same order until Commit or Rollback.
type Unit interface {
	LockOrder(ctx context.Context, orderID string) (PurchaseOrder, error)
	LockItems(ctx context.Context, orderID string) ([]Item, error)
	OrderByKey(ctx context.Context, key string) (PurchaseOrder, error)

	InsertOrder(ctx context.Context, o *PurchaseOrder) error
	UpdateOrder(ctx context.Context, o PurchaseOrder) error
	DeleteOrder(ctx context.Context, orderID string) error

	InsertItem(ctx context.Context, it *Item) error
	UpdateItem(ctx context.Context, it Item) error

	Snapshots(ctx context.Context, orderID string, party Party) ([]Snapshot, error)
	InsertSnapshot(ctx context.Context, s *Snapshot) error
	UpdateSnapshot(ctx context.Context, s Snapshot) error

	Shipment(ctx context.Context, id string) (Shipment, error)
	InsertShipment(ctx context.Context, s *Shipment) error
	UpdateShipment(ctx context.Context, s Shipment) error

	AppendLedger(ctx context.Context, e *LedgerEntry) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Aggregate is an order with everything needed to price and display it.
type Aggregate struct {
	Order             PurchaseOrder
	Items             []Item
	CustomerSnapshots []Snapshot
	RefinerSnapshots  []Snapshot
	Inbound           *Shipment
	Return            *Shipment
}
