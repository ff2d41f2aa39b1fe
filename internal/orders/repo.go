package orders

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"time"
)

// Repo is the PostgreSQL Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const orderColumns = `id, number, COALESCE(idempotency_key, ''), user_id, status, payout_method,
	payout_fee, refiner_fee, spots_locked, shipping_paid, offer_sent_at, offer_expires_at,
	offer_amount, total_price, notes, payout_ref,
	COALESCE(inbound_shipment_id::text, ''), COALESCE(return_shipment_id::text, ''), pickup_id,
	created_at, updated_at`

const itemColumns = `id, order_id, kind, metal, premium, gross_weight, weight_unit, purity,
	product_id, quantity, unit_content, price_side, refiner_premium`

const snapshotColumns = `id, order_id, metal, party, bid, ask, scrap_multiplier, captured_at`

const shipmentColumns = `id, order_id, direction, carrier, tracking_number, label_id, status, charge, created_at`

func (r *Repo) Begin(ctx context.Context) (Unit, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgUnit{tx: tx}, nil
}

func (r *Repo) ExpiredOffers(ctx context.Context, now time.Time, limit int, skip []string) ([]string, error) {
	if skip == nil {
		skip = []string{}
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id::text FROM purchase_orders
		WHERE status = $1 AND offer_expires_at <= $2
		  AND NOT (id::text = ANY($4::text[]))
		ORDER BY offer_expires_at
		LIMIT $3`, string(StatusOfferSent), now, limit, skip)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Load reads an order and its dependents without locking.
func (r *Repo) Load(ctx context.Context, orderID string) (Aggregate, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return Aggregate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u := &pgUnit{tx: tx}
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, orderID))
	if err != nil {
		return Aggregate{}, err
	}
	agg := Aggregate{Order: o}
	if agg.Items, err = u.items(ctx, orderID, ""); err != nil {
		return Aggregate{}, err
	}
	if agg.CustomerSnapshots, err = u.Snapshots(ctx, orderID, PartyCustomer); err != nil {
		return Aggregate{}, err
	}
	if agg.RefinerSnapshots, err = u.Snapshots(ctx, orderID, PartyRefiner); err != nil {
		return Aggregate{}, err
	}
	if o.InboundShipmentID != "" {
		s, err := u.Shipment(ctx, o.InboundShipmentID)
		if err != nil {
			return Aggregate{}, err
		}
		agg.Inbound = &s
	}
	if o.ReturnShipmentID != "" {
		s, err := u.Shipment(ctx, o.ReturnShipmentID)
		if err != nil {
			return Aggregate{}, err
		}
		agg.Return = &s
	}
	return agg, nil
}

type pgUnit struct{ tx pgx.Tx }

func (u *pgUnit) Commit(ctx context.Context) error   { return u.tx.Commit(ctx) }
func (u *pgUnit) Rollback(ctx context.Context) error { return u.tx.Rollback(ctx) }

// LockOrder: row lock held until the unit ends, so guards re-read inside it.
func (u *pgUnit) LockOrder(ctx context.Context, orderID string) (PurchaseOrder, error) {
	return scanOrder(u.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, orderID))
}

func (u *pgUnit) LockItems(ctx context.Context, orderID string) ([]Item, error) {
	return u.items(ctx, orderID, " FOR UPDATE")
}

func (u *pgUnit) OrderByKey(ctx context.Context, key string) (PurchaseOrder, error) {
	return scanOrder(u.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE idempotency_key=$1 FOR UPDATE`, key))
}

func (u *pgUnit) InsertOrder(ctx context.Context, o *PurchaseOrder) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	err := u.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (id, idempotency_key, user_id, status, payout_method, payout_fee,
			refiner_fee, spots_locked, shipping_paid, notes, pickup_id)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING number, created_at, updated_at`,
		o.ID, o.IdempotencyKey, o.UserID, string(o.Status), o.PayoutMethod, o.PayoutFee,
		o.RefinerFee, o.SpotsLocked, o.ShippingPaid, o.Notes, o.PickupID,
	).Scan(&o.Number, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (u *pgUnit) UpdateOrder(ctx context.Context, o PurchaseOrder) error {
	ct, err := u.tx.Exec(ctx, `
		UPDATE purchase_orders SET
			status = $2, payout_method = $3, payout_fee = $4, refiner_fee = $5,
			spots_locked = $6, shipping_paid = $7, offer_sent_at = $8, offer_expires_at = $9,
			offer_amount = $10, total_price = $11, notes = $12, payout_ref = $13,
			inbound_shipment_id = NULLIF($14, '')::uuid, return_shipment_id = NULLIF($15, '')::uuid,
			pickup_id = $16, updated_at = NOW()
		WHERE id = $1`,
		o.ID, string(o.Status), o.PayoutMethod, o.PayoutFee, o.RefinerFee,
		o.SpotsLocked, o.ShippingPaid, o.OfferSentAt, o.OfferExpiresAt,
		nullDecimal(o.OfferAmount), nullDecimal(o.TotalPrice), o.Notes, o.PayoutRef,
		o.InboundShipmentID, o.ReturnShipmentID, o.PickupID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (u *pgUnit) DeleteOrder(ctx context.Context, orderID string) error {
	ct, err := u.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id=$1`, orderID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (u *pgUnit) InsertItem(ctx context.Context, it *Item) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	_, err := u.tx.Exec(ctx, `
		INSERT INTO purchase_order_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		it.ID, it.OrderID, string(it.Kind), string(it.Metal), it.Premium, it.GrossWeight,
		string(it.WeightUnit), it.Purity, it.ProductID, it.Quantity, it.UnitContent,
		string(it.PriceSide), nullDecimal(it.RefinerPremium))
	return err
}

func (u *pgUnit) UpdateItem(ctx context.Context, it Item) error {
	ct, err := u.tx.Exec(ctx, `
		UPDATE purchase_order_items SET premium = $3, refiner_premium = $4
		WHERE id = $1 AND order_id = $2`,
		it.ID, it.OrderID, it.Premium, nullDecimal(it.RefinerPremium))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (u *pgUnit) items(ctx context.Context, orderID, suffix string) ([]Item, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+itemColumns+` FROM purchase_order_items WHERE order_id=$1 ORDER BY id`+suffix, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			it                      Item
			kind, metal, unit, side string
			refiner                 decimal.NullDecimal
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &kind, &metal, &it.Premium, &it.GrossWeight, &unit,
			&it.Purity, &it.ProductID, &it.Quantity, &it.UnitContent, &side, &refiner); err != nil {
			return nil, err
		}
		it.Kind, it.Metal, it.WeightUnit, it.PriceSide = ItemKind(kind), Metal(metal), WeightUnit(unit), PriceSide(side)
		it.RefinerPremium = fromNull(refiner)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (u *pgUnit) Snapshots(ctx context.Context, orderID string, party Party) ([]Snapshot, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+snapshotColumns+` FROM spot_snapshots WHERE order_id=$1 AND party=$2 ORDER BY metal`,
		orderID, string(party))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			s            Snapshot
			metal, party string
		)
		if err := rows.Scan(&s.ID, &s.OrderID, &metal, &party, &s.Bid, &s.Ask, &s.ScrapMultiplier, &s.CapturedAt); err != nil {
			return nil, err
		}
		s.Metal, s.Party = Metal(metal), Party(party)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (u *pgUnit) InsertSnapshot(ctx context.Context, s *Snapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := u.tx.Exec(ctx, `
		INSERT INTO spot_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.OrderID, string(s.Metal), string(s.Party), s.Bid, s.Ask, s.ScrapMultiplier, s.CapturedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (u *pgUnit) UpdateSnapshot(ctx context.Context, s Snapshot) error {
	ct, err := u.tx.Exec(ctx, `
		UPDATE spot_snapshots SET bid = $2, ask = $3, scrap_multiplier = $4, captured_at = $5
		WHERE id = $1`, s.ID, s.Bid, s.Ask, s.ScrapMultiplier, s.CapturedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (u *pgUnit) Shipment(ctx context.Context, id string) (Shipment, error) {
	var (
		s         Shipment
		direction string
		charge    decimal.NullDecimal
	)
	err := u.tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id=$1`, id).
		Scan(&s.ID, &s.OrderID, &direction, &s.Carrier, &s.TrackingNumber, &s.LabelID, &s.Status, &charge, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shipment{}, ErrNotFound
	}
	if err != nil {
		return Shipment{}, err
	}
	s.Direction = ShipmentDirection(direction)
	s.Charge = fromNull(charge)
	return s, nil
}

func (u *pgUnit) InsertShipment(ctx context.Context, s *Shipment) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return u.tx.QueryRow(ctx, `
		INSERT INTO shipments (id, order_id, direction, carrier, tracking_number, label_id, status, charge)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		s.ID, s.OrderID, string(s.Direction), s.Carrier, s.TrackingNumber, s.LabelID, s.Status, nullDecimal(s.Charge),
	).Scan(&s.CreatedAt)
}

func (u *pgUnit) UpdateShipment(ctx context.Context, s Shipment) error {
	ct, err := u.tx.Exec(ctx, `
		UPDATE shipments SET carrier = $2, tracking_number = $3, label_id = $4, status = $5, charge = $6
		WHERE id = $1`, s.ID, s.Carrier, s.TrackingNumber, s.LabelID, s.Status, nullDecimal(s.Charge))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (u *pgUnit) AppendLedger(ctx context.Context, e *LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return u.tx.QueryRow(ctx, `
		INSERT INTO fund_ledger (id, user_id, order_id, kind, amount, memo)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		e.ID, e.UserID, e.OrderID, string(e.Kind), e.Amount, e.Memo,
	).Scan(&e.CreatedAt)
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		o                 PurchaseOrder
		status            string
		offer, total      decimal.NullDecimal
		sentAt, expiresAt *time.Time
	)
	err := row.Scan(&o.ID, &o.Number, &o.IdempotencyKey, &o.UserID, &status, &o.PayoutMethod,
		&o.PayoutFee, &o.RefinerFee, &o.SpotsLocked, &o.ShippingPaid, &sentAt, &expiresAt,
		&offer, &total, &o.Notes, &o.PayoutRef,
		&o.InboundShipmentID, &o.ReturnShipmentID, &o.PickupID,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	o.Status = Status(status)
	o.OfferSentAt, o.OfferExpiresAt = sentAt, expiresAt
	o.OfferAmount, o.TotalPrice = fromNull(offer), fromNull(total)
	return o, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNull(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
