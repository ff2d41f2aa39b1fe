package httpx

import (
	"github.com/jtj60/dorado-exchange-sub004/internal/engine"
	"github.com/jtj60/dorado-exchange-sub004/internal/negotiation"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/jtj60/dorado-exchange-sub004/internal/settlement"
	"github.com/shopspring/decimal"
	"time"
)

type ItemReq struct {
	Kind    orders.ItemKind `json:"kind"`
	Metal   orders.Metal    `json:"metal"`
	Premium decimal.Decimal `json:"premium"`

	GrossWeight decimal.Decimal   `json:"gross_weight"`
	WeightUnit  orders.WeightUnit `json:"weight_unit"`
	Purity      decimal.Decimal   `json:"purity"`

	ProductID   string           `json:"product_id"`
	Quantity    int              `json:"quantity"`
	UnitContent decimal.Decimal  `json:"unit_content"`
	PriceSide   orders.PriceSide `json:"price_side"`
}

type CreateOrderReq struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id"`
	PayoutMethod   string          `json:"payout_method"`
	PayoutFee      decimal.Decimal `json:"payout_fee"`
	RefinerFee     decimal.Decimal `json:"refiner_fee"`
	SpotsLocked    bool            `json:"spots_locked"`
	ShippingPaid   bool            `json:"shipping_paid"`
	Carrier        string          `json:"carrier"`
	TrackingNumber string          `json:"tracking_number"`
	PickupID       string          `json:"pickup_id"`
	Items          []ItemReq       `json:"items"`
}

func (r CreateOrderReq) toIntake() engine.IntakeRequest {
	items := make([]orders.Item, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, orders.Item{
			Kind:        it.Kind,
			Metal:       it.Metal,
			Premium:     it.Premium,
			GrossWeight: it.GrossWeight,
			WeightUnit:  it.WeightUnit,
			Purity:      it.Purity,
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			UnitContent: it.UnitContent,
			PriceSide:   it.PriceSide,
		})
	}
	return engine.IntakeRequest{
		IdempotencyKey: r.IdempotencyKey,
		UserID:         r.UserID,
		PayoutMethod:   r.PayoutMethod,
		PayoutFee:      r.PayoutFee,
		RefinerFee:     r.RefinerFee,
		SpotsLocked:    r.SpotsLocked,
		ShippingPaid:   r.ShippingPaid,
		Carrier:        r.Carrier,
		TrackingNumber: r.TrackingNumber,
		PickupID:       r.PickupID,
		Items:          items,
	}
}

type SpotReq struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

type PremiumReq struct {
	Premium decimal.Decimal `json:"premium"`
}

type RejectReq struct {
	Notes string `json:"notes"`
}

type PayoutReq struct {
	Method string `json:"method"`
}

type OrderResp struct {
	ID             string           `json:"id"`
	Number         int64            `json:"number"`
	UserID         string           `json:"user_id"`
	Status         orders.Status    `json:"status"`
	PayoutMethod   string           `json:"payout_method"`
	PayoutFee      decimal.Decimal  `json:"payout_fee"`
	RefinerFee     decimal.Decimal  `json:"refiner_fee"`
	SpotsLocked    bool             `json:"spots_locked"`
	ShippingPaid   bool             `json:"shipping_paid"`
	OfferSentAt    *time.Time       `json:"offer_sent_at,omitempty"`
	OfferExpiresAt *time.Time       `json:"offer_expires_at,omitempty"`
	OfferAmount    *decimal.Decimal `json:"offer_amount,omitempty"`
	TotalPrice     *decimal.Decimal `json:"total_price,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	PayoutRef      string           `json:"payout_ref,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func toOrderResp(o orders.PurchaseOrder) OrderResp {
	return OrderResp{
		ID:             o.ID,
		Number:         o.Number,
		UserID:         o.UserID,
		Status:         o.Status,
		PayoutMethod:   o.PayoutMethod,
		PayoutFee:      o.PayoutFee,
		RefinerFee:     o.RefinerFee,
		SpotsLocked:    o.SpotsLocked,
		ShippingPaid:   o.ShippingPaid,
		OfferSentAt:    o.OfferSentAt,
		OfferExpiresAt: o.OfferExpiresAt,
		OfferAmount:    o.OfferAmount,
		TotalPrice:     o.TotalPrice,
		Notes:          o.Notes,
		PayoutRef:      o.PayoutRef,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type ItemResp struct {
	ID             string           `json:"id"`
	Kind           orders.ItemKind  `json:"kind"`
	Metal          orders.Metal     `json:"metal"`
	Content        decimal.Decimal  `json:"content"`
	Premium        decimal.Decimal  `json:"premium"`
	RefinerPremium *decimal.Decimal `json:"refiner_premium,omitempty"`
	ProductID      string           `json:"product_id,omitempty"`
	Quantity       int              `json:"quantity,omitempty"`
}

type SnapshotResp struct {
	Metal           orders.Metal    `json:"metal"`
	Party           orders.Party    `json:"party"`
	Bid             decimal.Decimal `json:"bid"`
	Ask             decimal.Decimal `json:"ask"`
	ScrapMultiplier decimal.Decimal `json:"scrap_multiplier"`
	CapturedAt      time.Time       `json:"captured_at"`
}

type ShipmentResp struct {
	ID             string                   `json:"id"`
	Direction      orders.ShipmentDirection `json:"direction"`
	Carrier        string                   `json:"carrier"`
	TrackingNumber string                   `json:"tracking_number"`
	LabelID        string                   `json:"label_id,omitempty"`
	Status         string                   `json:"status"`
	Charge         *decimal.Decimal         `json:"charge,omitempty"`
}

func toShipmentResp(s orders.Shipment) ShipmentResp {
	return ShipmentResp{
		ID:             s.ID,
		Direction:      s.Direction,
		Carrier:        s.Carrier,
		TrackingNumber: s.TrackingNumber,
		LabelID:        s.LabelID,
		Status:         s.Status,
		Charge:         s.Charge,
	}
}

type ViewResp struct {
	Order     OrderResp             `json:"order"`
	Items     []ItemResp            `json:"items"`
	Snapshots []SnapshotResp        `json:"snapshots"`
	Breakdown *settlement.Breakdown `json:"breakdown,omitempty"`
	Timer     *negotiation.Status   `json:"timer,omitempty"`
}

func toViewResp(v engine.View) ViewResp {
	out := ViewResp{
		Order:     toOrderResp(v.Order),
		Items:     make([]ItemResp, 0, len(v.Items)),
		Snapshots: make([]SnapshotResp, 0, len(v.CustomerSnapshots)+len(v.RefinerSnapshots)),
		Breakdown: v.Breakdown,
		Timer:     v.Timer,
	}
	for _, it := range v.Items {
		content, _ := it.Content()
		out.Items = append(out.Items, ItemResp{
			ID:             it.ID,
			Kind:           it.Kind,
			Metal:          it.Metal,
			Content:        content,
			Premium:        it.Premium,
			RefinerPremium: it.RefinerPremium,
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
		})
	}
	for _, group := range [][]orders.Snapshot{v.CustomerSnapshots, v.RefinerSnapshots} {
		for _, s := range group {
			out.Snapshots = append(out.Snapshots, SnapshotResp{
				Metal:           s.Metal,
				Party:           s.Party,
				Bid:             s.Bid,
				Ask:             s.Ask,
				ScrapMultiplier: s.ScrapMultiplier,
				CapturedAt:      s.CapturedAt,
			})
		}
	}
	return out
}
