// Package settlement values a purchase order's line items for the customer,
// the refiner and the operator. Everything here is pure: the breakdown is
// derived on demand from the order, its items and its spot snapshots and is
// never stored.
//
// Arithmetic is carried at full decimal precision; rounding to cents happens
// only through Cents, at display time or when an offer amount is fixed.
package settlement

import (
	"fmt"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Cell is one metal within one bucket of one party.
type Cell struct {
	Content decimal.Decimal `json:"content"` // troy oz
	Percent decimal.Decimal `json:"percent"` // share of the bucket's content, 0–100
	Value   decimal.Decimal `json:"value"`   // dollars; for the operator this is profit
}

type Bucket struct {
	Metals  map[orders.Metal]Cell `json:"metals"`
	Content decimal.Decimal       `json:"content"`
	Value   decimal.Decimal       `json:"value"`
}

type Party struct {
	Scrap   Bucket `json:"scrap"`
	Bullion Bucket `json:"bullion"`
	Total   Bucket `json:"total"`
}

// Line is the per-item valuation the buckets are summed from.
type Line struct {
	ItemID   string          `json:"item_id"`
	Kind     orders.ItemKind `json:"kind"`
	Metal    orders.Metal    `json:"metal"`
	Content  decimal.Decimal `json:"content"`
	Customer decimal.Decimal `json:"customer"`
	Refiner  decimal.Decimal `json:"refiner"`
	FeeShare decimal.Decimal `json:"fee_share"`
	Operator decimal.Decimal `json:"operator"`
}

type Breakdown struct {
	Customer Party  `json:"customer"`
	Refiner  Party  `json:"refiner"`
	Operator Party  `json:"operator"`
	Lines    []Line `json:"lines"`
}

// Input is everything Compute needs.
type Input struct {
	Order    orders.PurchaseOrder
	Items    []orders.Item
	Customer []orders.Snapshot
	Refiner  []orders.Snapshot
}

// Cents rounds a dollar amount half away from zero to two places.
func Cents(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// OfferAmount is what the operator quotes the customer: the customer party's
// total value, rounded to cents.
func (b Breakdown) OfferAmount() decimal.Decimal { return Cents(b.Customer.Total.Value) }

// Compute prices every item for all three parties. Missing refiner data yields
// orders.ErrIncompleteAppraisal; missing customer snapshots or a breakdown that
// does not reconcile yields orders.ErrSettlementInconsistency.
func Compute(in Input) (Breakdown, error) {
	customer := bySnapshotMetal(in.Customer)
	refiner := bySnapshotMetal(in.Refiner)

	lines := make([]Line, 0, len(in.Items))
	totalContent := decimal.Zero
	for _, it := range in.Items {
		if err := it.Validate(); err != nil {
			return Breakdown{}, err
		}
		content, err := it.Content()
		if err != nil {
			return Breakdown{}, err
		}
		cs, ok := customer[it.Metal]
		if !ok {
			return Breakdown{}, fmt.Errorf("%w: no customer snapshot for %s on order %s",
				orders.ErrSettlementInconsistency, it.Metal, in.Order.ID)
		}
		rs, ok := refiner[it.Metal]
		if !ok {
			return Breakdown{}, fmt.Errorf("%w: no refiner snapshot for %s", orders.ErrIncompleteAppraisal, it.Metal)
		}
		if it.RefinerPremium == nil {
			return Breakdown{}, fmt.Errorf("%w: item %s has no refiner premium", orders.ErrIncompleteAppraisal, it.ID)
		}

		lines = append(lines, Line{
			ItemID:   it.ID,
			Kind:     it.Kind,
			Metal:    it.Metal,
			Content:  content,
			Customer: CustomerValue(it, content, cs),
			Refiner:  RefinerValue(it, content, rs),
		})
		totalContent = totalContent.Add(content)
	}

	apportionFee(lines, in.Order.RefinerFee, totalContent)

	b := Breakdown{Lines: lines}
	b.Customer = build(lines, func(l Line) decimal.Decimal { return l.Customer })
	b.Refiner = build(lines, func(l Line) decimal.Decimal { return l.Refiner })
	b.Operator = build(lines, func(l Line) decimal.Decimal { return l.Operator })

	if err := Verify(b); err != nil {
		return Breakdown{}, err
	}
	return b, nil
}

// CustomerValue: scrap pays bid × scrap multiplier marked up by the premium;
// bullion pays the catalog side marked down by the premium.
func CustomerValue(it orders.Item, content decimal.Decimal, s orders.Snapshot) decimal.Decimal {
	if it.Kind == orders.KindScrap {
		return content.Mul(s.Bid).Mul(s.ScrapMultiplier).Mul(one.Add(it.Premium))
	}
	return content.Mul(s.Price(it)).Mul(one.Sub(it.Premium))
}

// RefinerValue applies the refiner premium, which is negative for a discount.
func RefinerValue(it orders.Item, content decimal.Decimal, s orders.Snapshot) decimal.Decimal {
	var premium decimal.Decimal
	if it.RefinerPremium != nil {
		premium = *it.RefinerPremium
	}
	return content.Mul(s.Price(it)).Mul(one.Add(premium))
}

// apportionFee spreads the flat refiner fee across lines by content weight, so
// large lots absorb more of it. With zero total content it is split evenly.
func apportionFee(lines []Line, fee, totalContent decimal.Decimal) {
	if len(lines) == 0 {
		return
	}
	for i := range lines {
		var share decimal.Decimal
		if totalContent.IsZero() {
			share = fee.Div(decimal.NewFromInt(int64(len(lines))))
		} else {
			share = fee.Mul(lines[i].Content).Div(totalContent)
		}
		lines[i].FeeShare = share
		lines[i].Operator = lines[i].Refiner.Sub(lines[i].Customer).Sub(share)
	}
}

func build(lines []Line, value func(Line) decimal.Decimal) Party {
	p := Party{
		Scrap:   emptyBucket(),
		Bullion: emptyBucket(),
		Total:   emptyBucket(),
	}
	for _, l := range lines {
		target := &p.Scrap
		if l.Kind == orders.KindBullion {
			target = &p.Bullion
		}
		target.add(l.Metal, l.Content, value(l))
	}
	for _, m := range orders.Metals {
		s, b := p.Scrap.Metals[m], p.Bullion.Metals[m]
		p.Total.add(m, s.Content.Add(b.Content), s.Value.Add(b.Value))
	}
	p.Scrap.shares()
	p.Bullion.shares()
	p.Total.shares()
	return p
}

func emptyBucket() Bucket {
	b := Bucket{Metals: make(map[orders.Metal]Cell, len(orders.Metals))}
	for _, m := range orders.Metals {
		b.Metals[m] = Cell{}
	}
	return b
}

func (b *Bucket) add(m orders.Metal, content, value decimal.Decimal) {
	c := b.Metals[m]
	c.Content = c.Content.Add(content)
	c.Value = c.Value.Add(value)
	b.Metals[m] = c
	b.Content = b.Content.Add(content)
	b.Value = b.Value.Add(value)
}

func (b *Bucket) shares() {
	for m, c := range b.Metals {
		if b.Content.IsZero() {
			c.Percent = decimal.Zero
		} else {
			c.Percent = c.Content.Mul(hundred).Div(b.Content)
		}
		b.Metals[m] = c
	}
}

// Verify checks that no content is negative and that every party's total
// bucket reconciles with scrap + bullion, per metal and overall.
func Verify(b Breakdown) error {
	parties := map[string]Party{"customer": b.Customer, "refiner": b.Refiner, "operator": b.Operator}
	for name, p := range parties {
		for _, m := range orders.Metals {
			s, bu, t := p.Scrap.Metals[m], p.Bullion.Metals[m], p.Total.Metals[m]
			if s.Content.IsNegative() || bu.Content.IsNegative() || t.Content.IsNegative() {
				return fmt.Errorf("%w: %s %s content is negative", orders.ErrSettlementInconsistency, name, m)
			}
			if !t.Content.Equal(s.Content.Add(bu.Content)) || !t.Value.Equal(s.Value.Add(bu.Value)) {
				return fmt.Errorf("%w: %s %s total does not reconcile", orders.ErrSettlementInconsistency, name, m)
			}
		}
		if !p.Total.Content.Equal(p.Scrap.Content.Add(p.Bullion.Content)) ||
			!p.Total.Value.Equal(p.Scrap.Value.Add(p.Bullion.Value)) {
			return fmt.Errorf("%w: %s total bucket does not reconcile", orders.ErrSettlementInconsistency, name)
		}
	}
	return nil
}

func bySnapshotMetal(ss []orders.Snapshot) map[orders.Metal]orders.Snapshot {
	out := make(map[orders.Metal]orders.Snapshot, len(ss))
	for _, s := range ss {
		out[s.Metal] = s
	}
	return out
}
