package orders

import (
	"fmt"
	"github.com/shopspring/decimal"
	"time"
)

type Metal string

const (
	Gold      Metal = "gold"
	Silver    Metal = "silver"
	Platinum  Metal = "platinum"
	Palladium Metal = "palladium"
)

// Metals is the fixed reporting order used by breakdowns.
var Metals = []Metal{Gold, Silver, Platinum, Palladium}

func (m Metal) Valid() bool {
	switch m {
	case Gold, Silver, Platinum, Palladium:
		return true
	}
	return false
}

type Party string

const (
	PartyCustomer Party = "customer"
	PartyRefiner  Party = "refiner"
)

type ItemKind string

const (
	KindScrap   ItemKind = "scrap"
	KindBullion ItemKind = "bullion"
)

// PriceSide is the side of the spot quote a catalog product is priced off.
type PriceSide string

const (
	SideBid PriceSide = "bid"
	SideAsk PriceSide = "ask"
)

type WeightUnit string

const (
	UnitGram        WeightUnit = "g"
	UnitKilogram    WeightUnit = "kg"
	UnitPennyweight WeightUnit = "dwt"
	UnitTroyOunce   WeightUnit = "ozt"
	UnitOunce       WeightUnit = "oz"
	UnitPound       WeightUnit = "lb"
)

var GramsPerTroyOunce = decimal.RequireFromString("31.1034768")

var gramsPer = map[WeightUnit]decimal.Decimal{
	UnitGram:        decimal.NewFromInt(1),
	UnitKilogram:    decimal.NewFromInt(1000),
	UnitPennyweight: decimal.RequireFromString("1.55517384"),
	UnitTroyOunce:   GramsPerTroyOunce,
	UnitOunce:       decimal.RequireFromString("28.349523125"),
	UnitPound:       decimal.RequireFromString("453.59237"),
}

// ToTroyOunces converts a weight in unit u to troy ounces.
func ToTroyOunces(w decimal.Decimal, u WeightUnit) (decimal.Decimal, error) {
	g, ok := gramsPer[u]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown weight unit %q", ErrInvalidInput, u)
	}
	if u == UnitTroyOunce {
		return w, nil
	}
	return w.Mul(g).Div(GramsPerTroyOunce), nil
}

type PurchaseOrder struct {
	ID             string
	Number         int64
	IdempotencyKey string
	UserID         string
	Status         Status
	PayoutMethod   string
	PayoutFee      decimal.Decimal
	RefinerFee     decimal.Decimal
	SpotsLocked    bool
	ShippingPaid   bool
	OfferSentAt    *time.Time
	OfferExpiresAt *time.Time
	OfferAmount    *decimal.Decimal // quoted when the offer is sent
	TotalPrice     *decimal.Decimal // fixed at acceptance
	Notes          string
	PayoutRef      string

	InboundShipmentID string
	ReturnShipmentID  string
	PickupID          string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a tagged variant: scrap fields are used when Kind is KindScrap,
// bullion fields when Kind is KindBullion.
type Item struct {
	ID      string
	OrderID string
	Kind    ItemKind
	Metal   Metal
	Premium decimal.Decimal

	// scrap
	GrossWeight decimal.Decimal
	WeightUnit  WeightUnit
	Purity      decimal.Decimal

	// bullion
	ProductID   string
	Quantity    int
	UnitContent decimal.Decimal // troy oz per unit
	PriceSide   PriceSide

	RefinerPremium *decimal.Decimal
}

func (it Item) Validate() error {
	if !it.Metal.Valid() {
		return fmt.Errorf("%w: item %s: unknown metal %q", ErrInvalidInput, it.ID, it.Metal)
	}
	switch it.Kind {
	case KindScrap:
		if !it.GrossWeight.IsPositive() {
			return fmt.Errorf("%w: item %s: gross weight must be positive", ErrInvalidInput, it.ID)
		}
		if it.Purity.IsNegative() || it.Purity.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: item %s: purity %s outside [0,1]", ErrInvalidInput, it.ID, it.Purity)
		}
		if _, ok := gramsPer[it.WeightUnit]; !ok {
			return fmt.Errorf("%w: item %s: unknown weight unit %q", ErrInvalidInput, it.ID, it.WeightUnit)
		}
	case KindBullion:
		if it.ProductID == "" {
			return fmt.Errorf("%w: item %s: missing product", ErrInvalidInput, it.ID)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %s: invalid quantity %d", ErrInvalidInput, it.ID, it.Quantity)
		}
		if !it.UnitContent.IsPositive() {
			return fmt.Errorf("%w: item %s: unit content must be positive", ErrInvalidInput, it.ID)
		}
		if it.PriceSide != SideBid && it.PriceSide != SideAsk {
			return fmt.Errorf("%w: item %s: unknown price side %q", ErrInvalidInput, it.ID, it.PriceSide)
		}
	default:
		return fmt.Errorf("%w: item %s: unknown kind %q", ErrInvalidInput, it.ID, it.Kind)
	}
	return nil
}

// Content is the item's fine content in troy ounces.
func (it Item) Content() (decimal.Decimal, error) {
	switch it.Kind {
	case KindScrap:
		oz, err := ToTroyOunces(it.GrossWeight, it.WeightUnit)
		if err != nil {
			return decimal.Zero, err
		}
		return oz.Mul(it.Purity), nil
	case KindBullion:
		return it.UnitContent.Mul(decimal.NewFromInt(int64(it.Quantity))), nil
	}
	return decimal.Zero, fmt.Errorf("%w: item %s: unknown kind %q", ErrInvalidInput, it.ID, it.Kind)
}

type Snapshot struct {
	ID              string
	OrderID         string
	Metal           Metal
	Party           Party
	Bid             decimal.Decimal
	Ask             decimal.Decimal
	ScrapMultiplier decimal.Decimal
	CapturedAt      time.Time
}

// Price returns the side of the quote the item is valued against: scrap
// always prices off bid, bullion off its catalog side.
func (s Snapshot) Price(it Item) decimal.Decimal {
	if it.Kind == KindBullion && it.PriceSide == SideAsk {
		return s.Ask
	}
	return s.Bid
}

// Quote is one metal's live price as served by the spot feed.
type Quote struct {
	Bid             decimal.Decimal `json:"bid"`
	Ask             decimal.Decimal `json:"ask"`
	ScrapMultiplier decimal.Decimal `json:"scrap_multiplier"`
}

type ShipmentDirection string

const (
	ShipmentInbound ShipmentDirection = "inbound"
	ShipmentReturn  ShipmentDirection = "return"
)

type Shipment struct {
	ID             string
	OrderID        string
	Direction      ShipmentDirection
	Carrier        string
	TrackingNumber string
	LabelID        string
	Status         string // PENDING | ACTIVE | DELIVERED | CANCELLED
	Charge         *decimal.Decimal
	CreatedAt      time.Time
}

type LedgerKind string

const (
	LedgerCredit LedgerKind = "CREDIT"
	LedgerDebit  LedgerKind = "DEBIT"
)

// LedgerEntry is an append-only movement on a customer's operator-held
// balance. Amount is always positive; Kind carries the sign.
type LedgerEntry struct {
	ID        string
	UserID    string
	OrderID   string
	Kind      LedgerKind
	Amount    decimal.Decimal
	Memo      string
	CreatedAt time.Time
}
