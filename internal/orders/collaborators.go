package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

// Tracking is the carrier's view of one shipment.
type Tracking struct {
	TrackingNumber string    `json:"tracking_number"`
	Status         string    `json:"status"`
	Delivered      bool      `json:"delivered"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// Label is a shipping label issued by the carrier.
type Label struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	LabelID        string `json:"label_id"`
}

type PayoutRequest struct {
	OrderID        string          `json:"order_id"`
	UserID         string          `json:"user_id"`
	Method         string          `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type PayoutState string

const (
	PayoutPending PayoutState = "PENDING"
	PayoutSettled PayoutState = "SETTLED"
	PayoutFailed  PayoutState = "FAILED"
)
