package orders

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderReceived  = "OrderReceived"
	EventOfferSent      = "OfferSent"
	EventOfferAccepted  = "OfferAccepted"
	EventOfferRejected  = "OfferRejected"
	EventPayoutStarted  = "PayoutStarted"
	EventOrderCompleted = "OrderCompleted"
	EventOrderCancelled = "OrderCancelled"
	EventOrderPurged    = "OrderPurged"

	EventShipmentDelivered = "ShipmentDelivered"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Transition is what the engine reports after a unit commits.
type Transition struct {
	OrderID   string           `json:"order_id"`
	Number    int64            `json:"number"`
	UserID    string           `json:"user_id"`
	From      Status           `json:"from,omitempty"`
	To        Status           `json:"to"`
	Event     string           `json:"-"`
	Automatic bool             `json:"automatic"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	At        time.Time        `json:"at"`
}

// ShipmentDeliveredPayload is published by the carrier integration.
type ShipmentDeliveredPayload struct {
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	DeliveredAt    time.Time `json:"delivered_at"`
}
