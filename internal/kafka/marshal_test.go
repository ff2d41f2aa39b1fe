package kafka

import (
	"github.com/goccy/go-json"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestEnvelopeCarriesPayload(t *testing.T) {
	amount := decimal.RequireFromString("250.00")
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(orders.EventOfferAccepted, "dorado-settlement", "o-1", orders.Transition{
		OrderID:   "o-1",
		From:      orders.StatusOfferSent,
		To:        orders.StatusAccepted,
		Automatic: true,
		Amount:    &amount,
		At:        at,
	})
	require.NoError(t, err)
	require.NotEmpty(t, env.EventID)
	require.Equal(t, EnvelopeVersion, env.EventVersion)
	require.Equal(t, "o-1", env.CorrelationID)

	b, err := json.Marshal(env)
	require.NoError(t, err)
	back, err := UnmarshalEnvelope(b)
	require.NoError(t, err)
	require.Equal(t, orders.EventOfferAccepted, back.EventType)

	tr, err := UnwrapPayload[orders.Transition](back.Payload)
	require.NoError(t, err)
	require.Equal(t, orders.StatusAccepted, tr.To)
	require.True(t, tr.Automatic)
	require.True(t, tr.Amount.Equal(amount))
	require.True(t, tr.At.Equal(at))
}

func TestUnmarshalEnvelopeRejectsGarbage(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte("{not json"))
	require.ErrorContains(t, err, "decode envelope")

	_, err = UnwrapPayload[orders.ShipmentDeliveredPayload]([]byte(`{"order_id": 7}`))
	require.ErrorContains(t, err, "decode payload")
}
