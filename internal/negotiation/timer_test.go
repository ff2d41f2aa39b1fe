package negotiation

import (
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestTimer(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := Timer{SentAt: sent, ExpiresAt: sent.Add(24 * time.Hour)}

	cases := []struct {
		name      string
		now       time.Time
		seconds   int64
		percent   float64
		isExpired bool
	}{
		{"at send", sent, 86400, 1, false},
		{"half way", sent.Add(12 * time.Hour), 43200, 0.5, false},
		{"last second", sent.Add(24*time.Hour - time.Second), 1, 1.0 / 86400, false},
		{"at expiry", sent.Add(24 * time.Hour), 0, 0, true},
		{"long after", sent.Add(72 * time.Hour), 0, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.seconds, tm.RemainingSeconds(tc.now))
			require.InDelta(t, tc.percent, tm.PercentRemaining(tc.now), 1e-9)
			require.Equal(t, tc.isExpired, tm.IsExpired(tc.now))
		})
	}
}

func TestTimerBeforeSendIsClamped(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := Timer{SentAt: sent, ExpiresAt: sent.Add(time.Hour)}
	require.Equal(t, 1.0, tm.PercentRemaining(sent.Add(-time.Minute)))
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.Equal(t, 24*time.Hour, p.Window(true))
	require.Equal(t, 7*24*time.Hour, p.Window(false))

	require.Equal(t, time.Hour, Policy{LockedWindow: time.Hour}.Window(true))
	require.Equal(t, DefaultUnlockedWindow, Policy{LockedWindow: time.Hour}.Window(false))

	require.Equal(t, orders.StatusRejected, OnExpiry(true))
	require.Equal(t, orders.StatusAccepted, OnExpiry(false))
}

func TestForOrder(t *testing.T) {
	_, ok := ForOrder(orders.PurchaseOrder{})
	require.False(t, ok)

	sent := time.Now()
	exp := sent.Add(time.Hour)
	tm, ok := ForOrder(orders.PurchaseOrder{OfferSentAt: &sent, OfferExpiresAt: &exp})
	require.True(t, ok)
	require.Equal(t, exp, tm.ExpiresAt)

	st := tm.Status(sent, true)
	require.False(t, st.Expired)
	require.Equal(t, "REJECTED", st.OnExpiry)
}
