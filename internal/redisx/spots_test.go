package redisx

import (
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestParseQuote(t *testing.T) {
	q, at, err := ParseQuote(map[string]string{
		"bid":              "2315.40",
		"ask":              "2331.10",
		"scrap_multiplier": "0.97",
		"updated_at":       "1772463600",
	})
	require.NoError(t, err)
	require.True(t, q.Bid.Equal(decimal.RequireFromString("2315.4")))
	require.True(t, q.Ask.Equal(decimal.RequireFromString("2331.1")))
	require.True(t, q.ScrapMultiplier.Equal(decimal.RequireFromString("0.97")))
	require.Equal(t, time.Unix(1772463600, 0).UTC(), at)
}

func TestParseQuoteDefaultsMultiplier(t *testing.T) {
	q, _, err := ParseQuote(map[string]string{"bid": "30.1", "ask": "30.9", "updated_at": "1"})
	require.NoError(t, err)
	require.True(t, q.ScrapMultiplier.Equal(decimal.NewFromInt(1)))
}

func TestParseQuoteMalformed(t *testing.T) {
	for name, h := range map[string]map[string]string{
		"bid":        {"bid": "n/a", "ask": "1", "updated_at": "1"},
		"ask":        {"bid": "1", "updated_at": "1"},
		"multiplier": {"bid": "1", "ask": "1", "scrap_multiplier": "x", "updated_at": "1"},
		"updated_at": {"bid": "1", "ask": "1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseQuote(h)
			require.ErrorContains(t, err, name[:3])
		})
	}
}
