package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"strconv"
	"time"
)

// ErrStaleSpot reports a quote older than the feed's maximum age.
var ErrStaleSpot = errors.New("stale spot quote")

// SpotFeed reads the live quotes that the pricing service keeps in Redis,
// one hash per metal.
type SpotFeed struct {
	Redis  *redis.Client
	MaxAge time.Duration
	Now    func() time.Time
}

// LiveSpots returns every metal with a fresh, well-formed quote. Metals with
// no hash are left out; a stale or malformed hash is an error.
func (f *SpotFeed) LiveSpots(ctx context.Context) (map[orders.Metal]orders.Quote, error) {
	pipe := f.Redis.Pipeline()
	cmds := make(map[orders.Metal]*redis.MapStringStringCmd, len(orders.Metals))
	for _, m := range orders.Metals {
		cmds[m] = pipe.HGetAll(ctx, fmt.Sprintf(KeySpot, m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read spots: %w", err)
	}

	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	maxAge := f.MaxAge
	if maxAge <= 0 {
		maxAge = MaxSpotAge
	}

	out := make(map[orders.Metal]orders.Quote, len(cmds))
	for _, m := range orders.Metals {
		h := cmds[m].Val()
		if len(h) == 0 {
			continue
		}
		q, updated, err := ParseQuote(h)
		if err != nil {
			return nil, fmt.Errorf("spot %s: %w", m, err)
		}
		if now.Sub(updated) > maxAge {
			return nil, fmt.Errorf("%w: %s updated %s", ErrStaleSpot, m, updated.Format(time.RFC3339))
		}
		out[m] = q
	}
	return out, nil
}

// ParseQuote decodes a spot hash.
func ParseQuote(h map[string]string) (orders.Quote, time.Time, error) {
	var (
		q   orders.Quote
		err error
	)
	if q.Bid, err = decimal.NewFromString(h["bid"]); err != nil {
		return q, time.Time{}, fmt.Errorf("bid: %w", err)
	}
	if q.Ask, err = decimal.NewFromString(h["ask"]); err != nil {
		return q, time.Time{}, fmt.Errorf("ask: %w", err)
	}
	q.ScrapMultiplier = decimal.NewFromInt(1)
	if v, ok := h["scrap_multiplier"]; ok && v != "" {
		if q.ScrapMultiplier, err = decimal.NewFromString(v); err != nil {
			return q, time.Time{}, fmt.Errorf("scrap_multiplier: %w", err)
		}
	}
	sec, err := strconv.ParseInt(h["updated_at"], 10, 64)
	if err != nil {
		return q, time.Time{}, fmt.Errorf("updated_at: %w", err)
	}
	return q, time.Unix(sec, 0).UTC(), nil
}
