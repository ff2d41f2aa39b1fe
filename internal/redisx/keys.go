package redisx

import "time"

const (
	// Live quote per metal: hash spot:{metal} -> bid, ask, scrap_multiplier, updated_at (unix)
	KeySpot = "spot:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	MaxSpotAge     = 2 * time.Minute
)
