// Package negotiation derives the state of an offer's countdown and what
// happens when it runs out.
package negotiation

import (
	"github.com/jtj60/dorado-exchange-sub004/internal/orders"
	"time"
)

const (
	DefaultLockedWindow   = 24 * time.Hour
	DefaultUnlockedWindow = 7 * 24 * time.Hour
)

// Policy holds the offer windows for locked and unlocked spots.
type Policy struct {
	LockedWindow   time.Duration
	UnlockedWindow time.Duration
}

func DefaultPolicy() Policy {
	return Policy{LockedWindow: DefaultLockedWindow, UnlockedWindow: DefaultUnlockedWindow}
}

// Window returns how long an offer stays open.
func (p Policy) Window(spotsLocked bool) time.Duration {
	if spotsLocked {
		if p.LockedWindow > 0 {
			return p.LockedWindow
		}
		return DefaultLockedWindow
	}
	if p.UnlockedWindow > 0 {
		return p.UnlockedWindow
	}
	return DefaultUnlockedWindow
}

// OnExpiry is the status an unanswered offer resolves to. Locked spots are
// released back to the market (rejected); unlocked offers are accepted.
func OnExpiry(spotsLocked bool) orders.Status {
	if spotsLocked {
		return orders.StatusRejected
	}
	return orders.StatusAccepted
}

type Timer struct {
	SentAt    time.Time
	ExpiresAt time.Time
}

// ForOrder returns the timer of an order's current offer, ok=false if no
// offer has been sent.
func ForOrder(o orders.PurchaseOrder) (Timer, bool) {
	if o.OfferSentAt == nil || o.OfferExpiresAt == nil {
		return Timer{}, false
	}
	return Timer{SentAt: *o.OfferSentAt, ExpiresAt: *o.OfferExpiresAt}, true
}

func (t Timer) Remaining(now time.Time) time.Duration {
	if r := t.ExpiresAt.Sub(now); r > 0 {
		return r
	}
	return 0
}

// RemainingSeconds is floored at zero.
func (t Timer) RemainingSeconds(now time.Time) int64 {
	return int64(t.Remaining(now) / time.Second)
}

// PercentRemaining is 1 at send time and 0 at or after expiry.
func (t Timer) PercentRemaining(now time.Time) float64 {
	total := t.ExpiresAt.Sub(t.SentAt)
	if total <= 0 || !now.Before(t.ExpiresAt) {
		return 0
	}
	p := float64(t.Remaining(now)) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}

func (t Timer) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Status is the read model served to clients.
type Status struct {
	SentAt           time.Time `json:"sent_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	PercentRemaining float64   `json:"percent_remaining"`
	Expired          bool      `json:"expired"`
	OnExpiry         string    `json:"on_expiry"`
}

func (t Timer) Status(now time.Time, spotsLocked bool) Status {
	return Status{
		SentAt:           t.SentAt,
		ExpiresAt:        t.ExpiresAt,
		RemainingSeconds: t.RemainingSeconds(now),
		PercentRemaining: t.PercentRemaining(now),
		Expired:          t.IsExpired(now),
		OnExpiry:         string(OnExpiry(spotsLocked)),
	}
}
