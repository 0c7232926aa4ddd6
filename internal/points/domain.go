// Package points is the ledger service: the only write path into the
// points subsystem. It orchestrates idempotency, balance reconciliation and
// tier classification per recorded event.
package points

import (
	"time"

	"github.com/google/uuid"

	"memberledger/internal/tiers"
)

// EntryType categorizes a point-change event.
type EntryType string

const (
	TypeCheckIn          EntryType = "CHECK_IN"
	TypeConsumption      EntryType = "CONSUMPTION"
	TypeExchange         EntryType = "EXCHANGE"
	TypeSystemAdjustment EntryType = "SYSTEM_ADJUSTMENT"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypeCheckIn, TypeConsumption, TypeExchange, TypeSystemAdjustment:
		return true
	}
	return false
}

// LedgerResult is the outcome of a recorded event.
type LedgerResult struct {
	EntryID    uuid.UUID  `json:"entry_id"`
	UserID     uuid.UUID  `json:"user_id"`
	NewBalance int64      `json:"new_balance"`
	Tier       tiers.Tier `json:"tier"`

	// TierChanged is true when this event moved the user across a tier
	// boundary. A replayed duplicate never reports a change; the original
	// call already did.
	TierChanged bool `json:"tier_changed"`

	// Duplicate is true when the refId had already been applied and this
	// result replays the original entry.
	Duplicate bool `json:"duplicate,omitempty"`
}

// BalanceView is the derived read model for a user: latest balance plus its
// classification. The ledger service is its sole authority; readers must
// never derive it independently.
type BalanceView struct {
	UserID        uuid.UUID  `json:"user_id"`
	CurrentPoints int64      `json:"current_points"`
	Tier          tiers.Tier `json:"tier"`
}

// TierChangedEvent is handed to the notification collaborator after a
// recorded event crosses a tier boundary.
type TierChangedEvent struct {
	UserID     uuid.UUID `json:"user_id"`
	FromTier   string    `json:"from_tier"`
	ToTier     string    `json:"to_tier"`
	FromLevel  int       `json:"from_level"`
	ToLevel    int       `json:"to_level"`
	NewBalance int64     `json:"new_balance"`
	OccurredAt time.Time `json:"occurred_at"`
}
