package tiers

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrTierNotFound is returned for lookups and updates of unknown tiers.
	ErrTierNotFound = errors.New("tier not found")

	// ErrLevelTaken is returned when creating or moving a tier onto a
	// level number already in use.
	ErrLevelTaken = errors.New("tier level already in use")
)

// Store holds the administrator-managed tier table. Edits are last-writer-
// wins reference data with no transactional coupling to ledger writes; a
// classification issued after an edit commits sees the new table.
type Store interface {
	// ListActive returns active tiers ordered by level.
	ListActive(ctx context.Context) ([]Tier, error)

	// List returns all tiers, active and not, ordered by level.
	List(ctx context.Context) ([]Tier, error)

	Get(ctx context.Context, id uuid.UUID) (*Tier, error)
	Create(ctx context.Context, tier *Tier) error
	Update(ctx context.Context, tier *Tier) error

	// Deactivate soft-disables a tier; the row is kept for audit.
	Deactivate(ctx context.Context, id uuid.UUID) error
}
