package points

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"memberledger/pkg/ledgerstore"
)

var (
	// ErrInvalidType is returned for unknown entry types.
	ErrInvalidType = errors.New("invalid entry type")

	// ErrZeroDelta is returned when a request changes nothing.
	ErrZeroDelta = errors.New("delta must be a non-zero integer")
)

// Service defines the interface for the ledger service.
type Service interface {
	// RecordEvent applies a point change for a user and returns the
	// resulting balance and tier. refID is optional; when present,
	// retries of the same business event are dropped and the original
	// result is returned.
	RecordEvent(ctx context.Context, userID uuid.UUID, delta int64, typ EntryType, description, refID string) (*LedgerResult, error)

	// GetBalance returns the derived balance view for a user.
	GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceView, error)

	// ListEntries returns the user's ledger history, newest first.
	ListEntries(ctx context.Context, userID uuid.UUID, page, perPage int) ([]ledgerstore.Entry, error)
}

// Notifier is the out-of-scope collaborator informed of tier changes.
// Delivery and ordering guarantees are its responsibility.
type Notifier interface {
	NotifyTierChanged(ctx context.Context, ev TierChangedEvent) error
}
