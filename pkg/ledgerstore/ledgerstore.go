// Package ledgerstore provides the durable append-only points ledger.
//
// An Entry is written exactly once and never mutated; corrections are new
// offsetting entries. Each append reads the user's latest balance, validates
// the candidate balance, and persists the new entry as a single atomic unit,
// so concurrent appends for one user serialize while different users proceed
// in parallel.
package ledgerstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientPoints is returned when an append would drive the
	// user's balance below zero. Nothing is written.
	ErrInsufficientPoints = errors.New("insufficient points: balance would go negative")

	// ErrStorageUnavailable wraps transient storage failures. Callers may
	// retry the whole operation; refId dedup makes the retry safe.
	ErrStorageUnavailable = errors.New("ledger storage unavailable")
)

// Entry is one immutable point-change record.
//
// Seq is dense and 1-based per user: entry N's prior balance is entry N-1's
// BalanceAfter (0 for the first entry), so the chain has no causality gaps.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Seq          int64     `json:"seq"`
	Delta        int64     `json:"delta"`
	BalanceAfter int64     `json:"balance_after"`
	Type         string    `json:"type"`
	Description  string    `json:"description,omitempty"`
	RefID        string    `json:"ref_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AppendRequest describes a single point-change to record.
type AppendRequest struct {
	UserID      uuid.UUID
	Delta       int64
	Type        string
	Description string

	// RefID is an optional caller-supplied idempotency key, scoped per
	// user. When set, a second append with the same key is dropped and
	// the original entry is returned instead.
	RefID string
}

// Store is the durable ledger. Implementations must make Append atomic:
// idempotency reservation, balance read, non-negativity check and insert
// either all happen or none do.
type Store interface {
	// Append records req and returns the persisted entry. applied is
	// false when req.RefID was already used for this user; the returned
	// entry is then the original one and nothing was written.
	Append(ctx context.Context, req AppendRequest) (entry *Entry, applied bool, err error)

	// ListForUser returns the user's entries newest first.
	ListForUser(ctx context.Context, userID uuid.UUID, page, perPage int) ([]Entry, error)

	// LatestBalance returns the user's current balance, 0 if no entries.
	LatestBalance(ctx context.Context, userID uuid.UUID) (int64, error)
}
