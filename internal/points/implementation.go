package points

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"memberledger/internal/tiers"
	"memberledger/pkg/ledgerstore"
)

// service implements the Service interface.
type service struct {
	ledger   ledgerstore.Store
	tiers    tiers.Store
	notifier Notifier
}

// NewService creates the ledger service. notifier may be nil when no
// collaborator is configured.
func NewService(ledger ledgerstore.Store, tierStore tiers.Store, notifier Notifier) Service {
	return &service{
		ledger:   ledger,
		tiers:    tierStore,
		notifier: notifier,
	}
}

// RecordEvent implements Service.
func (s *service) RecordEvent(ctx context.Context, userID uuid.UUID, delta int64, typ EntryType, description, refID string) (*LedgerResult, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if delta == 0 {
		return nil, ErrZeroDelta
	}

	// One table snapshot classifies both the prior and the new balance,
	// so a concurrent tier edit cannot produce a phantom tier change.
	table, err := s.tiers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledgerstore.ErrStorageUnavailable, err)
	}

	entry, applied, err := s.ledger.Append(ctx, ledgerstore.AppendRequest{
		UserID:      userID,
		Delta:       delta,
		Type:        string(typ),
		Description: description,
		RefID:       refID,
	})
	if err != nil {
		return nil, err
	}

	tier, err := tiers.Classify(table, entry.BalanceAfter)
	if err != nil {
		// Configuration integrity violation, not a request problem.
		log.Printf("ALERT: tier table cannot classify balance %d for user %s: %v",
			entry.BalanceAfter, userID, err)
		return nil, err
	}

	result := &LedgerResult{
		EntryID:    entry.ID,
		UserID:     entry.UserID,
		NewBalance: entry.BalanceAfter,
		Tier:       *tier,
	}

	if !applied {
		// Replay of an already-applied refId: identical to the original
		// successful call's result, never a fresh tier change.
		result.Duplicate = true
		return result, nil
	}

	prevTier, err := tiers.Classify(table, entry.BalanceAfter-entry.Delta)
	if err != nil {
		log.Printf("ALERT: tier table cannot classify prior balance %d for user %s: %v",
			entry.BalanceAfter-entry.Delta, userID, err)
		return nil, err
	}

	if prevTier.Level != tier.Level {
		result.TierChanged = true
		s.dispatchTierChange(TierChangedEvent{
			UserID:     userID,
			FromTier:   prevTier.Name,
			ToTier:     tier.Name,
			FromLevel:  prevTier.Level,
			ToLevel:    tier.Level,
			NewBalance: entry.BalanceAfter,
			OccurredAt: entry.CreatedAt,
		})
	}

	return result, nil
}

// dispatchTierChange informs the collaborator without holding up the
// caller; the entry is already durable and a lost notification must not
// fail the request.
func (s *service) dispatchTierChange(ev TierChangedEvent) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.NotifyTierChanged(ctx, ev); err != nil {
			log.Printf("tier change notification for user %s failed: %v", ev.UserID, err)
		}
	}()
}

// GetBalance implements Service.
func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceView, error) {
	balance, err := s.ledger.LatestBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	table, err := s.tiers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledgerstore.ErrStorageUnavailable, err)
	}
	tier, err := tiers.Classify(table, balance)
	if err != nil {
		log.Printf("ALERT: tier table cannot classify balance %d for user %s: %v",
			balance, userID, err)
		return nil, err
	}

	return &BalanceView{
		UserID:        userID,
		CurrentPoints: balance,
		Tier:          *tier,
	}, nil
}

// ListEntries implements Service.
func (s *service) ListEntries(ctx context.Context, userID uuid.UUID, page, perPage int) ([]ledgerstore.Entry, error) {
	return s.ledger.ListForUser(ctx, userID, page, perPage)
}
