package tiers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the tier table in process memory, for tests and
// database-free runs.
type MemoryStore struct {
	mu    sync.RWMutex
	tiers map[uuid.UUID]Tier
}

// NewMemoryStore creates an empty in-memory tier store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tiers: make(map[uuid.UUID]Tier)}
}

// Seed replaces the table contents, assigning IDs where missing.
func (s *MemoryStore) Seed(table []Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers = make(map[uuid.UUID]Tier, len(table))
	for _, t := range table {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		s.tiers[t.ID] = t
	}
}

// ListActive implements Store.
func (s *MemoryStore) ListActive(ctx context.Context) ([]Tier, error) {
	return s.list(true), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]Tier, error) {
	return s.list(false), nil
}

func (s *MemoryStore) list(activeOnly bool) []Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tiers := make([]Tier, 0, len(s.tiers))
	for _, t := range s.tiers {
		if activeOnly && !t.Active {
			continue
		}
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Level < tiers[j].Level })
	return tiers
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiers[id]
	if !ok {
		return nil, ErrTierNotFound
	}
	return &t, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, tier *Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tiers {
		if t.Level == tier.Level {
			return ErrLevelTaken
		}
	}
	if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}
	now := time.Now().UTC()
	tier.CreatedAt = now
	tier.UpdatedAt = now
	s.tiers[tier.ID] = *tier
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, tier *Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tiers[tier.ID]; !ok {
		return ErrTierNotFound
	}
	for id, t := range s.tiers {
		if id != tier.ID && t.Level == tier.Level {
			return ErrLevelTaken
		}
	}
	tier.UpdatedAt = time.Now().UTC()
	s.tiers[tier.ID] = *tier
	return nil
}

// Deactivate implements Store.
func (s *MemoryStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[id]
	if !ok {
		return ErrTierNotFound
	}
	t.Active = false
	t.UpdatedAt = time.Now().UTC()
	s.tiers[id] = t
	return nil
}
