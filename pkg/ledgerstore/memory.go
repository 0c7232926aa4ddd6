package ledgerstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time checks that both implementations satisfy Store.
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// MemoryStore keeps the ledger in process memory. It honors the same
// contract as PostgresStore: appends for one user serialize behind a
// per-user mutex, users don't contend with each other, and the refId
// reservation happens under the same lock as the insert.
//
// Used by tests and as a database-free mode for local runs.
type MemoryStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*userLedger
}

type userLedger struct {
	mu      sync.Mutex
	entries []Entry
	byRef   map[string]int // ref_id -> index into entries
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[uuid.UUID]*userLedger)}
}

func (s *MemoryStore) user(id uuid.UUID) *userLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		u = &userLedger{byRef: make(map[string]int)}
		s.users[id] = u
	}
	return u
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, req AppendRequest) (*Entry, bool, error) {
	u := s.user(req.UserID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if req.RefID != "" {
		if i, ok := u.byRef[req.RefID]; ok {
			existing := u.entries[i]
			return &existing, false, nil
		}
	}

	var balance int64
	if n := len(u.entries); n > 0 {
		balance = u.entries[n-1].BalanceAfter
	}

	newBalance := balance + req.Delta
	if newBalance < 0 {
		return nil, false, ErrInsufficientPoints
	}

	entry := Entry{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Seq:          int64(len(u.entries)) + 1,
		Delta:        req.Delta,
		BalanceAfter: newBalance,
		Type:         req.Type,
		Description:  req.Description,
		RefID:        req.RefID,
		CreatedAt:    time.Now().UTC(),
	}
	u.entries = append(u.entries, entry)
	if entry.RefID != "" {
		u.byRef[entry.RefID] = len(u.entries) - 1
	}

	return &entry, true, nil
}

// ListForUser implements Store.
func (s *MemoryStore) ListForUser(ctx context.Context, userID uuid.UUID, page, perPage int) ([]Entry, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	// Newest first.
	n := len(u.entries)
	start := (page - 1) * perPage
	entries := []Entry{}
	for i := n - 1 - start; i >= 0 && len(entries) < perPage; i-- {
		entries = append(entries, u.entries[i])
	}
	return entries, nil
}

// LatestBalance implements Store.
func (s *MemoryStore) LatestBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if n := len(u.entries); n > 0 {
		return u.entries[n-1].BalanceAfter, nil
	}
	return 0, nil
}
