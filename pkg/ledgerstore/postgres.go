package ledgerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	refConstraint = "ledger_entries_user_ref"
	seqConstraint = "ledger_entries_user_seq"

	// appendAttempts bounds the retry loop behind the advisory lock. The
	// lock already serializes writers per user; retries only absorb the
	// rare constraint violation slipping past it.
	appendAttempts = 5
)

// errConflict marks a lost race on the per-user seq; the append is retried
// against the fresh latest entry.
var errConflict = errors.New("concurrent append for user")

// PostgresStore is the production Store backed by PostgreSQL.
//
// Appends for one user run under a per-user advisory transaction lock, so
// each read-compute-insert sees the true latest entry. Two uniqueness
// constraints back that up: (user_id, seq) guarantees no two entries claim
// the same prior balance, and (user_id, ref_id) reserves the idempotency key
// in the same statement that persists the entry.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresStore creates a Store on top of an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("memberledger/ledgerstore"),
	}
}

// EnsureSchema creates the ledger table and its constraints if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id            UUID PRIMARY KEY,
			user_id       UUID NOT NULL,
			seq           BIGINT NOT NULL,
			delta         BIGINT NOT NULL,
			balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
			entry_type    TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			ref_id        TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ledger_entries_user_seq UNIQUE (user_id, seq),
			CONSTRAINT ledger_entries_user_ref UNIQUE (user_id, ref_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, req AppendRequest) (*Entry, bool, error) {
	ctx, span := s.tracer.Start(ctx, "ledgerstore.append",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID.String()),
			attribute.Int64("delta", req.Delta),
			attribute.String("entry.type", req.Type),
			attribute.Bool("ref.present", req.RefID != ""),
		),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		entry, applied, err := s.tryAppend(ctx, req)
		if err == nil {
			span.SetAttributes(
				attribute.Bool("applied", applied),
				attribute.Int64("balance.after", entry.BalanceAfter),
			)
			return entry, applied, nil
		}
		if errors.Is(err, errConflict) {
			span.AddEvent("append.conflict", trace.WithAttributes(
				attribute.Int("attempt", attempt+1),
			))
			lastErr = err
			continue
		}
		if errors.Is(err, ErrInsufficientPoints) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, lastErr)
}

func (s *PostgresStore) tryAppend(ctx context.Context, req AppendRequest) (*Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Single-writer scope keyed by userId: appends for one user queue
	// here, different users take different locks and proceed in
	// parallel. Released automatically at commit or rollback.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`,
		req.UserID); err != nil {
		return nil, false, fmt.Errorf("acquire user lock: %w", err)
	}

	// Replay check, now safely behind the user lock. The uniqueness
	// constraint below remains the backstop.
	if req.RefID != "" {
		existing, err := scanEntry(tx.QueryRowContext(ctx,
			selectEntry+` WHERE user_id = $1 AND ref_id = $2`,
			req.UserID, req.RefID))
		if err != nil && err != sql.ErrNoRows {
			return nil, false, fmt.Errorf("query ref: %w", err)
		}
		if err == nil {
			return existing, false, nil
		}
	}

	var seq, balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT seq, balance_after
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, req.UserID).Scan(&seq, &balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("query latest entry: %w", err)
	}

	newBalance := balance + req.Delta
	if newBalance < 0 {
		return nil, false, ErrInsufficientPoints
	}

	entry := &Entry{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Seq:          seq + 1,
		Delta:        req.Delta,
		BalanceAfter: newBalance,
		Type:         req.Type,
		Description:  req.Description,
		RefID:        req.RefID,
		CreatedAt:    time.Now().UTC(),
	}

	var refID sql.NullString
	if entry.RefID != "" {
		refID = sql.NullString{String: entry.RefID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, seq, delta, balance_after, entry_type, description, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.UserID, entry.Seq, entry.Delta, entry.BalanceAfter,
		entry.Type, entry.Description, refID, entry.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch {
			case pqErr.Code == "23505" && pqErr.Constraint == refConstraint:
				// Lost the idempotency race: another writer used the
				// key first. The failed statement aborted the
				// transaction, so fetch the winner outside it.
				tx.Rollback()
				return s.findByRef(ctx, req.UserID, req.RefID)
			case pqErr.Code == "23505" && pqErr.Constraint == seqConstraint:
				return nil, false, errConflict
			case pqErr.Code == "40001":
				return nil, false, errConflict
			}
		}
		return nil, false, fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "40001" {
			return nil, false, errConflict
		}
		return nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	return entry, true, nil
}

func (s *PostgresStore) findByRef(ctx context.Context, userID uuid.UUID, refID string) (*Entry, bool, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx,
		selectEntry+` WHERE user_id = $1 AND ref_id = $2`,
		userID, refID))
	if err != nil {
		return nil, false, fmt.Errorf("query ref after conflict: %w", err)
	}
	return entry, false, nil
}

// ListForUser implements Store.
func (s *PostgresStore) ListForUser(ctx context.Context, userID uuid.UUID, page, perPage int) ([]Entry, error) {
	ctx, span := s.tracer.Start(ctx, "ledgerstore.list",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.Int("page", page),
			attribute.Int("per_page", perPage),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	rows, err := s.db.QueryContext(ctx,
		selectEntry+`
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	span.SetAttributes(attribute.Int("entries.loaded", len(entries)))
	return entries, nil
}

// LatestBalance implements Store.
func (s *PostgresStore) LatestBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ledgerstore.latest_balance",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance_after
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}

	span.SetAttributes(attribute.Int64("balance", balance))
	return balance, nil
}

const selectEntry = `
	SELECT id, user_id, seq, delta, balance_after, entry_type, description, ref_id, created_at
	FROM ledger_entries`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var refID sql.NullString
	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Seq,
		&entry.Delta,
		&entry.BalanceAfter,
		&entry.Type,
		&entry.Description,
		&refID,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.RefID = refID.String
	return &entry, nil
}
