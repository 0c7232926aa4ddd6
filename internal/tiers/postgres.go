package tiers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore persists the tier table in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Store on top of an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tier table if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS member_tiers (
			id            UUID PRIMARY KEY,
			name          TEXT NOT NULL,
			level         INT NOT NULL,
			min_points    BIGINT NOT NULL CHECK (min_points >= 0),
			max_points    BIGINT,
			discount_rate NUMERIC(5, 2) NOT NULL DEFAULT 1.00,
			description   TEXT NOT NULL DEFAULT '',
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			CONSTRAINT member_tiers_level UNIQUE (level)
		)
	`)
	if err != nil {
		return fmt.Errorf("create tier schema: %w", err)
	}
	return nil
}

const selectTier = `
	SELECT id, name, level, min_points, max_points, discount_rate, description, active, created_at, updated_at
	FROM member_tiers`

// ListActive implements Store.
func (s *PostgresStore) ListActive(ctx context.Context) ([]Tier, error) {
	return s.list(ctx, selectTier+` WHERE active ORDER BY level ASC`)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Tier, error) {
	return s.list(ctx, selectTier+` ORDER BY level ASC`)
}

func (s *PostgresStore) list(ctx context.Context, query string) ([]Tier, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}
	defer rows.Close()

	tiers := []Tier{}
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tiers = append(tiers, *tier)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tiers: %w", err)
	}
	return tiers, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Tier, error) {
	tier, err := scanTier(s.db.QueryRowContext(ctx, selectTier+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tier: %w", err)
	}
	return tier, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, tier *Tier) error {
	if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}
	now := time.Now().UTC()
	tier.CreatedAt = now
	tier.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO member_tiers (id, name, level, min_points, max_points, discount_rate, description, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tier.ID, tier.Name, tier.Level, tier.MinPoints, tier.MaxPoints,
		tier.DiscountRate, tier.Description, tier.Active, tier.CreatedAt, tier.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: level %d", ErrLevelTaken, tier.Level)
		}
		return fmt.Errorf("insert tier: %w", err)
	}
	return nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, tier *Tier) error {
	tier.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE member_tiers
		SET name = $1, level = $2, min_points = $3, max_points = $4,
		    discount_rate = $5, description = $6, active = $7, updated_at = $8
		WHERE id = $9
	`, tier.Name, tier.Level, tier.MinPoints, tier.MaxPoints,
		tier.DiscountRate, tier.Description, tier.Active, tier.UpdatedAt, tier.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: level %d", ErrLevelTaken, tier.Level)
		}
		return fmt.Errorf("update tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTierNotFound
	}
	return nil
}

// Deactivate implements Store.
func (s *PostgresStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE member_tiers
		SET active = FALSE, updated_at = $1
		WHERE id = $2
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTierNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTier(row rowScanner) (*Tier, error) {
	var tier Tier
	var maxPoints sql.NullInt64
	err := row.Scan(
		&tier.ID,
		&tier.Name,
		&tier.Level,
		&tier.MinPoints,
		&maxPoints,
		&tier.DiscountRate,
		&tier.Description,
		&tier.Active,
		&tier.CreatedAt,
		&tier.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if maxPoints.Valid {
		tier.MaxPoints = &maxPoints.Int64
	}
	return &tier, nil
}
