// Package tiers maps point balances to membership tiers using an ordered
// threshold table maintained by administrators.
package tiers

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNoMatchingTier is returned when no active tier covers a balance. For a
// well-formed table this indicates misconfiguration, not a request problem.
var ErrNoMatchingTier = errors.New("no active tier matches balance")

// Tier is one membership level covering the balance range
// [MinPoints, MaxPoints). MaxPoints nil means unbounded above.
type Tier struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Level        int             `json:"level"`
	MinPoints    int64           `json:"min_points"`
	MaxPoints    *int64          `json:"max_points,omitempty"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	Description  string          `json:"description,omitempty"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Contains reports whether balance falls inside the tier's range.
func (t Tier) Contains(balance int64) bool {
	if balance < t.MinPoints {
		return false
	}
	return t.MaxPoints == nil || balance < *t.MaxPoints
}

// Classify selects the active tier covering balance. When an administrator
// misconfigures overlapping ranges, the tier with the lowest level wins.
func Classify(table []Tier, balance int64) (*Tier, error) {
	if balance < 0 {
		return nil, fmt.Errorf("%w: negative balance %d", ErrNoMatchingTier, balance)
	}

	sorted := make([]Tier, len(table))
	copy(sorted, table)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	for i := range sorted {
		if sorted[i].Active && sorted[i].Contains(balance) {
			return &sorted[i], nil
		}
	}
	return nil, fmt.Errorf("%w: balance %d", ErrNoMatchingTier, balance)
}

// Validate checks that the active tiers partition the non-negative balance
// line into contiguous, non-overlapping ranges ordered by level. A table
// that passes makes Classify total for every balance >= 0.
func Validate(table []Tier) error {
	active := make([]Tier, 0, len(table))
	for _, t := range table {
		if t.Active {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return errors.New("tier table has no active tiers")
	}

	sort.Slice(active, func(i, j int) bool { return active[i].Level < active[j].Level })

	for i := 1; i < len(active); i++ {
		if active[i].Level == active[i-1].Level {
			return fmt.Errorf("duplicate level %d (%q and %q)",
				active[i].Level, active[i-1].Name, active[i].Name)
		}
	}

	if active[0].MinPoints != 0 {
		return fmt.Errorf("tier %q starts at %d, leaving balances below uncovered",
			active[0].Name, active[0].MinPoints)
	}

	for i := range active {
		t := active[i]
		if t.MaxPoints != nil && *t.MaxPoints <= t.MinPoints {
			return fmt.Errorf("tier %q has empty range [%d, %d)", t.Name, t.MinPoints, *t.MaxPoints)
		}
		if i == len(active)-1 {
			if t.MaxPoints != nil {
				return fmt.Errorf("top tier %q is bounded at %d, leaving balances above uncovered",
					t.Name, *t.MaxPoints)
			}
			continue
		}
		if t.MaxPoints == nil {
			return fmt.Errorf("tier %q is unbounded but not the top tier", t.Name)
		}
		next := active[i+1]
		if next.MinPoints != *t.MaxPoints {
			if next.MinPoints > *t.MaxPoints {
				return fmt.Errorf("gap between %q (ends %d) and %q (starts %d)",
					t.Name, *t.MaxPoints, next.Name, next.MinPoints)
			}
			return fmt.Errorf("overlap between %q (ends %d) and %q (starts %d)",
				t.Name, *t.MaxPoints, next.Name, next.MinPoints)
		}
	}
	return nil
}

// DefaultTable is the reference table new deployments start with.
func DefaultTable() []Tier {
	bronzeMax := int64(100)
	silverMax := int64(500)
	now := time.Now().UTC()
	return []Tier{
		{
			ID: uuid.New(), Name: "Bronze", Level: 1,
			MinPoints: 0, MaxPoints: &bronzeMax,
			DiscountRate: decimal.NewFromFloat(1.00),
			Active:       true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: uuid.New(), Name: "Silver", Level: 2,
			MinPoints: 100, MaxPoints: &silverMax,
			DiscountRate: decimal.NewFromFloat(0.95),
			Active:       true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: uuid.New(), Name: "Gold", Level: 3,
			MinPoints: 500, MaxPoints: nil,
			DiscountRate: decimal.NewFromFloat(0.90),
			Active:       true, CreatedAt: now, UpdatedAt: now,
		},
	}
}
