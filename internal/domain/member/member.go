// Package member defines the membership model: profile, denormalized point
// and spend counters, and the spend-based tier ladder.
package member

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no member matches the given identifier.
var ErrNotFound = errors.New("member not found")

// Tier is the membership level, derived from lifetime spend.
type Tier string

const (
	TierGuest   Tier = "GUEST"
	TierPro     Tier = "PRO"
	TierElite   Tier = "ELITE"
	TierZMaster Tier = "Z-MASTER"
)

// Spend thresholds for each tier, in minor currency units.
const (
	proThreshold     = 1_000
	eliteThreshold   = 10_000
	zMasterThreshold = 50_000
)

// TierForSpent maps lifetime spend to the tier it qualifies for. Tiers only
// ever move up: callers compare against the current tier before applying.
func TierForSpent(totalSpent int64) Tier {
	switch {
	case totalSpent >= zMasterThreshold:
		return TierZMaster
	case totalSpent >= eliteThreshold:
		return TierElite
	case totalSpent >= proThreshold:
		return TierPro
	default:
		return TierGuest
	}
}

// rank orders tiers for upgrade-only comparisons.
func (t Tier) rank() int {
	switch t {
	case TierPro:
		return 1
	case TierElite:
		return 2
	case TierZMaster:
		return 3
	default:
		return 0
	}
}

// Outranks reports whether t is a strictly higher tier than other.
func (t Tier) Outranks(other Tier) bool {
	return t.rank() > other.rank()
}

// Member is the membership row. PointsBalance and TotalSpent are denormalized
// counters maintained alongside the point ledger; the ledger remains the
// source of truth for the balance.
type Member struct {
	ID            string
	Email         string
	Name          string
	Phone         string
	Tier          Tier
	PointsBalance int64
	TotalSpent    int64
}

// Repository is the read contract for membership lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Member, error)
}
