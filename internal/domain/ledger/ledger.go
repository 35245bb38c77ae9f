// Package ledger implements the append-only point ledger and the earning,
// adjustment, and reconciliation operations over it. Entries are never
// updated or deleted; the member's cached balance is a denormalized view of
// the entry deltas.
package ledger

import (
	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"
)

// EntryType classifies a ledger movement.
type EntryType string

const (
	EntryEarn   EntryType = "EARN"
	EntryRedeem EntryType = "REDEEM"
	EntryAdjust EntryType = "ADJUST"
)

// Reference types linking an entry back to its cause.
const (
	RefTypeOrder       = "ORDER"
	RefTypeAdminAdjust = "ADMIN_ADJUST"
)

// ErrDuplicateEntry is returned when an EARN entry already exists for the
// same reference. It signals an idempotent replay, not a failure.
var ErrDuplicateEntry = errors.New("ledger entry already exists for reference")

// ErrZeroDelta rejects adjustments that would move nothing.
var ErrZeroDelta = errors.New("points delta must not be zero")

// Entry is one immutable ledger row. PointsDelta is positive for EARN,
// negative for REDEEM, and either sign for ADJUST.
type Entry struct {
	ID          string
	MemberID    string
	Type        EntryType
	PointsDelta int64
	Reason      string
	RefType     string
	RefID       string
}

// NewEntryID returns a lexicographically sortable entry id, so a ledger scan
// ordered by id is also ordered by time.
func NewEntryID() string {
	return ulid.Make().String()
}
