package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proclub/commerce/internal/domain/ledger"
	"github.com/proclub/commerce/internal/domain/member"
)

const (
	insertLedgerEntrySQL = `INSERT INTO point_ledger (id, member_id, type, points_delta, reason, ref_type, ref_id)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))`

	hasEarnEntrySQL = `SELECT EXISTS (
		SELECT 1 FROM point_ledger WHERE ref_type = $1 AND ref_id = $2 AND type = $3
	)`

	getOrderRefSQL = `SELECT id, order_number, COALESCE(member_id, ''), total_amount
	FROM orders WHERE id = $1`

	sumDeltasSQL = `SELECT COALESCE(SUM(points_delta), 0) FROM point_ledger WHERE member_id = $1`

	addPointsSQL = `UPDATE members SET points_balance = points_balance + $2
	WHERE id = $1 RETURNING points_balance`

	addSpentSQL = `UPDATE members SET total_spent = total_spent + $2
	WHERE id = $1
	RETURNING id, email, name, phone, tier, points_balance, total_spent`

	setTierSQL = `UPDATE members SET tier = $2 WHERE id = $1`
)

// earnOnceIndex is the partial unique index guaranteeing one EARN entry per
// referenced order.
const earnOnceIndex = "point_ledger_earn_once"

var _ ledger.Store = (*LedgerStore)(nil)

// LedgerStore implements ledger.Store backed by PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore returns a LedgerStore that uses the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) GetOrderRef(ctx context.Context, orderID string) (*ledger.OrderRef, error) {
	var ref ledger.OrderRef
	err := s.pool.QueryRow(ctx, getOrderRefSQL, orderID).
		Scan(&ref.ID, &ref.Number, &ref.MemberID, &ref.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Errorf("order %q not found", orderID)
		}
		return nil, fmt.Errorf("getting order ref %q: %w", orderID, err)
	}
	return &ref, nil
}

func (s *LedgerStore) HasEarnEntry(ctx context.Context, refType, refID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, hasEarnEntrySQL, refType, refID, string(ledger.EntryEarn)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking earn entry for %s %q: %w", refType, refID, err)
	}
	return exists, nil
}

func (s *LedgerStore) GetMember(ctx context.Context, memberID string) (*member.Member, error) {
	return getMember(ctx, s.pool, memberID)
}

func (s *LedgerStore) SumDeltas(ctx context.Context, memberID string) (int64, error) {
	var sum int64
	if err := s.pool.QueryRow(ctx, sumDeltasSQL, memberID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("summing ledger deltas for member %q: %w", memberID, err)
	}
	return sum, nil
}

// InTx runs fn inside one database transaction, so the ledger entry and the
// counter mutations commit or roll back together.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// ledgerTx implements ledger.Tx on one pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	return insertLedgerEntry(ctx, t.tx, e)
}

func (t *ledgerTx) AddPoints(ctx context.Context, memberID string, delta int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx, addPointsSQL, memberID, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, member.ErrNotFound
		}
		return 0, fmt.Errorf("adding points for member %q: %w", memberID, err)
	}
	return balance, nil
}

func (t *ledgerTx) AddSpent(ctx context.Context, memberID string, delta int64) (*member.Member, error) {
	var m member.Member
	err := t.tx.QueryRow(ctx, addSpentSQL, memberID, delta).
		Scan(&m.ID, &m.Email, &m.Name, &m.Phone, &m.Tier, &m.PointsBalance, &m.TotalSpent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, member.ErrNotFound
		}
		return nil, fmt.Errorf("adding spent for member %q: %w", memberID, err)
	}
	return &m, nil
}

func (t *ledgerTx) SetTier(ctx context.Context, memberID string, tier member.Tier) error {
	if _, err := t.tx.Exec(ctx, setTierSQL, memberID, string(tier)); err != nil {
		return fmt.Errorf("setting tier for member %q: %w", memberID, err)
	}
	return nil
}

// insertLedgerEntry appends a ledger row; shared by the ledger and order
// transaction types. The partial unique EARN index maps to
// ledger.ErrDuplicateEntry.
func insertLedgerEntry(ctx context.Context, tx pgx.Tx, e *ledger.Entry) error {
	_, err := tx.Exec(ctx, insertLedgerEntrySQL,
		e.ID, e.MemberID, string(e.Type), e.PointsDelta, e.Reason, e.RefType, e.RefID,
	)
	if err != nil {
		if isUniqueViolation(err, earnOnceIndex) {
			return ledger.ErrDuplicateEntry
		}
		return fmt.Errorf("inserting ledger entry %q: %w", e.ID, err)
	}
	return nil
}
