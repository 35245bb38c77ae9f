package ledger

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/proclub/commerce/internal/domain/member"
)

// OrderRef is the slice of an order the ledger needs to award points.
type OrderRef struct {
	ID       string
	Number   string
	MemberID string // empty for guest orders
	Total    int64
}

// Tx is the set of mutations available inside a ledger transaction. The
// entry and the counter updates always commit together.
type Tx interface {
	InsertEntry(ctx context.Context, e *Entry) error
	// AddPoints shifts the cached balance and returns the new value.
	AddPoints(ctx context.Context, memberID string, delta int64) (int64, error)
	// AddSpent shifts the lifetime spend counter and returns the updated member.
	AddSpent(ctx context.Context, memberID string, delta int64) (*member.Member, error)
	SetTier(ctx context.Context, memberID string, tier member.Tier) error
}

// Store is the persistence contract for the ledger service.
type Store interface {
	GetOrderRef(ctx context.Context, orderID string) (*OrderRef, error)
	HasEarnEntry(ctx context.Context, refType, refID string) (bool, error)
	GetMember(ctx context.Context, memberID string) (*member.Member, error)
	// SumDeltas totals every ledger delta for a member.
	SumDeltas(ctx context.Context, memberID string) (int64, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Service implements point earning, manual adjustment, and balance
// reconciliation.
type Service struct {
	store Store
}

// NewService creates a ledger Service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// AwardForOrder grants points for a paid order: one point per currency unit
// of the paid total. Guest orders earn nothing. The operation is idempotent
// per order; replays are absorbed either by the existence fast path or by the
// unique EARN constraint inside the transaction.
//
// The award also advances the member's lifetime spend, and promotes the tier
// when the new spend crosses a threshold. Tiers never move down here.
func (s *Service) AwardForOrder(ctx context.Context, orderID string) error {
	ref, err := s.store.GetOrderRef(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "get order")
	}
	if ref.MemberID == "" || ref.Total <= 0 {
		return nil
	}

	exists, err := s.store.HasEarnEntry(ctx, RefTypeOrder, ref.ID)
	if err != nil {
		return errors.Wrap(err, "check earn entry")
	}
	if exists {
		return nil
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertEntry(ctx, &Entry{
			ID:          NewEntryID(),
			MemberID:    ref.MemberID,
			Type:        EntryEarn,
			PointsDelta: ref.Total,
			Reason:      fmt.Sprintf("order paid: %s", ref.Number),
			RefType:     RefTypeOrder,
			RefID:       ref.ID,
		}); err != nil {
			return err
		}
		if _, err := tx.AddPoints(ctx, ref.MemberID, ref.Total); err != nil {
			return err
		}
		m, err := tx.AddSpent(ctx, ref.MemberID, ref.Total)
		if err != nil {
			return err
		}
		if next := member.TierForSpent(m.TotalSpent); next.Outranks(m.Tier) {
			zctx.From(ctx).Info("member tier promoted",
				zap.String("member_id", m.ID),
				zap.String("from", string(m.Tier)),
				zap.String("to", string(next)),
			)
			return tx.SetTier(ctx, ref.MemberID, next)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateEntry) {
		// A concurrent award for the same order won the insert.
		return nil
	}
	return err
}

// AdjustPoints appends a manual ADJUST entry and shifts the cached balance by
// the same delta. Returns the balance after the adjustment.
func (s *Service) AdjustPoints(ctx context.Context, memberID string, delta int64, reason string) (int64, error) {
	if delta == 0 {
		return 0, ErrZeroDelta
	}
	if _, err := s.store.GetMember(ctx, memberID); err != nil {
		return 0, err
	}

	var balance int64
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertEntry(ctx, &Entry{
			ID:          NewEntryID(),
			MemberID:    memberID,
			Type:        EntryAdjust,
			PointsDelta: delta,
			Reason:      reason,
			RefType:     RefTypeAdminAdjust,
		}); err != nil {
			return err
		}
		var err error
		balance, err = tx.AddPoints(ctx, memberID, delta)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Reconciliation compares the ledger truth against the cached counter.
type Reconciliation struct {
	MemberID      string
	LedgerSum     int64
	CachedBalance int64
}

// Drift is cached minus ledger; zero means the counter is consistent.
func (r *Reconciliation) Drift() int64 {
	return r.CachedBalance - r.LedgerSum
}

// Reconcile recomputes a member's balance from the ledger and reports it next
// to the cached counter. It never repairs; operators decide what to do with
// the drift.
func (s *Service) Reconcile(ctx context.Context, memberID string) (*Reconciliation, error) {
	m, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	sum, err := s.store.SumDeltas(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return &Reconciliation{
		MemberID:      m.ID,
		LedgerSum:     sum,
		CachedBalance: m.PointsBalance,
	}, nil
}
