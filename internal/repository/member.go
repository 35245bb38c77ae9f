package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proclub/commerce/internal/domain/member"
)

const getMemberByIDSQL = `SELECT id, email, name, phone, tier, points_balance, total_spent
	FROM members WHERE id = $1`

var _ member.Repository = (*MemberRepository)(nil)

// MemberRepository implements member.Repository backed by PostgreSQL.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository returns a MemberRepository that uses the given pool.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// GetByID returns a single member by identifier.
func (r *MemberRepository) GetByID(ctx context.Context, id string) (*member.Member, error) {
	return getMember(ctx, r.pool, id)
}

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getMember(ctx context.Context, q querier, id string) (*member.Member, error) {
	rows, err := q.Query(ctx, getMemberByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting member %q: %w", id, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMember)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, member.ErrNotFound
		}
		return nil, fmt.Errorf("getting member %q: %w", id, err)
	}
	return &m, nil
}

func scanMember(row pgx.CollectableRow) (member.Member, error) {
	var m member.Member
	err := row.Scan(&m.ID, &m.Email, &m.Name, &m.Phone, &m.Tier, &m.PointsBalance, &m.TotalSpent)
	return m, err
}
