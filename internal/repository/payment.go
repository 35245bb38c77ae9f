package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proclub/commerce/internal/domain/order"
	"github.com/proclub/commerce/internal/domain/payment"
)

const (
	insertPaymentSQL = `INSERT INTO payments (id, order_id, provider, method, status, amount, merchant_trade_no)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectPaymentSQL = `SELECT id, order_id, provider, method, status, amount, merchant_trade_no,
		COALESCE(provider_trade_no, ''), COALESCE(atm_bank_code, ''), COALESCE(atm_account, ''),
		atm_expire_at, paid_at, created_at
	FROM payments`

	markSucceededSQL = `UPDATE payments SET status = $2,
		provider_trade_no = NULLIF($3, ''),
		paid_at = $4,
		raw_callback = $5
	WHERE id = $1 AND status <> $2`

	markPendingSQL = `UPDATE payments SET status = $2, raw_callback = $3
	WHERE id = $1 AND status <> $4`

	updateATMInfoSQL = `UPDATE payments SET status = $2,
		atm_bank_code = COALESCE(NULLIF($3, ''), atm_bank_code),
		atm_account = COALESCE(NULLIF($4, ''), atm_account),
		atm_expire_at = COALESCE($5, atm_expire_at),
		raw_callback = $6
	WHERE id = $1 AND status <> $7`

	setReportedPaidSQL = `UPDATE orders SET customer_reported_paid_at = $2, updated_at = now()
	WHERE id = $1`
)

var _ payment.Store = (*PaymentStore)(nil)

// PaymentStore implements payment.Store backed by PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore returns a PaymentStore that uses the given pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

func (s *PaymentStore) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	return getOrder(ctx, s.pool, selectOrderSQL+` WHERE order_number = $1`, number)
}

func (s *PaymentStore) GetOrderByNumberAndEmail(ctx context.Context, number, email string) (*order.Order, error) {
	return getOrder(ctx, s.pool, selectOrderSQL+` WHERE order_number = $1 AND shipping_email = $2`, number, email)
}

func (s *PaymentStore) CreatePayment(ctx context.Context, p *payment.Payment) error {
	_, err := s.pool.Exec(ctx, insertPaymentSQL,
		p.ID, p.OrderID, p.Provider, string(p.Method), string(p.Status), p.Amount, p.MerchantTradeNo,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

func (s *PaymentStore) FindByTradeNo(ctx context.Context, tradeNo string) (*payment.Payment, error) {
	return getPayment(ctx, s.pool, selectPaymentSQL+` WHERE merchant_trade_no = $1`, tradeNo)
}

func (s *PaymentStore) LatestForOrder(ctx context.Context, orderID string) (*payment.Payment, error) {
	return getPayment(ctx, s.pool, selectPaymentSQL+` WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID)
}

// MarkSucceeded is conditional on the payment not already being SUCCEEDED;
// under concurrent callback deliveries exactly one caller sees applied=true.
func (s *PaymentStore) MarkSucceeded(ctx context.Context, paymentID, providerTradeNo string, paidAt time.Time, raw map[string]string) (bool, error) {
	tag, err := s.pool.Exec(ctx, markSucceededSQL,
		paymentID, string(payment.StatusSucceeded), providerTradeNo, paidAt, encodeRawPayload(raw),
	)
	if err != nil {
		return false, fmt.Errorf("marking payment %q succeeded: %w", paymentID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PaymentStore) MarkPending(ctx context.Context, paymentID string, raw map[string]string) error {
	_, err := s.pool.Exec(ctx, markPendingSQL,
		paymentID, string(payment.StatusPending), encodeRawPayload(raw), string(payment.StatusSucceeded),
	)
	if err != nil {
		return fmt.Errorf("marking payment %q pending: %w", paymentID, err)
	}
	return nil
}

func (s *PaymentStore) UpdateATMInfo(ctx context.Context, paymentID, bankCode, account string, expireAt *time.Time, raw map[string]string) error {
	_, err := s.pool.Exec(ctx, updateATMInfoSQL,
		paymentID, string(payment.StatusPending), bankCode, account, expireAt,
		encodeRawPayload(raw), string(payment.StatusSucceeded),
	)
	if err != nil {
		return fmt.Errorf("updating payment %q atm info: %w", paymentID, err)
	}
	return nil
}

func (s *PaymentStore) SetOrderReportedPaid(ctx context.Context, orderID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, setReportedPaidSQL, orderID, at)
	if err != nil {
		return fmt.Errorf("setting reported paid on order %q: %w", orderID, err)
	}
	if tag.RowsAffected() != 1 {
		return order.ErrNotFound
	}
	return nil
}

func getPayment(ctx context.Context, q querier, sql string, args ...any) (*payment.Payment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting payment: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment: %w", err)
	}
	return &p, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Provider, &p.Method, &p.Status, &p.Amount, &p.MerchantTradeNo,
		&p.ProviderTradeNo, &p.ATMBankCode, &p.ATMAccount,
		&p.ATMExpireAt, &p.PaidAt, &p.CreatedAt,
	)
	return p, err
}

// encodeRawPayload serializes the raw callback fields to JSON for the audit
// column, with keys sorted for stable diffs.
func encodeRawPayload(raw map[string]string) []byte {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var e jx.Encoder
	e.ObjStart()
	for _, k := range keys {
		e.FieldStart(k)
		e.Str(raw[k])
	}
	e.ObjEnd()
	return e.Bytes()
}
