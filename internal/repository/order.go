package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proclub/commerce/internal/domain/ledger"
	"github.com/proclub/commerce/internal/domain/order"
)

const (
	selectOrderSQL = `SELECT id, order_number, status, member_id,
		subtotal_amount, discount_amount, points_redeemed, total_amount,
		shipping_name, shipping_phone, shipping_email, shipping_address,
		shipping_carrier, shipping_tracking_no, sales_code,
		customer_reported_paid_at, shipped_at, completed_at, created_at
	FROM orders`

	selectOrderItemsSQL = `SELECT oi.sku_id, s.sku_code, p.name, oi.qty, oi.unit_price, oi.total_price
	FROM order_items oi
	JOIN skus s ON s.id = oi.sku_id
	JOIN products p ON p.id = s.product_id
	WHERE oi.order_id = $1
	ORDER BY oi.id`

	insertOrderSQL = `INSERT INTO orders (id, order_number, status, member_id,
		subtotal_amount, discount_amount, points_redeemed, total_amount,
		shipping_name, shipping_phone, shipping_email, shipping_address, sales_code)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''))`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, sku_id, qty, unit_price, total_price)
	VALUES ($1, $2, $3, $4, $5)`

	reserveStockSQL = `UPDATE skus SET stock = stock - $2 WHERE id = $1 AND stock >= $2`

	deductPointsSQL = `UPDATE members SET points_balance = points_balance - $2
	WHERE id = $1 AND points_balance >= $2`

	updateOrderStatusSQL = `UPDATE orders SET status = $2,
		shipped_at = COALESCE($3, shipped_at),
		completed_at = COALESCE($4, completed_at),
		updated_at = now()
	WHERE id = $1`

	updateOrderShippingSQL = `UPDATE orders SET
		shipping_carrier = COALESCE($2, shipping_carrier),
		shipping_tracking_no = COALESCE($3, shipping_tracking_no),
		updated_at = now()
	WHERE id = $1`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn inside one database transaction. The order.Tx handed to fn
// shares that transaction, so a failed reservation rolls back everything.
func (s *OrderStore) InTx(ctx context.Context, fn func(tx order.Tx) error) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&orderTx{tx: tx})
	})
}

func (s *OrderStore) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, s.pool, selectOrderSQL+` WHERE id = $1`, id)
}

func (s *OrderStore) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return getOrder(ctx, s.pool, selectOrderSQL+` WHERE order_number = $1`, number)
}

func (s *OrderStore) GetByNumberForMember(ctx context.Context, number, memberID string) (*order.Order, error) {
	return getOrder(ctx, s.pool, selectOrderSQL+` WHERE order_number = $1 AND member_id = $2`, number, memberID)
}

func (s *OrderStore) GetByNumberAndEmail(ctx context.Context, number, email string) (*order.Order, error) {
	return getOrder(ctx, s.pool, selectOrderSQL+` WHERE order_number = $1 AND shipping_email = $2`, number, email)
}

// List returns order summaries (no line items), newest first.
func (s *OrderStore) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	sql := selectOrderSQL + ` WHERE true`
	args := make([]any, 0, 3)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		sql += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		n := len(args)
		sql += fmt.Sprintf(" AND (order_number ILIKE $%d OR shipping_email ILIKE $%d OR shipping_name ILIKE $%d)", n, n, n)
	}
	args = append(args, filter.Limit)
	sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func (s *OrderStore) UpdateStatus(ctx context.Context, orderID string, next order.Status, shippedAt, completedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, updateOrderStatusSQL, orderID, string(next), shippedAt, completedAt)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", orderID, err)
	}
	if tag.RowsAffected() != 1 {
		return order.ErrNotFound
	}
	return nil
}

func (s *OrderStore) UpdateShipping(ctx context.Context, orderID string, carrier, trackingNo *string) (*order.Order, error) {
	tag, err := s.pool.Exec(ctx, updateOrderShippingSQL, orderID, carrier, trackingNo)
	if err != nil {
		return nil, fmt.Errorf("updating order %q shipping: %w", orderID, err)
	}
	if tag.RowsAffected() != 1 {
		return nil, order.ErrNotFound
	}
	return s.GetByID(ctx, orderID)
}

// getOrder fetches one order plus its line items with the given WHERE clause.
func getOrder(ctx context.Context, q querier, sql string, args ...any) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	itemRows, err := q.Query(ctx, selectOrderItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q items: %w", o.ID, err)
	}
	o.Items, err = pgx.CollectRows(itemRows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting order %q items: %w", o.ID, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		memberID  *string
		salesCode *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Status, &memberID,
		&o.Subtotal, &o.Discount, &o.PointsRedeemed, &o.Total,
		&o.Shipping.Name, &o.Shipping.Phone, &o.Shipping.Email, &o.Shipping.Address,
		&o.Carrier, &o.TrackingNo, &salesCode,
		&o.CustomerReportedPaidAt, &o.ShippedAt, &o.CompletedAt, &o.CreatedAt,
	)
	if memberID != nil {
		o.MemberID = *memberID
	}
	if salesCode != nil {
		o.SalesCode = *salesCode
	}
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.SKUID, &it.SKUCode, &it.Name, &it.Qty, &it.UnitPrice, &it.TotalPrice)
	return it, err
}

// orderTx implements order.Tx on one pgx transaction.
type orderTx struct {
	tx pgx.Tx
}

// ReserveStock is a single conditional decrement. Anything other than exactly
// one affected row means the stock does not cover the quantity.
func (t *orderTx) ReserveStock(ctx context.Context, skuID string, qty int64) error {
	tag, err := t.tx.Exec(ctx, reserveStockSQL, skuID, qty)
	if err != nil {
		return fmt.Errorf("reserving stock for sku %q: %w", skuID, err)
	}
	if tag.RowsAffected() != 1 {
		return order.ErrInsufficientStock
	}
	return nil
}

// DeductPoints conditionally decrements the member balance inside the order
// transaction; the WHERE clause is what closes the check-then-spend race.
func (t *orderTx) DeductPoints(ctx context.Context, memberID string, points int64) error {
	tag, err := t.tx.Exec(ctx, deductPointsSQL, memberID, points)
	if err != nil {
		return fmt.Errorf("deducting points for member %q: %w", memberID, err)
	}
	if tag.RowsAffected() != 1 {
		return order.ErrInsufficientCredit
	}
	return nil
}

// InsertOrder runs inside a savepoint (a pgx nested transaction): an
// order-number collision would otherwise abort the enclosing transaction and
// make the regenerate-and-retry loop impossible on PostgreSQL.
func (t *orderTx) InsertOrder(ctx context.Context, o *order.Order) error {
	var memberID *string
	if o.MemberID != "" {
		memberID = &o.MemberID
	}

	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting savepoint: %w", err)
	}

	_, err = nested.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, string(o.Status), memberID,
		o.Subtotal, o.Discount, o.PointsRedeemed, o.Total,
		o.Shipping.Name, o.Shipping.Phone, o.Shipping.Email, o.Shipping.Address,
		o.SalesCode,
	)
	if err != nil {
		_ = nested.Rollback(ctx)
		if isUniqueViolation(err, "orders_order_number_key") {
			return order.ErrDuplicateNumber
		}
		return fmt.Errorf("inserting order %q: %w", o.Number, err)
	}

	for _, it := range o.Items {
		if _, err := nested.Exec(ctx, insertOrderItemSQL, o.ID, it.SKUID, it.Qty, it.UnitPrice, it.TotalPrice); err != nil {
			_ = nested.Rollback(ctx)
			return fmt.Errorf("inserting order %q item %q: %w", o.Number, it.SKUCode, err)
		}
	}
	return nested.Commit(ctx)
}

func (t *orderTx) InsertLedgerEntry(ctx context.Context, e *ledger.Entry) error {
	return insertLedgerEntry(ctx, t.tx, e)
}
