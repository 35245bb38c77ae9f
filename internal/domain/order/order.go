// Package order implements the order aggregate: creation under inventory and
// point contention, the status state machine, and admin fulfillment updates.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/proclub/commerce/internal/domain/ledger"
)

// Shipping is the contact snapshot captured at order creation. It is
// immutable afterwards; only the fulfillment fields on the order itself
// (carrier, tracking number) change later.
type Shipping struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

// Item is a single line of an order. UnitPrice and TotalPrice are snapshots
// taken at order time and are never re-read from the SKU.
type Item struct {
	SKUID      string
	SKUCode    string
	Name       string
	Qty        int64
	UnitPrice  int64
	TotalPrice int64
}

// Order is the aggregate root. All monetary fields are non-negative integers
// in minor currency units and satisfy Total = Subtotal - Discount with
// Discount = PointsRedeemed.
type Order struct {
	ID             string
	Number         string
	Status         Status
	MemberID       string // empty for guest orders
	Subtotal       int64
	Discount       int64
	PointsRedeemed int64
	Total          int64
	Shipping       Shipping
	Carrier        *string
	TrackingNo     *string
	SalesCode      string
	Items          []Item

	CustomerReportedPaidAt *time.Time
	ShippedAt              *time.Time
	CompletedAt            *time.Time
	CreatedAt              time.Time
}

// ErrDuplicateNumber is returned by stores when an insert collides with an
// existing order number. It is an expected, retryable condition.
var ErrDuplicateNumber = errors.New("order number already exists")

// Tx is the set of mutations available inside an order-creation transaction.
// Every operation is conditional where it matters: a failed condition aborts
// the transaction and rolls back all prior reservations.
type Tx interface {
	// ReserveStock decrements a SKU's stock only if enough remains
	// (a single conditional update). Returns ErrInsufficientStock otherwise.
	ReserveStock(ctx context.Context, skuID string, qty int64) error
	// DeductPoints decrements a member's balance only if it covers the
	// amount. Returns ErrInsufficientCredit otherwise.
	DeductPoints(ctx context.Context, memberID string, points int64) error
	// InsertOrder persists the order and its items.
	// Returns ErrDuplicateNumber on an order-number collision.
	InsertOrder(ctx context.Context, o *Order) error
	// InsertLedgerEntry appends a point-ledger row in the same transaction.
	InsertLedgerEntry(ctx context.Context, e *ledger.Entry) error
}

// ListFilter narrows the admin order listing.
type ListFilter struct {
	Statuses []Status
	Query    string // matches order number, shipping email, or shipping name
	Limit    int
}

// Store is the persistence contract for the order service.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	// GetByNumberForMember returns the order only when it belongs to the member.
	GetByNumberForMember(ctx context.Context, number, memberID string) (*Order, error)
	// GetByNumberAndEmail returns the order only when the shipping email matches.
	GetByNumberAndEmail(ctx context.Context, number, email string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, orderID string, next Status, shippedAt, completedAt *time.Time) error
	UpdateShipping(ctx context.Context, orderID string, carrier, trackingNo *string) (*Order, error)
}

// PointAwarder is the earning hook invoked when an order reaches PAID.
// Implementations must be idempotent per order.
type PointAwarder interface {
	AwardForOrder(ctx context.Context, orderID string) error
}
