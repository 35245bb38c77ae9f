package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proclub/commerce/internal/domain/catalog"
	"github.com/proclub/commerce/internal/domain/ledger"
	"github.com/proclub/commerce/internal/domain/member"
)

// numberAttempts bounds the regenerate-and-retry loop on order-number
// collisions. Exhausting it is a hard failure that needs operator attention.
const numberAttempts = 5

// Sentinel errors for order operations.
var (
	ErrNotFound           = errors.New("order not found")
	ErrMissingShipping    = errors.New("shipping contact required")
	ErrEmptyItems         = errors.New("items required")
	ErrInsufficientCredit = errors.New("insufficient point balance")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNumberExhausted    = errors.New("order number generation retries exhausted")
	ErrNegativeTotal      = errors.New("order total must not be negative")
)

// InvalidItemError reports a line item with a bad SKU code or quantity.
type InvalidItemError struct {
	SKUCode string
	Qty     int64
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid item: sku %q qty %d", e.SKUCode, e.Qty)
}

// SKUNotFoundError reports a requested SKU code that does not resolve.
type SKUNotFoundError struct {
	SKUCode string
}

func (e *SKUNotFoundError) Error() string {
	return fmt.Sprintf("sku %q not found", e.SKUCode)
}

// ItemRequest is one requested order line.
type ItemRequest struct {
	SKUCode string
	Qty     int64
}

// CreateRequest holds the input for order creation.
type CreateRequest struct {
	Items          []ItemRequest
	Shipping       Shipping
	SalesCode      string
	PointsToRedeem int64
	MemberID       string // empty for guest checkout
}

// Service encapsulates order lifecycle business logic.
type Service struct {
	skus    catalog.Repository
	members member.Repository
	store   Store
	points  PointAwarder

	now       func() time.Time
	newNumber func(time.Time) string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	skus catalog.Repository,
	members member.Repository,
	store Store,
	points PointAwarder,
) *Service {
	return &Service{
		skus:      skus,
		members:   members,
		store:     store,
		points:    points,
		now:       time.Now,
		newNumber: NewNumber,
	}
}

// Create validates the request, snapshots prices, caps point redemption, and
// atomically reserves stock, deducts points, and inserts the order. Either
// everything commits or nothing does: a failed stock reservation on the last
// line rolls back every prior reservation and the point deduction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if req.Shipping.Name == "" || req.Shipping.Email == "" || req.Shipping.Address == "" {
		return nil, ErrMissingShipping
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.SKUCode == "" || it.Qty <= 0 {
			return nil, &InvalidItemError{SKUCode: it.SKUCode, Qty: it.Qty}
		}
	}

	shipping := req.Shipping
	shipping.Email = strings.ToLower(strings.TrimSpace(shipping.Email))

	// Resolve every SKU code in one batch; any unresolved code fails the
	// whole order.
	codes := make([]string, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, it := range req.Items {
		if _, ok := seen[it.SKUCode]; ok {
			continue
		}
		seen[it.SKUCode] = struct{}{}
		codes = append(codes, it.SKUCode)
	}
	skus, err := s.skus.GetByCodes(ctx, codes)
	if err != nil {
		return nil, errors.Wrap(err, "get skus")
	}
	byCode := make(map[string]catalog.SKU, len(skus))
	for _, sku := range skus {
		byCode[sku.Code] = sku
	}

	// Snapshot unit prices at this instant. Members buy at the member price.
	isMember := req.MemberID != ""
	items := make([]Item, len(req.Items))
	var subtotal int64
	for i, it := range req.Items {
		sku, ok := byCode[it.SKUCode]
		if !ok {
			return nil, &SKUNotFoundError{SKUCode: it.SKUCode}
		}
		unit := sku.UnitPrice(isMember)
		items[i] = Item{
			SKUID:      sku.ID,
			SKUCode:    sku.Code,
			Name:       sku.ProductName,
			Qty:        it.Qty,
			UnitPrice:  unit,
			TotalPrice: unit * it.Qty,
		}
		subtotal += items[i].TotalPrice
	}

	// Cap redemption at min(requested, subtotal); requesting more than the
	// current balance is rejected outright. The balance read here is only a
	// fast validation; the conditional deduction inside the transaction is
	// what prevents a double spend.
	var redeemed int64
	if isMember && req.PointsToRedeem > 0 {
		m, err := s.members.GetByID(ctx, req.MemberID)
		if err != nil {
			return nil, err
		}
		if req.PointsToRedeem > m.PointsBalance {
			return nil, ErrInsufficientCredit
		}
		redeemed = min(req.PointsToRedeem, subtotal)
	}

	total := subtotal - redeemed
	if total < 0 {
		// Unreachable given the cap, but checked anyway.
		return nil, ErrNegativeTotal
	}

	status := StatusUnpaid
	if total == 0 {
		status = StatusPaid
	}

	o := &Order{
		ID:             uuid.New().String(),
		Status:         status,
		MemberID:       req.MemberID,
		Subtotal:       subtotal,
		Discount:       redeemed,
		PointsRedeemed: redeemed,
		Total:          total,
		Shipping:       shipping,
		SalesCode:      req.SalesCode,
		Items:          items,
	}

	// Reservations take row locks in SKU id order so two checkouts holding
	// the same SKUs in opposite line order cannot deadlock.
	reserve := make([]Item, len(items))
	copy(reserve, items)
	sort.Slice(reserve, func(i, j int) bool { return reserve[i].SKUID < reserve[j].SKUID })

	err = s.store.InTx(ctx, func(tx Tx) error {
		if redeemed > 0 {
			if err := tx.DeductPoints(ctx, req.MemberID, redeemed); err != nil {
				return err
			}
		}
		for _, it := range reserve {
			if err := tx.ReserveStock(ctx, it.SKUID, it.Qty); err != nil {
				return err
			}
		}

		for attempt := 0; attempt < numberAttempts; attempt++ {
			o.Number = s.newNumber(s.now())
			err := tx.InsertOrder(ctx, o)
			if errors.Is(err, ErrDuplicateNumber) {
				continue
			}
			if err != nil {
				return errors.Wrap(err, "insert order")
			}
			if redeemed > 0 {
				return tx.InsertLedgerEntry(ctx, &ledger.Entry{
					ID:          ledger.NewEntryID(),
					MemberID:    req.MemberID,
					Type:        ledger.EntryRedeem,
					PointsDelta: -redeemed,
					Reason:      fmt.Sprintf("order redemption: %s", o.Number),
					RefType:     ledger.RefTypeOrder,
					RefID:       o.ID,
				})
			}
			return nil
		}
		return ErrNumberExhausted
	})
	if err != nil {
		return nil, err
	}

	// Zero-cost orders are born PAID and earn immediately. The hook is
	// idempotent, so a failure here is recoverable by re-invoking it.
	if o.Status == StatusPaid {
		if err := s.points.AwardForOrder(ctx, o.ID); err != nil {
			zctx.From(ctx).Error("award points for zero-total order",
				zap.String("order_number", o.Number), zap.Error(err))
		}
	}

	return o, nil
}

// Transition moves an order along the status table. With force=true the table
// is bypassed entirely; that is an admin escape hatch and is logged distinctly
// because it can produce states unreachable by normal flow.
//
// Reaching SHIPPED stamps shipped-at, COMPLETED stamps completed-at, and PAID
// invokes the earning hook. The hook's own ledger duplicate-check keeps a
// manual PAID transition racing a gateway callback from double-awarding.
func (s *Service) Transition(ctx context.Context, number string, next Status, force bool) (*Order, error) {
	if !next.Valid() {
		return nil, &UnknownStatusError{Status: next}
	}
	o, err := s.store.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	if !o.Status.CanTransitionTo(next) {
		if !force {
			return nil, &InvalidTransitionError{From: o.Status, To: next}
		}
		zctx.From(ctx).Warn("forced status override outside transition table",
			zap.String("order_number", o.Number),
			zap.String("from", string(o.Status)),
			zap.String("to", string(next)),
		)
	}

	now := s.now()
	var shippedAt, completedAt *time.Time
	if next == StatusShipped {
		shippedAt = &now
	}
	if next == StatusCompleted {
		completedAt = &now
	}

	if err := s.store.UpdateStatus(ctx, o.ID, next, shippedAt, completedAt); err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	o.Status = next
	if shippedAt != nil {
		o.ShippedAt = shippedAt
	}
	if completedAt != nil {
		o.CompletedAt = completedAt
	}

	if next == StatusPaid {
		if err := s.points.AwardForOrder(ctx, o.ID); err != nil {
			return nil, errors.Wrap(err, "award points")
		}
	}
	return o, nil
}

// MarkPaid transitions an order to PAID on behalf of a verified payment
// callback and invokes the earning hook. Already-paid orders are a no-op for
// the status but still run the hook, which heals a previously failed award.
func (s *Service) MarkPaid(ctx context.Context, orderID string) error {
	o, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status != StatusPaid {
		if !o.Status.CanTransitionTo(StatusPaid) {
			return &InvalidTransitionError{From: o.Status, To: StatusPaid}
		}
		if err := s.store.UpdateStatus(ctx, o.ID, StatusPaid, nil, nil); err != nil {
			return errors.Wrap(err, "update status")
		}
	}
	return s.points.AwardForOrder(ctx, o.ID)
}

// UpdateShipping sets the carrier and/or tracking number. Nil fields are left
// unchanged.
func (s *Service) UpdateShipping(ctx context.Context, number string, carrier, trackingNo *string) (*Order, error) {
	o, err := s.store.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.store.UpdateShipping(ctx, o.ID, carrier, trackingNo)
}

// Get returns an order by number.
func (s *Service) Get(ctx context.Context, number string) (*Order, error) {
	return s.store.GetByNumber(ctx, strings.TrimSpace(number))
}

// GetForMember returns an order only if it belongs to the member.
func (s *Service) GetForMember(ctx context.Context, memberID, number string) (*Order, error) {
	return s.store.GetByNumberForMember(ctx, strings.TrimSpace(number), memberID)
}

// LookupGuest returns an order only if the shipping email matches. This is the
// unauthenticated lookup path for guest checkouts.
func (s *Service) LookupGuest(ctx context.Context, number, email string) (*Order, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	number = strings.TrimSpace(number)
	if number == "" || email == "" {
		return nil, ErrNotFound
	}
	return s.store.GetByNumberAndEmail(ctx, number, email)
}

// List returns orders for the admin console, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 100
	}
	return s.store.List(ctx, filter)
}
