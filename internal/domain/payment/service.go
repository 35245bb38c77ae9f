package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proclub/commerce/internal/domain/order"
	"github.com/proclub/commerce/internal/ecpay"
)

// ErrInvalidAmount rejects payment sessions for zero-cost orders; those are
// born PAID and never reach the gateway.
var ErrInvalidAmount = errors.New("order total must be positive")

// ErrNotATM rejects transfer reports against orders whose latest payment
// attempt is not an ATM transfer.
var ErrNotATM = errors.New("order is not an ATM payment")

// Store is the persistence contract for the payment service.
type Store interface {
	GetOrderByNumber(ctx context.Context, number string) (*order.Order, error)
	GetOrderByNumberAndEmail(ctx context.Context, number, email string) (*order.Order, error)
	CreatePayment(ctx context.Context, p *Payment) error
	FindByTradeNo(ctx context.Context, tradeNo string) (*Payment, error)
	LatestForOrder(ctx context.Context, orderID string) (*Payment, error)
	// MarkSucceeded flips the payment to SUCCEEDED, records the provider
	// trade number, paid-at, and the raw payload. The update is conditional
	// on the payment not already being SUCCEEDED; applied reports whether
	// this call won. Exactly one concurrent caller sees applied=true.
	MarkSucceeded(ctx context.Context, paymentID, providerTradeNo string, paidAt time.Time, raw map[string]string) (applied bool, err error)
	// MarkPending records a non-success callback: status PENDING plus the raw
	// payload for audit.
	MarkPending(ctx context.Context, paymentID string, raw map[string]string) error
	// UpdateATMInfo captures virtual-account details. Safe to apply repeatedly.
	UpdateATMInfo(ctx context.Context, paymentID, bankCode, account string, expireAt *time.Time, raw map[string]string) error
	// SetOrderReportedPaid stamps the customer-reported transfer time on the
	// order. A manual-review signal only; never a status change.
	SetOrderReportedPaid(ctx context.Context, orderID string, at time.Time) error
}

// OrderMarker transitions an order to PAID after a verified successful
// callback. Implementations must be idempotent per order.
type OrderMarker interface {
	MarkPaid(ctx context.Context, orderID string) error
}

// Session is the signed checkout form handed back to the storefront.
type Session struct {
	PaymentID       string
	MerchantTradeNo string
	Endpoint        string
	Fields          map[string]string
}

// Service drives payment attempts against the ECPay gateway.
type Service struct {
	cfg    ecpay.Config
	store  Store
	orders OrderMarker

	now func() time.Time
}

// NewService creates a payment Service. The gateway configuration is injected
// here; nothing below reads it from the environment.
func NewService(cfg ecpay.Config, store Store, orders OrderMarker) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		orders: orders,
		now:    time.Now,
	}
}

// CreateSession persists an INITIATED payment attempt and builds the signed
// auto-submit form for the gateway checkout page.
func (s *Service) CreateSession(ctx context.Context, orderNumber string, method Method) (*Session, error) {
	o, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if o.Total <= 0 {
		return nil, ErrInvalidAmount
	}

	now := s.now()
	p := &Payment{
		ID:              uuid.New().String(),
		OrderID:         o.ID,
		Provider:        ProviderECPay,
		Method:          method,
		Status:          StatusInitiated,
		Amount:          o.Total,
		MerchantTradeNo: ecpay.NewMerchantTradeNo(s.cfg.TradeNoPrefix, now),
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create payment")
	}

	apiBase := strings.TrimRight(s.cfg.ReturnBaseURL, "/")
	webBase := strings.TrimRight(s.cfg.ClientBaseURL, "/")

	clientBack := webBase + "/checkout/success?order_number=" + o.Number
	choose := "Credit"
	if method == MethodATM {
		choose = "ATM"
		clientBack = webBase + "/checkout/atm?order_number=" + o.Number
	}

	fields := map[string]string{
		"MerchantID":        s.cfg.MerchantID,
		"MerchantTradeNo":   p.MerchantTradeNo,
		"MerchantTradeDate": ecpay.FormatTradeDate(now),
		"PaymentType":       ecpay.PaymentTypeAIO,
		"TotalAmount":       fmt.Sprintf("%d", o.Total),
		"TradeDesc":         "Pro Club Order",
		"ItemName":          itemName(o),
		"ReturnURL":         apiBase + "/payments/ecpay/callback",
		"ClientBackURL":     clientBack,
		"ChoosePayment":     choose,
		"EncryptType":       "1",
	}
	if method == MethodATM {
		fields["ExpireDate"] = "3" // days until the virtual account expires
		fields["PaymentInfoURL"] = apiBase + "/payments/ecpay/atm-info"
	}
	fields["CheckMacValue"] = ecpay.CheckMacValue(fields, s.cfg.HashKey, s.cfg.HashIV)

	return &Session{
		PaymentID:       p.ID,
		MerchantTradeNo: p.MerchantTradeNo,
		Endpoint:        s.cfg.Endpoint,
		Fields:          fields,
	}, nil
}

// itemName renders the gateway's #-separated line item summary.
func itemName(o *order.Order) string {
	if len(o.Items) == 0 {
		return "Pro Club Order"
	}
	parts := make([]string, len(o.Items))
	for i, it := range o.Items {
		parts[i] = fmt.Sprintf("%s x%d", it.Name, it.Qty)
	}
	return strings.Join(parts, "#")
}

// HandleCallback reconciles a server-to-server payment result callback and
// returns the ack body the gateway expects. Every failure path returns the
// rejection ack; nothing may panic or error past this boundary, because the
// gateway keys its retry loop off the response body alone.
//
// Replays of an already-settled payment are not errors: they short-circuit to
// the accepted ack without touching any state.
func (s *Service) HandleCallback(ctx context.Context, fields map[string]string) string {
	lg := zctx.From(ctx)

	if !ecpay.VerifyCheckMac(fields, s.cfg.HashKey, s.cfg.HashIV) {
		lg.Warn("payment callback signature mismatch")
		return ecpay.AckReject
	}

	tradeNo := fields["MerchantTradeNo"]
	if tradeNo == "" {
		return ecpay.AckReject
	}
	p, err := s.store.FindByTradeNo(ctx, tradeNo)
	if err != nil {
		// Unknown trade numbers are likely forged or stale; reject so the
		// gateway surfaces the discrepancy.
		lg.Warn("payment callback for unknown trade number",
			zap.String("merchant_trade_no", tradeNo), zap.Error(err))
		return ecpay.AckReject
	}

	if p.Status == StatusSucceeded {
		return ecpay.AckOK
	}

	if fields["RtnCode"] != ecpay.RtnCodeSuccess {
		// Not a success report (e.g. ATM awaiting transfer). Record the
		// payload, leave the order alone.
		if err := s.store.MarkPending(ctx, p.ID, fields); err != nil {
			lg.Error("mark payment pending", zap.String("payment_id", p.ID), zap.Error(err))
			return ecpay.AckReject
		}
		return ecpay.AckOK
	}

	paidAt := s.now()
	if t, ok := ecpay.ParseCallbackTime(fields["PaymentDate"]); ok {
		paidAt = t
	}

	applied, err := s.store.MarkSucceeded(ctx, p.ID, fields["TradeNo"], paidAt, fields)
	if err != nil {
		lg.Error("mark payment succeeded", zap.String("payment_id", p.ID), zap.Error(err))
		return ecpay.AckReject
	}
	if !applied {
		// A concurrent delivery of the same callback won the conditional
		// update; it also owns the order transition.
		return ecpay.AckOK
	}

	if err := s.orders.MarkPaid(ctx, p.OrderID); err != nil {
		lg.Error("transition order to paid",
			zap.String("order_id", p.OrderID), zap.Error(err))
		return ecpay.AckReject
	}
	return ecpay.AckOK
}

// HandleATMInfo records the virtual account the gateway allocated for an ATM
// payment. It only ever touches payment metadata, never order status, and is
// safe to receive repeatedly.
func (s *Service) HandleATMInfo(ctx context.Context, fields map[string]string) string {
	lg := zctx.From(ctx)

	if !ecpay.VerifyCheckMac(fields, s.cfg.HashKey, s.cfg.HashIV) {
		lg.Warn("atm info callback signature mismatch")
		return ecpay.AckReject
	}

	tradeNo := fields["MerchantTradeNo"]
	if tradeNo == "" {
		return ecpay.AckReject
	}
	p, err := s.store.FindByTradeNo(ctx, tradeNo)
	if err != nil {
		lg.Warn("atm info callback for unknown trade number",
			zap.String("merchant_trade_no", tradeNo), zap.Error(err))
		return ecpay.AckReject
	}

	account := fields["vAccount"]
	if account == "" {
		account = fields["VAccount"]
	}
	var expireAt *time.Time
	if raw := fields["ExpireDate"]; raw != "" {
		if t, ok := ecpay.ParseCallbackTime(raw); ok {
			expireAt = &t
		}
	}

	if err := s.store.UpdateATMInfo(ctx, p.ID, fields["BankCode"], account, expireAt, fields); err != nil {
		lg.Error("update atm info", zap.String("payment_id", p.ID), zap.Error(err))
		return ecpay.AckReject
	}
	return ecpay.AckOK
}

// LatestForOrder returns the most recent payment attempt for an order, or
// ErrNotFound when none exists.
func (s *Service) LatestForOrder(ctx context.Context, orderID string) (*Payment, error) {
	return s.store.LatestForOrder(ctx, orderID)
}

// ReportTransfer stamps the customer-reported transfer time on a guest order
// whose latest payment attempt is an ATM transfer. The stamp is a
// manual-review signal for operators; it never changes order status.
func (s *Service) ReportTransfer(ctx context.Context, orderNumber, email string) (time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	o, err := s.store.GetOrderByNumberAndEmail(ctx, strings.TrimSpace(orderNumber), email)
	if err != nil {
		return time.Time{}, err
	}
	latest, err := s.store.LatestForOrder(ctx, o.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return time.Time{}, ErrNotATM
		}
		return time.Time{}, err
	}
	if latest.Method != MethodATM {
		return time.Time{}, ErrNotATM
	}

	at := s.now()
	if err := s.store.SetOrderReportedPaid(ctx, o.ID, at); err != nil {
		return time.Time{}, errors.Wrap(err, "set reported paid")
	}
	return at, nil
}
