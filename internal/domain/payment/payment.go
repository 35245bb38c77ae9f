// Package payment implements outbound payment-session creation and the
// idempotent reconciliation of inbound gateway callbacks.
package payment

import (
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no payment matches a merchant trade number.
var ErrNotFound = errors.New("payment not found")

// ProviderECPay is the only gateway this core integrates with.
const ProviderECPay = "ECPAY"

// Method is the customer-selected payment instrument.
type Method string

const (
	MethodCredit Method = "CREDIT"
	MethodATM    Method = "ATM"
)

// Status is the payment attempt lifecycle. SUCCEEDED is terminal; ATM
// payments sit in PENDING until the transfer is confirmed by the gateway.
type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
)

// Payment is one attempt to settle an order. An order may accumulate several
// attempts; the most recent non-terminal one is authoritative-in-progress.
// The merchant trade number correlates the outbound form with the inbound
// callback.
type Payment struct {
	ID              string
	OrderID         string
	Provider        string
	Method          Method
	Status          Status
	Amount          int64
	MerchantTradeNo string
	ProviderTradeNo string
	ATMBankCode     string
	ATMAccount      string
	ATMExpireAt     *time.Time
	PaidAt          *time.Time
	CreatedAt       time.Time
}
