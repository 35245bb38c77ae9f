package ecpay

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Gateway protocol constants.
const (
	// PaymentTypeAIO is the only payment type this integration speaks.
	PaymentTypeAIO = "aio"
	// RtnCodeSuccess is the return code the gateway sends for a completed
	// payment; every other code leaves the payment pending.
	RtnCodeSuccess = "1"
	// AckOK tells the gateway the callback was accepted and retries may stop.
	AckOK = "1|OK"
	// AckReject tells the gateway to retry later.
	AckReject = "0|NO"

	// tradeNoLimit is the gateway's merchant trade number length cap.
	tradeNoLimit = 20
)

// Config holds the gateway credentials and endpoints. It is injected into the
// payment service at construction; signing code never reads ambient state.
type Config struct {
	MerchantID string
	HashKey    string
	HashIV     string
	// Endpoint is the checkout form target.
	Endpoint string
	// TradeNoPrefix brands merchant trade numbers.
	TradeNoPrefix string
	// ReturnBaseURL is the public base URL of this API, used to build the
	// server-to-server callback URLs.
	ReturnBaseURL string
	// ClientBaseURL is the storefront base URL the customer returns to.
	ClientBaseURL string
}

var tradeNoSuffixSpace = big.NewInt(1000)

// NewMerchantTradeNo mints a merchant trade number unique per payment
// attempt: prefix + second-resolution timestamp + three random digits,
// truncated to the gateway's 20-character limit. Alphanumeric only.
func NewMerchantTradeNo(prefix string, now time.Time) string {
	n, err := rand.Int(rand.Reader, tradeNoSuffixSpace)
	if err != nil {
		panic(fmt.Sprintf("trade number entropy: %v", err))
	}
	no := fmt.Sprintf("%s%s%03d", prefix, now.Format("20060102150405"), n.Int64())
	if len(no) > tradeNoLimit {
		no = no[:tradeNoLimit]
	}
	return no
}

// FormatTradeDate renders a timestamp in the gateway's yyyy/MM/dd HH:mm:ss
// form field format.
func FormatTradeDate(t time.Time) string {
	return t.Format("2006/01/02 15:04:05")
}

// gatewayTZ is the zone the gateway reports timestamps in (UTC+8, no DST).
// A fixed zone keeps parsing independent of the host's TZ and of tzdata
// availability in minimal containers.
var gatewayTZ = time.FixedZone("Asia/Taipei", 8*60*60)

// ParseCallbackTime parses the timestamp format the gateway uses in callback
// payloads (PaymentDate, ExpireDate). Date-only values are accepted. The
// result carries the gateway's own UTC+8 zone.
func ParseCallbackTime(s string) (time.Time, bool) {
	for _, layout := range []string{"2006/01/02 15:04:05", "2006/01/02"} {
		if t, err := time.ParseInLocation(layout, s, gatewayTZ); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
