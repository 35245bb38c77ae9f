//go:build integration

package integration

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Default staging credentials baked into the test configuration.
const (
	stagingHashKey = "5294y06JbISpM5x9"
	stagingHashIV  = "v77hoKGq4kWxNNIS"
)

// signFields reimplements the gateway's CheckMacValue from its published
// spec, so these tests validate the server against the protocol rather than
// against the server's own signing code.
func signFields(fields map[string]string) map[string]string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "CheckMacValue" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("HashKey=" + stagingHashKey)
	for _, k := range keys {
		b.WriteString("&" + k + "=" + fields[k])
	}
	b.WriteString("&HashIV=" + stagingHashIV)

	encoded := strings.ToLower(dotNetEncode(b.String()))
	sum := md5.Sum([]byte(encoded))
	fields["CheckMacValue"] = strings.ToUpper(hex.EncodeToString(sum[:]))
	return fields
}

func dotNetEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('+')
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case strings.IndexByte("!()*-._~'", c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		}
	}
	return b.String()
}

func createSession(t *testing.T, orderNumber, method string) sessionJSON {
	t.Helper()

	resp := doPost(t, "/api/v1/payments/ecpay/create", map[string]string{
		"order_number": orderNumber,
		"method":       method,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeData[sessionJSON](t, resp)
}

func TestCreatePaymentSession(t *testing.T) {
	o := createGuestOrder(t, "pay-session@example.com")

	session := createSession(t, o.OrderNumber, "CREDIT")
	assert.NotEmpty(t, session.PaymentID)
	assert.NotEmpty(t, session.MerchantTradeNo)
	assert.Contains(t, session.GatewayURL, "ecpay")
	assert.Equal(t, "2180", session.Fields["TotalAmount"])
	assert.NotEmpty(t, session.Fields["CheckMacValue"])
	assert.Contains(t, session.FormHTML, session.GatewayURL)
}

func TestPaymentCallback_Success(t *testing.T) {
	o := createGuestOrder(t, "pay-success@example.com")
	session := createSession(t, o.OrderNumber, "CREDIT")

	fields := signFields(map[string]string{
		"MerchantID":      session.Fields["MerchantID"],
		"MerchantTradeNo": session.MerchantTradeNo,
		"RtnCode":         "1",
		"RtnMsg":          "Succeeded",
		"TradeNo":         "2506011230459999",
		"TradeAmt":        "2180",
		"PaymentDate":     "2025/06/01 12:31:02",
		"PaymentType":     "Credit_CreditCard",
	})

	resp := doPostForm(t, "/api/v1/payments/ecpay/callback", fields)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1|OK", readBody(t, resp))

	// Replay is acknowledged without complaint.
	resp = doPostForm(t, "/api/v1/payments/ecpay/callback", fields)
	assert.Equal(t, "1|OK", readBody(t, resp))

	// The order reached PAID.
	resp = doPost(t, "/api/v1/orders/lookup", map[string]string{
		"order_number": o.OrderNumber,
		"email":        "pay-success@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeData[orderJSON](t, resp)
	assert.Equal(t, "PAID", got.Status)
}

func TestPaymentCallback_ForgedSignature(t *testing.T) {
	o := createGuestOrder(t, "pay-forged@example.com")
	session := createSession(t, o.OrderNumber, "CREDIT")

	fields := signFields(map[string]string{
		"MerchantTradeNo": session.MerchantTradeNo,
		"RtnCode":         "1",
		"TradeAmt":        "2180",
	})
	fields["TradeAmt"] = "1"

	resp := doPostForm(t, "/api/v1/payments/ecpay/callback", fields)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0|NO", readBody(t, resp))
}

func TestPaymentCallback_UnknownTradeNo(t *testing.T) {
	fields := signFields(map[string]string{
		"MerchantTradeNo": "PC00000000000000000",
		"RtnCode":         "1",
	})

	resp := doPostForm(t, "/api/v1/payments/ecpay/callback", fields)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0|NO", readBody(t, resp))
}

func TestATMInfoCallback(t *testing.T) {
	email := "pay-atm@example.com"
	o := createGuestOrder(t, email)
	session := createSession(t, o.OrderNumber, "ATM")
	assert.Equal(t, "ATM", session.Fields["ChoosePayment"])

	fields := signFields(map[string]string{
		"MerchantTradeNo": session.MerchantTradeNo,
		"RtnCode":         "2",
		"BankCode":        "812",
		"vAccount":        "9103522175887271",
		"ExpireDate":      "2025/06/04",
	})

	resp := doPostForm(t, "/api/v1/payments/ecpay/atm-info", fields)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1|OK", readBody(t, resp))

	// The guest lookup now carries the masked virtual account.
	resp = doPost(t, "/api/v1/orders/lookup", map[string]string{
		"order_number": o.OrderNumber,
		"email":        email,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `"bank_code":"812"`)
	assert.NotContains(t, body, "9103522175887271")

	// Customer reports the transfer.
	resp = doPost(t, "/api/v1/orders/report-transfer", map[string]string{
		"order_number": o.OrderNumber,
		"email":        email,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReportTransfer_NotATM(t *testing.T) {
	email := "pay-not-atm@example.com"
	o := createGuestOrder(t, email)
	createSession(t, o.OrderNumber, "CREDIT")

	resp := doPost(t, "/api/v1/orders/report-transfer", map[string]string{
		"order_number": o.OrderNumber,
		"email":        email,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", decodeError(t, resp).Error)
}
