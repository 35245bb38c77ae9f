package payment

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proclub/commerce/internal/domain/order"
	"github.com/proclub/commerce/internal/ecpay"
)

// --- Mock implementations ---

type mockStore struct {
	orders     map[string]*order.Order // by number
	payments   map[string]*Payment     // by merchant trade no
	created    []*Payment
	pendingID  string
	pendingRaw map[string]string

	succeededID string
	succeededNo string
	succeededAt time.Time
	applied     bool
	succeedErr  error

	atmID       string
	atmBank     string
	atmAccount  string
	atmExpireAt *time.Time

	reportedOrderID string
	reportedAt      time.Time

	latest    *Payment
	latestErr error
}

func (m *mockStore) GetOrderByNumber(_ context.Context, number string) (*order.Order, error) {
	o, ok := m.orders[number]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockStore) GetOrderByNumberAndEmail(ctx context.Context, number, email string) (*order.Order, error) {
	o, err := m.GetOrderByNumber(ctx, number)
	if err != nil || o.Shipping.Email != email {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockStore) CreatePayment(_ context.Context, p *Payment) error {
	m.created = append(m.created, p)
	return nil
}

func (m *mockStore) FindByTradeNo(_ context.Context, tradeNo string) (*Payment, error) {
	p, ok := m.payments[tradeNo]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockStore) LatestForOrder(_ context.Context, _ string) (*Payment, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	if m.latest == nil {
		return nil, ErrNotFound
	}
	return m.latest, nil
}

func (m *mockStore) MarkSucceeded(_ context.Context, paymentID, providerTradeNo string, paidAt time.Time, _ map[string]string) (bool, error) {
	if m.succeedErr != nil {
		return false, m.succeedErr
	}
	m.succeededID = paymentID
	m.succeededNo = providerTradeNo
	m.succeededAt = paidAt
	return m.applied, nil
}

func (m *mockStore) MarkPending(_ context.Context, paymentID string, raw map[string]string) error {
	m.pendingID = paymentID
	m.pendingRaw = raw
	return nil
}

func (m *mockStore) UpdateATMInfo(_ context.Context, paymentID, bankCode, account string, expireAt *time.Time, _ map[string]string) error {
	m.atmID = paymentID
	m.atmBank = bankCode
	m.atmAccount = account
	m.atmExpireAt = expireAt
	return nil
}

func (m *mockStore) SetOrderReportedPaid(_ context.Context, orderID string, at time.Time) error {
	m.reportedOrderID = orderID
	m.reportedAt = at
	return nil
}

type mockMarker struct {
	paid []string
	err  error
}

func (m *mockMarker) MarkPaid(_ context.Context, orderID string) error {
	if m.err != nil {
		return m.err
	}
	m.paid = append(m.paid, orderID)
	return nil
}

// --- Helpers ---

func testConfig() ecpay.Config {
	return ecpay.Config{
		MerchantID:    "2000132",
		HashKey:       "5294y06JbISpM5x9",
		HashIV:        "v77hoKGq4kWxNNIS",
		Endpoint:      "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5",
		TradeNoPrefix: "PC",
		ReturnBaseURL: "https://api.example.com/api/v1",
		ClientBaseURL: "https://shop.example.com",
	}
}

func testOrder() *order.Order {
	return &order.Order{
		ID:     "o1",
		Number: "PC-20250601-000001",
		Status: order.StatusUnpaid,
		Total:  90,
		Shipping: order.Shipping{
			Name: "Amy Chen", Email: "amy@example.com", Address: "1 Club Rd",
		},
		Items: []order.Item{
			{Name: "Pro Whey Protein 2kg", Qty: 2},
			{Name: "Club Shaker Bottle", Qty: 1},
		},
	}
}

// sign computes a valid callback signature for fields.
func sign(fields map[string]string, cfg ecpay.Config) map[string]string {
	fields["CheckMacValue"] = ecpay.CheckMacValue(fields, cfg.HashKey, cfg.HashIV)
	return fields
}

func successCallback(cfg ecpay.Config, tradeNo string) map[string]string {
	return sign(map[string]string{
		"MerchantID":      cfg.MerchantID,
		"MerchantTradeNo": tradeNo,
		"RtnCode":         "1",
		"RtnMsg":          "交易成功",
		"TradeNo":         "2506011230451234",
		"TradeAmt":        "90",
		"PaymentDate":     "2025/06/01 12:31:02",
		"PaymentType":     "Credit_CreditCard",
	}, cfg)
}

// --- CreateSession ---

func TestCreateSession_OrderNotFound(t *testing.T) {
	svc := NewService(testConfig(), &mockStore{orders: map[string]*order.Order{}}, &mockMarker{})

	_, err := svc.CreateSession(context.Background(), "missing", MethodCredit)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestCreateSession_ZeroTotal(t *testing.T) {
	o := testOrder()
	o.Total = 0
	svc := NewService(testConfig(), &mockStore{orders: map[string]*order.Order{o.Number: o}}, &mockMarker{})

	_, err := svc.CreateSession(context.Background(), o.Number, MethodCredit)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateSession_Credit(t *testing.T) {
	cfg := testConfig()
	o := testOrder()
	store := &mockStore{orders: map[string]*order.Order{o.Number: o}}
	svc := NewService(cfg, store, &mockMarker{})
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC) }

	session, err := svc.CreateSession(context.Background(), o.Number, MethodCredit)
	require.NoError(t, err)

	require.Len(t, store.created, 1)
	p := store.created[0]
	assert.Equal(t, "o1", p.OrderID)
	assert.Equal(t, ProviderECPay, p.Provider)
	assert.Equal(t, MethodCredit, p.Method)
	assert.Equal(t, StatusInitiated, p.Status)
	assert.Equal(t, int64(90), p.Amount)
	assert.Regexp(t, `^PC20250601123045\d{3}$`, p.MerchantTradeNo)

	assert.Equal(t, cfg.Endpoint, session.Endpoint)
	fields := session.Fields
	assert.Equal(t, "2000132", fields["MerchantID"])
	assert.Equal(t, "aio", fields["PaymentType"])
	assert.Equal(t, "90", fields["TotalAmount"])
	assert.Equal(t, "2025/06/01 12:30:45", fields["MerchantTradeDate"])
	assert.Equal(t, "Credit", fields["ChoosePayment"])
	assert.Equal(t, "Pro Whey Protein 2kg x2#Club Shaker Bottle x1", fields["ItemName"])
	assert.Equal(t, "https://api.example.com/api/v1/payments/ecpay/callback", fields["ReturnURL"])
	assert.Equal(t, "https://shop.example.com/checkout/success?order_number="+o.Number, fields["ClientBackURL"])
	assert.NotContains(t, fields, "ExpireDate")

	assert.True(t, ecpay.VerifyCheckMac(fields, cfg.HashKey, cfg.HashIV))
}

func TestCreateSession_ATM(t *testing.T) {
	cfg := testConfig()
	o := testOrder()
	store := &mockStore{orders: map[string]*order.Order{o.Number: o}}
	svc := NewService(cfg, store, &mockMarker{})

	session, err := svc.CreateSession(context.Background(), o.Number, MethodATM)
	require.NoError(t, err)

	fields := session.Fields
	assert.Equal(t, "ATM", fields["ChoosePayment"])
	assert.Equal(t, "3", fields["ExpireDate"])
	assert.Equal(t, "https://api.example.com/api/v1/payments/ecpay/atm-info", fields["PaymentInfoURL"])
	assert.Equal(t, "https://shop.example.com/checkout/atm?order_number="+o.Number, fields["ClientBackURL"])
	assert.True(t, ecpay.VerifyCheckMac(fields, cfg.HashKey, cfg.HashIV))
}

// --- HandleCallback ---

func TestHandleCallback_ForgedSignature(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{payments: map[string]*Payment{}}
	svc := NewService(cfg, store, &mockMarker{})

	fields := successCallback(cfg, "PC123")
	fields["TradeAmt"] = "1"

	assert.Equal(t, ecpay.AckReject, svc.HandleCallback(context.Background(), fields))
	assert.Empty(t, store.succeededID)
}

func TestHandleCallback_MissingTradeNo(t *testing.T) {
	cfg := testConfig()
	svc := NewService(cfg, &mockStore{}, &mockMarker{})

	fields := sign(map[string]string{"RtnCode": "1"}, cfg)
	assert.Equal(t, ecpay.AckReject, svc.HandleCallback(context.Background(), fields))
}

func TestHandleCallback_UnknownTradeNo(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{payments: map[string]*Payment{}}
	svc := NewService(cfg, store, &mockMarker{})

	ack := svc.HandleCallback(context.Background(), successCallback(cfg, "PC999"))
	assert.Equal(t, ecpay.AckReject, ack)
}

func TestHandleCallback_ReplayAfterSuccess(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{payments: map[string]*Payment{
		"PC123": {ID: "p1", OrderID: "o1", Status: StatusSucceeded},
	}}
	marker := &mockMarker{}
	svc := NewService(cfg, store, marker)

	ack := svc.HandleCallback(context.Background(), successCallback(cfg, "PC123"))
	assert.Equal(t, ecpay.AckOK, ack)
	assert.Empty(t, store.succeededID)
	assert.Empty(t, marker.paid)
}

func TestHandleCallback_NonSuccessCodeMarksPending(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{payments: map[string]*Payment{
		"PC123": {ID: "p1", OrderID: "o1", Status: StatusInitiated},
	}}
	marker := &mockMarker{}
	svc := NewService(cfg, store, marker)

	fields := sign(map[string]string{
		"MerchantTradeNo": "PC123",
		"RtnCode":         "10100058",
		"RtnMsg":          "付款失敗",
	}, cfg)

	ack := svc.HandleCallback(context.Background(), fields)
	assert.Equal(t, ecpay.AckOK, ack)
	assert.Equal(t, "p1", store.pendingID)
	assert.Empty(t, store.succeededID)
	assert.Empty(t, marker.paid)
}

func TestHandleCallback_Success(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{
		payments: map[string]*Payment{
			"PC123": {ID: "p1", OrderID: "o1", Status: StatusInitiated},
		},
		applied: true,
	}
	marker := &mockMarker{}
	svc := NewService(cfg, store, marker)

	ack := svc.HandleCallback(context.Background(), successCallback(cfg, "PC123"))
	assert.Equal(t, ecpay.AckOK, ack)
	assert.Equal(t, "p1", store.succeededID)
	assert.Equal(t, "2506011230451234", store.succeededNo)
	assert.Equal(t, 2025, store.succeededAt.Year())
	assert.Equal(t, []string{"o1"}, marker.paid)
}

func TestHandleCallback_ConcurrentLoserSkipsTransition(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{
		payments: map[string]*Payment{
			"PC123": {ID: "p1", OrderID: "o1", Status: StatusInitiated},
		},
		applied: false,
	}
	marker := &mockMarker{}
	svc := NewService(cfg, store, marker)

	ack := svc.HandleCallback(context.Background(), successCallback(cfg, "PC123"))
	assert.Equal(t, ecpay.AckOK, ack)
	assert.Empty(t, marker.paid)
}

func TestHandleCallback_TransitionFailureRejects(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{
		payments: map[string]*Payment{
			"PC123": {ID: "p1", OrderID: "o1", Status: StatusInitiated},
		},
		applied: true,
	}
	marker := &mockMarker{err: errors.New("db down")}
	svc := NewService(cfg, store, marker)

	ack := svc.HandleCallback(context.Background(), successCallback(cfg, "PC123"))
	assert.Equal(t, ecpay.AckReject, ack)
}

// --- HandleATMInfo ---

func TestHandleATMInfo_RecordsAccount(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{payments: map[string]*Payment{
		"PC123": {ID: "p1", OrderID: "o1", Method: MethodATM, Status: StatusInitiated},
	}}
	svc := NewService(cfg, store, &mockMarker{})

	fields := sign(map[string]string{
		"MerchantTradeNo": "PC123",
		"RtnCode":         "2",
		"BankCode":        "812",
		"vAccount":        "9103522175887271",
		"ExpireDate":      "2025/06/04",
	}, cfg)

	ack := svc.HandleATMInfo(context.Background(), fields)
	assert.Equal(t, ecpay.AckOK, ack)
	assert.Equal(t, "p1", store.atmID)
	assert.Equal(t, "812", store.atmBank)
	assert.Equal(t, "9103522175887271", store.atmAccount)
	require.NotNil(t, store.atmExpireAt)
	assert.Equal(t, 4, store.atmExpireAt.Day())
}

func TestHandleATMInfo_UppercaseAccountFallback(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{payments: map[string]*Payment{
		"PC123": {ID: "p1", Method: MethodATM},
	}}
	svc := NewService(cfg, store, &mockMarker{})

	fields := sign(map[string]string{
		"MerchantTradeNo": "PC123",
		"BankCode":        "812",
		"VAccount":        "9103522175887271",
	}, cfg)

	assert.Equal(t, ecpay.AckOK, svc.HandleATMInfo(context.Background(), fields))
	assert.Equal(t, "9103522175887271", store.atmAccount)
}

func TestHandleATMInfo_ForgedSignature(t *testing.T) {
	cfg := testConfig()
	store := &mockStore{payments: map[string]*Payment{}}
	svc := NewService(cfg, store, &mockMarker{})

	ack := svc.HandleATMInfo(context.Background(), map[string]string{
		"MerchantTradeNo": "PC123",
		"CheckMacValue":   "FORGED",
	})
	assert.Equal(t, ecpay.AckReject, ack)
	assert.Empty(t, store.atmID)
}

// --- ReportTransfer ---

func TestReportTransfer_Success(t *testing.T) {
	o := testOrder()
	store := &mockStore{
		orders: map[string]*order.Order{o.Number: o},
		latest: &Payment{ID: "p1", OrderID: "o1", Method: MethodATM},
	}
	svc := NewService(testConfig(), store, &mockMarker{})
	fixed := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	at, err := svc.ReportTransfer(context.Background(), o.Number, " Amy@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, fixed, at)
	assert.Equal(t, "o1", store.reportedOrderID)
	assert.Equal(t, fixed, store.reportedAt)
}

func TestReportTransfer_WrongEmail(t *testing.T) {
	o := testOrder()
	store := &mockStore{orders: map[string]*order.Order{o.Number: o}}
	svc := NewService(testConfig(), store, &mockMarker{})

	_, err := svc.ReportTransfer(context.Background(), o.Number, "other@example.com")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestReportTransfer_NoPayment(t *testing.T) {
	o := testOrder()
	store := &mockStore{orders: map[string]*order.Order{o.Number: o}}
	svc := NewService(testConfig(), store, &mockMarker{})

	_, err := svc.ReportTransfer(context.Background(), o.Number, o.Shipping.Email)
	require.ErrorIs(t, err, ErrNotATM)
}

func TestReportTransfer_NotATM(t *testing.T) {
	o := testOrder()
	store := &mockStore{
		orders: map[string]*order.Order{o.Number: o},
		latest: &Payment{ID: "p1", OrderID: "o1", Method: MethodCredit},
	}
	svc := NewService(testConfig(), store, &mockMarker{})

	_, err := svc.ReportTransfer(context.Background(), o.Number, o.Shipping.Email)
	require.ErrorIs(t, err, ErrNotATM)
}
