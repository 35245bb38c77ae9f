//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guestShipping(email string) shippingJSON {
	return shippingJSON{
		Name:    "Integration Guest",
		Phone:   "0911222333",
		Email:   email,
		Address: "100 Test St",
	}
}

func createGuestOrder(t *testing.T, email string) orderJSON {
	t.Helper()

	resp := doPost(t, "/api/v1/orders", createOrderJSON{
		Items: []orderItemJSON{
			{SKUCode: "WHEY-CHOC-2KG", Qty: 1},
			{SKUCode: "SHAKER-BLK", Qty: 2},
		},
		Shipping: guestShipping(email),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeData[orderJSON](t, resp)
}

func TestCreateOrder_Guest(t *testing.T) {
	o := createGuestOrder(t, "guest-create@example.com")

	assert.Regexp(t, `^PC-\d{8}-\d{6}$`, o.OrderNumber)
	assert.Equal(t, "UNPAID", o.Status)
	// Guests pay list price: 1680 + 2*250.
	assert.Equal(t, int64(2180), o.Subtotal)
	assert.Equal(t, int64(0), o.Discount)
	assert.Equal(t, int64(2180), o.Total)
	assert.Len(t, o.Items, 2)
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	resp := doPost(t, "/api/v1/orders", createOrderJSON{
		Shipping: guestShipping("guest-empty@example.com"),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", decodeError(t, resp).Error)
}

func TestCreateOrder_UnknownSKU(t *testing.T) {
	resp := doPost(t, "/api/v1/orders", createOrderJSON{
		Items:    []orderItemJSON{{SKUCode: "NO-SUCH-SKU", Qty: 1}},
		Shipping: guestShipping("guest-unknown@example.com"),
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "sku_not_found", decodeError(t, resp).Error)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	// SHAKER-WHT is seeded with stock 40.
	resp := doPost(t, "/api/v1/orders", createOrderJSON{
		Items:    []orderItemJSON{{SKUCode: "SHAKER-WHT", Qty: 99999}},
		Shipping: guestShipping("guest-stock@example.com"),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decodeError(t, resp).Error)
}

func TestGuestLookup(t *testing.T) {
	email := "guest-lookup@example.com"
	created := createGuestOrder(t, email)

	resp := doPost(t, "/api/v1/orders/lookup", map[string]string{
		"order_number": created.OrderNumber,
		"email":        email,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeData[orderJSON](t, resp)
	assert.Equal(t, created.OrderNumber, got.OrderNumber)
	// The contact email is masked in guest responses.
	assert.NotEqual(t, email, got.Shipping.Email)
	assert.Contains(t, got.Shipping.Email, "***")
}

func TestGuestLookup_WrongEmail(t *testing.T) {
	created := createGuestOrder(t, "guest-wrong@example.com")

	resp := doPost(t, "/api/v1/orders/lookup", map[string]string{
		"order_number": created.OrderNumber,
		"email":        "other@example.com",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	resp := doGet(t, "/api/v1/admin/orders")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownOrderLookup(t *testing.T) {
	resp := doPost(t, "/api/v1/orders/lookup", map[string]string{
		"order_number": fmt.Sprintf("PC-20250101-%06d", 0),
		"email":        "nobody@example.com",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
