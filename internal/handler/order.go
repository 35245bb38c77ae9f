package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/proclub/commerce/internal/domain/order"
	"github.com/proclub/commerce/internal/domain/payment"
)

type orderItemResponse struct {
	SKUCode    string `json:"sku_code"`
	Name       string `json:"name"`
	Qty        int64  `json:"qty"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

type shippingResponse struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type orderResponse struct {
	ID                     string              `json:"id"`
	OrderNumber            string              `json:"order_number"`
	Status                 string              `json:"status"`
	MemberID               string              `json:"member_id,omitempty"`
	Subtotal               int64               `json:"subtotal"`
	Discount               int64               `json:"discount"`
	PointsRedeemed         int64               `json:"points_redeemed"`
	Total                  int64               `json:"total"`
	SalesCode              string              `json:"sales_code,omitempty"`
	Shipping               shippingResponse    `json:"shipping"`
	Carrier                *string             `json:"carrier,omitempty"`
	TrackingNo             *string             `json:"tracking_no,omitempty"`
	Items                  []orderItemResponse `json:"items"`
	CustomerReportedPaidAt *time.Time          `json:"customer_reported_paid_at,omitempty"`
	ShippedAt              *time.Time          `json:"shipped_at,omitempty"`
	CompletedAt            *time.Time          `json:"completed_at,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	AllowedNext            []string            `json:"allowed_next,omitempty"`
}

// orderView controls how much of an order a response exposes.
type orderView int

const (
	// viewOwner is the customer-facing shape.
	viewOwner orderView = iota
	// viewGuest masks the contact email for unauthenticated lookups.
	viewGuest
	// viewAdmin adds the reachable next statuses for console actions.
	viewAdmin
)

func toOrderResponse(o *order.Order, view orderView) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		OrderNumber:    o.Number,
		Status:         string(o.Status),
		MemberID:       o.MemberID,
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		PointsRedeemed: o.PointsRedeemed,
		Total:          o.Total,
		SalesCode:      o.SalesCode,
		Shipping: shippingResponse{
			Name:    o.Shipping.Name,
			Phone:   o.Shipping.Phone,
			Email:   o.Shipping.Email,
			Address: o.Shipping.Address,
		},
		Carrier:                o.Carrier,
		TrackingNo:             o.TrackingNo,
		Items:                  make([]orderItemResponse, len(o.Items)),
		CustomerReportedPaidAt: o.CustomerReportedPaidAt,
		ShippedAt:              o.ShippedAt,
		CompletedAt:            o.CompletedAt,
		CreatedAt:              o.CreatedAt,
	}
	for i, it := range o.Items {
		resp.Items[i] = orderItemResponse{
			SKUCode:    it.SKUCode,
			Name:       it.Name,
			Qty:        it.Qty,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		}
	}
	switch view {
	case viewGuest:
		resp.Shipping.Email = maskEmail(o.Shipping.Email)
		resp.MemberID = ""
	case viewAdmin:
		next := order.AllowedNext(o.Status)
		resp.AllowedNext = make([]string, len(next))
		for i, s := range next {
			resp.AllowedNext[i] = string(s)
		}
	}
	return resp
}

type createOrderRequest struct {
	Items []struct {
		SKUCode string `json:"sku_code"`
		Qty     int64  `json:"qty"`
	} `json:"items"`
	Shipping struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Email   string `json:"email"`
		Address string `json:"address"`
	} `json:"shipping"`
	SalesCode      string `json:"sales_code"`
	PointsToRedeem int64  `json:"points_to_redeem"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	create := order.CreateRequest{
		Items: make([]order.ItemRequest, len(req.Items)),
		Shipping: order.Shipping{
			Name:    req.Shipping.Name,
			Phone:   req.Shipping.Phone,
			Email:   req.Shipping.Email,
			Address: req.Shipping.Address,
		},
		SalesCode:      req.SalesCode,
		PointsToRedeem: req.PointsToRedeem,
	}
	for i, it := range req.Items {
		create.Items[i] = order.ItemRequest{SKUCode: it.SKUCode, Qty: it.Qty}
	}
	if id, ok := IdentityFromContext(ctx); ok && id.Role == RoleMember {
		create.MemberID = id.MemberID
	}

	o, err := h.orders.Create(ctx, create)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o, viewOwner))
}

type guestLookupRequest struct {
	OrderNumber string `json:"order_number"`
	Email       string `json:"email"`
}

type atmInfoResponse struct {
	BankCode string     `json:"bank_code"`
	Account  string     `json:"account"`
	ExpireAt *time.Time `json:"expire_at,omitempty"`
}

type guestLookupResponse struct {
	orderResponse
	ATM *atmInfoResponse `json:"atm,omitempty"`
}

// lookupOrder is the unauthenticated guest lookup: order number plus the
// shipping email, with the email masked in the response. ATM virtual-account
// details ride along when the latest payment attempt allocated one.
func (h *Handler) lookupOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req guestLookupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	o, err := h.orders.LookupGuest(ctx, req.OrderNumber, req.Email)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	resp := guestLookupResponse{orderResponse: toOrderResponse(o, viewGuest)}
	if p, err := h.payments.LatestForOrder(ctx, o.ID); err == nil &&
		p.Method == payment.MethodATM && p.ATMAccount != "" {
		resp.ATM = &atmInfoResponse{
			BankCode: p.ATMBankCode,
			Account:  maskAccount(p.ATMAccount),
			ExpireAt: p.ATMExpireAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) reportTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req guestLookupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	at, err := h.payments.ReportTransfer(ctx, req.OrderNumber, req.Email)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reported_at": at})
}

func (h *Handler) getMemberOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := chi.URLParam(r, "orderNumber")

	id, _ := IdentityFromContext(ctx)
	var (
		o   *order.Order
		err error
	)
	if id.Role == RoleMember {
		o, err = h.orders.GetForMember(ctx, id.MemberID, number)
	} else {
		o, err = h.orders.Get(ctx, number)
	}
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o, viewOwner))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := order.ListFilter{Query: strings.TrimSpace(q.Get("q"))}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			s := order.Status(strings.ToUpper(strings.TrimSpace(part)))
			if !s.Valid() {
				writeError(ctx, w, http.StatusBadRequest, "validation", "unknown status "+string(s))
				return
			}
			filter.Statuses = append(filter.Statuses, s)
		}
	}

	orders, err := h.orders.List(ctx, filter)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i], viewAdmin)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.orders.Get(ctx, chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o, viewAdmin))
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Force  bool   `json:"force"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	next := order.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	o, err := h.orders.Transition(ctx, chi.URLParam(r, "orderNumber"), next, req.Force)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o, viewAdmin))
}

type updateShippingRequest struct {
	Carrier    *string `json:"carrier"`
	TrackingNo *string `json:"tracking_no"`
}

func (h *Handler) updateOrderShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateShippingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Carrier == nil && req.TrackingNo == nil {
		writeError(ctx, w, http.StatusBadRequest, "validation", "nothing to update")
		return
	}

	o, err := h.orders.UpdateShipping(ctx, chi.URLParam(r, "orderNumber"), req.Carrier, req.TrackingNo)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o, viewAdmin))
}
