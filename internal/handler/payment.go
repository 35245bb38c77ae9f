package handler

import (
	"context"
	"html"
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/proclub/commerce/internal/domain/payment"
	"github.com/proclub/commerce/internal/ecpay"
)

type createSessionRequest struct {
	OrderNumber string `json:"order_number"`
	Method      string `json:"method"`
}

type createSessionResponse struct {
	PaymentID       string            `json:"payment_id"`
	MerchantTradeNo string            `json:"merchant_trade_no"`
	GatewayURL      string            `json:"gateway_url"`
	Fields          map[string]string `json:"fields"`
	FormHTML        string            `json:"form_html"`
}

func (h *Handler) createPaymentSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	var method payment.Method
	switch strings.ToUpper(strings.TrimSpace(req.Method)) {
	case "", string(payment.MethodCredit):
		method = payment.MethodCredit
	case string(payment.MethodATM):
		method = payment.MethodATM
	default:
		writeError(ctx, w, http.StatusBadRequest, "validation", "unknown payment method "+req.Method)
		return
	}

	session, err := h.payments.CreateSession(ctx, req.OrderNumber, method)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		PaymentID:       session.PaymentID,
		MerchantTradeNo: session.MerchantTradeNo,
		GatewayURL:      session.Endpoint,
		Fields:          session.Fields,
		FormHTML:        checkoutForm(session.Endpoint, session.Fields),
	})
}

// checkoutForm renders the self-submitting POST form the storefront injects
// to redirect the customer to the gateway checkout page.
func checkoutForm(endpoint string, fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(`<form id="ecpay-checkout" method="post" action="`)
	b.WriteString(html.EscapeString(endpoint))
	b.WriteString("\">\n")
	for _, name := range names {
		b.WriteString(`  <input type="hidden" name="`)
		b.WriteString(html.EscapeString(name))
		b.WriteString(`" value="`)
		b.WriteString(html.EscapeString(fields[name]))
		b.WriteString("\">\n")
	}
	b.WriteString("</form>\n")
	b.WriteString(`<script>document.getElementById("ecpay-checkout").submit();</script>`)
	return b.String()
}

// paymentCallback receives the gateway's server-to-server payment result.
// The response body is a bare ack string, not the JSON envelope; the gateway
// keys its retry loop off that body alone.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	h.gatewayCallback(w, r, "callback", h.payments.HandleCallback)
}

// atmInfoCallback receives the virtual-account allocation for ATM payments.
func (h *Handler) atmInfoCallback(w http.ResponseWriter, r *http.Request) {
	h.gatewayCallback(w, r, "atm-info", h.payments.HandleATMInfo)
}

func (h *Handler) gatewayCallback(
	w http.ResponseWriter,
	r *http.Request,
	endpoint string,
	handle func(ctx context.Context, fields map[string]string) string,
) {
	ctx := r.Context()

	ack := ecpay.AckReject
	if err := r.ParseForm(); err == nil {
		ack = handle(ctx, formFields(r))
	}

	result := "rejected"
	if ack == ecpay.AckOK {
		result = "accepted"
	}
	h.callbackAcks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", result),
	))

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ack))
}

// formFields flattens the parsed form to first values, the shape the gateway
// protocol uses.
func formFields(r *http.Request) map[string]string {
	fields := make(map[string]string, len(r.PostForm))
	for name, values := range r.PostForm {
		if len(values) > 0 {
			fields[name] = values[0]
		}
	}
	return fields
}
