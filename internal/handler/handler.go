// Package handler exposes the order, payment, and member operations over
// HTTP. Routing is chi; handlers translate between the JSON/form wire shapes
// and the domain services and map domain errors onto the error envelope.
package handler

import (
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"

	"github.com/proclub/commerce/internal/domain/ledger"
	"github.com/proclub/commerce/internal/domain/order"
	"github.com/proclub/commerce/internal/domain/payment"
)

// Handler holds the domain services behind the HTTP surface.
type Handler struct {
	orders   *order.Service
	payments *payment.Service
	points   *ledger.Service

	callbackAcks metric.Int64Counter
}

// NewHandler constructs a Handler. The meter records gateway callback acks so
// rejected callbacks are visible without log spelunking.
func NewHandler(
	orders *order.Service,
	payments *payment.Service,
	points *ledger.Service,
	meter metric.Meter,
) (*Handler, error) {
	acks, err := meter.Int64Counter("payment.callback.acks",
		metric.WithDescription("Payment gateway callback acknowledgements by result"),
	)
	if err != nil {
		return nil, err
	}
	return &Handler{
		orders:       orders,
		payments:     payments,
		points:       points,
		callbackAcks: acks,
	}, nil
}

// Routes mounts all API routes. Identity is resolved from bearer tokens
// signed with jwtSecret; gateway callbacks are authenticated by signature
// verification alone and stay outside the identity middleware.
func (h *Handler) Routes(jwtSecret []byte) chi.Router {
	r := chi.NewRouter()
	r.Use(Authenticate(jwtSecret))

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Post("/lookup", h.lookupOrder)
		r.Post("/report-transfer", h.reportTransfer)
	})

	r.Route("/me", func(r chi.Router) {
		r.Use(RequireRole(RoleMember, RoleAdmin, RoleStaff))
		r.Get("/orders/{orderNumber}", h.getMemberOrder)
	})

	r.Route("/payments/ecpay", func(r chi.Router) {
		r.Post("/create", h.createPaymentSession)
		r.Post("/callback", h.paymentCallback)
		r.Post("/atm-info", h.atmInfoCallback)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireRole(RoleAdmin))
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{orderNumber}", h.getOrder)
		r.Post("/orders/{orderNumber}/status", h.updateOrderStatus)
		r.Patch("/orders/{orderNumber}/shipping", h.updateOrderShipping)
		r.Post("/members/{memberID}/points", h.adjustPoints)
		r.Get("/members/{memberID}/points/reconcile", h.reconcilePoints)
	})

	return r
}
