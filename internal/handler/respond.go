package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/proclub/commerce/internal/domain/ledger"
	"github.com/proclub/commerce/internal/domain/member"
	"github.com/proclub/commerce/internal/domain/order"
	"github.com/proclub/commerce/internal/domain/payment"
	"github.com/proclub/commerce/pkg/httpmiddleware"
)

// writeJSON renders v wrapped in a data envelope.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

// writeError renders the canonical error envelope with the request id when
// one is present.
func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	}
	if id := httpmiddleware.RequestIDFromContext(ctx); id != "" {
		payload["request_id"] = id
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeDomainError maps domain errors to HTTP status codes and envelopes.
// Unknown errors are logged and reported as 500 without leaking detail.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		invalidItem   *order.InvalidItemError
		skuNotFound   *order.SKUNotFoundError
		badTransition *order.InvalidTransitionError
		unknownStatus *order.UnknownStatusError
	)
	switch {
	case errors.Is(err, order.ErrMissingShipping),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrNegativeTotal),
		errors.Is(err, ledger.ErrZeroDelta),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrNotATM),
		errors.As(err, &invalidItem),
		errors.As(err, &unknownStatus):
		writeError(ctx, w, http.StatusBadRequest, "validation", err.Error())
	case errors.As(err, &skuNotFound):
		writeError(ctx, w, http.StatusUnprocessableEntity, "sku_not_found", err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, member.ErrNotFound),
		errors.Is(err, payment.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, order.ErrInsufficientCredit),
		errors.As(err, &badTransition):
		writeError(ctx, w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, order.ErrNumberExhausted):
		zctx.From(ctx).Error("order number space exhausted", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "exhausted", err.Error())
	default:
		zctx.From(ctx).Error("request failed", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

var (
	emailMask   = regexp.MustCompile(`(^.).*(@.*$)`)
	accountMask = regexp.MustCompile(`^(\d{3})\d+(\d{3})$`)
)

// maskEmail hides the local part of an address in guest-facing responses.
func maskEmail(email string) string {
	return emailMask.ReplaceAllString(email, "$1***$2")
}

// maskAccount hides the middle digits of a virtual account number. Short or
// non-numeric values fall back to a coarse mask to avoid leaking structure.
func maskAccount(account string) string {
	if account == "" {
		return ""
	}
	if len(account) >= 7 && accountMask.MatchString(account) {
		return accountMask.ReplaceAllString(account, "$1****$2")
	}
	if len(account) < 4 {
		return "****"
	}
	return account[:2] + "****" + account[len(account)-2:]
}
