package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type adjustPointsRequest struct {
	PointsDelta int64  `json:"points_delta"`
	Reason      string `json:"reason"`
}

func (h *Handler) adjustPoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req adjustPointsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(ctx, w, http.StatusBadRequest, "validation", "reason required")
		return
	}

	memberID := chi.URLParam(r, "memberID")
	balance, err := h.points.AdjustPoints(ctx, memberID, req.PointsDelta, req.Reason)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"member_id":      memberID,
		"points_balance": balance,
	})
}

func (h *Handler) reconcilePoints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.points.Reconcile(ctx, chi.URLParam(r, "memberID"))
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"member_id":      rec.MemberID,
		"ledger_sum":     rec.LedgerSum,
		"cached_balance": rec.CachedBalance,
		"drift":          rec.Drift(),
	})
}
