package escrow

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zambezi-erp/zambezi-erp/internal/platform/httpx"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// Handler exposes manual escrow operations as a JSON API. Auto-release
// stays with the background sweep.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler builds Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// MountRoutes attaches escrow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/escrows/{id}/confirm-deposit", h.confirmDeposit)
	r.Post("/escrows/{id}/release", h.release)
	r.Post("/escrows/{id}/refund", h.refund)
	r.Post("/escrows/{id}/dispute", h.openDispute)
	r.Post("/escrows/{id}/resolve", h.resolveDispute)
}

type transactionResponse struct {
	ID                 int64      `json:"id"`
	CounterpartyID     int64      `json:"counterparty_id"`
	DocumentID         int64      `json:"document_id"`
	Amount             float64    `json:"amount"`
	Status             Status     `json:"status"`
	DepositConfirmedAt *time.Time `json:"deposit_confirmed_at,omitempty"`
	ReleasedAt         *time.Time `json:"released_at,omitempty"`
	RefundedAt         *time.Time `json:"refunded_at,omitempty"`
	DisputedAt         *time.Time `json:"disputed_at,omitempty"`
	DisputeReason      string     `json:"dispute_reason,omitempty"`
	RefundReason       string     `json:"refund_reason,omitempty"`
	AutoReleased       bool       `json:"auto_released"`
}

func toResponse(tx Transaction) transactionResponse {
	return transactionResponse{
		ID:                 tx.ID,
		CounterpartyID:     tx.CounterpartyID,
		DocumentID:         tx.DocumentID,
		Amount:             tx.Amount,
		Status:             tx.Status,
		DepositConfirmedAt: tx.DepositConfirmedAt,
		ReleasedAt:         tx.ReleasedAt,
		RefundedAt:         tx.RefundedAt,
		DisputedAt:         tx.DisputedAt,
		DisputeReason:      tx.DisputeReason,
		RefundReason:       tx.RefundReason,
		AutoReleased:       tx.AutoReleased,
	}
}

func (h *Handler) confirmDeposit(w http.ResponseWriter, r *http.Request) {
	id, escrowID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	tx, err := h.svc.ConfirmDeposit(r.Context(), id.TenantID, escrowID, id.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, escrowID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	tx, err := h.svc.Release(r.Context(), id.TenantID, escrowID, id.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, escrowID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	tx, err := h.svc.Refund(r.Context(), id.TenantID, escrowID, id.UserID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) openDispute(w http.ResponseWriter, r *http.Request) {
	id, escrowID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	tx, err := h.svc.OpenDispute(r.Context(), id.TenantID, escrowID, id.UserID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	id, escrowID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		ReleaseToSeller bool   `json:"release_to_seller"`
		Reason          string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	tx, err := h.svc.ResolveDispute(r.Context(), id.TenantID, escrowID, id.UserID, req.ReleaseToSeller, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) identityAndID(w http.ResponseWriter, r *http.Request) (shared.Identity, int64, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant identity required")
		return shared.Identity{}, 0, false
	}
	escrowID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || escrowID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "escrow id must be a positive integer")
		return shared.Identity{}, 0, false
	}
	return id, escrowID, true
}
