package stock

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zambezi-erp/zambezi-erp/internal/platform/httpx"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// Handler exposes manual stock movements and the movement ledger as a
// JSON API. Invoice and credit-note movements are posted by the document
// engine, never through these routes.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler builds Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// MountRoutes attaches stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stock/inbound", h.postInbound)
	r.Post("/stock/adjustments", h.postAdjustment)
	r.Post("/stock/counts", h.postCount)
	r.Get("/stock/items/{itemID}/movements", h.movements)
}

type movementRequest struct {
	ItemID   int64   `json:"item_id"`
	Qty      float64 `json:"qty"`
	UnitCost float64 `json:"unit_cost,omitempty"`
	Note     string  `json:"note,omitempty"`
}

type movementResponse struct {
	ID            int64        `json:"id"`
	ItemID        int64        `json:"item_id"`
	DocumentID    int64        `json:"document_id,omitempty"`
	LineID        int64        `json:"line_id,omitempty"`
	Kind          MovementKind `json:"kind"`
	Qty           float64      `json:"qty"`
	BalanceBefore float64      `json:"balance_before"`
	BalanceAfter  float64      `json:"balance_after"`
	UnitCost      float64      `json:"unit_cost"`
	AvgCost       float64      `json:"avg_cost"`
	Note          string       `json:"note,omitempty"`
	PostedAt      time.Time    `json:"posted_at"`
}

func toResponse(m Movement) movementResponse {
	return movementResponse{
		ID:            m.ID,
		ItemID:        m.ItemID,
		DocumentID:    m.DocumentID,
		LineID:        m.LineID,
		Kind:          m.Kind,
		Qty:           m.Qty,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		UnitCost:      m.UnitCost,
		AvgCost:       m.AvgCost,
		Note:          m.Note,
		PostedAt:      m.PostedAt,
	}
}

func (h *Handler) postInbound(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.svc.PostInbound)
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.svc.PostAdjustment)
}

func (h *Handler) postCount(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.svc.PostCount)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, input Input) (Movement, error)) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant identity required")
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	movement, err := apply(r.Context(), Input{
		TenantID: id.TenantID,
		ItemID:   req.ItemID,
		Qty:      req.Qty,
		UnitCost: req.UnitCost,
		Note:     req.Note,
		ActorID:  id.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(movement))
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant identity required")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be a positive integer")
		return
	}
	from, to := periodQuery(r)
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	movements, err := h.svc.Movements(r.Context(), id.TenantID, itemID, from, to, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toResponse(m))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func periodQuery(r *http.Request) (time.Time, time.Time) {
	now := time.Now().UTC()
	from := now.AddDate(0, -1, 0)
	to := now
	if raw := r.URL.Query().Get("from"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			from = parsed
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			to = parsed
		}
	}
	return from, to
}
