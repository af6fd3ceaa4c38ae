package declaration

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

// Handler exposes the periodic IVA declaration as a JSON API.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler builds Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// MountRoutes attaches declaration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/declarations/{year}/{month}", h.get)
	r.Post("/declarations/{year}/{month}/generate", h.generate)
	r.Post("/declarations/{id}/validate", h.validate)
	r.Post("/declarations/{id}/submit", h.submit)
	r.Post("/declarations/{id}/accept", h.accept)
}

type declarationResponse struct {
	ID    int64 `json:"id"`
	Year  int   `json:"year"`
	Month int   `json:"month"`

	SalesBaseStandard float64 `json:"sales_base_standard"`
	SalesTaxStandard  float64 `json:"sales_tax_standard"`
	SalesBaseReduced  float64 `json:"sales_base_reduced"`
	SalesTaxReduced   float64 `json:"sales_tax_reduced"`
	SalesBaseExempt   float64 `json:"sales_base_exempt"`

	PurchasesBaseStandard float64 `json:"purchases_base_standard"`
	PurchasesTaxStandard  float64 `json:"purchases_tax_standard"`
	PurchasesBaseReduced  float64 `json:"purchases_base_reduced"`
	PurchasesTaxReduced   float64 `json:"purchases_tax_reduced"`
	PurchasesBaseExempt   float64 `json:"purchases_base_exempt"`

	TaxDue             float64 `json:"tax_due"`
	TaxDeductible      float64 `json:"tax_deductible"`
	NetDifference      float64 `json:"net_difference"`
	PriorCredit        float64 `json:"prior_credit"`
	TaxPayable         float64 `json:"tax_payable"`
	CreditCarryForward float64 `json:"credit_carry_forward"`

	Status           Status     `json:"status"`
	ConfirmationCode string     `json:"confirmation_code,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
}

func toResponse(decl *Declaration) declarationResponse {
	return declarationResponse{
		ID:                    decl.ID,
		Year:                  decl.Year,
		Month:                 decl.Month,
		SalesBaseStandard:     decl.SalesBaseStandard,
		SalesTaxStandard:      decl.SalesTaxStandard,
		SalesBaseReduced:      decl.SalesBaseReduced,
		SalesTaxReduced:       decl.SalesTaxReduced,
		SalesBaseExempt:       decl.SalesBaseExempt,
		PurchasesBaseStandard: decl.PurchasesBaseStandard,
		PurchasesTaxStandard:  decl.PurchasesTaxStandard,
		PurchasesBaseReduced:  decl.PurchasesBaseReduced,
		PurchasesTaxReduced:   decl.PurchasesTaxReduced,
		PurchasesBaseExempt:   decl.PurchasesBaseExempt,
		TaxDue:                decl.TaxDue,
		TaxDeductible:         decl.TaxDeductible,
		NetDifference:         decl.NetDifference,
		PriorCredit:           decl.PriorCredit,
		TaxPayable:            decl.TaxPayable,
		CreditCarryForward:    decl.CreditCarryForward,
		Status:                decl.Status,
		ConfirmationCode:      decl.ConfirmationCode,
		SubmittedAt:           decl.SubmittedAt,
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	year, month, ok := period(w, r)
	if !ok {
		return
	}
	decl, err := h.svc.Get(r.Context(), id.TenantID, year, month)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(decl))
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	year, month, ok := period(w, r)
	if !ok {
		return
	}
	decl, err := h.svc.Generate(r.Context(), id.TenantID, year, month, id.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(decl))
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Validate)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Submit)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkAccepted)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, tenantID, id, actorID int64) (*Declaration, error)) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	declID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || declID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "declaration id must be a positive integer")
		return
	}
	decl, err := apply(r.Context(), id.TenantID, declID, id.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(decl))
}

func identity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant identity required")
		return shared.Identity{}, false
	}
	return id, true
}

func period(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	year, errY := strconv.Atoi(chi.URLParam(r, "year"))
	month, errM := strconv.Atoi(chi.URLParam(r, "month"))
	if errY != nil || errM != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Period", "year and month must be integers")
		return 0, 0, false
	}
	return year, month, true
}
