package documents

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/platform/httpx"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// AuditLog serves the journal timeline of one aggregate.
type AuditLog interface {
	ListByAggregate(ctx context.Context, aggregateType string, aggregateID int64) ([]journal.Event, error)
}

// Handler exposes the document lifecycle as a JSON API.
type Handler struct {
	svc    *Service
	audit  AuditLog
	logger *slog.Logger
}

// NewHandler builds Handler.
func NewHandler(svc *Service, audit AuditLog, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, audit: audit, logger: logger}
}

// MountRoutes attaches document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quotes", h.createQuote)
	r.Post("/quotes/{id}/accept", h.acceptQuote)
	r.Post("/quotes/{id}/reject", h.rejectQuote)
	r.Post("/quotes/{id}/proforma", h.generateProforma)
	r.Post("/proformas/{id}/settle", h.settlePayment)
	r.Post("/documents/{id}/cancel", h.cancelDocument)
	r.Post("/invoices/{id}/credit-note", h.issueCreditNote)
	r.Post("/invoices/{id}/debit-note", h.issueDebitNote)
	r.Get("/documents/{id}", h.get)
	r.Get("/documents/{id}/journal", h.journal)
}

type lineRequest struct {
	ItemID          *int64  `json:"item_id,omitempty"`
	Description     string  `json:"description"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	TaxPercent      float64 `json:"tax_percent"`
}

func lineInputs(lines []lineRequest) []LineInput {
	inputs := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, LineInput{
			ItemID:          line.ItemID,
			Description:     line.Description,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			TaxPercent:      line.TaxPercent,
		})
	}
	return inputs
}

type lineResponse struct {
	ID             int64   `json:"id"`
	ItemID         *int64  `json:"item_id,omitempty"`
	Description    string  `json:"description"`
	Quantity       float64 `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	DiscountAmount float64 `json:"discount_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	LineTotal      float64 `json:"line_total"`
}

type documentResponse struct {
	ID            int64          `json:"id"`
	Type          Type           `json:"type"`
	Status        Status         `json:"status"`
	FullNumber    string         `json:"full_number"`
	IssueDate     time.Time      `json:"issue_date"`
	ValidUntil    *time.Time     `json:"valid_until,omitempty"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	OriginID      *int64         `json:"origin_id,omitempty"`
	PaymentMethod PaymentMethod  `json:"payment_method,omitempty"`
	Subtotal      float64        `json:"subtotal"`
	DiscountTotal float64        `json:"discount_total"`
	TaxTotal      float64        `json:"tax_total"`
	GrandTotal    float64        `json:"grand_total"`
	FiscalHash    string         `json:"fiscal_hash"`
	QRPayload     string         `json:"qr_payload"`
	Lines         []lineResponse `json:"lines"`
}

func toResponse(doc *Document) documentResponse {
	resp := documentResponse{
		ID:            doc.ID,
		Type:          doc.Type,
		Status:        doc.Status,
		FullNumber:    doc.FullNumber,
		IssueDate:     doc.IssueDate,
		ValidUntil:    doc.ValidUntil,
		DueDate:       doc.DueDate,
		OriginID:      doc.OriginID,
		PaymentMethod: doc.PaymentMethod,
		Subtotal:      doc.Subtotal,
		DiscountTotal: doc.DiscountTotal,
		TaxTotal:      doc.TaxTotal,
		GrandTotal:    doc.GrandTotal,
		FiscalHash:    doc.FiscalHash,
		QRPayload:     doc.QRPayload,
	}
	for _, line := range doc.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:             line.ID,
			ItemID:         line.ItemID,
			Description:    line.Description,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			DiscountAmount: line.DiscountAmount,
			TaxAmount:      line.TaxAmount,
			LineTotal:      line.LineTotal,
		})
	}
	return resp
}

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant identity required")
		return
	}
	var req struct {
		CounterpartyID int64         `json:"counterparty_id"`
		ValidityDays   int           `json:"validity_days"`
		Lines          []lineRequest `json:"lines"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	quote, err := h.svc.CreateQuote(r.Context(), CreateQuoteInput{
		TenantID:       id.TenantID,
		CounterpartyID: req.CounterpartyID,
		ActorID:        id.UserID,
		ValidityDays:   req.ValidityDays,
		Lines:          lineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(quote))
}

func (h *Handler) acceptQuote(w http.ResponseWriter, r *http.Request) {
	id, docID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		CounterOffer    []lineRequest `json:"counter_offer,omitempty"`
		PaymentMethod   PaymentMethod `json:"payment_method,omitempty"`
		PaymentTermDays int           `json:"payment_term_days,omitempty"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	result, err := h.svc.AcceptQuote(r.Context(), AcceptQuoteInput{
		TenantID:        id.TenantID,
		DocumentID:      docID,
		ActorID:         id.UserID,
		CounterOffer:    lineInputs(req.CounterOffer),
		PaymentMethod:   req.PaymentMethod,
		PaymentTermDays: req.PaymentTermDays,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := map[string]any{"quote": toResponse(result.Quote)}
	if result.Proforma != nil {
		resp["proforma"] = toResponse(result.Proforma)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) rejectQuote(w http.ResponseWriter, r *http.Request) {
	id, docID, ok := h.identityAndID(w, r)
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
	quote, err := h.svc.RejectQuote(r.Context(), RejectQuoteInput{
		TenantID:   id.TenantID,
		DocumentID: docID,
		ActorID:    id.UserID,
		Reason:     req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(quote))
}

func (h *Handler) generateProforma(w http.ResponseWriter, r *http.Request) {
	id, docID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		PaymentMethod   PaymentMethod `json:"payment_method,omitempty"`
		PaymentTermDays int           `json:"payment_term_days,omitempty"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	proforma, err := h.svc.GenerateProforma(r.Context(), GenerateProformaInput{
		TenantID:        id.TenantID,
		QuoteID:         docID,
		ActorID:         id.UserID,
		PaymentMethod:   req.PaymentMethod,
		PaymentTermDays: req.PaymentTermDays,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(proforma))
}

func (h *Handler) settlePayment(w http.ResponseWriter, r *http.Request) {
	id, docID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Method    PaymentMethod `json:"method"`
		Reference string        `json:"reference,omitempty"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	result, err := h.svc.SettlePayment(r.Context(), SettlePaymentInput{
		TenantID:   id.TenantID,
		ProformaID: docID,
		ActorID:    id.UserID,
		Method:     req.Method,
		Reference:  req.Reference,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"proforma": toResponse(result.Proforma),
		"invoice":  toResponse(result.Invoice),
		"receipt":  toResponse(result.Receipt),
	})
}

func (h *Handler) cancelDocument(w http.ResponseWriter, r *http.Request) {
	id, docID, ok := h.identityAndID(w, r)
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
	doc, err := h.svc.CancelDocument(r.Context(), CancelDocumentInput{
		TenantID:   id.TenantID,
		DocumentID: docID,
		ActorID:    id.UserID,
		Reason:     req.Reason,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(doc))
}

func (h *Handler) issueCreditNote(w http.ResponseWriter, r *http.Request) {
	h.issueNote(w, r, h.svc.IssueCreditNote)
}

func (h *Handler) issueDebitNote(w http.ResponseWriter, r *http.Request) {
	h.issueNote(w, r, h.svc.IssueDebitNote)
}

func (h *Handler) issueNote(w http.ResponseWriter, r *http.Request, issue func(ctx context.Context, input IssueNoteInput) (*Document, error)) {
	id, docID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string        `json:"reason"`
		Lines  []lineRequest `json:"lines"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	note, err := issue(r.Context(), IssueNoteInput{
		TenantID:  id.TenantID,
		InvoiceID: docID,
		ActorID:   id.UserID,
		Reason:    req.Reason,
		Lines:     lineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(note))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, docID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	doc, err := h.svc.Get(r.Context(), id.TenantID, docID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(doc))
}

type journalEventResponse struct {
	Version    int64          `json:"version"`
	EventType  string         `json:"event_type"`
	ActorID    int64          `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (h *Handler) journal(w http.ResponseWriter, r *http.Request) {
	id, docID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	if h.audit == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "journal timeline unavailable")
		return
	}
	// Ownership check before exposing the timeline.
	if _, err := h.svc.Get(r.Context(), id.TenantID, docID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	events, err := h.audit.ListByAggregate(r.Context(), "document", docID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]journalEventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, journalEventResponse{
			Version:    evt.Version,
			EventType:  evt.EventType,
			ActorID:    evt.ActorID,
			Payload:    evt.Payload,
			OccurredAt: evt.OccurredAt,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) identityAndID(w http.ResponseWriter, r *http.Request) (shared.Identity, int64, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant identity required")
		return shared.Identity{}, 0, false
	}
	docID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || docID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "document id must be a positive integer")
		return shared.Identity{}, 0, false
	}
	return id, docID, true
}
