package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zambezi-erp/zambezi-erp/internal/escrow"
	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
	"github.com/zambezi-erp/zambezi-erp/internal/stock"
)

const maxConflictRetries = 3

// Service drives the document lifecycle. Every command validates the
// current state, recomputes totals from lines, and applies its side
// effects in one transaction.
type Service struct {
	repo     Repository
	tenants  TenantDirectory
	events   Publisher
	clock    shared.Clock
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo Repository, tenants TenantDirectory, events Publisher, clock shared.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		tenants:  tenants,
		events:   events,
		clock:    clock,
		logger:   logger,
		validate: validator.New(),
	}
}

// LineInput is the raw line data supplied by a command.
type LineInput struct {
	ItemID          *int64
	Description     string  `validate:"required"`
	Quantity        float64 `validate:"gt=0"`
	UnitPrice       float64 `validate:"gte=0"`
	DiscountPercent float64 `validate:"gte=0,lte=100"`
	TaxPercent      float64 `validate:"gte=0,lte=100"`
}

// CreateQuoteInput carries the CreateQuote command.
type CreateQuoteInput struct {
	TenantID       int64       `validate:"required"`
	CounterpartyID int64       `validate:"required"`
	ActorID        int64       `validate:"required"`
	ValidityDays   int         `validate:"gt=0"`
	Lines          []LineInput `validate:"min=1,dive"`
}

// CreateQuote creates and emits a quote in one step.
func (s *Service) CreateQuote(ctx context.Context, input CreateQuoteInput) (*Document, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	validUntil := now.AddDate(0, 0, input.ValidityDays)

	var doc *Document
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			doc = &Document{
				TenantID:       input.TenantID,
				CounterpartyID: input.CounterpartyID,
				Type:           TypeQuote,
				Operation:      OperationSale,
				IssueDate:      now,
				ValidUntil:     &validUntil,
				CreatedBy:      input.ActorID,
				Lines:          linesFromInput(input.Lines),
			}
			return s.emit(ctx, tx, doc, input.ActorID)
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: "document.emitted", TenantID: doc.TenantID, DocumentID: doc.ID, FullNumber: doc.FullNumber})
	return doc, nil
}

// AcceptQuoteInput carries the AcceptQuote command. A non-empty
// CounterOffer moves the quote to NEGOTIATING instead of ACCEPTED.
type AcceptQuoteInput struct {
	TenantID        int64       `validate:"required"`
	DocumentID      int64       `validate:"required"`
	ActorID         int64       `validate:"required"`
	CounterOffer    []LineInput `validate:"omitempty,dive"`
	PaymentMethod   PaymentMethod
	PaymentTermDays int
}

// AcceptResult reports the outcome of AcceptQuote.
type AcceptResult struct {
	Quote    *Document
	Proforma *Document
}

// AcceptQuote accepts an emitted quote, or registers a counter-offer.
// Acceptance auto-generates the proforma in the same transaction.
func (s *Service) AcceptQuote(ctx context.Context, input AcceptQuoteInput) (*AcceptResult, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = PaymentCash
	}
	if input.PaymentTermDays <= 0 {
		input.PaymentTermDays = 15
	}

	result := &AcceptResult{}
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			quote, err := tx.GetForUpdate(ctx, input.TenantID, input.DocumentID)
			if err != nil {
				return err
			}
			if quote.Type != TypeQuote {
				return &shared.StateConflictError{Entity: "document", ID: quote.ID, Current: string(quote.Type), Attempted: "accept quote"}
			}
			if quote.ValidUntil != nil && s.clock.Now().After(*quote.ValidUntil) {
				return &shared.ExpiredError{DocumentID: quote.ID, ValidUntil: *quote.ValidUntil}
			}

			if len(input.CounterOffer) > 0 {
				return s.negotiate(ctx, tx, quote, input, result)
			}

			if !CanTransition(TypeQuote, quote.Status, StatusAccepted) {
				return &shared.StateConflictError{Entity: "document", ID: quote.ID, Current: string(quote.Status), Attempted: "accept"}
			}
			if quote.Status == StatusNegotiating {
				proposed, err := tx.LatestNegotiation(ctx, quote.ID)
				if err != nil {
					return err
				}
				if len(proposed) > 0 {
					if err := tx.ReplaceLines(ctx, quote.ID, proposed); err != nil {
						return err
					}
					quote.Lines = proposed
				}
			}

			from := quote.Status
			quote.Status = StatusAccepted
			s.applyTotals(quote)
			if err := tx.UpdateHeader(ctx, quote); err != nil {
				return err
			}
			if err := s.journalTransition(ctx, tx, quote, input.ActorID, "document.accepted", from); err != nil {
				return err
			}

			proforma, err := s.generateProforma(ctx, tx, quote, input.PaymentMethod, input.PaymentTermDays, input.ActorID)
			if err != nil {
				return err
			}
			result.Quote = quote
			result.Proforma = proforma
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Quote.Status == StatusNegotiating {
		s.publish(ctx, Event{Type: "document.negotiating", TenantID: result.Quote.TenantID, DocumentID: result.Quote.ID, FullNumber: result.Quote.FullNumber})
		return result, nil
	}
	s.publish(ctx, Event{Type: "document.accepted", TenantID: result.Quote.TenantID, DocumentID: result.Quote.ID, FullNumber: result.Quote.FullNumber})
	if result.Proforma != nil {
		s.publish(ctx, Event{Type: "document.emitted", TenantID: result.Proforma.TenantID, DocumentID: result.Proforma.ID, FullNumber: result.Proforma.FullNumber})
	}
	return result, nil
}

func (s *Service) negotiate(ctx context.Context, tx TxRepository, quote *Document, input AcceptQuoteInput, result *AcceptResult) error {
	if !CanTransition(TypeQuote, quote.Status, StatusNegotiating) {
		return &shared.StateConflictError{Entity: "document", ID: quote.ID, Current: string(quote.Status), Attempted: "counter-offer"}
	}
	proposed := linesFromInput(input.CounterOffer)
	ApplyLineTotals(proposed)
	from := quote.Status
	quote.Status = StatusNegotiating
	// Totals stay untouched until the negotiation resolves.
	if err := tx.UpdateHeader(ctx, quote); err != nil {
		return err
	}
	if err := tx.Journal().Append(ctx, journal.Event{
		AggregateType: "document",
		AggregateID:   quote.ID,
		EventType:     "document.negotiation_proposed",
		TenantID:      quote.TenantID,
		ActorID:       input.ActorID,
		Payload: map[string]any{
			"from":  string(from),
			"to":    string(StatusNegotiating),
			"lines": negotiationPayload(proposed),
		},
	}); err != nil {
		return err
	}
	result.Quote = quote
	return nil
}

// RejectQuoteInput carries the RejectQuote command.
type RejectQuoteInput struct {
	TenantID   int64 `validate:"required"`
	DocumentID int64 `validate:"required"`
	ActorID    int64 `validate:"required"`
	Reason     string
}

// RejectQuote moves an emitted or negotiating quote to REJECTED.
func (s *Service) RejectQuote(ctx context.Context, input RejectQuoteInput) (*Document, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	var quote *Document
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			doc, err := tx.GetForUpdate(ctx, input.TenantID, input.DocumentID)
			if err != nil {
				return err
			}
			if doc.Type != TypeQuote || !CanTransition(TypeQuote, doc.Status, StatusRejected) {
				return &shared.StateConflictError{Entity: "document", ID: doc.ID, Current: string(doc.Status), Attempted: "reject"}
			}
			from := doc.Status
			doc.Status = StatusRejected
			if err := tx.UpdateHeader(ctx, doc); err != nil {
				return err
			}
			quote = doc
			return s.journalTransitionWith(ctx, tx, doc, input.ActorID, "document.rejected", from, map[string]any{"reason": input.Reason})
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: "document.rejected", TenantID: quote.TenantID, DocumentID: quote.ID, FullNumber: quote.FullNumber})
	return quote, nil
}

// GenerateProformaInput carries the manual GenerateProforma command.
// Acceptance normally auto-invokes proforma generation; this command
// covers re-issue after a cancelled proforma.
type GenerateProformaInput struct {
	TenantID        int64 `validate:"required"`
	QuoteID         int64 `validate:"required"`
	ActorID         int64 `validate:"required"`
	PaymentMethod   PaymentMethod
	PaymentTermDays int
}

// GenerateProforma emits a proforma for an accepted quote.
func (s *Service) GenerateProforma(ctx context.Context, input GenerateProformaInput) (*Document, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = PaymentCash
	}
	if input.PaymentTermDays <= 0 {
		input.PaymentTermDays = 15
	}
	var proforma *Document
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			quote, err := tx.GetForUpdate(ctx, input.TenantID, input.QuoteID)
			if err != nil {
				return err
			}
			if quote.Type != TypeQuote || quote.Status != StatusAccepted {
				return &shared.StateConflictError{Entity: "document", ID: quote.ID, Current: string(quote.Status), Attempted: "generate proforma"}
			}
			active, err := tx.CountActiveDependents(ctx, quote.ID, TypeProforma)
			if err != nil {
				return err
			}
			if active > 0 {
				return &shared.StateConflictError{Entity: "document", ID: quote.ID, Current: "has active proforma", Attempted: "generate proforma"}
			}
			proforma, err = s.generateProforma(ctx, tx, quote, input.PaymentMethod, input.PaymentTermDays, input.ActorID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: "document.emitted", TenantID: proforma.TenantID, DocumentID: proforma.ID, FullNumber: proforma.FullNumber})
	return proforma, nil
}

func (s *Service) generateProforma(ctx context.Context, tx TxRepository, quote *Document, method PaymentMethod, termDays int, actorID int64) (*Document, error) {
	now := s.clock.Now()
	due := now.AddDate(0, 0, termDays)
	proforma := &Document{
		TenantID:       quote.TenantID,
		CounterpartyID: quote.CounterpartyID,
		Type:           TypeProforma,
		Operation:      OperationSale,
		IssueDate:      now,
		DueDate:        &due,
		OriginID:       &quote.ID,
		PaymentMethod:  method,
		CreatedBy:      actorID,
		Lines:          copyLines(quote.Lines),
	}
	if err := s.emit(ctx, tx, proforma, actorID); err != nil {
		return nil, err
	}
	if method == PaymentEscrow {
		held, err := escrow.Open(ctx, tx.EscrowStore(), s.clock, proforma.TenantID, proforma.CounterpartyID, proforma.ID, proforma.GrandTotal)
		if err != nil {
			return nil, err
		}
		if err := tx.Journal().Append(ctx, journal.Event{
			AggregateType: "escrow",
			AggregateID:   held.ID,
			EventType:     "escrow.opened",
			TenantID:      proforma.TenantID,
			ActorID:       actorID,
			Payload:       map[string]any{"document": proforma.ID, "amount": held.Amount},
		}); err != nil {
			return nil, err
		}
	}
	return proforma, nil
}

// SettlePaymentInput carries the SettlePayment command.
type SettlePaymentInput struct {
	TenantID   int64         `validate:"required"`
	ProformaID int64         `validate:"required"`
	ActorID    int64         `validate:"required"`
	Method     PaymentMethod `validate:"required"`
	Reference  string
}

// SettleResult reports the documents produced by settlement.
type SettleResult struct {
	Proforma *Document
	Invoice  *Document
	Receipt  *Document
}

// SettlePayment marks the proforma PAID and atomically emits the invoice
// and receipt. Each invoice line referencing a catalog item posts exactly
// one stock OUT movement.
func (s *Service) SettlePayment(ctx context.Context, input SettlePaymentInput) (*SettleResult, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	strategy, err := strategyFor(input.Method)
	if err != nil {
		return nil, err
	}

	result := &SettleResult{}
	err = s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			proforma, err := tx.GetForUpdate(ctx, input.TenantID, input.ProformaID)
			if err != nil {
				return err
			}
			if proforma.Type != TypeProforma || !CanTransition(TypeProforma, proforma.Status, StatusPaid) {
				return &shared.StateConflictError{Entity: "document", ID: proforma.ID, Current: string(proforma.Status), Attempted: "settle"}
			}
			if err := strategy.Process(ctx, tx, proforma, input.Reference); err != nil {
				return err
			}

			from := proforma.Status
			proforma.Status = StatusPaid
			if err := tx.UpdateHeader(ctx, proforma); err != nil {
				return err
			}
			if err := s.journalTransitionWith(ctx, tx, proforma, input.ActorID, "document.paid", from, map[string]any{
				"method":    string(input.Method),
				"reference": input.Reference,
			}); err != nil {
				return err
			}

			now := s.clock.Now()
			invoice := &Document{
				TenantID:       proforma.TenantID,
				CounterpartyID: proforma.CounterpartyID,
				Type:           TypeInvoice,
				Operation:      OperationSale,
				IssueDate:      now,
				OriginID:       &proforma.ID,
				PaymentMethod:  input.Method,
				CreatedBy:      input.ActorID,
				Lines:          copyLines(proforma.Lines),
			}
			if err := s.emit(ctx, tx, invoice, input.ActorID); err != nil {
				return err
			}
			if err := s.moveStock(ctx, tx, invoice, input.ActorID); err != nil {
				return err
			}

			receipt := &Document{
				TenantID:       proforma.TenantID,
				CounterpartyID: proforma.CounterpartyID,
				Type:           TypeReceipt,
				Operation:      OperationSale,
				IssueDate:      now,
				OriginID:       &invoice.ID,
				PaymentMethod:  input.Method,
				CreatedBy:      input.ActorID,
				Lines:          copyLines(proforma.Lines),
			}
			if err := s.emit(ctx, tx, receipt, input.ActorID); err != nil {
				return err
			}

			result.Proforma = proforma
			result.Invoice = invoice
			result.Receipt = receipt
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: "document.paid", TenantID: result.Proforma.TenantID, DocumentID: result.Proforma.ID, FullNumber: result.Proforma.FullNumber})
	s.publish(ctx, Event{Type: "document.emitted", TenantID: result.Invoice.TenantID, DocumentID: result.Invoice.ID, FullNumber: result.Invoice.FullNumber})
	s.publish(ctx, Event{Type: "document.emitted", TenantID: result.Receipt.TenantID, DocumentID: result.Receipt.ID, FullNumber: result.Receipt.FullNumber})
	return result, nil
}

// CancelDocumentInput carries the CancelDocument command.
type CancelDocumentInput struct {
	TenantID   int64  `validate:"required"`
	DocumentID int64  `validate:"required"`
	ActorID    int64  `validate:"required"`
	Reason     string `validate:"required"`
}

// CancelDocument cancels an emitted or accepted document. Cancellation is
// a state, never a delete, and is rejected while non-cancelled dependents
// exist.
func (s *Service) CancelDocument(ctx context.Context, input CancelDocumentInput) (*Document, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	var doc *Document
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			found, err := tx.GetForUpdate(ctx, input.TenantID, input.DocumentID)
			if err != nil {
				return err
			}
			if !CanTransition(found.Type, found.Status, StatusCancelled) {
				return &shared.StateConflictError{Entity: "document", ID: found.ID, Current: string(found.Status), Attempted: "cancel"}
			}
			dependents, err := tx.CountActiveDependents(ctx, found.ID, "")
			if err != nil {
				return err
			}
			if dependents > 0 {
				return &shared.StateConflictError{Entity: "document", ID: found.ID, Current: fmt.Sprintf("%d active dependents", dependents), Attempted: "cancel"}
			}
			now := s.clock.Now()
			from := found.Status
			found.Status = StatusCancelled
			found.CancelReason = input.Reason
			found.CancelledBy = &input.ActorID
			found.CancelledAt = &now
			if err := tx.UpdateHeader(ctx, found); err != nil {
				return err
			}
			doc = found
			return s.journalTransitionWith(ctx, tx, found, input.ActorID, "document.cancelled", from, map[string]any{"reason": input.Reason})
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: "document.cancelled", TenantID: doc.TenantID, DocumentID: doc.ID, FullNumber: doc.FullNumber})
	return doc, nil
}

// IssueNoteInput carries credit/debit note issuance against an invoice.
type IssueNoteInput struct {
	TenantID  int64       `validate:"required"`
	InvoiceID int64       `validate:"required"`
	ActorID   int64       `validate:"required"`
	Reason    string      `validate:"required"`
	Lines     []LineInput `validate:"min=1,dive"`
}

// IssueCreditNote emits a credit note against an emitted invoice and
// posts RETURN movements for item-referencing lines.
func (s *Service) IssueCreditNote(ctx context.Context, input IssueNoteInput) (*Document, error) {
	return s.issueNote(ctx, input, TypeCreditNote)
}

// IssueDebitNote emits a debit note against an emitted invoice.
func (s *Service) IssueDebitNote(ctx context.Context, input IssueNoteInput) (*Document, error) {
	return s.issueNote(ctx, input, TypeDebitNote)
}

func (s *Service) issueNote(ctx context.Context, input IssueNoteInput, noteType Type) (*Document, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	var note *Document
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			invoice, err := tx.GetForUpdate(ctx, input.TenantID, input.InvoiceID)
			if err != nil {
				return err
			}
			if invoice.Type != TypeInvoice || invoice.Status != StatusEmitted {
				return &shared.StateConflictError{Entity: "document", ID: invoice.ID, Current: string(invoice.Status), Attempted: "issue " + string(noteType)}
			}
			note = &Document{
				TenantID:       invoice.TenantID,
				CounterpartyID: invoice.CounterpartyID,
				Type:           noteType,
				Operation:      invoice.Operation,
				IssueDate:      s.clock.Now(),
				OriginID:       &invoice.ID,
				CreatedBy:      input.ActorID,
				Lines:          linesFromInput(input.Lines),
			}
			if err := s.emit(ctx, tx, note, input.ActorID); err != nil {
				return err
			}
			if noteType == TypeCreditNote {
				if err := s.returnStock(ctx, tx, note, input.ActorID); err != nil {
					return err
				}
			}
			return tx.Journal().Append(ctx, journal.Event{
				AggregateType: "document",
				AggregateID:   invoice.ID,
				EventType:     "document.note_issued",
				TenantID:      invoice.TenantID,
				ActorID:       input.ActorID,
				Payload:       map[string]any{"note": note.ID, "type": string(noteType), "reason": input.Reason},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: "document.emitted", TenantID: note.TenantID, DocumentID: note.ID, FullNumber: note.FullNumber})
	return note, nil
}

// ExpireQuotes moves emitted quotes past their validity date to EXPIRED.
// Run by the periodic sweep; each quote expires in its own transaction.
func (s *Service) ExpireQuotes(ctx context.Context, limit int) (int, error) {
	var due []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids, err := tx.ListExpiredQuoteIDs(ctx, limit)
		if err != nil {
			return err
		}
		due = ids
		return nil
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range due {
		transitioned := false
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			doc, err := tx.GetForUpdate(ctx, 0, id)
			if err != nil {
				return err
			}
			if doc.Type != TypeQuote || doc.Status != StatusEmitted {
				return nil // state moved on since listing
			}
			if doc.ValidUntil == nil || s.clock.Now().Before(*doc.ValidUntil) {
				return nil
			}
			from := doc.Status
			doc.Status = StatusExpired
			if err := tx.UpdateHeader(ctx, doc); err != nil {
				return err
			}
			if err := s.journalTransition(ctx, tx, doc, 0, "document.expired", from); err != nil {
				return err
			}
			transitioned = true
			return nil
		})
		if err != nil {
			return expired, err
		}
		// Count only after the transaction committed, so a journal failure
		// cannot overstate the sweep.
		if transitioned {
			expired++
		}
	}
	return expired, nil
}

// Get returns one document with its lines.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (*Document, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// emit assigns the fiscal identity and persists a new document. The
// sequence increment shares the ambient transaction, so a failed emission
// consumes no number.
func (s *Service) emit(ctx context.Context, tx TxRepository, doc *Document, actorID int64) error {
	if len(doc.Lines) == 0 {
		return &shared.ValidationError{Field: "lines", Reason: "document requires at least one line"}
	}
	doc.SeriesCode = Series[doc.Type]
	year := doc.IssueDate.Year()
	seq, err := tx.NextSequence(ctx, doc.TenantID, doc.Type, year)
	if err != nil {
		return err
	}
	doc.SequenceNumber = seq
	doc.FullNumber = FullNumber(doc.SeriesCode, year, seq)

	s.applyTotals(doc)

	prevHash, err := tx.LastFiscalHash(ctx, doc.TenantID, doc.SeriesCode)
	if err != nil {
		return err
	}
	doc.FiscalHash = FiscalHash(prevHash, doc.TenantID, doc.FullNumber, doc.IssueDate, doc.GrandTotal)

	nuit := ""
	if s.tenants != nil {
		nuit, err = s.tenants.NUIT(ctx, doc.TenantID)
		if err != nil {
			return err
		}
	}
	doc.QRPayload = QRPayload(nuit, doc.FullNumber, doc.IssueDate, doc.GrandTotal, doc.TaxTotal, doc.FiscalHash)

	doc.Status = StatusEmitted
	doc.CreatedAt = s.clock.Now()
	doc.UpdatedAt = doc.CreatedAt
	if err := tx.Insert(ctx, doc); err != nil {
		return err
	}
	return tx.Journal().Append(ctx, journal.Event{
		AggregateType: "document",
		AggregateID:   doc.ID,
		EventType:     "document.emitted",
		TenantID:      doc.TenantID,
		ActorID:       actorID,
		Payload: map[string]any{
			"type":        string(doc.Type),
			"full_number": doc.FullNumber,
			"grand_total": doc.GrandTotal,
		},
	})
}

// moveStock posts one OUT movement per stock-tracked invoice line,
// flipping the line flag in the same transaction. Lines already flagged
// are skipped, so re-processing is a stock no-op.
func (s *Service) moveStock(ctx context.Context, tx TxRepository, invoice *Document, actorID int64) error {
	for i := range invoice.Lines {
		line := &invoice.Lines[i]
		if line.ItemID == nil || line.StockMoved {
			continue
		}
		_, err := tx.Stock().Post(ctx, stockOut(invoice, line, actorID))
		if err != nil {
			return err
		}
		line.StockMoved = true
		line.StockMovedQty = line.Quantity
		if err := tx.MarkLineStockMoved(ctx, line.ID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) returnStock(ctx context.Context, tx TxRepository, note *Document, actorID int64) error {
	for i := range note.Lines {
		line := &note.Lines[i]
		if line.ItemID == nil || line.StockMoved {
			continue
		}
		_, err := tx.Stock().Post(ctx, returnMovement(note, line, actorID))
		if err != nil {
			return err
		}
		line.StockMoved = true
		line.StockMovedQty = line.Quantity
		if err := tx.MarkLineStockMoved(ctx, line.ID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyTotals(doc *Document) {
	ApplyLineTotals(doc.Lines)
	totals := SumLines(doc.Lines)
	doc.Subtotal = totals.Subtotal
	doc.DiscountTotal = totals.DiscountTotal
	doc.TaxTotal = totals.TaxTotal
	doc.GrandTotal = totals.GrandTotal
}

func (s *Service) journalTransition(ctx context.Context, tx TxRepository, doc *Document, actorID int64, eventType string, from Status) error {
	return s.journalTransitionWith(ctx, tx, doc, actorID, eventType, from, nil)
}

func (s *Service) journalTransitionWith(ctx context.Context, tx TxRepository, doc *Document, actorID int64, eventType string, from Status, extra map[string]any) error {
	payload := map[string]any{
		"from": string(from),
		"to":   string(doc.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return tx.Journal().Append(ctx, journal.Event{
		AggregateType: "document",
		AggregateID:   doc.ID,
		EventType:     eventType,
		TenantID:      doc.TenantID,
		ActorID:       actorID,
		Payload:       payload,
	})
}

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if err == nil || !shared.IsRetryable(err) {
			return err
		}
		s.logger.Warn("transition conflict, retrying", slog.Int("attempt", attempt+1), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
	return err
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event", slog.String("type", evt.Type), slog.Any("error", err))
	}
}

func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) && len(invalid) > 0 {
		first := invalid[0]
		return &shared.ValidationError{Field: first.Field(), Reason: fmt.Sprintf("failed %q", first.Tag())}
	}
	return &shared.ValidationError{Reason: err.Error()}
}

func linesFromInput(inputs []LineInput) []Line {
	lines := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		lines = append(lines, Line{
			ItemID:          in.ItemID,
			Description:     in.Description,
			Quantity:        Round3(in.Quantity),
			UnitPrice:       in.UnitPrice,
			DiscountPercent: in.DiscountPercent,
			TaxPercent:      in.TaxPercent,
		})
	}
	return lines
}

func copyLines(lines []Line) []Line {
	copied := make([]Line, len(lines))
	for i, line := range lines {
		copied[i] = Line{
			ItemID:          line.ItemID,
			Description:     line.Description,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			TaxPercent:      line.TaxPercent,
		}
	}
	return copied
}

func negotiationPayload(lines []Line) []map[string]any {
	payload := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		entry := map[string]any{
			"description":      line.Description,
			"quantity":         line.Quantity,
			"unit_price":       line.UnitPrice,
			"discount_percent": line.DiscountPercent,
			"tax_percent":      line.TaxPercent,
		}
		if line.ItemID != nil {
			entry["item_id"] = *line.ItemID
		}
		payload = append(payload, entry)
	}
	return payload
}

func stockOut(invoice *Document, line *Line, actorID int64) stock.Input {
	return stock.Input{
		TenantID:   invoice.TenantID,
		ItemID:     *line.ItemID,
		DocumentID: invoice.ID,
		LineID:     line.ID,
		Kind:       stock.MovementOut,
		Qty:        line.Quantity,
		Note:       "invoice " + invoice.FullNumber,
		ActorID:    actorID,
	}
}

func returnMovement(note *Document, line *Line, actorID int64) stock.Input {
	return stock.Input{
		TenantID:   note.TenantID,
		ItemID:     *line.ItemID,
		DocumentID: note.ID,
		LineID:     line.ID,
		Kind:       stock.MovementReturn,
		Qty:        line.Quantity,
		Note:       "credit note " + note.FullNumber,
		ActorID:    actorID,
	}
}
