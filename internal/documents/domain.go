package documents

import "time"

// Type enumerates fiscal document types.
type Type string

const (
	TypeQuote      Type = "QUOTE"
	TypeProforma   Type = "PROFORMA"
	TypeInvoice    Type = "INVOICE"
	TypeReceipt    Type = "RECEIPT"
	TypeCreditNote Type = "CREDIT_NOTE"
	TypeDebitNote  Type = "DEBIT_NOTE"
)

// Status enumerates lifecycle states.
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusPending     Status = "PENDING"
	StatusEmitted     Status = "EMITTED"
	StatusNegotiating Status = "NEGOTIATING"
	StatusAccepted    Status = "ACCEPTED"
	StatusRejected    Status = "REJECTED"
	StatusPaid        Status = "PAID"
	StatusCancelled   Status = "CANCELLED"
	StatusExpired     Status = "EXPIRED"
)

// Operation classifies a document for the periodic IVA return.
type Operation string

const (
	// OperationSale feeds the tax-due side of the declaration.
	OperationSale Operation = "SALE"
	// OperationPurchase feeds the deductible side.
	OperationPurchase Operation = "PURCHASE"
)

// Series maps each type to its fiscal series code.
var Series = map[Type]string{
	TypeQuote:      "COT",
	TypeProforma:   "PP",
	TypeInvoice:    "FT",
	TypeReceipt:    "RC",
	TypeCreditNote: "NC",
	TypeDebitNote:  "ND",
}

// Document is the central entity. Monetary totals are always recomputed
// from lines before persisting, never trusted from the caller.
type Document struct {
	ID             int64
	TenantID       int64
	CounterpartyID int64
	Type           Type
	Status         Status
	SeriesCode     string
	SequenceNumber int64
	FullNumber     string
	IssueDate      time.Time
	ValidUntil     *time.Time
	DueDate        *time.Time
	OriginID       *int64
	Operation      Operation
	PaymentMethod  PaymentMethod
	Subtotal       float64
	DiscountTotal  float64
	TaxTotal       float64
	GrandTotal     float64
	FiscalHash     string
	QRPayload      string
	CancelReason   string
	CancelledBy    *int64
	CancelledAt    *time.Time
	CreatedBy      int64
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Lines          []Line
}

// Line is owned exclusively by one document. StockMoved may flip only
// once; re-processing the same document is a stock no-op.
type Line struct {
	ID              int64
	DocumentID      int64
	ItemID          *int64
	Description     string
	Quantity        float64
	UnitPrice       float64
	DiscountPercent float64
	TaxPercent      float64
	DiscountAmount  float64
	TaxAmount       float64
	LineTotal       float64
	StockMoved      bool
	StockMovedQty   float64
}

// transitions lists the allowed state changes per document type.
var transitions = map[Type]map[Status][]Status{
	TypeQuote: {
		StatusEmitted:     {StatusAccepted, StatusNegotiating, StatusRejected, StatusExpired, StatusCancelled},
		StatusNegotiating: {StatusAccepted, StatusNegotiating, StatusRejected, StatusCancelled},
		StatusAccepted:    {StatusCancelled},
	},
	TypeProforma: {
		StatusEmitted: {StatusPaid, StatusCancelled},
	},
	TypeInvoice: {
		StatusEmitted: {StatusCancelled},
	},
	TypeReceipt: {
		StatusEmitted: {StatusCancelled},
	},
	TypeCreditNote: {
		StatusEmitted: {StatusCancelled},
	},
	TypeDebitNote: {
		StatusEmitted: {StatusCancelled},
	},
}

// CanTransition reports whether a document of the given type may move
// from one status to another.
func CanTransition(docType Type, from, to Status) bool {
	for _, next := range transitions[docType][from] {
		if next == to {
			return true
		}
	}
	return false
}

// Taxable reports whether the type feeds the periodic declaration.
func (t Type) Taxable() bool {
	switch t {
	case TypeInvoice, TypeCreditNote, TypeDebitNote:
		return true
	}
	return false
}

// NegatesTax reports whether the type reduces declared amounts.
func (t Type) NegatesTax() bool {
	return t == TypeCreditNote
}
