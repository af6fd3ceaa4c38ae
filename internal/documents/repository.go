package documents

import (
	"context"

	"github.com/zambezi-erp/zambezi-erp/internal/escrow"
	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/stock"
)

// JournalWriter appends audit events on the ambient transaction.
type JournalWriter interface {
	Append(ctx context.Context, evt journal.Event) error
}

// TxRepository is the unit of work handed to a transition. Everything it
// exposes — document writes, sequence assignment, stock movements, escrow
// rows, journal entries — commits or rolls back as one.
type TxRepository interface {
	Insert(ctx context.Context, doc *Document) error
	GetForUpdate(ctx context.Context, tenantID, id int64) (*Document, error)
	UpdateHeader(ctx context.Context, doc *Document) error
	ReplaceLines(ctx context.Context, docID int64, lines []Line) error
	MarkLineStockMoved(ctx context.Context, lineID int64, qty float64) error
	CountActiveDependents(ctx context.Context, docID int64, ofType Type) (int, error)
	ListExpiredQuoteIDs(ctx context.Context, limit int) ([]int64, error)

	// NextSequence increments the (tenant, type, year) counter under the
	// ambient transaction, so a failed emission consumes no number.
	NextSequence(ctx context.Context, tenantID int64, docType Type, year int) (int64, error)
	LastFiscalHash(ctx context.Context, tenantID int64, series string) (string, error)
	LatestNegotiation(ctx context.Context, docID int64) ([]Line, error)

	Stock() stock.Ledger
	EscrowStore() escrow.Store
	Journal() JournalWriter
}

// Repository owns transaction boundaries and read paths.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id int64) (*Document, error)
}

// TenantDirectory resolves tenant fiscal identity for emission artefacts.
type TenantDirectory interface {
	NUIT(ctx context.Context, tenantID int64) (string, error)
}

// Event is the outbound notification emitted after a committed transition.
type Event struct {
	Type       string
	TenantID   int64
	DocumentID int64
	FullNumber string
	Payload    map[string]any
}

// Publisher delivers events to notification collaborators, fire and
// forget. Never called for a transaction that did not commit.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
