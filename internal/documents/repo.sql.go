package documents

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zambezi-erp/zambezi-erp/internal/escrow"
	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/platform/db"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
	"github.com/zambezi-erp/zambezi-erp/internal/stock"
)

// PgRepository persists documents in PostgreSQL.
type PgRepository struct {
	pool  *pgxpool.Pool
	clock shared.Clock
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool, clock shared.Clock) *PgRepository {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &PgRepository{pool: pool, clock: clock}
}

// WithTx runs fn inside one RepeatableRead transaction. Serialization and
// deadlock failures surface as ConcurrencyConflictError so the command
// layer can retry.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		wrapper := &txRepository{
			tx:      tx,
			stock:   stock.NewTxLedger(stock.NewPgStore(tx), r.clock),
			escrow:  escrow.NewPgStore(tx),
			journal: journal.NewWriter(tx),
		}
		return fn(ctx, wrapper)
	})
	if err != nil && db.IsSerializationFailure(err) {
		return &shared.ConcurrencyConflictError{Entity: "document", ID: 0}
	}
	return err
}

// Get loads one document with its lines.
func (r *PgRepository) Get(ctx context.Context, tenantID, id int64) (*Document, error) {
	return getDocument(ctx, r.pool, tenantID, id, false)
}

type txRepository struct {
	tx      pgx.Tx
	stock   *stock.TxLedger
	escrow  *escrow.PgStore
	journal *journal.Writer
}

func (r *txRepository) Stock() stock.Ledger       { return r.stock }
func (r *txRepository) EscrowStore() escrow.Store { return r.escrow }
func (r *txRepository) Journal() JournalWriter    { return r.journal }

const documentColumns = `id, tenant_id, counterparty_id, doc_type, status, series_code, sequence_number,
COALESCE(full_number, ''), issue_date, valid_until, due_date, origin_id, operation, COALESCE(payment_method, ''),
subtotal, discount_total, tax_total, grand_total, COALESCE(fiscal_hash, ''), COALESCE(qr_payload, ''),
COALESCE(cancel_reason, ''), cancelled_by, cancelled_at, created_by, version, created_at, updated_at`

func (r *txRepository) Insert(ctx context.Context, doc *Document) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO documents
(tenant_id, counterparty_id, doc_type, status, series_code, sequence_number, full_number, issue_date, valid_until, due_date,
 origin_id, operation, payment_method, subtotal, discount_total, tax_total, grand_total, fiscal_hash, qr_payload, created_by, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15,$16,$17,$18,$19,$20,1,$21,$21)
RETURNING id`,
		doc.TenantID, doc.CounterpartyID, string(doc.Type), string(doc.Status), doc.SeriesCode, doc.SequenceNumber,
		doc.FullNumber, doc.IssueDate, doc.ValidUntil, doc.DueDate, doc.OriginID, string(doc.Operation),
		string(doc.PaymentMethod), doc.Subtotal, doc.DiscountTotal, doc.TaxTotal, doc.GrandTotal,
		doc.FiscalHash, doc.QRPayload, doc.CreatedBy, doc.CreatedAt).Scan(&doc.ID)
	if err != nil {
		return err
	}
	doc.Version = 1
	return r.insertLines(ctx, doc.ID, doc.Lines)
}

func (r *txRepository) insertLines(ctx context.Context, docID int64, lines []Line) error {
	for i := range lines {
		line := &lines[i]
		line.DocumentID = docID
		err := r.tx.QueryRow(ctx, `INSERT INTO document_lines
(document_id, item_id, description, quantity, unit_price, discount_percent, tax_percent, discount_amount, tax_amount, line_total, stock_moved, stock_moved_qty)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
			docID, line.ItemID, line.Description, line.Quantity, line.UnitPrice, line.DiscountPercent,
			line.TaxPercent, line.DiscountAmount, line.TaxAmount, line.LineTotal, line.StockMoved, line.StockMovedQty).Scan(&line.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetForUpdate locks the document row. A zero tenantID skips the tenant
// filter; only sweeps use that form.
func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, id int64) (*Document, error) {
	return getDocument(ctx, r.tx, tenantID, id, true)
}

func (r *txRepository) UpdateHeader(ctx context.Context, doc *Document) error {
	tag, err := r.tx.Exec(ctx, `UPDATE documents
SET status=$2, subtotal=$3, discount_total=$4, tax_total=$5, grand_total=$6,
    cancel_reason=NULLIF($7,''), cancelled_by=$8, cancelled_at=$9, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$10`,
		doc.ID, string(doc.Status), doc.Subtotal, doc.DiscountTotal, doc.TaxTotal, doc.GrandTotal,
		doc.CancelReason, doc.CancelledBy, doc.CancelledAt, doc.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.ConcurrencyConflictError{Entity: "document", ID: doc.ID}
	}
	doc.Version++
	return nil
}

func (r *txRepository) ReplaceLines(ctx context.Context, docID int64, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id=$1`, docID); err != nil {
		return err
	}
	return r.insertLines(ctx, docID, lines)
}

func (r *txRepository) MarkLineStockMoved(ctx context.Context, lineID int64, qty float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE document_lines SET stock_moved=TRUE, stock_moved_qty=$2 WHERE id=$1 AND stock_moved=FALSE`, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.StateConflictError{Entity: "document_line", ID: lineID, Current: "stock already moved", Attempted: "move stock"}
	}
	return nil
}

func (r *txRepository) CountActiveDependents(ctx context.Context, docID int64, ofType Type) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM documents
WHERE origin_id=$1 AND status <> $2 AND ($3 = '' OR doc_type=$3)`,
		docID, string(StatusCancelled), string(ofType)).Scan(&count)
	return count, err
}

func (r *txRepository) ListExpiredQuoteIDs(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.tx.Query(ctx, `SELECT id FROM documents
WHERE doc_type=$1 AND status=$2 AND valid_until < NOW()
ORDER BY valid_until ASC
LIMIT $3
FOR UPDATE SKIP LOCKED`, string(TypeQuote), string(StatusEmitted), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NextSequence increments the counter row under the ambient transaction.
// The upsert takes a row lock, serialising concurrent emissions for the
// same tenant, type and year.
func (r *txRepository) NextSequence(ctx context.Context, tenantID int64, docType Type, year int) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO document_sequences (tenant_id, doc_type, year, seq)
VALUES ($1, $2, $3, 1)
ON CONFLICT (tenant_id, doc_type, year)
DO UPDATE SET seq = document_sequences.seq + 1
RETURNING seq`, tenantID, string(docType), year).Scan(&seq)
	return seq, err
}

func (r *txRepository) LastFiscalHash(ctx context.Context, tenantID int64, series string) (string, error) {
	var hash string
	err := r.tx.QueryRow(ctx, `SELECT fiscal_hash FROM documents
WHERE tenant_id=$1 AND series_code=$2 AND fiscal_hash IS NOT NULL
ORDER BY sequence_number DESC, id DESC LIMIT 1`, tenantID, series).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

func (r *txRepository) LatestNegotiation(ctx context.Context, docID int64) ([]Line, error) {
	var payload []byte
	err := r.tx.QueryRow(ctx, `SELECT payload FROM journal_events
WHERE aggregate_type='document' AND aggregate_id=$1 AND event_type='document.negotiation_proposed'
ORDER BY version DESC LIMIT 1`, docID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Lines []struct {
			ItemID          *int64  `json:"item_id"`
			Description     string  `json:"description"`
			Quantity        float64 `json:"quantity"`
			UnitPrice       float64 `json:"unit_price"`
			DiscountPercent float64 `json:"discount_percent"`
			TaxPercent      float64 `json:"tax_percent"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, err
	}
	lines := make([]Line, 0, len(decoded.Lines))
	for _, l := range decoded.Lines {
		lines = append(lines, Line{
			ItemID:          l.ItemID,
			Description:     l.Description,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			DiscountPercent: l.DiscountPercent,
			TaxPercent:      l.TaxPercent,
		})
	}
	return lines, nil
}

func getDocument(ctx context.Context, dbtx db.DBTX, tenantID, id int64, forUpdate bool) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id=$1 AND ($2 = 0 OR tenant_id=$2)`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	row := dbtx.QueryRow(ctx, query, id, tenantID)
	var doc Document
	var docType, status, operation, method string
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.CounterpartyID, &docType, &status, &doc.SeriesCode, &doc.SequenceNumber,
		&doc.FullNumber, &doc.IssueDate, &doc.ValidUntil, &doc.DueDate, &doc.OriginID, &operation, &method,
		&doc.Subtotal, &doc.DiscountTotal, &doc.TaxTotal, &doc.GrandTotal, &doc.FiscalHash, &doc.QRPayload,
		&doc.CancelReason, &doc.CancelledBy, &doc.CancelledAt, &doc.CreatedBy, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &shared.NotFoundError{Entity: "document", ID: id}
		}
		return nil, err
	}
	doc.Type = Type(docType)
	doc.Status = Status(status)
	doc.Operation = Operation(operation)
	doc.PaymentMethod = PaymentMethod(method)

	rows, err := dbtx.Query(ctx, `SELECT id, document_id, item_id, description, quantity, unit_price, discount_percent, tax_percent, discount_amount, tax_amount, line_total, stock_moved, stock_moved_qty
FROM document_lines WHERE document_id=$1 ORDER BY id ASC`, doc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.ItemID, &line.Description, &line.Quantity, &line.UnitPrice,
			&line.DiscountPercent, &line.TaxPercent, &line.DiscountAmount, &line.TaxAmount, &line.LineTotal, &line.StockMoved, &line.StockMovedQty); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// PgTenantDirectory resolves tenant fiscal identity from the tenants table.
type PgTenantDirectory struct {
	dbtx db.DBTX
}

// NewTenantDirectory constructs PgTenantDirectory.
func NewTenantDirectory(dbtx db.DBTX) *PgTenantDirectory {
	return &PgTenantDirectory{dbtx: dbtx}
}

// NUIT returns the tenant's taxpayer number.
func (d *PgTenantDirectory) NUIT(ctx context.Context, tenantID int64) (string, error) {
	var nuit string
	err := d.dbtx.QueryRow(ctx, `SELECT nuit FROM tenants WHERE id=$1`, tenantID).Scan(&nuit)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &shared.NotFoundError{Entity: "tenant", ID: tenantID}
	}
	return nuit, err
}
