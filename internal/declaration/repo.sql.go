package declaration

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/platform/db"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// PgStore persists declarations in PostgreSQL.
type PgStore struct {
	dbtx db.DBTX
}

// NewPgStore builds a store over the given query surface.
func NewPgStore(dbtx db.DBTX) *PgStore {
	return &PgStore{dbtx: dbtx}
}

const declColumns = `id, tenant_id, year, month,
sales_base_standard, sales_tax_standard, sales_base_reduced, sales_tax_reduced, sales_base_exempt,
purchases_base_standard, purchases_tax_standard, purchases_base_reduced, purchases_tax_reduced, purchases_base_exempt,
tax_due, tax_deductible, net_difference, prior_credit, tax_payable, credit_carry_forward,
status, COALESCE(confirmation_code, ''), submitted_at, created_at, updated_at`

// Journal returns an audit writer bound to the same query surface.
func (s *PgStore) Journal() JournalPort {
	return journal.NewWriter(s.dbtx)
}

func (s *PgStore) GetByPeriodForUpdate(ctx context.Context, tenantID int64, year, month int) (*Declaration, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+declColumns+` FROM tax_declarations WHERE tenant_id=$1 AND year=$2 AND month=$3 FOR UPDATE`, tenantID, year, month)
	return scanOptional(row)
}

func (s *PgStore) GetByPeriod(ctx context.Context, tenantID int64, year, month int) (*Declaration, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+declColumns+` FROM tax_declarations WHERE tenant_id=$1 AND year=$2 AND month=$3`, tenantID, year, month)
	return scanOptional(row)
}

func (s *PgStore) GetForUpdate(ctx context.Context, tenantID, id int64) (*Declaration, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+declColumns+` FROM tax_declarations WHERE id=$1 AND tenant_id=$2 FOR UPDATE`, id, tenantID)
	decl, err := scanOptional(row)
	if err != nil {
		return nil, err
	}
	if decl == nil {
		return nil, &shared.NotFoundError{Entity: "declaration", ID: id}
	}
	return decl, nil
}

func (s *PgStore) Upsert(ctx context.Context, decl *Declaration) error {
	return s.dbtx.QueryRow(ctx, `INSERT INTO tax_declarations
(tenant_id, year, month,
 sales_base_standard, sales_tax_standard, sales_base_reduced, sales_tax_reduced, sales_base_exempt,
 purchases_base_standard, purchases_tax_standard, purchases_base_reduced, purchases_tax_reduced, purchases_base_exempt,
 tax_due, tax_deductible, net_difference, prior_credit, tax_payable, credit_carry_forward,
 status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
ON CONFLICT (tenant_id, year, month) DO UPDATE SET
 sales_base_standard=EXCLUDED.sales_base_standard, sales_tax_standard=EXCLUDED.sales_tax_standard,
 sales_base_reduced=EXCLUDED.sales_base_reduced, sales_tax_reduced=EXCLUDED.sales_tax_reduced,
 sales_base_exempt=EXCLUDED.sales_base_exempt,
 purchases_base_standard=EXCLUDED.purchases_base_standard, purchases_tax_standard=EXCLUDED.purchases_tax_standard,
 purchases_base_reduced=EXCLUDED.purchases_base_reduced, purchases_tax_reduced=EXCLUDED.purchases_tax_reduced,
 purchases_base_exempt=EXCLUDED.purchases_base_exempt,
 tax_due=EXCLUDED.tax_due, tax_deductible=EXCLUDED.tax_deductible, net_difference=EXCLUDED.net_difference,
 prior_credit=EXCLUDED.prior_credit, tax_payable=EXCLUDED.tax_payable, credit_carry_forward=EXCLUDED.credit_carry_forward,
 status=EXCLUDED.status, updated_at=EXCLUDED.updated_at
RETURNING id`,
		decl.TenantID, decl.Year, decl.Month,
		decl.SalesBaseStandard, decl.SalesTaxStandard, decl.SalesBaseReduced, decl.SalesTaxReduced, decl.SalesBaseExempt,
		decl.PurchasesBaseStandard, decl.PurchasesTaxStandard, decl.PurchasesBaseReduced, decl.PurchasesTaxReduced, decl.PurchasesBaseExempt,
		decl.TaxDue, decl.TaxDeductible, decl.NetDifference, decl.PriorCredit, decl.TaxPayable, decl.CreditCarryForward,
		string(decl.Status), decl.CreatedAt, decl.UpdatedAt).Scan(&decl.ID)
}

func (s *PgStore) Update(ctx context.Context, decl *Declaration) error {
	tag, err := s.dbtx.Exec(ctx, `UPDATE tax_declarations
SET status=$2, confirmation_code=NULLIF($3, ''), submitted_at=$4, updated_at=$5
WHERE id=$1`, decl.ID, string(decl.Status), decl.ConfirmationCode, decl.SubmittedAt, decl.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Entity: "declaration", ID: decl.ID}
	}
	return nil
}

// AggregateLines sums document lines by tax rate and operation direction
// over settled, non-cancelled taxable documents in the period. Credit
// notes contribute negatively. Ordering makes regeneration deterministic.
func (s *PgStore) AggregateLines(ctx context.Context, tenantID int64, from, to time.Time) ([]BracketSum, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT d.operation, l.tax_percent,
SUM(CASE WHEN d.doc_type = 'CREDIT_NOTE' THEN -(l.quantity * l.unit_price - l.discount_amount) ELSE l.quantity * l.unit_price - l.discount_amount END) AS base,
SUM(CASE WHEN d.doc_type = 'CREDIT_NOTE' THEN -l.tax_amount ELSE l.tax_amount END) AS tax
FROM documents d
JOIN document_lines l ON l.document_id = d.id
WHERE d.tenant_id = $1
  AND d.doc_type IN ('INVOICE', 'CREDIT_NOTE', 'DEBIT_NOTE')
  AND d.status IN ('EMITTED', 'PAID')
  AND d.issue_date >= $2 AND d.issue_date < $3
GROUP BY d.operation, l.tax_percent
ORDER BY d.operation, l.tax_percent`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := []BracketSum{}
	for rows.Next() {
		var sum BracketSum
		if err := rows.Scan(&sum.Operation, &sum.TaxPercent, &sum.Base, &sum.Tax); err != nil {
			return nil, err
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

func scanOptional(row pgx.Row) (*Declaration, error) {
	var decl Declaration
	var status string
	err := row.Scan(&decl.ID, &decl.TenantID, &decl.Year, &decl.Month,
		&decl.SalesBaseStandard, &decl.SalesTaxStandard, &decl.SalesBaseReduced, &decl.SalesTaxReduced, &decl.SalesBaseExempt,
		&decl.PurchasesBaseStandard, &decl.PurchasesTaxStandard, &decl.PurchasesBaseReduced, &decl.PurchasesTaxReduced, &decl.PurchasesBaseExempt,
		&decl.TaxDue, &decl.TaxDeductible, &decl.NetDifference, &decl.PriorCredit, &decl.TaxPayable, &decl.CreditCarryForward,
		&status, &decl.ConfirmationCode, &decl.SubmittedAt, &decl.CreatedAt, &decl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	decl.Status = Status(status)
	return &decl, nil
}

// Repository bundles a pool-backed store with transaction control.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn with a transaction-scoped store.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgStore(tx))
	})
}
