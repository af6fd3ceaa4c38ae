package escrow

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

// PgStore persists escrow rows in PostgreSQL.
type PgStore struct {
	dbtx db.DBTX
}

// NewPgStore builds a store over the given query surface.
func NewPgStore(dbtx db.DBTX) *PgStore {
	return &PgStore{dbtx: dbtx}
}

const txColumns = `id, tenant_id, counterparty_id, document_id, amount, status,
deposit_confirmed_at, released_at, refunded_at, disputed_at,
COALESCE(dispute_reason, ''), COALESCE(refund_reason, ''),
auto_released, sweep_processed, created_at, updated_at`

func (s *PgStore) Insert(ctx context.Context, tx Transaction) (int64, error) {
	var id int64
	err := s.dbtx.QueryRow(ctx, `INSERT INTO escrow_transactions (tenant_id, counterparty_id, document_id, amount, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6) RETURNING id`,
		tx.TenantID, tx.CounterpartyID, tx.DocumentID, tx.Amount, string(tx.Status), tx.CreatedAt).Scan(&id)
	return id, err
}

// GetForUpdate locks one escrow row. A zero tenantID skips the tenant
// filter; only the auto-release sweep uses that form.
func (s *PgStore) GetForUpdate(ctx context.Context, tenantID, id int64) (Transaction, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+txColumns+` FROM escrow_transactions WHERE id=$1 AND ($2 = 0 OR tenant_id=$2) FOR UPDATE`, id, tenantID)
	return scanTransaction(row, id)
}

func (s *PgStore) GetByDocument(ctx context.Context, tenantID, documentID int64) (Transaction, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+txColumns+` FROM escrow_transactions WHERE tenant_id=$1 AND document_id=$2`, tenantID, documentID)
	return scanTransaction(row, documentID)
}

func (s *PgStore) Update(ctx context.Context, tx Transaction) error {
	tag, err := s.dbtx.Exec(ctx, `UPDATE escrow_transactions
SET status=$2, deposit_confirmed_at=$3, released_at=$4, refunded_at=$5, disputed_at=$6,
    dispute_reason=NULLIF($7, ''), refund_reason=NULLIF($8, ''), auto_released=$9, sweep_processed=$10, updated_at=$11
WHERE id=$1`,
		tx.ID, string(tx.Status), tx.DepositConfirmedAt, tx.ReleasedAt, tx.RefundedAt, tx.DisputedAt,
		tx.DisputeReason, tx.RefundReason, tx.AutoReleased, tx.SweepProcessed, tx.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Entity: "escrow", ID: tx.ID}
	}
	return nil
}

func (s *PgStore) CreditSeller(ctx context.Context, tenantID int64, amount float64) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO seller_balances (tenant_id, settleable, updated_at)
VALUES ($1,$2,NOW())
ON CONFLICT (tenant_id) DO UPDATE SET settleable = seller_balances.settleable + EXCLUDED.settleable, updated_at=NOW()`,
		tenantID, amount)
	return err
}

// ListDueForRelease finds undisputed, unprocessed EM_ESCROW rows whose
// deposit cleared before cutoff. SKIP LOCKED keeps concurrent sweeps from
// contending on the same rows.
func (s *PgStore) ListDueForRelease(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.dbtx.Query(ctx, `SELECT id FROM escrow_transactions
WHERE status=$1 AND sweep_processed=FALSE AND disputed_at IS NULL AND deposit_confirmed_at <= $2
ORDER BY deposit_confirmed_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED`, string(StatusEmEscrow), cutoff, limit)
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

// Journal returns an audit writer bound to the same query surface.
func (s *PgStore) Journal() JournalPort {
	return journal.NewWriter(s.dbtx)
}

// SellerBalance reads the tenant's settleable balance.
func (s *PgStore) SellerBalance(ctx context.Context, tenantID int64) (float64, error) {
	var balance float64
	err := s.dbtx.QueryRow(ctx, `SELECT settleable FROM seller_balances WHERE tenant_id=$1`, tenantID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func scanTransaction(row pgx.Row, id int64) (Transaction, error) {
	var tx Transaction
	var status string
	err := row.Scan(&tx.ID, &tx.TenantID, &tx.CounterpartyID, &tx.DocumentID, &tx.Amount, &status,
		&tx.DepositConfirmedAt, &tx.ReleasedAt, &tx.RefundedAt, &tx.DisputedAt,
		&tx.DisputeReason, &tx.RefundReason, &tx.AutoReleased, &tx.SweepProcessed, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, &shared.NotFoundError{Entity: "escrow", ID: id}
		}
		return Transaction{}, err
	}
	tx.Status = Status(status)
	return tx, nil
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

// SellerBalance reads the tenant's settleable balance outside a transaction.
func (r *Repository) SellerBalance(ctx context.Context, tenantID int64) (float64, error) {
	return NewPgStore(r.pool).SellerBalance(ctx, tenantID)
}
