package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/platform/db"
)

// PgStore persists stock data in PostgreSQL. It works over a pool or an
// open transaction, so the document engine can post movements inside its
// own unit of work.
type PgStore struct {
	dbtx db.DBTX
}

// NewPgStore builds a store over the given query surface.
func NewPgStore(dbtx db.DBTX) *PgStore {
	return &PgStore{dbtx: dbtx}
}

// Journal returns an audit writer bound to the same query surface.
func (s *PgStore) Journal() JournalPort {
	return journal.NewWriter(s.dbtx)
}

func (s *PgStore) GetBalanceForUpdate(ctx context.Context, tenantID, itemID int64) (Balance, error) {
	var bal Balance
	err := s.dbtx.QueryRow(ctx, `SELECT tenant_id, item_id, qty, avg_cost, updated_at FROM stock_balances WHERE tenant_id=$1 AND item_id=$2 FOR UPDATE`, tenantID, itemID).
		Scan(&bal.TenantID, &bal.ItemID, &bal.Qty, &bal.AvgCost, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{TenantID: tenantID, ItemID: itemID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (s *PgStore) GetBalance(ctx context.Context, tenantID, itemID int64) (Balance, error) {
	var bal Balance
	err := s.dbtx.QueryRow(ctx, `SELECT tenant_id, item_id, qty, avg_cost, updated_at FROM stock_balances WHERE tenant_id=$1 AND item_id=$2`, tenantID, itemID).
		Scan(&bal.TenantID, &bal.ItemID, &bal.Qty, &bal.AvgCost, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{TenantID: tenantID, ItemID: itemID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (s *PgStore) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO stock_balances (tenant_id, item_id, qty, avg_cost, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (tenant_id, item_id) DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, updated_at=NOW()`,
		balance.TenantID, balance.ItemID, balance.Qty, balance.AvgCost)
	return err
}

func (s *PgStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := s.dbtx.QueryRow(ctx, `INSERT INTO stock_movements (tenant_id, item_id, document_id, line_id, kind, qty, balance_before, balance_after, unit_cost, avg_cost, note, posted_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		m.TenantID, m.ItemID, nullInt(m.DocumentID), nullInt(m.LineID), string(m.Kind), m.Qty, m.BalanceBefore, m.BalanceAfter, m.UnitCost, m.AvgCost, m.Note, m.PostedAt, nullInt(m.CreatedBy)).Scan(&id)
	return id, err
}

// ListMovements returns the movement ledger for an item, oldest first.
func (s *PgStore) ListMovements(ctx context.Context, tenantID, itemID int64, from, to time.Time, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.dbtx.Query(ctx, `SELECT id, tenant_id, item_id, COALESCE(document_id, 0), COALESCE(line_id, 0), kind, qty, balance_before, balance_after, unit_cost, avg_cost, note, posted_at, COALESCE(created_by, 0)
FROM stock_movements
WHERE tenant_id=$1 AND item_id=$2 AND posted_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $5`, tenantID, itemID, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ItemID, &m.DocumentID, &m.LineID, &m.Kind, &m.Qty, &m.BalanceBefore, &m.BalanceAfter, &m.UnitCost, &m.AvgCost, &m.Note, &m.PostedAt, &m.CreatedBy); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// Repository bundles a pool-backed store with transaction control for
// standalone stock commands.
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

// ListMovements reads the ledger outside any transaction.
func (r *Repository) ListMovements(ctx context.Context, tenantID, itemID int64, from, to time.Time, limit int) ([]Movement, error) {
	return NewPgStore(r.pool).ListMovements(ctx, tenantID, itemID, from, to, limit)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
