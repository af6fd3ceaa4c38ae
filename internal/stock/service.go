package stock

import (
	"context"
	"time"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	ListMovements(ctx context.Context, tenantID, itemID int64, from, to time.Time, limit int) ([]Movement, error)
}

// JournalPort abstracts the audit journal.
type JournalPort interface {
	Append(ctx context.Context, evt journal.Event) error
}

// Service handles standalone stock commands: goods receipt, returns,
// adjustments and physical counts. Outbound movements tied to invoice
// emission go through the document engine instead.
type Service struct {
	repo  RepositoryPort
	clock shared.Clock
}

// NewService builds Service.
func NewService(repo RepositoryPort, clock shared.Clock) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Service{repo: repo, clock: clock}
}

// PostInbound records a goods receipt.
func (s *Service) PostInbound(ctx context.Context, input Input) (Movement, error) {
	input.Kind = MovementIn
	return s.post(ctx, input)
}

// PostReturn records goods returned by a counterparty.
func (s *Service) PostReturn(ctx context.Context, input Input) (Movement, error) {
	input.Kind = MovementReturn
	return s.post(ctx, input)
}

// PostAdjustment records a signed manual correction.
func (s *Service) PostAdjustment(ctx context.Context, input Input) (Movement, error) {
	input.Kind = MovementAdjust
	return s.post(ctx, input)
}

// PostCount records a physical count delta.
func (s *Service) PostCount(ctx context.Context, input Input) (Movement, error) {
	input.Kind = MovementCount
	return s.post(ctx, input)
}

// Movements lists the ledger for one item.
func (s *Service) Movements(ctx context.Context, tenantID, itemID int64, from, to time.Time, limit int) ([]Movement, error) {
	return s.repo.ListMovements(ctx, tenantID, itemID, from, to, limit)
}

func (s *Service) post(ctx context.Context, input Input) (Movement, error) {
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		ledger := NewTxLedger(store, s.clock)
		posted, err := ledger.Post(ctx, input)
		if err != nil {
			return err
		}
		movement = posted
		return store.Journal().Append(ctx, journal.Event{
			AggregateType: "stock_item",
			AggregateID:   input.ItemID,
			EventType:     "stock." + string(input.Kind),
			TenantID:      input.TenantID,
			ActorID:       input.ActorID,
			Payload: map[string]any{
				"qty":           input.Qty,
				"balance_after": posted.BalanceAfter,
				"note":          input.Note,
			},
		})
	})
	if err != nil {
		return Movement{}, err
	}
	return movement, nil
}
