package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// Store persists escrow rows and the seller settleable balance. All
// mutating calls run on an ambient transaction; Journal returns a writer
// on the same transaction, so the audit entry commits or rolls back with
// the transition that produced it.
type Store interface {
	Insert(ctx context.Context, tx Transaction) (int64, error)
	GetForUpdate(ctx context.Context, tenantID, id int64) (Transaction, error)
	GetByDocument(ctx context.Context, tenantID, documentID int64) (Transaction, error)
	Update(ctx context.Context, tx Transaction) error
	CreditSeller(ctx context.Context, tenantID int64, amount float64) error
	ListDueForRelease(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	Journal() JournalPort
}

// RepositoryPort abstracts transaction control over a Store.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// JournalPort abstracts the audit journal.
type JournalPort interface {
	Append(ctx context.Context, evt journal.Event) error
}

// Service drives the held-funds state machine.
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

// Open creates a PENDENTE escrow for a proforma. Called by the document
// engine inside its own transaction, so it operates on the supplied store.
func Open(ctx context.Context, store Store, clock shared.Clock, tenantID, counterpartyID, documentID int64, amount float64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, &shared.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	tx := Transaction{
		TenantID:       tenantID,
		CounterpartyID: counterpartyID,
		DocumentID:     documentID,
		Amount:         amount,
		Status:         StatusPendente,
		CreatedAt:      clock.Now(),
	}
	id, err := store.Insert(ctx, tx)
	if err != nil {
		return Transaction{}, err
	}
	tx.ID = id
	return tx, nil
}

// ConfirmDeposit moves PENDENTE to EM_ESCROW.
func (s *Service) ConfirmDeposit(ctx context.Context, tenantID, id, actorID int64) (Transaction, error) {
	return s.transition(ctx, tenantID, id, actorID, "escrow.deposit_confirmed", func(tx *Transaction) error {
		if tx.Status != StatusPendente {
			return &shared.StateConflictError{Entity: "escrow", ID: tx.ID, Current: string(tx.Status), Attempted: "confirm deposit"}
		}
		now := s.clock.Now()
		tx.Status = StatusEmEscrow
		tx.DepositConfirmedAt = &now
		return nil
	})
}

// Release moves EM_ESCROW or EM_DISPUTA to LIBERADO and credits the
// seller's settleable balance exactly once, in the same transaction.
func (s *Service) Release(ctx context.Context, tenantID, id, actorID int64) (Transaction, error) {
	return s.release(ctx, tenantID, id, actorID, false)
}

// Refund moves EM_ESCROW or EM_DISPUTA to REEMBOLSADO, recording a reason.
func (s *Service) Refund(ctx context.Context, tenantID, id, actorID int64, reason string) (Transaction, error) {
	return s.transition(ctx, tenantID, id, actorID, "escrow.refunded", func(tx *Transaction) error {
		if tx.Status != StatusEmEscrow && tx.Status != StatusEmDisputa {
			return &shared.StateConflictError{Entity: "escrow", ID: tx.ID, Current: string(tx.Status), Attempted: "refund"}
		}
		now := s.clock.Now()
		tx.Status = StatusReembolsado
		tx.RefundedAt = &now
		tx.RefundReason = reason
		tx.SweepProcessed = true
		return nil
	})
}

// OpenDispute moves EM_ESCROW to EM_DISPUTA, blocking auto-release.
func (s *Service) OpenDispute(ctx context.Context, tenantID, id, actorID int64, reason string) (Transaction, error) {
	return s.transition(ctx, tenantID, id, actorID, "escrow.disputed", func(tx *Transaction) error {
		if tx.Status != StatusEmEscrow {
			return &shared.StateConflictError{Entity: "escrow", ID: tx.ID, Current: string(tx.Status), Attempted: "open dispute"}
		}
		now := s.clock.Now()
		tx.Status = StatusEmDisputa
		tx.DisputedAt = &now
		tx.DisputeReason = reason
		return nil
	})
}

// ResolveDispute settles EM_DISPUTA into LIBERADO or REEMBOLSADO.
func (s *Service) ResolveDispute(ctx context.Context, tenantID, id, actorID int64, releaseToSeller bool, reason string) (Transaction, error) {
	if releaseToSeller {
		return s.release(ctx, tenantID, id, actorID, false)
	}
	return s.Refund(ctx, tenantID, id, actorID, reason)
}

// SweepAutoRelease releases every undisputed EM_ESCROW transaction whose
// deposit was confirmed more than AutoReleaseWindow ago. Each row is
// released in its own transaction with its processed flag set in the same
// unit, so a crashed or re-run sweep never double-releases.
func (s *Service) SweepAutoRelease(ctx context.Context, limit int) (int, error) {
	cutoff := s.clock.Now().Add(-AutoReleaseWindow)
	var due []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		ids, err := store.ListDueForRelease(ctx, cutoff, limit)
		if err != nil {
			return err
		}
		due = ids
		return nil
	})
	if err != nil {
		return 0, err
	}

	released := 0
	for _, id := range due {
		if _, err := s.release(ctx, 0, id, 0, true); err != nil {
			var conflict *shared.StateConflictError
			if errors.As(err, &conflict) {
				continue // released or disputed since listing
			}
			return released, err
		}
		released++
	}
	return released, nil
}

func (s *Service) release(ctx context.Context, tenantID, id, actorID int64, auto bool) (Transaction, error) {
	eventType := "escrow.released"
	if auto {
		eventType = "escrow.auto_released"
	}
	return s.transition(ctx, tenantID, id, actorID, eventType, func(tx *Transaction) error {
		if tx.Status != StatusEmEscrow && tx.Status != StatusEmDisputa {
			return &shared.StateConflictError{Entity: "escrow", ID: tx.ID, Current: string(tx.Status), Attempted: "release"}
		}
		if auto && (tx.Status == StatusEmDisputa || tx.SweepProcessed) {
			return &shared.StateConflictError{Entity: "escrow", ID: tx.ID, Current: string(tx.Status), Attempted: "auto release"}
		}
		now := s.clock.Now()
		tx.Status = StatusLiberado
		tx.ReleasedAt = &now
		tx.AutoReleased = auto
		tx.SweepProcessed = true
		tx.creditSeller = true
		return nil
	})
}

func (s *Service) transition(ctx context.Context, tenantID, id, actorID int64, eventType string, apply func(*Transaction) error) (Transaction, error) {
	var result Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		tx, err := store.GetForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := apply(&tx); err != nil {
			return err
		}
		tx.UpdatedAt = s.clock.Now()
		if err := store.Update(ctx, tx); err != nil {
			return err
		}
		if tx.creditSeller {
			if err := store.CreditSeller(ctx, tx.TenantID, tx.Amount); err != nil {
				return err
			}
		}
		if err := store.Journal().Append(ctx, journal.Event{
			AggregateType: "escrow",
			AggregateID:   tx.ID,
			EventType:     eventType,
			TenantID:      tx.TenantID,
			ActorID:       actorID,
			Payload: map[string]any{
				"status":   string(tx.Status),
				"amount":   tx.Amount,
				"document": tx.DocumentID,
			},
		}); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return result, nil
}
