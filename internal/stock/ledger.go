package stock

import (
	"context"
	"math"

	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// Ledger posts movements. Implementations run on an ambient transaction so
// the sufficiency check and the decrement cannot be separated by a race
// window, and so a failed emission leaves no movement behind.
type Ledger interface {
	Post(ctx context.Context, input Input) (Movement, error)
	BalanceOf(ctx context.Context, tenantID, itemID int64) (Balance, error)
}

// Store persists balances and movement rows for a ledger. Journal
// returns a writer on the same ambient transaction, so audit entries
// commit or roll back with the movement that produced them.
type Store interface {
	GetBalanceForUpdate(ctx context.Context, tenantID, itemID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	GetBalance(ctx context.Context, tenantID, itemID int64) (Balance, error)
	Journal() JournalPort
}

// TxLedger applies movements against a Store. The caller owns transaction
// boundaries.
type TxLedger struct {
	store Store
	clock shared.Clock
}

// NewTxLedger builds a ledger over the given store.
func NewTxLedger(store Store, clock shared.Clock) *TxLedger {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &TxLedger{store: store, clock: clock}
}

// Post validates and records one movement, updating the balance row under
// lock. A movement that would drive stock negative fails with
// InsufficientStockError and writes nothing.
//
// OUT/IN/RETURN carry a positive quantity; the kind decides the direction.
// ADJUST and COUNT carry a signed quantity.
func (l *TxLedger) Post(ctx context.Context, input Input) (Movement, error) {
	if input.TenantID == 0 || input.ItemID == 0 {
		return Movement{}, &shared.ValidationError{Field: "item", Reason: "tenant and item required"}
	}
	change, err := signedChange(input.Kind, input.Qty)
	if err != nil {
		return Movement{}, err
	}
	if input.UnitCost < 0 {
		return Movement{}, ErrInvalidUnitCost
	}

	balance, err := l.store.GetBalanceForUpdate(ctx, input.TenantID, input.ItemID)
	if err != nil && err != ErrBalanceNotFound {
		return Movement{}, err
	}
	if err == ErrBalanceNotFound {
		balance = Balance{TenantID: input.TenantID, ItemID: input.ItemID}
	}

	newQty := balance.Qty + change
	if change < 0 && newQty < -0.0001 {
		return Movement{}, &shared.InsufficientStockError{
			ItemID:    input.ItemID,
			Requested: -change,
			Available: balance.Qty,
		}
	}
	if math.Abs(newQty) < 0.0001 {
		newQty = 0
	}

	unitCost := input.UnitCost
	newAvg := balance.AvgCost
	if change > 0 {
		totalCost := balance.Qty*balance.AvgCost + change*unitCost
		if newQty != 0 {
			newAvg = totalCost / newQty
		}
	} else {
		unitCost = balance.AvgCost
		if newQty == 0 {
			newAvg = 0
		}
	}

	movement := Movement{
		TenantID:      input.TenantID,
		ItemID:        input.ItemID,
		DocumentID:    input.DocumentID,
		LineID:        input.LineID,
		Kind:          input.Kind,
		Qty:           input.Qty,
		BalanceBefore: balance.Qty,
		BalanceAfter:  newQty,
		UnitCost:      unitCost,
		AvgCost:       newAvg,
		Note:          input.Note,
		PostedAt:      l.clock.Now(),
		CreatedBy:     input.ActorID,
	}
	id, err := l.store.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = id

	balance.Qty = newQty
	balance.AvgCost = newAvg
	if err := l.store.UpsertBalance(ctx, balance); err != nil {
		return Movement{}, err
	}
	return movement, nil
}

// BalanceOf reads the current balance without locking.
func (l *TxLedger) BalanceOf(ctx context.Context, tenantID, itemID int64) (Balance, error) {
	return l.store.GetBalance(ctx, tenantID, itemID)
}

func signedChange(kind MovementKind, qty float64) (float64, error) {
	switch kind {
	case MovementOut:
		if qty <= 0 {
			return 0, ErrInvalidQuantity
		}
		return -qty, nil
	case MovementIn, MovementReturn:
		if qty <= 0 {
			return 0, ErrInvalidQuantity
		}
		return qty, nil
	case MovementAdjust, MovementCount:
		if qty == 0 {
			return 0, ErrInvalidQuantity
		}
		return qty, nil
	default:
		return 0, ErrInvalidQuantity
	}
}
