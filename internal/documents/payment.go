package documents

import (
	"context"
	"fmt"

	"github.com/zambezi-erp/zambezi-erp/internal/escrow"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// PaymentMethod tags the settlement channel. Strategy dispatch switches
// on this tag; no reflection.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentMpesa  PaymentMethod = "MPESA"
	PaymentCard   PaymentMethod = "CARD"
	PaymentEscrow PaymentMethod = "ESCROW"
)

// PaymentStrategy is the capability set a settlement channel implements.
// Gateways are simulated; the real integrations live outside this engine.
type PaymentStrategy interface {
	Process(ctx context.Context, tx TxRepository, proforma *Document, reference string) error
	CheckStatus(ctx context.Context, reference string) (string, error)
	HandleEvent(ctx context.Context, payload map[string]any) error
}

func strategyFor(method PaymentMethod) (PaymentStrategy, error) {
	switch method {
	case PaymentCash:
		return cashStrategy{}, nil
	case PaymentMpesa:
		return mpesaStrategy{}, nil
	case PaymentCard:
		return cardStrategy{}, nil
	case PaymentEscrow:
		return escrowStrategy{}, nil
	default:
		return nil, &shared.ValidationError{Field: "method", Reason: fmt.Sprintf("unknown payment method %q", method)}
	}
}

type cashStrategy struct{}

func (cashStrategy) Process(ctx context.Context, tx TxRepository, proforma *Document, reference string) error {
	return nil
}

func (cashStrategy) CheckStatus(ctx context.Context, reference string) (string, error) {
	return "SETTLED", nil
}

func (cashStrategy) HandleEvent(ctx context.Context, payload map[string]any) error {
	return nil
}

type mpesaStrategy struct{}

func (mpesaStrategy) Process(ctx context.Context, tx TxRepository, proforma *Document, reference string) error {
	if reference == "" {
		return &shared.ValidationError{Field: "reference", Reason: "mpesa settlement requires a gateway reference"}
	}
	return nil
}

func (mpesaStrategy) CheckStatus(ctx context.Context, reference string) (string, error) {
	if reference == "" {
		return "", &shared.ValidationError{Field: "reference", Reason: "reference required"}
	}
	return "CONFIRMED", nil
}

func (mpesaStrategy) HandleEvent(ctx context.Context, payload map[string]any) error {
	return nil
}

type cardStrategy struct{}

func (cardStrategy) Process(ctx context.Context, tx TxRepository, proforma *Document, reference string) error {
	if reference == "" {
		return &shared.ValidationError{Field: "reference", Reason: "card settlement requires an authorisation reference"}
	}
	return nil
}

func (cardStrategy) CheckStatus(ctx context.Context, reference string) (string, error) {
	return "CONFIRMED", nil
}

func (cardStrategy) HandleEvent(ctx context.Context, payload map[string]any) error {
	return nil
}

// escrowStrategy settles only once the buyer's deposit is confirmed and
// held. Release to the seller happens later, on delivery confirmation or
// the auto-release sweep.
type escrowStrategy struct{}

func (escrowStrategy) Process(ctx context.Context, tx TxRepository, proforma *Document, reference string) error {
	held, err := tx.EscrowStore().GetByDocument(ctx, proforma.TenantID, proforma.ID)
	if err != nil {
		return err
	}
	if held.Status != escrow.StatusEmEscrow {
		return &shared.StateConflictError{Entity: "escrow", ID: held.ID, Current: string(held.Status), Attempted: "settle proforma"}
	}
	return nil
}

func (escrowStrategy) CheckStatus(ctx context.Context, reference string) (string, error) {
	return "HELD", nil
}

func (escrowStrategy) HandleEvent(ctx context.Context, payload map[string]any) error {
	return nil
}
