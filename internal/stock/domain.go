package stock

import (
	"errors"
	"time"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementIn represents an inbound movement (purchase receipt).
	MovementIn MovementKind = "IN"
	// MovementOut represents an outbound movement driven by invoice emission.
	MovementOut MovementKind = "OUT"
	// MovementAdjust indicates a manual adjustment.
	MovementAdjust MovementKind = "ADJUST"
	// MovementReturn records goods returned by a counterparty.
	MovementReturn MovementKind = "RETURN"
	// MovementCount records a physical count correction.
	MovementCount MovementKind = "COUNT"
)

// Movement is an immutable ledger entry. Rows are only ever inserted.
type Movement struct {
	ID            int64
	TenantID      int64
	ItemID        int64
	DocumentID    int64
	LineID        int64
	Kind          MovementKind
	Qty           float64
	BalanceBefore float64
	BalanceAfter  float64
	UnitCost      float64
	AvgCost       float64
	Note          string
	PostedAt      time.Time
	CreatedBy     int64
}

// Balance summarises on-hand stock per tenant and item.
type Balance struct {
	TenantID  int64
	ItemID    int64
	Qty       float64
	AvgCost   float64
	UpdatedAt time.Time
}

// Input describes a movement to post.
type Input struct {
	TenantID   int64
	ItemID     int64
	DocumentID int64
	LineID     int64
	Kind       MovementKind
	Qty        float64
	UnitCost   float64
	Note       string
	ActorID    int64
}

// ErrInvalidQuantity indicates a zero or wrong-signed quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")

// ErrInvalidUnitCost indicates a negative cost value.
var ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("stock: balance not found")
