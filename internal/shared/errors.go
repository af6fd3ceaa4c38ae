package shared

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError indicates malformed command input. It is raised before
// any side effect runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// StateConflictError indicates a transition not allowed from the entity's
// current state. Never retried.
type StateConflictError struct {
	Entity    string
	ID        int64
	Current   string
	Attempted string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict: %s %d is %s, cannot %s", e.Entity, e.ID, e.Current, e.Attempted)
}

// NotFoundError indicates the id is unknown for the tenant.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// InsufficientStockError carries the per-item shortfall that aborted an
// emission. No partial movement survives it.
type InsufficientStockError struct {
	ItemID    int64
	Requested float64
	Available float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: requested %.3f, available %.3f", e.ItemID, e.Requested, e.Available)
}

// ExpiredError indicates a quote accepted past its validity date.
type ExpiredError struct {
	DocumentID int64
	ValidUntil time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("document %d expired on %s", e.DocumentID, e.ValidUntil.Format("2006-01-02"))
}

// ConcurrencyConflictError indicates a lock or version conflict on a hot
// row. Safe to retry the same command a bounded number of times.
type ConcurrencyConflictError struct {
	Entity string
	ID     int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent update on %s %d", e.Entity, e.ID)
}

// IsRetryable reports whether the command layer may transparently retry.
func IsRetryable(err error) bool {
	var conflict *ConcurrencyConflictError
	return errors.As(err, &conflict)
}
