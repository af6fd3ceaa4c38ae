package escrow

import "time"

// Status enumerates the escrow sub-state machine. Names follow the
// Portuguese terms used on the payment side of the business.
type Status string

const (
	// StatusPendente awaits the buyer's deposit.
	StatusPendente Status = "PENDENTE"
	// StatusEmEscrow holds confirmed funds pending delivery.
	StatusEmEscrow Status = "EM_ESCROW"
	// StatusLiberado is terminal: funds credited to the seller.
	StatusLiberado Status = "LIBERADO"
	// StatusEmDisputa awaits manual resolution.
	StatusEmDisputa Status = "EM_DISPUTA"
	// StatusReembolsado is terminal: funds returned to the buyer.
	StatusReembolsado Status = "REEMBOLSADO"
)

// AutoReleaseWindow is the delay after deposit confirmation before the
// sweep releases undisputed funds.
const AutoReleaseWindow = 48 * time.Hour

// Transaction is one held-funds record, created once per proforma that
// opts into escrow payment.
type Transaction struct {
	ID                 int64
	TenantID           int64
	CounterpartyID     int64
	DocumentID         int64
	Amount             float64
	Status             Status
	DepositConfirmedAt *time.Time
	ReleasedAt         *time.Time
	RefundedAt         *time.Time
	DisputedAt         *time.Time
	DisputeReason      string
	RefundReason       string
	AutoReleased       bool
	SweepProcessed     bool
	CreatedAt          time.Time
	UpdatedAt          time.Time

	creditSeller bool
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusLiberado || s == StatusReembolsado
}
