package declaration

import "time"

// Status tracks the submission lifecycle of a periodic IVA return.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusValidated Status = "VALIDATED"
	StatusSubmitted Status = "SUBMITTED"
	StatusAccepted  Status = "ACCEPTED"
)

// IVA rate brackets of the Modelo A return.
const (
	RateStandard = 16.0
	RateReduced  = 5.0
)

// Declaration is one (tenant, year, month) IVA return. Accumulators are
// recomputed from source documents while DRAFT and frozen on submission.
type Declaration struct {
	ID       int64
	TenantID int64
	Year     int
	Month    int

	SalesBaseStandard float64
	SalesTaxStandard  float64
	SalesBaseReduced  float64
	SalesTaxReduced   float64
	SalesBaseExempt   float64

	PurchasesBaseStandard float64
	PurchasesTaxStandard  float64
	PurchasesBaseReduced  float64
	PurchasesTaxReduced   float64
	PurchasesBaseExempt   float64

	TaxDue             float64
	TaxDeductible      float64
	NetDifference      float64
	PriorCredit        float64
	TaxPayable         float64
	CreditCarryForward float64

	Status           Status
	ConfirmationCode string
	SubmittedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Frozen reports whether the declaration may no longer be recomputed.
func (d *Declaration) Frozen() bool {
	return d.Status == StatusSubmitted || d.Status == StatusAccepted
}

// Settlement applies the carryover invariant:
//
//	net = due − deductible
//	net > 0: payable = max(0, net − priorCredit), credit = max(0, priorCredit − net)
//	net ≤ 0: payable = 0, credit = |net| + priorCredit
func Settlement(taxDue, taxDeductible, priorCredit float64) (net, payable, credit float64) {
	net = taxDue - taxDeductible
	if net > 0 {
		payable = net - priorCredit
		if payable < 0 {
			payable = 0
		}
		credit = priorCredit - net
		if credit < 0 {
			credit = 0
		}
		return net, payable, credit
	}
	return net, 0, -net + priorCredit
}

// BracketSum is one aggregation row: tax sums for a rate bracket and
// operation direction within the period.
type BracketSum struct {
	Operation  string
	TaxPercent float64
	Base       float64
	Tax        float64
}
