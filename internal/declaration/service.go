package declaration

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// Store persists declarations and serves the period aggregation query.
// Journal returns a writer on the ambient transaction, so audit entries
// commit or roll back with the transition that produced them.
type Store interface {
	GetByPeriodForUpdate(ctx context.Context, tenantID int64, year, month int) (*Declaration, error)
	GetByPeriod(ctx context.Context, tenantID int64, year, month int) (*Declaration, error)
	GetForUpdate(ctx context.Context, tenantID, id int64) (*Declaration, error)
	Upsert(ctx context.Context, decl *Declaration) error
	Update(ctx context.Context, decl *Declaration) error
	AggregateLines(ctx context.Context, tenantID int64, from, to time.Time) ([]BracketSum, error)
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

// Locker serialises regeneration per tenant and period across processes.
// Generation is already safe under the database transaction; the lock
// only avoids wasted duplicate work.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service builds and submits periodic IVA returns.
type Service struct {
	repo   RepositoryPort
	locker Locker
	clock  shared.Clock
}

// NewService builds Service.
func NewService(repo RepositoryPort, locker Locker, clock shared.Clock) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Service{repo: repo, locker: locker, clock: clock}
}

// Get returns the declaration for a period, generating it lazily on first
// request.
func (s *Service) Get(ctx context.Context, tenantID int64, year, month int) (*Declaration, error) {
	if !shared.ValidPeriod(year, month) {
		return nil, &shared.ValidationError{Field: "period", Reason: fmt.Sprintf("invalid period %d-%02d", year, month)}
	}
	var existing *Declaration
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		decl, err := store.GetByPeriod(ctx, tenantID, year, month)
		if err != nil {
			return err
		}
		existing = decl
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.Generate(ctx, tenantID, year, month, 0)
}

// Generate computes the declaration from settled source documents.
// Regenerating a DRAFT period is a deterministic, idempotent overwrite;
// regenerating a frozen period fails.
func (s *Service) Generate(ctx context.Context, tenantID int64, year, month int, actorID int64) (*Declaration, error) {
	if !shared.ValidPeriod(year, month) {
		return nil, &shared.ValidationError{Field: "period", Reason: fmt.Sprintf("invalid period %d-%02d", year, month)}
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.DeclarationLockKey(tenantID, year, month))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var result *Declaration
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		existing, err := store.GetByPeriodForUpdate(ctx, tenantID, year, month)
		if err != nil {
			return err
		}
		if existing != nil && existing.Frozen() {
			return &shared.StateConflictError{Entity: "declaration", ID: existing.ID, Current: string(existing.Status), Attempted: "regenerate"}
		}

		from, to := shared.PeriodBounds(year, month)
		sums, err := store.AggregateLines(ctx, tenantID, from, to)
		if err != nil {
			return err
		}

		decl := &Declaration{TenantID: tenantID, Year: year, Month: month, Status: StatusDraft}
		if existing != nil {
			decl.ID = existing.ID
			decl.CreatedAt = existing.CreatedAt
		} else {
			decl.CreatedAt = s.clock.Now()
		}
		accumulate(decl, sums)

		priorYear, priorMonth := shared.PriorPeriod(year, month)
		prior, err := store.GetByPeriod(ctx, tenantID, priorYear, priorMonth)
		if err != nil {
			return err
		}
		if prior != nil {
			decl.PriorCredit = prior.CreditCarryForward
		}

		net, payable, credit := Settlement(decl.TaxDue, decl.TaxDeductible, decl.PriorCredit)
		decl.NetDifference = round2(net)
		decl.TaxPayable = round2(payable)
		decl.CreditCarryForward = round2(credit)
		decl.UpdatedAt = s.clock.Now()

		if err := store.Upsert(ctx, decl); err != nil {
			return err
		}
		if err := s.journalEvent(ctx, store, decl, actorID, "declaration.generated"); err != nil {
			return err
		}
		result = decl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Validate moves a DRAFT declaration to VALIDATED.
func (s *Service) Validate(ctx context.Context, tenantID, id, actorID int64) (*Declaration, error) {
	return s.transition(ctx, tenantID, id, actorID, "declaration.validated", func(decl *Declaration) error {
		if decl.Status != StatusDraft {
			return &shared.StateConflictError{Entity: "declaration", ID: decl.ID, Current: string(decl.Status), Attempted: "validate"}
		}
		decl.Status = StatusValidated
		return nil
	})
}

// Submit freezes the declaration and assigns the authority confirmation
// code. The real submission channel is simulated.
func (s *Service) Submit(ctx context.Context, tenantID, id, actorID int64) (*Declaration, error) {
	return s.transition(ctx, tenantID, id, actorID, "declaration.submitted", func(decl *Declaration) error {
		if decl.Status != StatusDraft && decl.Status != StatusValidated {
			return &shared.StateConflictError{Entity: "declaration", ID: decl.ID, Current: string(decl.Status), Attempted: "submit"}
		}
		now := s.clock.Now()
		decl.Status = StatusSubmitted
		decl.SubmittedAt = &now
		decl.ConfirmationCode = confirmationCode(decl)
		return nil
	})
}

// MarkAccepted records the authority's acceptance callback.
func (s *Service) MarkAccepted(ctx context.Context, tenantID, id, actorID int64) (*Declaration, error) {
	return s.transition(ctx, tenantID, id, actorID, "declaration.accepted", func(decl *Declaration) error {
		if decl.Status != StatusSubmitted {
			return &shared.StateConflictError{Entity: "declaration", ID: decl.ID, Current: string(decl.Status), Attempted: "accept"}
		}
		decl.Status = StatusAccepted
		return nil
	})
}

func (s *Service) transition(ctx context.Context, tenantID, id, actorID int64, eventType string, apply func(*Declaration) error) (*Declaration, error) {
	var result *Declaration
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		decl, err := store.GetForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := apply(decl); err != nil {
			return err
		}
		decl.UpdatedAt = s.clock.Now()
		if err := store.Update(ctx, decl); err != nil {
			return err
		}
		if err := s.journalEvent(ctx, store, decl, actorID, eventType); err != nil {
			return err
		}
		result = decl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) journalEvent(ctx context.Context, store Store, decl *Declaration, actorID int64, eventType string) error {
	return store.Journal().Append(ctx, journal.Event{
		AggregateType: "declaration",
		AggregateID:   decl.ID,
		EventType:     eventType,
		TenantID:      decl.TenantID,
		ActorID:       actorID,
		Payload: map[string]any{
			"period":  fmt.Sprintf("%d-%02d", decl.Year, decl.Month),
			"status":  string(decl.Status),
			"payable": decl.TaxPayable,
			"credit":  decl.CreditCarryForward,
		},
	})
}

// accumulate folds bracket sums into the named accumulators. Rounding
// happens here, once per accumulator, after full-precision summation.
func accumulate(decl *Declaration, sums []BracketSum) {
	var salesTax, purchasesTax float64
	for _, sum := range sums {
		sales := sum.Operation != "PURCHASE"
		switch bracket(sum.TaxPercent) {
		case RateStandard:
			if sales {
				decl.SalesBaseStandard += sum.Base
				decl.SalesTaxStandard += sum.Tax
			} else {
				decl.PurchasesBaseStandard += sum.Base
				decl.PurchasesTaxStandard += sum.Tax
			}
		case RateReduced:
			if sales {
				decl.SalesBaseReduced += sum.Base
				decl.SalesTaxReduced += sum.Tax
			} else {
				decl.PurchasesBaseReduced += sum.Base
				decl.PurchasesTaxReduced += sum.Tax
			}
		default:
			if sales {
				decl.SalesBaseExempt += sum.Base
			} else {
				decl.PurchasesBaseExempt += sum.Base
			}
		}
		if sales {
			salesTax += sum.Tax
		} else {
			purchasesTax += sum.Tax
		}
	}
	decl.SalesBaseStandard = round2(decl.SalesBaseStandard)
	decl.SalesTaxStandard = round2(decl.SalesTaxStandard)
	decl.SalesBaseReduced = round2(decl.SalesBaseReduced)
	decl.SalesTaxReduced = round2(decl.SalesTaxReduced)
	decl.SalesBaseExempt = round2(decl.SalesBaseExempt)
	decl.PurchasesBaseStandard = round2(decl.PurchasesBaseStandard)
	decl.PurchasesTaxStandard = round2(decl.PurchasesTaxStandard)
	decl.PurchasesBaseReduced = round2(decl.PurchasesBaseReduced)
	decl.PurchasesTaxReduced = round2(decl.PurchasesTaxReduced)
	decl.PurchasesBaseExempt = round2(decl.PurchasesBaseExempt)
	decl.TaxDue = round2(salesTax)
	decl.TaxDeductible = round2(purchasesTax)
}

// bracket classifies a line rate into a Modelo A bracket. Nonstandard
// rates fold into the standard quadro.
func bracket(rate float64) float64 {
	switch {
	case rate == 0:
		return 0
	case rate <= RateReduced:
		return RateReduced
	default:
		return RateStandard
	}
}

func confirmationCode(decl *Declaration) string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return fmt.Sprintf("MZ-AT-%d%02d-%s", decl.Year, decl.Month, token)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
