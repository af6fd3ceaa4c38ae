package declaration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

type memoryStore struct {
	declarations map[string]*Declaration
	sums         map[string][]BracketSum
	nextID       int64
	jrnl         *memoryJournal
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		declarations: make(map[string]*Declaration),
		sums:         make(map[string][]BracketSum),
		jrnl:         &memoryJournal{},
	}
}

func periodKey(tenantID int64, year, month int) string {
	return fmt.Sprintf("%d:%d-%02d", tenantID, year, month)
}

func (s *memoryStore) setSums(tenantID int64, year, month int, sums []BracketSum) {
	s.sums[periodKey(tenantID, year, month)] = sums
}

func (s *memoryStore) GetByPeriodForUpdate(ctx context.Context, tenantID int64, year, month int) (*Declaration, error) {
	return s.GetByPeriod(ctx, tenantID, year, month)
}

func (s *memoryStore) GetByPeriod(ctx context.Context, tenantID int64, year, month int) (*Declaration, error) {
	if decl, ok := s.declarations[periodKey(tenantID, year, month)]; ok {
		copied := *decl
		return &copied, nil
	}
	return nil, nil
}

func (s *memoryStore) GetForUpdate(ctx context.Context, tenantID, id int64) (*Declaration, error) {
	for _, decl := range s.declarations {
		if decl.ID == id && decl.TenantID == tenantID {
			copied := *decl
			return &copied, nil
		}
	}
	return nil, &shared.NotFoundError{Entity: "declaration", ID: id}
}

func (s *memoryStore) Upsert(ctx context.Context, decl *Declaration) error {
	if decl.ID == 0 {
		s.nextID++
		decl.ID = s.nextID
	}
	copied := *decl
	s.declarations[periodKey(decl.TenantID, decl.Year, decl.Month)] = &copied
	return nil
}

func (s *memoryStore) Update(ctx context.Context, decl *Declaration) error {
	return s.Upsert(ctx, decl)
}

func (s *memoryStore) AggregateLines(ctx context.Context, tenantID int64, from, to time.Time) ([]BracketSum, error) {
	return s.sums[periodKey(tenantID, from.Year(), int(from.Month()))], nil
}

func (s *memoryStore) Journal() JournalPort {
	return s.jrnl
}

type memoryRepo struct {
	store *memoryStore
}

// WithTx snapshots the store and restores it when fn fails, matching the
// all-or-nothing contract of the real transaction.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	declarations := make(map[string]*Declaration, len(r.store.declarations))
	for key, decl := range r.store.declarations {
		copied := *decl
		declarations[key] = &copied
	}
	nextID := r.store.nextID
	appended := len(r.store.jrnl.events)

	if err := fn(ctx, r.store); err != nil {
		r.store.declarations = declarations
		r.store.nextID = nextID
		r.store.jrnl.events = r.store.jrnl.events[:appended]
		return err
	}
	return nil
}

type memoryJournal struct {
	events   []journal.Event
	failWith error
}

func (j *memoryJournal) Append(ctx context.Context, evt journal.Event) error {
	if j.failWith != nil {
		return j.failWith
	}
	j.events = append(j.events, evt)
	return nil
}

func setup() (*Service, *memoryStore, *memoryJournal) {
	store := newMemoryStore()
	clock := shared.FixedClock{At: time.Date(2025, 4, 5, 9, 0, 0, 0, time.UTC)}
	return NewService(&memoryRepo{store: store}, nil, clock), store, store.jrnl
}

func TestSettlement(t *testing.T) {
	net, payable, credit := Settlement(1600, 800, 0)
	require.InDelta(t, 800.0, net, 0.0001)
	require.InDelta(t, 800.0, payable, 0.0001)
	require.InDelta(t, 0.0, credit, 0.0001)

	// Prior credit offsets before anything becomes payable.
	_, payable, credit = Settlement(1600, 800, 500)
	require.InDelta(t, 300.0, payable, 0.0001)
	require.InDelta(t, 0.0, credit, 0.0001)

	_, payable, credit = Settlement(1600, 800, 1000)
	require.InDelta(t, 0.0, payable, 0.0001)
	require.InDelta(t, 200.0, credit, 0.0001)

	// Negative net accumulates with the carried credit.
	net, payable, credit = Settlement(300, 800, 100)
	require.InDelta(t, -500.0, net, 0.0001)
	require.InDelta(t, 0.0, payable, 0.0001)
	require.InDelta(t, 600.0, credit, 0.0001)
}

func TestGenerateBrackets(t *testing.T) {
	svc, store, _ := setup()
	store.setSums(1, 2025, 3, []BracketSum{
		{Operation: "SALE", TaxPercent: 16, Base: 10000, Tax: 1600},
		{Operation: "SALE", TaxPercent: 5, Base: 2000, Tax: 100},
		{Operation: "SALE", TaxPercent: 0, Base: 500},
		{Operation: "PURCHASE", TaxPercent: 16, Base: 4000, Tax: 640},
	})

	decl, err := svc.Generate(context.Background(), 1, 2025, 3, 9)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, decl.Status)
	require.InDelta(t, 10000.0, decl.SalesBaseStandard, 0.0001)
	require.InDelta(t, 1600.0, decl.SalesTaxStandard, 0.0001)
	require.InDelta(t, 2000.0, decl.SalesBaseReduced, 0.0001)
	require.InDelta(t, 100.0, decl.SalesTaxReduced, 0.0001)
	require.InDelta(t, 500.0, decl.SalesBaseExempt, 0.0001)
	require.InDelta(t, 4000.0, decl.PurchasesBaseStandard, 0.0001)
	require.InDelta(t, 1700.0, decl.TaxDue, 0.0001)
	require.InDelta(t, 640.0, decl.TaxDeductible, 0.0001)
	require.InDelta(t, 1060.0, decl.TaxPayable, 0.0001)
}

func TestGenerateIsDeterministic(t *testing.T) {
	svc, store, _ := setup()
	store.setSums(1, 2025, 3, []BracketSum{
		{Operation: "SALE", TaxPercent: 16, Base: 1000, Tax: 160},
	})
	ctx := context.Background()

	first, err := svc.Generate(ctx, 1, 2025, 3, 9)
	require.NoError(t, err)
	second, err := svc.Generate(ctx, 1, 2025, 3, 9)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "regeneration overwrites in place")
	require.InDelta(t, first.TaxPayable, second.TaxPayable, 0.0001)
}

func TestCreditCarriesAcrossPeriods(t *testing.T) {
	svc, store, _ := setup()
	ctx := context.Background()

	// March closes with more deductible than due: credit 500.
	store.setSums(1, 2025, 3, []BracketSum{
		{Operation: "SALE", TaxPercent: 16, Base: 2000, Tax: 320},
		{Operation: "PURCHASE", TaxPercent: 16, Base: 5125, Tax: 820},
	})
	march, err := svc.Generate(ctx, 1, 2025, 3, 9)
	require.NoError(t, err)
	require.InDelta(t, 0.0, march.TaxPayable, 0.0001)
	require.InDelta(t, 500.0, march.CreditCarryForward, 0.0001)

	// April owes 300 net of the carried credit.
	store.setSums(1, 2025, 4, []BracketSum{
		{Operation: "SALE", TaxPercent: 16, Base: 5000, Tax: 800},
	})
	april, err := svc.Generate(ctx, 1, 2025, 4, 9)
	require.NoError(t, err)
	require.InDelta(t, 500.0, april.PriorCredit, 0.0001)
	require.InDelta(t, 300.0, april.TaxPayable, 0.0001)
	require.InDelta(t, 0.0, april.CreditCarryForward, 0.0001)
}

func TestJanuaryPullsDecemberCredit(t *testing.T) {
	svc, store, _ := setup()
	ctx := context.Background()

	store.setSums(1, 2024, 12, []BracketSum{
		{Operation: "PURCHASE", TaxPercent: 16, Base: 1000, Tax: 160},
	})
	_, err := svc.Generate(ctx, 1, 2024, 12, 9)
	require.NoError(t, err)

	jan, err := svc.Generate(ctx, 1, 2025, 1, 9)
	require.NoError(t, err)
	require.InDelta(t, 160.0, jan.PriorCredit, 0.0001)
}

func TestSubmitFreezes(t *testing.T) {
	svc, store, jrnl := setup()
	store.setSums(1, 2025, 3, []BracketSum{
		{Operation: "SALE", TaxPercent: 16, Base: 1000, Tax: 160},
	})
	ctx := context.Background()

	decl, err := svc.Generate(ctx, 1, 2025, 3, 9)
	require.NoError(t, err)
	validated, err := svc.Validate(ctx, 1, decl.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, validated.Status)

	submitted, err := svc.Submit(ctx, 1, decl.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, submitted.Status)
	require.True(t, strings.HasPrefix(submitted.ConfirmationCode, "MZ-AT-202503-"))
	require.NotNil(t, submitted.SubmittedAt)

	_, err = svc.Generate(ctx, 1, 2025, 3, 9)
	var conflict *shared.StateConflictError
	require.ErrorAs(t, err, &conflict)

	accepted, err := svc.MarkAccepted(ctx, 1, decl.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)
	require.Equal(t, "declaration.accepted", jrnl.events[len(jrnl.events)-1].EventType)
}

func TestSubmitRollsBackWhenJournalFails(t *testing.T) {
	svc, store, jrnl := setup()
	store.setSums(1, 2025, 3, []BracketSum{
		{Operation: "SALE", TaxPercent: 16, Base: 1000, Tax: 160},
	})
	ctx := context.Background()

	decl, err := svc.Generate(ctx, 1, 2025, 3, 9)
	require.NoError(t, err)

	jrnl.failWith = errors.New("journal unavailable")
	_, err = svc.Submit(ctx, 1, decl.ID, 9)
	require.Error(t, err)

	// Nothing froze: the declaration is still a regenerable DRAFT.
	current, err := svc.Get(ctx, 1, 2025, 3)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
	require.Empty(t, current.ConfirmationCode)

	jrnl.failWith = nil
	submitted, err := svc.Submit(ctx, 1, decl.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, submitted.Status)
	require.Equal(t, "declaration.submitted", jrnl.events[len(jrnl.events)-1].EventType)
}

func TestGetGeneratesLazily(t *testing.T) {
	svc, store, _ := setup()
	store.setSums(1, 2025, 3, []BracketSum{
		{Operation: "SALE", TaxPercent: 16, Base: 1000, Tax: 160},
	})

	decl, err := svc.Get(context.Background(), 1, 2025, 3)
	require.NoError(t, err)
	require.NotNil(t, decl)
	require.InDelta(t, 160.0, decl.TaxDue, 0.0001)
}

func TestGenerateRejectsInvalidPeriod(t *testing.T) {
	svc, _, _ := setup()
	_, err := svc.Generate(context.Background(), 1, 2025, 13, 9)
	var invalid *shared.ValidationError
	require.ErrorAs(t, err, &invalid)
}
