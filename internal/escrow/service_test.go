package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

type memoryStore struct {
	transactions map[int64]Transaction
	sellerFunds  map[int64]float64
	credits      int
	nextID       int64
	jrnl         *memoryJournal
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transactions: make(map[int64]Transaction),
		sellerFunds:  make(map[int64]float64),
		jrnl:         &memoryJournal{},
	}
}

func (s *memoryStore) Insert(ctx context.Context, tx Transaction) (int64, error) {
	s.nextID++
	tx.ID = s.nextID
	s.transactions[tx.ID] = tx
	return tx.ID, nil
}

func (s *memoryStore) GetForUpdate(ctx context.Context, tenantID, id int64) (Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok || (tenantID != 0 && tx.TenantID != tenantID) {
		return Transaction{}, &shared.NotFoundError{Entity: "escrow", ID: id}
	}
	tx.creditSeller = false
	return tx, nil
}

func (s *memoryStore) GetByDocument(ctx context.Context, tenantID, documentID int64) (Transaction, error) {
	for _, tx := range s.transactions {
		if tx.TenantID == tenantID && tx.DocumentID == documentID {
			return tx, nil
		}
	}
	return Transaction{}, &shared.NotFoundError{Entity: "escrow", ID: documentID}
}

func (s *memoryStore) Update(ctx context.Context, tx Transaction) error {
	s.transactions[tx.ID] = tx
	return nil
}

func (s *memoryStore) CreditSeller(ctx context.Context, tenantID int64, amount float64) error {
	s.sellerFunds[tenantID] += amount
	s.credits++
	return nil
}

func (s *memoryStore) ListDueForRelease(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	var due []int64
	for id, tx := range s.transactions {
		if tx.Status != StatusEmEscrow || tx.SweepProcessed || tx.DisputedAt != nil {
			continue
		}
		if tx.DepositConfirmedAt == nil || tx.DepositConfirmedAt.After(cutoff) {
			continue
		}
		due = append(due, id)
		if limit > 0 && len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *memoryStore) Journal() JournalPort {
	return s.jrnl
}

type memoryRepo struct {
	store *memoryStore
}

// WithTx snapshots the store and restores it when fn fails, so the fake
// honours the same all-or-nothing contract as the real transaction.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	transactions := make(map[int64]Transaction, len(r.store.transactions))
	for id, tx := range r.store.transactions {
		transactions[id] = tx
	}
	sellerFunds := make(map[int64]float64, len(r.store.sellerFunds))
	for id, amount := range r.store.sellerFunds {
		sellerFunds[id] = amount
	}
	credits, nextID := r.store.credits, r.store.nextID
	appended := len(r.store.jrnl.events)

	if err := fn(ctx, r.store); err != nil {
		r.store.transactions = transactions
		r.store.sellerFunds = sellerFunds
		r.store.credits = credits
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

func setup(at time.Time) (*Service, *memoryStore, *memoryJournal) {
	store := newMemoryStore()
	svc := NewService(&memoryRepo{store: store}, shared.FixedClock{At: at})
	return svc, store, store.jrnl
}

func open(t *testing.T, store *memoryStore, at time.Time, amount float64) Transaction {
	t.Helper()
	tx, err := Open(context.Background(), store, shared.FixedClock{At: at}, 1, 20, 100, amount)
	require.NoError(t, err)
	require.Equal(t, StatusPendente, tx.Status)
	return tx
}

func TestConfirmDepositAndRelease(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, store, jrnl := setup(now)
	ctx := context.Background()
	held := open(t, store, now, 11600)

	confirmed, err := svc.ConfirmDeposit(ctx, 1, held.ID, 5)
	require.NoError(t, err)
	require.Equal(t, StatusEmEscrow, confirmed.Status)
	require.NotNil(t, confirmed.DepositConfirmedAt)

	released, err := svc.Release(ctx, 1, held.ID, 5)
	require.NoError(t, err)
	require.Equal(t, StatusLiberado, released.Status)
	require.False(t, released.AutoReleased)

	require.InDelta(t, 11600.0, store.sellerFunds[1], 0.0001)
	require.Equal(t, 1, store.credits, "seller credited exactly once")
	require.Equal(t, "escrow.released", jrnl.events[len(jrnl.events)-1].EventType)

	// Terminal state: a second release must not credit again.
	_, err = svc.Release(ctx, 1, held.ID, 5)
	var conflict *shared.StateConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, 1, store.credits)
}

func TestReleaseRequiresConfirmedDeposit(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setup(now)
	held := open(t, store, now, 500)

	_, err := svc.Release(context.Background(), 1, held.ID, 5)
	var conflict *shared.StateConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, string(StatusPendente), conflict.Current)
}

func TestRefundDoesNotCreditSeller(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setup(now)
	ctx := context.Background()
	held := open(t, store, now, 500)

	_, err := svc.ConfirmDeposit(ctx, 1, held.ID, 5)
	require.NoError(t, err)
	refunded, err := svc.Refund(ctx, 1, held.ID, 5, "delivery failed")
	require.NoError(t, err)
	require.Equal(t, StatusReembolsado, refunded.Status)
	require.Equal(t, "delivery failed", refunded.RefundReason)
	require.Zero(t, store.credits)
}

func TestDisputeBlocksAutoRelease(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, store, _ := setup(now.Add(AutoReleaseWindow + time.Hour))
	ctx := context.Background()

	held := open(t, store, now, 900)
	tx := store.transactions[held.ID]
	tx.Status = StatusEmEscrow
	tx.DepositConfirmedAt = &now
	store.transactions[held.ID] = tx

	_, err := svc.OpenDispute(ctx, 1, held.ID, 5, "damaged goods")
	require.NoError(t, err)

	released, err := svc.SweepAutoRelease(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, released)

	// Manual resolution releasing to the seller still credits once.
	resolved, err := svc.ResolveDispute(ctx, 1, held.ID, 5, true, "")
	require.NoError(t, err)
	require.Equal(t, StatusLiberado, resolved.Status)
	require.Equal(t, 1, store.credits)
}

func TestSweepAutoRelease(t *testing.T) {
	confirmedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, store, jrnl := setup(confirmedAt.Add(AutoReleaseWindow + time.Minute))
	ctx := context.Background()

	ready := open(t, store, confirmedAt, 1000)
	tx := store.transactions[ready.ID]
	tx.Status = StatusEmEscrow
	tx.DepositConfirmedAt = &confirmedAt
	store.transactions[ready.ID] = tx

	recent := open(t, store, confirmedAt, 2000)
	tx = store.transactions[recent.ID]
	tx.Status = StatusEmEscrow
	fresh := confirmedAt.Add(AutoReleaseWindow)
	tx.DepositConfirmedAt = &fresh
	store.transactions[recent.ID] = tx

	released, err := svc.SweepAutoRelease(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	got := store.transactions[ready.ID]
	require.Equal(t, StatusLiberado, got.Status)
	require.True(t, got.AutoReleased)
	require.True(t, got.SweepProcessed)
	require.InDelta(t, 1000.0, store.sellerFunds[1], 0.0001)
	require.Equal(t, "escrow.auto_released", jrnl.events[len(jrnl.events)-1].EventType)

	// Re-running the sweep finds nothing: the processed flag was set in
	// the same unit as the release.
	released, err = svc.SweepAutoRelease(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, released)
	require.Equal(t, 1, store.credits)
}

func TestReleaseRollsBackWhenJournalFails(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, store, jrnl := setup(now)
	ctx := context.Background()
	held := open(t, store, now, 11600)

	_, err := svc.ConfirmDeposit(ctx, 1, held.ID, 5)
	require.NoError(t, err)

	jrnl.failWith = errors.New("journal unavailable")
	_, err = svc.Release(ctx, 1, held.ID, 5)
	require.Error(t, err)

	// The release committed nothing: no status change, no seller credit.
	require.Equal(t, StatusEmEscrow, store.transactions[held.ID].Status)
	require.Zero(t, store.credits)
	require.Zero(t, store.sellerFunds[1])

	jrnl.failWith = nil
	released, err := svc.Release(ctx, 1, held.ID, 5)
	require.NoError(t, err)
	require.Equal(t, StatusLiberado, released.Status)
	require.Equal(t, 1, store.credits)
	require.Equal(t, "escrow.released", jrnl.events[len(jrnl.events)-1].EventType)
}
