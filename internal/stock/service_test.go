package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zambezi-erp/zambezi-erp/internal/journal"
)

type memoryRepo struct {
	store *memoryStore
}

// WithTx snapshots the store and restores it when fn fails, matching the
// all-or-nothing contract of the real transaction.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	balances := make(map[string]Balance, len(r.store.balances))
	for key, bal := range r.store.balances {
		balances[key] = bal
	}
	movements := len(r.store.movements)
	nextID := r.store.nextID
	appended := len(r.store.jrnl.events)

	if err := fn(ctx, r.store); err != nil {
		r.store.balances = balances
		r.store.movements = r.store.movements[:movements]
		r.store.nextID = nextID
		r.store.jrnl.events = r.store.jrnl.events[:appended]
		return err
	}
	return nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, tenantID, itemID int64, from, to time.Time, limit int) ([]Movement, error) {
	var result []Movement
	for _, m := range r.store.movements {
		if m.TenantID == tenantID && m.ItemID == itemID {
			result = append(result, m)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
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

func TestServicePostInboundJournals(t *testing.T) {
	repo := &memoryRepo{store: newMemoryStore()}
	jrnl := repo.store.jrnl
	svc := NewService(repo, nil)
	ctx := context.Background()

	m, err := svc.PostInbound(ctx, Input{TenantID: 1, ItemID: 7, Qty: 10, UnitCost: 250, ActorID: 3, Note: "GRN#1"})
	require.NoError(t, err)
	require.InDelta(t, 10.0, m.BalanceAfter, 0.0001)

	require.Len(t, jrnl.events, 1)
	require.Equal(t, "stock.IN", jrnl.events[0].EventType)
	require.Equal(t, int64(7), jrnl.events[0].AggregateID)
}

func TestServiceFailedPostJournalsNothing(t *testing.T) {
	repo := &memoryRepo{store: newMemoryStore()}
	svc := NewService(repo, nil)

	_, err := svc.PostAdjustment(context.Background(), Input{TenantID: 1, ItemID: 7, Qty: -5})
	require.Error(t, err)
	require.Empty(t, repo.store.jrnl.events)
}

func TestServicePostRollsBackWhenJournalFails(t *testing.T) {
	repo := &memoryRepo{store: newMemoryStore()}
	svc := NewService(repo, nil)
	ctx := context.Background()

	repo.store.jrnl.failWith = errors.New("journal unavailable")
	_, err := svc.PostInbound(ctx, Input{TenantID: 1, ItemID: 7, Qty: 10, UnitCost: 250})
	require.Error(t, err)

	// Nothing committed: no movement row, no balance.
	require.Empty(t, repo.store.movements)
	_, err = repo.store.GetBalance(ctx, 1, 7)
	require.ErrorIs(t, err, ErrBalanceNotFound)

	repo.store.jrnl.failWith = nil
	m, err := svc.PostInbound(ctx, Input{TenantID: 1, ItemID: 7, Qty: 10, UnitCost: 250})
	require.NoError(t, err)
	require.InDelta(t, 10.0, m.BalanceAfter, 0.0001)
	require.Len(t, repo.store.jrnl.events, 1)
}

func TestServiceMovements(t *testing.T) {
	repo := &memoryRepo{store: newMemoryStore()}
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, Input{TenantID: 1, ItemID: 7, Qty: 10, UnitCost: 100})
	require.NoError(t, err)
	_, err = svc.PostReturn(ctx, Input{TenantID: 1, ItemID: 7, Qty: 2})
	require.NoError(t, err)

	movements, err := svc.Movements(ctx, 1, 7, time.Time{}, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, MovementIn, movements[0].Kind)
	require.Equal(t, MovementReturn, movements[1].Kind)
}
