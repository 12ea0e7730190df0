package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talon/internal/broker"
	"talon/internal/ledger"
)

func newTestReconciler(t *testing.T) (*Reconciler, *broker.Paper, *ledger.Store) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	paper := broker.NewPaper(false)
	return New(paper, store, "default"), paper, store
}

func TestRunOnceImportsBrokerState(t *testing.T) {
	r, paper, store := newTestReconciler(t)
	ctx := context.Background()

	avg := 171.5
	filledAt := time.Now().UTC()
	paper.InjectOrder(broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.TypeMarket,
		Quantity: 10, FilledQuantity: 10, FilledAvgPrice: &avg,
		Status: broker.StatusFilled, SubmittedAt: filledAt, FilledAt: &filledAt,
	})
	paper.InjectPosition("AAPL", 10, 171.5)

	sum, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OrdersInserted)
	assert.Equal(t, 1, sum.PositionsSynced)

	o, err := store.GetOrder("ord-1")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "filled", o.Status)
	assert.Equal(t, "default", o.Strategy)

	pos, err := store.GetPosition("default", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 10.0, pos.Quantity)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	r, paper, _ := newTestReconciler(t)
	ctx := context.Background()

	paper.InjectOrder(broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.TypeMarket,
		Quantity: 5, Status: broker.StatusAccepted, SubmittedAt: time.Now().UTC(),
	})
	paper.InjectPosition("AAPL", 5, 100)

	_, err := r.RunOnce(ctx)
	require.NoError(t, err)

	sum, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.OrdersInserted)
	assert.Zero(t, sum.OrdersUpdated)
	assert.Zero(t, sum.PositionsSynced)
	assert.Zero(t, sum.PositionsRemoved)
}

func TestRunOnceUpdatesOrderStatus(t *testing.T) {
	r, paper, store := newTestReconciler(t)
	ctx := context.Background()

	paper.InjectOrder(broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.TypeLimit,
		Quantity: 10, Status: broker.StatusAccepted, SubmittedAt: time.Now().UTC(),
	})
	_, err := r.RunOnce(ctx)
	require.NoError(t, err)

	avg := 170.0
	paper.InjectOrder(broker.Order{
		ID: "ord-1", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.TypeLimit,
		Quantity: 10, FilledQuantity: 10, FilledAvgPrice: &avg,
		Status: broker.StatusFilled, SubmittedAt: time.Now().UTC(),
	})
	sum, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OrdersUpdated)

	o, err := store.GetOrder("ord-1")
	require.NoError(t, err)
	assert.Equal(t, "filled", o.Status)
	assert.Equal(t, 10.0, o.FilledQuantity)
	require.NotNil(t, o.FilledAt)
}

func TestRunOnceRemovesStalePositions(t *testing.T) {
	r, paper, store := newTestReconciler(t)
	ctx := context.Background()

	// Locally tracked, but the broker no longer holds it.
	require.NoError(t, store.SetPosition("default", "TSLA", 4, 250))
	paper.InjectPosition("AAPL", 10, 100)

	sum, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PositionsRemoved)
	assert.Equal(t, 1, sum.PositionsSynced)

	stale, err := store.GetPosition("default", "TSLA")
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestRunOnceCorrectsDriftedQuantity(t *testing.T) {
	r, paper, store := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, store.SetPosition("default", "AAPL", 7, 90))
	paper.InjectPosition("AAPL", 10, 100)

	_, err := r.RunOnce(ctx)
	require.NoError(t, err)

	pos, err := store.GetPosition("default", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 10.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntryPrice)
}

func TestPollReturnsFinalSnapshot(t *testing.T) {
	r, paper, store := newTestReconciler(t)
	ctx := context.Background()

	go func() {
		time.Sleep(25 * time.Millisecond)
		paper.InjectPosition("AAPL", 3, 100)
	}()

	_, err := r.Poll(ctx, 10*time.Millisecond, 60*time.Millisecond)
	require.NoError(t, err)

	pos, err := store.GetPosition("default", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 3.0, pos.Quantity)
}

func TestWaitForOrderReturnsOnFill(t *testing.T) {
	r, paper, store := newTestReconciler(t)
	ctx := context.Background()

	limit := 90.0
	resting, err := paper.SubmitOrder(ctx, broker.OrderPayload{
		Symbol: "AAPL", Side: broker.SideBuy, Type: broker.TypeLimit,
		Quantity: 1, LimitPrice: &limit, ClientOrderID: "cid-1",
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(30 * time.Millisecond)
		avg := 90.0
		now := time.Now().UTC()
		paper.InjectOrder(broker.Order{
			ID: resting.ID, ClientOrderID: "cid-1", Symbol: "AAPL",
			Side: broker.SideBuy, Type: broker.TypeLimit, Quantity: 1,
			FilledQuantity: 1, FilledAvgPrice: &avg,
			Status: broker.StatusFilled, SubmittedAt: resting.SubmittedAt, FilledAt: &now,
		})
	}()

	final, err := r.WaitForOrder(ctx, resting.ID, time.Second, 10*time.Millisecond)
	<-done
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, final.Status)

	o, err := store.GetOrder(resting.ID)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "filled", o.Status)
}

func TestWaitForOrderTimesOut(t *testing.T) {
	r, paper, _ := newTestReconciler(t)
	ctx := context.Background()

	limit := 90.0
	resting, err := paper.SubmitOrder(ctx, broker.OrderPayload{
		Symbol: "AAPL", Side: broker.SideBuy, Type: broker.TypeLimit,
		Quantity: 1, LimitPrice: &limit,
	})
	require.NoError(t, err)

	last, err := r.WaitForOrder(ctx, resting.ID, 50*time.Millisecond, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, broker.StatusAccepted, last.Status)
}
