package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestStore(t)

	p, err := s.GetPosition("default", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, s.SetPosition("default", "AAPL", 10, 172.0))
	p, err = s.GetPosition("default", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 10.0, p.Quantity)
	assert.Equal(t, 172.0, p.AvgEntryPrice)

	// Upsert overwrites in place, no second row.
	require.NoError(t, s.SetPosition("default", "AAPL", 15, 170.0))
	all, err := s.Positions("default")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 15.0, all[0].Quantity)

	// Zero quantity removes the row entirely.
	require.NoError(t, s.SetPosition("default", "AAPL", 0, 0))
	p, err = s.GetPosition("default", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPositionsScopedPerStrategy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetPosition("alpha", "AAPL", 10, 100))
	require.NoError(t, s.SetPosition("beta", "AAPL", 5, 100))

	alpha, err := s.Positions("alpha")
	require.NoError(t, err)
	require.Len(t, alpha, 1)
	assert.Equal(t, 10.0, alpha[0].Quantity)

	sum, err := s.Portfolio()
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Positions)
	assert.Equal(t, 1, sum.ByStrategy["alpha"])
	assert.Equal(t, 1, sum.ByStrategy["beta"])
}

func TestCheckConsistency(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetPosition("default", "AAPL", 10, 100))
	rep, err := s.CheckConsistency()
	require.NoError(t, err)
	assert.True(t, rep.Clean())
	assert.Equal(t, 1, rep.Total)

	require.NoError(t, s.SetPosition("default", "TSLA", -3, 100))
	rep, err = s.CheckConsistency()
	require.NoError(t, err)
	assert.False(t, rep.Clean())
	require.Len(t, rep.Negative, 1)
	assert.Equal(t, "TSLA", rep.Negative[0].Instrument)
}

func TestRecordOrderIgnoresDuplicates(t *testing.T) {
	s := newTestStore(t)
	o := &Order{
		OrderID:     "ord-1",
		Strategy:    "default",
		Instrument:  "AAPL",
		Side:        "buy",
		Type:        "market",
		Quantity:    10,
		Status:      "new",
		SubmittedAt: time.Now().UTC(),
	}
	inserted, err := s.RecordOrder(o)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *o
	dup.ID = 0
	dup.Status = "filled"
	inserted, err = s.RecordOrder(&dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetOrder("ord-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Status)
}

func TestUpdateOrderPartialAndFilledAt(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordOrder(&Order{
		OrderID: "ord-1", Instrument: "AAPL", Side: "buy", Type: "market",
		Quantity: 10, Status: "new", SubmittedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	qty := 4.0
	require.NoError(t, s.UpdateOrder("ord-1", OrderUpdate{
		Status: "partially_filled", FilledQuantity: &qty,
	}))
	got, err := s.GetOrder("ord-1")
	require.NoError(t, err)
	assert.Equal(t, "partially_filled", got.Status)
	assert.Equal(t, 4.0, got.FilledQuantity)
	assert.Nil(t, got.FilledAt)

	full := 10.0
	avg := 171.5
	require.NoError(t, s.UpdateOrder("ord-1", OrderUpdate{
		Status: "filled", FilledQuantity: &full, FilledAvgPrice: &avg,
	}))
	got, _ = s.GetOrder("ord-1")
	require.NotNil(t, got.FilledAt)
	firstFilledAt := *got.FilledAt

	// A replayed update must not move the fill timestamp.
	require.NoError(t, s.UpdateOrder("ord-1", OrderUpdate{Status: "filled"}))
	got, _ = s.GetOrder("ord-1")
	assert.Equal(t, firstFilledAt.Unix(), got.FilledAt.Unix())

	require.Error(t, s.UpdateOrder("missing", OrderUpdate{Status: "filled"}))
}

func TestOrderQueries(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seed := []Order{
		{OrderID: "o1", Strategy: "alpha", Instrument: "AAPL", Side: "buy", Type: "market", Status: "filled", SubmittedAt: base},
		{OrderID: "o2", Strategy: "alpha", Instrument: "AAPL", Side: "sell", Type: "limit", Status: "accepted", SubmittedAt: base.Add(10 * time.Minute)},
		{OrderID: "o3", Strategy: "beta", Instrument: "TSLA", Side: "buy", Type: "market", Status: "rejected", SubmittedAt: base.Add(20 * time.Minute)},
	}
	for i := range seed {
		_, err := s.RecordOrder(&seed[i])
		require.NoError(t, err)
	}

	alpha, err := s.Orders(OrderFilter{Strategy: "alpha"})
	require.NoError(t, err)
	require.Len(t, alpha, 2)
	assert.Equal(t, "o2", alpha[0].OrderID) // newest first

	open, err := s.OpenOrders()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "o2", open[0].OrderID)

	recent, err := s.Orders(OrderFilter{Since: base.Add(15 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "o3", recent[0].OrderID)

	stats, err := s.OrderStatistics("")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus["filled"])
	assert.Equal(t, int64(1), stats.ByStatus["rejected"])
	assert.InDelta(t, 1.0/3.0, stats.FillRate, 1e-9)
}
