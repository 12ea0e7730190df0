package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talon/internal/broker"
	"talon/internal/config"
	"talon/internal/engine"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.LedgerPath = filepath.Join(dir, "ledger.db")
	cfg.Database.AuditPath = filepath.Join(dir, "audit.db")
	cfg.Trading.PaperTrading = true
	cfg.Trading.SimulateImmediateFill = true

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestAppWiring(t *testing.T) {
	a := newTestApp(t)
	require.NotNil(t, a.Engine())
	assert.Equal(t, "paper", a.venue.Name())

	order, err := a.Engine().Buy(context.Background(), engine.OrderIntent{
		Strategy: "default", Instrument: "AAPL", Quantity: 1, Type: broker.TypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, order.Status)

	st := a.Status(context.Background())
	assert.True(t, st.BrokerReachable)
	assert.Equal(t, 1, st.Positions)
	// order-reconcile, position-sync, health-check, consistency-check.
	assert.Len(t, st.Tasks, 4)
}

func TestAppSentinelWatcherWiring(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.LedgerPath = filepath.Join(dir, "ledger.db")
	cfg.Database.AuditPath = filepath.Join(dir, "audit.db")
	cfg.Safety.SentinelPath = filepath.Join(dir, "KILL")

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.watcher)
}
