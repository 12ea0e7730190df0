// Package app wires the engine together and owns its run loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"talon/internal/audit"
	"talon/internal/broker"
	"talon/internal/config"
	"talon/internal/engine"
	"talon/internal/instrument"
	"talon/internal/ledger"
	"talon/internal/logger"
	"talon/internal/reconcile"
	"talon/internal/safety"
	"talon/internal/scheduler"
)

type App struct {
	cfg        *config.Config
	gate       *safety.Gate
	venue      broker.Broker
	store      *ledger.Store
	auditLog   *audit.Log
	engine     *engine.Engine
	reconciler *reconcile.Reconciler
	sched      *scheduler.Scheduler
	watcher    *safety.SentinelWatcher
}

func New(cfg *config.Config) (*App, error) {
	patterns := instrument.DefaultPatterns()
	if path := cfg.Trading.InstrumentPatternPath; path != "" {
		loaded, err := instrument.LoadPatterns(path)
		if err != nil {
			logger.Warnf("app: pattern table %s unreadable, using defaults: %v", path, err)
		}
		patterns = loaded
	}

	gate := safety.NewGate()
	venue, err := broker.New(cfg)
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(cfg.Database.LedgerPath)
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.Open(cfg.Database.AuditPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		gate:       gate,
		venue:      venue,
		store:      store,
		auditLog:   auditLog,
		engine:     engine.New(gate, venue, store, auditLog, cfg.App.Env, patterns),
		reconciler: reconcile.New(venue, store, cfg.Trading.DefaultStrategy),
	}

	if path := cfg.Safety.SentinelPath; path != "" {
		w, err := safety.NewSentinelWatcher(gate, path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: sentinel watcher: %w", err)
		}
		a.watcher = w
	}

	a.sched = scheduler.New(
		seconds(cfg.Scheduler.TickSeconds),
		seconds(cfg.Scheduler.BackoffCeilingSeconds),
		seconds(cfg.Scheduler.ShutdownDrainSeconds),
	)
	a.registerTasks()
	return a, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (a *App) registerTasks() {
	a.sched.Register(scheduler.Task{
		Name:     "order-reconcile",
		Interval: seconds(a.cfg.Scheduler.OrderReconcileSeconds),
		Run: func(ctx context.Context) error {
			_, err := a.reconciler.SyncOrders(ctx)
			return err
		},
	})
	a.sched.Register(scheduler.Task{
		Name:     "position-sync",
		Interval: seconds(a.cfg.Scheduler.PositionSyncSeconds),
		Run: func(ctx context.Context) error {
			_, err := a.reconciler.SyncPositions(ctx)
			return err
		},
	})
	a.sched.Register(scheduler.Task{
		Name:     "health-check",
		Interval: seconds(a.cfg.Scheduler.HealthCheckSeconds),
		Run: func(ctx context.Context) error {
			st := a.engine.Status(ctx)
			if !st.BrokerReachable {
				return fmt.Errorf("broker %s unreachable", st.BrokerName)
			}
			logger.Infof("health: broker=%s kill_switch=%v positions=%d open_orders=%d txns=%d/%d/%d",
				st.BrokerName, st.KillSwitch.Active, st.Positions, st.OpenOrders,
				st.Transactions.Total, st.Transactions.Completed, st.Transactions.Failed)
			return nil
		},
	})
	a.sched.Register(scheduler.Task{
		Name:     "consistency-check",
		Interval: seconds(a.cfg.Scheduler.ConsistencyCheckSeconds),
		Run: func(ctx context.Context) error {
			rep, err := a.store.CheckConsistency()
			if err != nil {
				return err
			}
			if !rep.Clean() {
				return fmt.Errorf("ledger inconsistent: %d negative, %d zero rows",
					len(rep.Negative), len(rep.Zero))
			}
			return nil
		},
	})
}

// Engine exposes the trading operations for embedders and tests.
func (a *App) Engine() *engine.Engine { return a.engine }

// Status is the full operational snapshot: engine state plus the scheduler's
// task table.
type Status struct {
	engine.SystemStatus
	Tasks []scheduler.TaskStats
}

func (a *App) Status(ctx context.Context) Status {
	return Status{
		SystemStatus: a.engine.Status(ctx),
		Tasks:        a.sched.Stats(),
	}
}

// Run blocks until SIGINT/SIGTERM or a fatal component error. One full
// reconcile pass runs before the background loops start so the ledger is
// trustworthy from the first moment.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.reconciler.RunOnce(ctx); err != nil {
		logger.Warnf("app: initial reconcile incomplete: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sched.Run(ctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	logger.Infof("app: running (env=%s broker=%s paper=%v)",
		a.cfg.App.Env, a.venue.Name(), a.cfg.Trading.PaperTrading)

	err := g.Wait()
	a.Close()
	if errors.Is(err, context.Canceled) {
		logger.Infof("app: shut down cleanly")
		return nil
	}
	return err
}

func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: closing ledger: %v", err)
		}
	}
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			logger.Warnf("app: closing audit log: %v", err)
		}
	}
}
