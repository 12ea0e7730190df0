// Package reconcile aligns the local ledger with the broker. The broker is
// the source of truth: local rows are inserted, updated, or deleted to match
// what the venue reports, never the other way around.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"talon/internal/broker"
	"talon/internal/ledger"
	"talon/internal/logger"
)

type Reconciler struct {
	venue    broker.Broker
	store    *ledger.Store
	strategy string
}

func New(venue broker.Broker, store *ledger.Store, strategy string) *Reconciler {
	if strategy == "" {
		strategy = "default"
	}
	return &Reconciler{venue: venue, store: store, strategy: strategy}
}

// Summary counts what one pass changed. A converged ledger yields zero
// inserts, updates, and removals on the next pass.
type Summary struct {
	OrdersSeen       int
	OrdersInserted   int
	OrdersUpdated    int
	PositionsSynced  int
	PositionsRemoved int
}

// RunOnce performs the order pass and the position pass. The passes are
// isolated: a failing order pass does not stop position sync, and both
// errors come back combined.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	var errs error

	if err := r.reconcileOrders(ctx, &sum); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("order pass: %w", err))
	}
	if err := r.reconcilePositions(ctx, &sum); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("position pass: %w", err))
	}

	if sum.OrdersInserted+sum.OrdersUpdated+sum.PositionsSynced+sum.PositionsRemoved > 0 {
		logger.Infof("reconcile: orders seen=%d inserted=%d updated=%d, positions synced=%d removed=%d",
			sum.OrdersSeen, sum.OrdersInserted, sum.OrdersUpdated, sum.PositionsSynced, sum.PositionsRemoved)
	}
	return sum, errs
}

// SyncOrders runs only the order pass.
func (r *Reconciler) SyncOrders(ctx context.Context) (Summary, error) {
	var sum Summary
	err := r.reconcileOrders(ctx, &sum)
	return sum, err
}

// SyncPositions runs only the position pass.
func (r *Reconciler) SyncPositions(ctx context.Context) (Summary, error) {
	var sum Summary
	err := r.reconcilePositions(ctx, &sum)
	return sum, err
}

func (r *Reconciler) reconcileOrders(ctx context.Context, sum *Summary) error {
	orders, err := r.venue.ListOrders(ctx, broker.FilterAll)
	if err != nil {
		return err
	}
	var errs error
	for _, o := range orders {
		sum.OrdersSeen++
		if err := r.syncOrder(o, sum); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (r *Reconciler) syncOrder(o broker.Order, sum *Summary) error {
	existing, err := r.store.GetOrder(o.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		inserted, err := r.store.RecordOrder(&ledger.Order{
			OrderID:        o.ID,
			ClientOrderID:  o.ClientOrderID,
			Strategy:       r.strategy,
			Instrument:     o.Symbol,
			Side:           string(o.Side),
			Type:           string(o.Type),
			Quantity:       o.Quantity,
			FilledQuantity: o.FilledQuantity,
			LimitPrice:     o.LimitPrice,
			FilledAvgPrice: o.FilledAvgPrice,
			Status:         string(o.Status),
			SubmittedAt:    o.SubmittedAt,
			FilledAt:       o.FilledAt,
		})
		if err != nil {
			return err
		}
		if inserted {
			sum.OrdersInserted++
		}
		return nil
	}

	if existing.Status == string(o.Status) && existing.FilledQuantity == o.FilledQuantity {
		return nil
	}
	upd := ledger.OrderUpdate{Status: string(o.Status)}
	if existing.FilledQuantity != o.FilledQuantity {
		qty := o.FilledQuantity
		upd.FilledQuantity = &qty
	}
	if o.FilledAvgPrice != nil {
		upd.FilledAvgPrice = o.FilledAvgPrice
	}
	if err := r.store.UpdateOrder(o.ID, upd); err != nil {
		return err
	}
	sum.OrdersUpdated++
	return nil
}

func (r *Reconciler) reconcilePositions(ctx context.Context, sum *Summary) error {
	remote, err := r.venue.ListPositions(ctx)
	if err != nil {
		return err
	}
	local, err := r.store.Positions(r.strategy)
	if err != nil {
		return err
	}

	var errs error
	seen := make(map[string]bool, len(remote))
	for _, pos := range remote {
		seen[pos.Symbol] = true
		cur, err := r.store.GetPosition(r.strategy, pos.Symbol)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if cur != nil && cur.Quantity == pos.Quantity && cur.AvgEntryPrice == pos.AvgEntryPrice {
			continue
		}
		if err := r.store.SetPosition(r.strategy, pos.Symbol, pos.Quantity, pos.AvgEntryPrice); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sum.PositionsSynced++
	}

	// Local rows the broker no longer reports are stale.
	for _, pos := range local {
		if seen[pos.Instrument] {
			continue
		}
		if err := r.store.DeletePosition(r.strategy, pos.Instrument); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sum.PositionsRemoved++
		logger.Warnf("reconcile: removed stale position %s/%s (qty=%v)",
			r.strategy, pos.Instrument, pos.Quantity)
	}
	return errs
}
