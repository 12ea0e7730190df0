package reconcile

import (
	"context"
	"errors"
	"time"

	"talon/internal/broker"
)

// ErrPollTimeout means the order had not reached a terminal status before
// the deadline. The ledger still holds the last observed state.
var ErrPollTimeout = errors.New("reconcile: order poll timed out")

// Poll runs full passes every interval for up to maxDuration and returns the
// final pass's summary. Used for short post-trade verification windows where
// the caller wants the ledger settled before proceeding.
func (r *Reconciler) Poll(ctx context.Context, interval, maxDuration time.Duration) (Summary, error) {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(maxDuration)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		case <-deadline.C:
			return r.RunOnce(ctx)
		case <-tick.C:
			if _, err := r.RunOnce(ctx); err != nil {
				return Summary{}, err
			}
		}
	}
}

// WaitForOrder polls the broker until the order reaches a terminal status or
// timeout elapses. Each observation is folded into the ledger, and on
// timeout a full pass runs so the ledger at least reflects the final
// snapshot.
func (r *Reconciler) WaitForOrder(ctx context.Context, orderID string, timeout, interval time.Duration) (broker.Order, error) {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	var last broker.Order
	for {
		orders, err := r.venue.ListOrders(ctx, broker.FilterAll)
		if err == nil {
			for _, o := range orders {
				if o.ID != orderID {
					continue
				}
				last = o
				var sum Summary
				_ = r.syncOrder(o, &sum)
				if o.Status.Terminal() {
					return o, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			_, _ = r.RunOnce(ctx)
			return last, ErrPollTimeout
		case <-tick.C:
		}
	}
}
