package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"talon/internal/audit"
	"talon/internal/broker"
	"talon/internal/instrument"
	"talon/internal/ledger"
	"talon/internal/logger"
	"talon/internal/safety"
)

// Engine executes trading operations against the broker and keeps the local
// ledger in step. Every externally triggered operation runs through the
// transaction lifecycle.
type Engine struct {
	gate    *safety.Gate
	venue   broker.Broker
	store   *ledger.Store
	builder *Builder
	guard   *WashGuard
	life    *Lifecycle
}

func New(gate *safety.Gate, venue broker.Broker, store *ledger.Store, log *audit.Log, env string, patterns instrument.PatternTable) *Engine {
	builder := NewBuilder(env, patterns)
	return &Engine{
		gate:    gate,
		venue:   venue,
		store:   store,
		builder: builder,
		guard:   NewWashGuard(venue, builder.ClientOrderID),
		life:    NewLifecycle(gate, log),
	}
}

func (e *Engine) Buy(ctx context.Context, intent OrderIntent) (broker.Order, error) {
	intent.Side = broker.SideBuy
	return e.trade(ctx, "buy", intent)
}

// Sell validates against the local ledger before anything reaches the
// broker: selling more than the tracked holding fails with
// InsufficientPositionError.
func (e *Engine) Sell(ctx context.Context, intent OrderIntent) (broker.Order, error) {
	intent.Side = broker.SideSell
	return e.trade(ctx, "sell", intent)
}

func (e *Engine) trade(ctx context.Context, kind string, intent OrderIntent) (broker.Order, error) {
	sym := instrument.Normalize(intent.Instrument)
	var payload broker.OrderPayload
	var placed broker.Order

	err := e.life.Run(ctx, Txn{
		Kind:       kind,
		Strategy:   intent.Strategy,
		Instrument: sym,
		Validate: func(ctx context.Context) error {
			p, err := e.builder.Build(intent)
			if err != nil {
				return err
			}
			payload = p
			if intent.Side == broker.SideSell {
				return e.checkSellable(intent.Strategy, sym, intent.Quantity)
			}
			return nil
		},
		Execute: func(ctx context.Context) (json.RawMessage, error) {
			o, err := e.guard.Submit(ctx, payload)
			if err != nil {
				return nil, err
			}
			placed = o
			if err := e.recordOrder(intent.Strategy, payload, o); err != nil {
				// The broker has the order even though bookkeeping failed;
				// reconciliation will re-insert it.
				return nil, err
			}
			detail, _ := json.Marshal(map[string]any{
				"order_id":        o.ID,
				"client_order_id": o.ClientOrderID,
				"status":          o.Status,
				"quantity":        o.Quantity,
			})
			return detail, nil
		},
		PostProc: func(ctx context.Context) error {
			return e.applyFill(intent.Strategy, placed)
		},
	})
	return placed, err
}

func (e *Engine) checkSellable(strategy, sym string, qty float64) error {
	pos, err := e.store.GetPosition(strategy, sym)
	if err != nil {
		return err
	}
	var available float64
	if pos != nil {
		available = pos.Quantity
	}
	if available < qty {
		return &InsufficientPositionError{Instrument: sym, Required: qty, Available: available}
	}
	return nil
}

func (e *Engine) recordOrder(strategy string, payload broker.OrderPayload, o broker.Order) error {
	rec := &ledger.Order{
		OrderID:        o.ID,
		ClientOrderID:  o.ClientOrderID,
		Strategy:       strategy,
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
	}
	if payload.TakeProfit != nil || payload.StopLoss != nil {
		legs, err := json.Marshal(map[string]any{
			"order_class": payload.OrderClass,
			"take_profit": payload.TakeProfit,
			"stop_loss":   payload.StopLoss,
		})
		if err == nil {
			rec.Legs = legs
		}
	}
	_, err := e.store.RecordOrder(rec)
	return err
}

// applyFill folds an immediate fill into the position. Unfilled orders leave
// the ledger alone; reconciliation picks them up once the broker reports the
// fill.
func (e *Engine) applyFill(strategy string, o broker.Order) error {
	if o.Status != broker.StatusFilled && o.Status != broker.StatusPartiallyFilled {
		return nil
	}
	if o.FilledQuantity == 0 {
		return nil
	}
	price := 0.0
	if o.FilledAvgPrice != nil {
		price = *o.FilledAvgPrice
	}

	pos, err := e.store.GetPosition(strategy, o.Symbol)
	if err != nil {
		return err
	}
	oldQty, oldAvg := decimal.Zero, decimal.Zero
	if pos != nil {
		oldQty = decimal.NewFromFloat(pos.Quantity)
		oldAvg = decimal.NewFromFloat(pos.AvgEntryPrice)
	}
	fillQty := decimal.NewFromFloat(o.FilledQuantity)
	fillPrice := decimal.NewFromFloat(price)

	var newQty, newAvg decimal.Decimal
	if o.Side == broker.SideBuy {
		newQty = oldQty.Add(fillQty)
		if newQty.IsZero() {
			newAvg = decimal.Zero
		} else {
			newAvg = oldQty.Mul(oldAvg).Add(fillQty.Mul(fillPrice)).Div(newQty)
		}
	} else {
		newQty = oldQty.Sub(fillQty)
		newAvg = oldAvg
	}

	qty, _ := newQty.Float64()
	avg, _ := newAvg.Float64()
	return e.store.SetPosition(strategy, o.Symbol, qty, avg)
}

// ClosePosition sells the full tracked holding at market. Closing an
// already-flat position is a no-op, not an error.
func (e *Engine) ClosePosition(ctx context.Context, strategy, sym string) (broker.Order, error) {
	sym = instrument.Normalize(sym)
	pos, err := e.store.GetPosition(strategy, sym)
	if err != nil {
		return broker.Order{}, err
	}
	if pos == nil {
		logger.Infof("close position: nothing to close for %s/%s", strategy, sym)
		return broker.Order{}, nil
	}
	return e.trade(ctx, "close_position", OrderIntent{
		Strategy:   strategy,
		Instrument: sym,
		Side:       broker.SideSell,
		Quantity:   pos.Quantity,
		Type:       broker.TypeMarket,
	})
}

// CloseAllPositions closes every tracked holding, continuing past per-
// position failures and returning them combined.
func (e *Engine) CloseAllPositions(ctx context.Context, strategy string) error {
	positions, err := e.store.Positions(strategy)
	if err != nil {
		return err
	}
	var errs error
	for _, pos := range positions {
		if _, err := e.ClosePosition(ctx, pos.Strategy, pos.Instrument); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s/%s: %w", pos.Strategy, pos.Instrument, err))
		}
	}
	return errs
}

// EmergencyStop liquidates everything the broker reports and then engages
// the kill switch. Positions are closed independently so one failure cannot
// strand the rest; the switch is activated regardless of close outcomes.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) error {
	logger.Warnf("EMERGENCY STOP: %s", reason)
	start := time.Now()

	var errs error
	positions, err := e.venue.ListPositions(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list positions: %w", err))
	}
	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		side := broker.SideSell
		qty := pos.Quantity
		if qty < 0 {
			side = broker.SideBuy
			qty = -qty
		}
		payload := broker.OrderPayload{
			Symbol:        pos.Symbol,
			Side:          side,
			Type:          broker.TypeMarket,
			Quantity:      qty,
			TimeInForce:   broker.TIFDay,
			ClientOrderID: e.builder.ClientOrderID("estop", pos.Symbol),
			ReduceOnly:    true,
		}
		if _, err := e.venue.SubmitOrder(ctx, payload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", pos.Symbol, err))
			continue
		}
		logger.Infof("emergency stop: closing %s qty=%v", pos.Symbol, qty)
	}

	e.gate.Activate("emergency stop: "+reason, "emergency-stop")

	status := audit.StatusCompleted
	errMsg := ""
	if errs != nil {
		status = audit.StatusFailed
		errMsg = errs.Error()
	}
	if aerr := e.life.log.Append(ctx, audit.Record{
		TxnID:     e.life.nextID(),
		Kind:      "emergency_stop",
		Status:    status,
		Error:     errMsg,
		ElapsedMS: time.Since(start).Milliseconds(),
	}); aerr != nil {
		logger.Warnf("emergency stop: audit append failed: %v", aerr)
	}
	return errs
}

// CancelOrder cancels at the broker and marks the ledger row.
func (e *Engine) CancelOrder(ctx context.Context, orderID, reason string) error {
	return e.life.Run(ctx, Txn{
		Kind: "cancel_order",
		Execute: func(ctx context.Context) (json.RawMessage, error) {
			if err := e.venue.CancelOrder(ctx, orderID); err != nil {
				return nil, err
			}
			note := "cancelled: " + reason
			if err := e.store.UpdateOrder(orderID, ledger.OrderUpdate{
				Status: string(broker.StatusCancelled),
				Notes:  &note,
			}); err != nil {
				// The broker cancel stands; an untracked order is not fatal.
				logger.Warnf("cancel order %s: ledger update failed: %v", orderID, err)
			}
			detail, _ := json.Marshal(map[string]string{"order_id": orderID, "reason": reason})
			return detail, nil
		},
	})
}

// Counters exposes lifecycle totals.
func (e *Engine) Counters() Counters { return e.life.Counters() }

// SystemStatus is the operational health snapshot.
type SystemStatus struct {
	KillSwitch      safety.State
	BrokerName      string
	BrokerReachable bool
	Transactions    Counters
	OpenOrders      int
	Positions       int
}

func (e *Engine) Status(ctx context.Context) SystemStatus {
	st := SystemStatus{
		KillSwitch:   e.gate.Status(),
		BrokerName:   e.venue.Name(),
		Transactions: e.life.Counters(),
	}
	if _, err := e.venue.GetAccount(ctx); err == nil {
		st.BrokerReachable = true
	}
	if open, err := e.store.OpenOrders(); err == nil {
		st.OpenOrders = len(open)
	}
	if positions, err := e.store.Positions(""); err == nil {
		st.Positions = len(positions)
	}
	return st
}
