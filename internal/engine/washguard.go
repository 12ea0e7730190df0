package engine

import (
	"context"

	"talon/internal/broker"
	"talon/internal/logger"
)

// WashGuard submits orders with self-match protection. Open orders on the
// opposite side of the same symbol are cancelled first (best effort), and a
// wash-trade rejection falls back once to a plain order with the exit legs
// stripped.
type WashGuard struct {
	venue   broker.Broker
	regenID func(strategy, symbol string) string
}

func NewWashGuard(venue broker.Broker, regenID func(strategy, symbol string) string) *WashGuard {
	return &WashGuard{venue: venue, regenID: regenID}
}

// Submit places the payload after clearing opposing open orders. Cancel
// failures are logged and ignored: the venue's own rejection is the real
// backstop, and this pass only reduces how often it triggers.
func (g *WashGuard) Submit(ctx context.Context, payload broker.OrderPayload) (broker.Order, error) {
	g.cancelOpposing(ctx, payload.Symbol, payload.Side.Opposite())

	order, err := g.venue.SubmitOrder(ctx, payload)
	if err == nil || !broker.IsWashTrade(err) {
		return order, err
	}

	logger.Warnf("wash trade rejection for %s %s, retrying as simple order", payload.Side, payload.Symbol)
	retry := payload
	retry.OrderClass = broker.ClassSimple
	retry.TakeProfit = nil
	retry.StopLoss = nil
	if g.regenID != nil {
		// Fresh token: the rejected submission may have consumed the old one.
		retry.ClientOrderID = g.regenID(payload.StrategyTag, payload.Symbol)
	}
	return g.venue.SubmitOrder(ctx, retry)
}

func (g *WashGuard) cancelOpposing(ctx context.Context, symbol string, side broker.OrderSide) {
	open, err := g.venue.ListOrders(ctx, broker.FilterOpen)
	if err != nil {
		logger.Warnf("wash guard: listing open orders failed: %v", err)
		return
	}
	for _, o := range open {
		if o.Symbol != symbol || o.Side != side {
			continue
		}
		if err := g.venue.CancelOrder(ctx, o.ID); err != nil {
			logger.Warnf("wash guard: cancel opposing order %s failed: %v", o.ID, err)
			continue
		}
		logger.Infof("wash guard: cancelled opposing %s order %s on %s", o.Side, o.ID, symbol)
	}
}
