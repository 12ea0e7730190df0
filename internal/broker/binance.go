package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"talon/internal/logger"
)

// Binance adapts the spot API to the Broker interface. Spot has no
// first-class position object, so holdings are synthesized from non-zero
// balances, and order history must be queried per symbol from the configured
// watchlist.
type Binance struct {
	client  *binance.Client
	symbols []string

	mu       sync.Mutex
	orderSym map[string]string // order id -> symbol, needed for cancels
}

func NewBinance(apiKey, apiSecret string, symbols []string) *Binance {
	return &Binance{
		client:   binance.NewClient(apiKey, apiSecret),
		symbols:  symbols,
		orderSym: make(map[string]string),
	}
}

func (b *Binance) Name() string { return "binance" }

func toBinanceSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ToUpper(s)
}

func (b *Binance) SubmitOrder(ctx context.Context, payload OrderPayload) (Order, error) {
	sym := toBinanceSymbol(payload.Symbol)
	svc := b.client.NewCreateOrderService().
		Symbol(sym).
		Side(binance.SideType(strings.ToUpper(string(payload.Side)))).
		Quantity(strconv.FormatFloat(payload.Quantity, 'f', -1, 64))
	if payload.ClientOrderID != "" {
		svc = svc.NewClientOrderID(payload.ClientOrderID)
	}

	switch payload.Type {
	case TypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	case TypeLimit:
		if payload.LimitPrice == nil {
			return Order{}, &Error{Op: "submit order", Message: "limit order without limit price"}
		}
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(*payload.LimitPrice, 'f', -1, 64))
	case TypeStop, TypeStopLimit:
		if payload.StopPrice == nil {
			return Order{}, &Error{Op: "submit order", Message: "stop order without stop price"}
		}
		svc = svc.Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			StopPrice(strconv.FormatFloat(*payload.StopPrice, 'f', -1, 64))
		limit := payload.StopPrice
		if payload.LimitPrice != nil {
			limit = payload.LimitPrice
		}
		svc = svc.Price(strconv.FormatFloat(*limit, 'f', -1, 64))
	default:
		return Order{}, &Error{Op: "submit order", Message: fmt.Sprintf("unsupported order type %q", payload.Type)}
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return Order{}, wrapBinanceError("submit order", err)
	}

	id := strconv.FormatInt(res.OrderID, 10)
	b.mu.Lock()
	b.orderSym[id] = sym
	b.mu.Unlock()

	o := Order{
		ID:             id,
		ClientOrderID:  res.ClientOrderID,
		Symbol:         payload.Symbol,
		Side:           payload.Side,
		Type:           payload.Type,
		Quantity:       payload.Quantity,
		FilledQuantity: parseFloat(res.ExecutedQuantity),
		Status:         binanceStatus(string(res.Status)),
		SubmittedAt:    time.UnixMilli(res.TransactTime).UTC(),
	}
	if o.Status == StatusFilled {
		t := o.SubmittedAt
		o.FilledAt = &t
		if avg := fillAvgPrice(res.Fills); avg > 0 {
			o.FilledAvgPrice = &avg
		}
	}
	return o, nil
}

func (b *Binance) CancelOrder(ctx context.Context, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return ErrOrderNotFound
	}
	sym, err := b.symbolFor(ctx, orderID)
	if err != nil {
		return err
	}
	_, err = b.client.NewCancelOrderService().Symbol(sym).OrderID(id).Do(ctx)
	if err != nil {
		return wrapBinanceError("cancel order", err)
	}
	return nil
}

func (b *Binance) symbolFor(ctx context.Context, orderID string) (string, error) {
	b.mu.Lock()
	sym, ok := b.orderSym[orderID]
	b.mu.Unlock()
	if ok {
		return sym, nil
	}
	// Not submitted through this process: scan open orders.
	open, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return "", wrapBinanceError("lookup order", err)
	}
	for _, o := range open {
		if strconv.FormatInt(o.OrderID, 10) == orderID {
			return o.Symbol, nil
		}
	}
	return "", ErrOrderNotFound
}

func (b *Binance) ListOrders(ctx context.Context, filter StatusFilter) ([]Order, error) {
	if filter == FilterOpen || filter == "" {
		open, err := b.client.NewListOpenOrdersService().Do(ctx)
		if err != nil {
			return nil, wrapBinanceError("list open orders", err)
		}
		return b.convertOrders(open), nil
	}

	var out []Order
	for _, sym := range b.symbols {
		orders, err := b.client.NewListOrdersService().Symbol(toBinanceSymbol(sym)).Do(ctx)
		if err != nil {
			return nil, wrapBinanceError("list orders "+sym, err)
		}
		for _, o := range b.convertOrders(orders) {
			if filter == FilterClosed && !o.Status.Terminal() {
				continue
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func (b *Binance) convertOrders(in []*binance.Order) []Order {
	out := make([]Order, 0, len(in))
	for _, o := range in {
		id := strconv.FormatInt(o.OrderID, 10)
		b.mu.Lock()
		b.orderSym[id] = o.Symbol
		b.mu.Unlock()

		conv := Order{
			ID:             id,
			ClientOrderID:  o.ClientOrderID,
			Symbol:         o.Symbol,
			Side:           OrderSide(strings.ToLower(string(o.Side))),
			Type:           binanceOrderType(o.Type),
			Quantity:       parseFloat(o.OrigQuantity),
			FilledQuantity: parseFloat(o.ExecutedQuantity),
			Status:         binanceStatus(string(o.Status)),
			SubmittedAt:    time.UnixMilli(o.Time).UTC(),
		}
		if p := parseFloat(o.Price); p > 0 {
			conv.LimitPrice = &p
		}
		if conv.Status == StatusFilled && o.UpdateTime > 0 {
			t := time.UnixMilli(o.UpdateTime).UTC()
			conv.FilledAt = &t
			if qty := parseFloat(o.ExecutedQuantity); qty > 0 {
				avg := parseFloat(o.CummulativeQuoteQuantity) / qty
				conv.FilledAvgPrice = &avg
			}
		}
		out = append(out, conv)
	}
	return out
}

func (b *Binance) ListPositions(ctx context.Context) ([]Position, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrapBinanceError("list positions", err)
	}
	var out []Position
	for _, bal := range acct.Balances {
		qty := parseFloat(bal.Free) + parseFloat(bal.Locked)
		if qty == 0 || isQuoteAsset(bal.Asset) {
			continue
		}
		out = append(out, Position{Symbol: bal.Asset, Quantity: qty})
	}
	return out, nil
}

func (b *Binance) GetAccount(ctx context.Context) (Account, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return Account{}, wrapBinanceError("get account", err)
	}
	var cash float64
	for _, bal := range acct.Balances {
		if isQuoteAsset(bal.Asset) {
			cash += parseFloat(bal.Free)
		}
	}
	status := "ACTIVE"
	if !acct.CanTrade {
		status = "TRADING_DISABLED"
	}
	return Account{ID: "binance", Status: status, Cash: cash, BuyingPower: cash}, nil
}

func isQuoteAsset(asset string) bool {
	switch asset {
	case "USDT", "USDC", "BUSD", "USD":
		return true
	}
	return false
}

func binanceStatus(s string) OrderStatus {
	return NormalizeStatus(strings.ToLower(s))
}

func binanceOrderType(t binance.OrderType) OrderType {
	switch t {
	case binance.OrderTypeMarket:
		return TypeMarket
	case binance.OrderTypeLimit, binance.OrderTypeLimitMaker:
		return TypeLimit
	case binance.OrderTypeStopLoss, binance.OrderTypeTakeProfit:
		return TypeStop
	case binance.OrderTypeStopLossLimit, binance.OrderTypeTakeProfitLimit:
		return TypeStopLimit
	default:
		return OrderType(strings.ToLower(string(t)))
	}
}

func fillAvgPrice(fills []*binance.Fill) float64 {
	var qty, notional float64
	for _, f := range fills {
		q := parseFloat(f.Quantity)
		qty += q
		notional += q * parseFloat(f.Price)
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func wrapBinanceError(op string, err error) error {
	if apiErr, ok := err.(*common.APIError); ok {
		logger.Warnf("broker: binance %s: [%d] %s", op, apiErr.Code, apiErr.Message)
		return &Error{Op: op, Code: int(apiErr.Code), Message: apiErr.Message}
	}
	return fmt.Errorf("broker: binance %s: %w", op, err)
}
