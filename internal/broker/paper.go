package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"talon/internal/logger"
)

// Paper is an in-memory venue used for dry runs and tests. Fills are
// simulated: market orders (and limit orders when FillImmediately is set)
// fill at the marked price in full, everything else rests open.
type Paper struct {
	mu              sync.Mutex
	fillImmediately bool
	orders          map[string]*Order
	byClientID      map[string]string
	positions       map[string]*Position
	prices          map[string]float64
	cash            float64
	submitCalls     int
	nextSubmitErr   error
}

func NewPaper(fillImmediately bool) *Paper {
	return &Paper{
		fillImmediately: fillImmediately,
		orders:          make(map[string]*Order),
		byClientID:      make(map[string]string),
		positions:       make(map[string]*Position),
		prices:          make(map[string]float64),
		cash:            100_000,
	}
}

func (p *Paper) Name() string { return "paper" }

// SetPrice marks a symbol for fill simulation.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// FailNextSubmit makes the next SubmitOrder return err, then clears it.
func (p *Paper) FailNextSubmit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSubmitErr = err
}

func (p *Paper) SubmitCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitCalls
}

func (p *Paper) SubmitOrder(_ context.Context, payload OrderPayload) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitCalls++

	if err := p.nextSubmitErr; err != nil {
		p.nextSubmitErr = nil
		return Order{}, err
	}

	// Idempotent replay: a token already seen returns the original order.
	if id, ok := p.byClientID[payload.ClientOrderID]; ok && payload.ClientOrderID != "" {
		return *p.orders[id], nil
	}

	now := time.Now().UTC()
	o := &Order{
		ID:            uuid.NewString(),
		ClientOrderID: payload.ClientOrderID,
		Symbol:        payload.Symbol,
		Side:          payload.Side,
		Type:          payload.Type,
		Quantity:      payload.Quantity,
		LimitPrice:    payload.LimitPrice,
		Status:        StatusNew,
		SubmittedAt:   now,
	}
	p.orders[o.ID] = o
	if o.ClientOrderID != "" {
		p.byClientID[o.ClientOrderID] = o.ID
	}

	if payload.Type == TypeMarket || p.fillImmediately {
		p.fill(o, now)
	} else {
		o.Status = StatusAccepted
	}
	logger.Debugf("paper: submitted %s %s %s qty=%v status=%s", o.Side, o.Type, o.Symbol, o.Quantity, o.Status)
	return *o, nil
}

func (p *Paper) fill(o *Order, at time.Time) {
	price := p.prices[o.Symbol]
	if price == 0 && o.LimitPrice != nil {
		price = *o.LimitPrice
	}
	if price == 0 {
		price = 100
	}
	o.Status = StatusFilled
	o.FilledQuantity = o.Quantity
	o.FilledAvgPrice = &price
	t := at
	o.FilledAt = &t

	pos := p.positions[o.Symbol]
	if pos == nil {
		pos = &Position{Symbol: o.Symbol}
		p.positions[o.Symbol] = pos
	}
	signed := o.Quantity
	if o.Side == SideSell {
		signed = -signed
	}
	next := pos.Quantity + signed
	if signed > 0 && next != 0 {
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*signed) / next
	}
	pos.Quantity = next
	p.cash -= signed * price
	if pos.Quantity == 0 {
		delete(p.positions, o.Symbol)
	}
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return &Error{Op: "cancel order", StatusCode: 422, Message: "order is not cancelable"}
	}
	o.Status = StatusCancelled
	t := time.Now().UTC()
	o.CanceledAt = &t
	return nil
}

func (p *Paper) ListOrders(_ context.Context, filter StatusFilter) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Order
	for _, o := range p.orders {
		switch filter {
		case FilterOpen:
			if o.Status.Terminal() {
				continue
			}
		case FilterClosed:
			if !o.Status.Terminal() {
				continue
			}
		}
		out = append(out, *o)
	}
	return out, nil
}

func (p *Paper) ListPositions(_ context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (p *Paper) GetAccount(_ context.Context) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.cash
	for _, pos := range p.positions {
		equity += pos.Quantity * p.prices[pos.Symbol]
	}
	return Account{
		ID:             "paper",
		Status:         "ACTIVE",
		Cash:           p.cash,
		BuyingPower:    p.cash,
		Equity:         equity,
		PortfolioValue: equity,
	}, nil
}

// InjectPosition seeds broker-side state directly, bypassing order flow.
func (p *Paper) InjectPosition(symbol string, qty, avgPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty == 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = &Position{Symbol: symbol, Quantity: qty, AvgEntryPrice: avgPrice}
}

// InjectOrder seeds broker-side order state directly.
func (p *Paper) InjectOrder(o Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := o
	p.orders[o.ID] = &cp
	if o.ClientOrderID != "" {
		p.byClientID[o.ClientOrderID] = o.ID
	}
}
