package broker

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	TypeMarket    OrderType = "market"
	TypeLimit     OrderType = "limit"
	TypeStop      OrderType = "stop"
	TypeStopLimit OrderType = "stop_limit"
)

type OrderClass string

const (
	ClassSimple  OrderClass = "simple"
	ClassBracket OrderClass = "bracket"
	ClassOTO     OrderClass = "oto"
	ClassOCO     OrderClass = "oco"
)

type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Terminal reports whether no further broker-side transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// NormalizeStatus folds broker spelling variants into the canonical set.
func NormalizeStatus(raw string) OrderStatus {
	switch raw {
	case "canceled", "cancelled", "done_for_day", "suspended", "stopped":
		return StatusCancelled
	case "new", "pending_new", "accepted_for_bidding":
		return StatusNew
	case "accepted", "pending_cancel", "pending_replace", "replaced", "calculated":
		return StatusAccepted
	case "partially_filled":
		return StatusPartiallyFilled
	case "filled":
		return StatusFilled
	case "rejected":
		return StatusRejected
	case "expired":
		return StatusExpired
	default:
		return OrderStatus(raw)
	}
}

// StatusFilter selects which orders ListOrders returns.
type StatusFilter string

const (
	FilterOpen   StatusFilter = "open"
	FilterClosed StatusFilter = "closed"
	FilterAll    StatusFilter = "all"
)

// TakeProfitLeg is the contingent exit above (buy) or below (sell) entry.
type TakeProfitLeg struct {
	LimitPrice float64
}

// StopLossLeg is the protective exit. LimitPrice is optional; when present
// it must be >= StopPrice.
type StopLossLeg struct {
	StopPrice  float64
	LimitPrice *float64
}

// OrderPayload is the single broker submission produced by the order
// builder. ClientOrderID is the idempotency token: the broker performs at
// most one logical submission per token.
type OrderPayload struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	TimeInForce   TimeInForce
	LimitPrice    *float64
	StopPrice     *float64
	ClientOrderID string
	OrderClass    OrderClass
	TakeProfit    *TakeProfitLeg
	StopLoss      *StopLossLeg
	ReduceOnly    bool
	StrategyTag   string
}

// Order is the broker's view of an order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       float64
	FilledQuantity float64
	LimitPrice     *float64
	FilledAvgPrice *float64
	Status         OrderStatus
	SubmittedAt    time.Time
	FilledAt       *time.Time
	CanceledAt     *time.Time
}

// Position is the broker's authoritative holding. Quantity is signed.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
}

type Account struct {
	ID             string
	Status         string
	Cash           float64
	BuyingPower    float64
	Equity         float64
	PortfolioValue float64
}
