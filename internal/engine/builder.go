package engine

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"talon/internal/broker"
	"talon/internal/instrument"
)

// OrderIntent is the caller's description of a desired order, before asset
// class rules and bracket handling are applied.
type OrderIntent struct {
	Strategy    string
	Instrument  string
	Side        broker.OrderSide
	Quantity    float64
	Type        broker.OrderType
	LimitPrice  *float64
	StopPrice   *float64
	TakeProfit  *broker.TakeProfitLeg
	StopLoss    *broker.StopLossLeg
	TimeInForce broker.TimeInForce // optional override
}

// Builder turns intents into broker payloads. It owns the asset-class rules:
// crypto defaults to GTC and gets reduce-only sells, equities default to a
// day order.
type Builder struct {
	env      string
	patterns instrument.PatternTable
}

func NewBuilder(env string, patterns instrument.PatternTable) *Builder {
	if env == "" {
		env = "talon"
	}
	return &Builder{env: env, patterns: patterns}
}

func (b *Builder) Build(intent OrderIntent) (broker.OrderPayload, error) {
	if err := b.validate(intent); err != nil {
		return broker.OrderPayload{}, err
	}

	crypto := b.patterns.IsCrypto(intent.Instrument)
	tif := intent.TimeInForce
	if tif == "" {
		tif = broker.TIFDay
		if crypto {
			tif = broker.TIFGTC
		}
	}

	payload := broker.OrderPayload{
		Symbol:        instrument.Normalize(intent.Instrument),
		Side:          intent.Side,
		Type:          intent.Type,
		Quantity:      intent.Quantity,
		TimeInForce:   tif,
		LimitPrice:    intent.LimitPrice,
		StopPrice:     intent.StopPrice,
		TakeProfit:    intent.TakeProfit,
		StopLoss:      intent.StopLoss,
		ClientOrderID: b.ClientOrderID(intent.Strategy, intent.Instrument),
		StrategyTag:   intent.Strategy,
		ReduceOnly:    crypto && intent.Side == broker.SideSell,
	}

	// Both exit legs make a bracket, a single leg degrades to one-triggers-
	// other, no legs stays a plain order.
	switch {
	case intent.TakeProfit != nil && intent.StopLoss != nil:
		payload.OrderClass = broker.ClassBracket
	case intent.TakeProfit != nil || intent.StopLoss != nil:
		payload.OrderClass = broker.ClassOTO
	}

	return payload, nil
}

func (b *Builder) validate(intent OrderIntent) error {
	if intent.Instrument == "" {
		return &ValidationError{Field: "instrument", Message: "must not be empty"}
	}
	if intent.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if intent.Side != broker.SideBuy && intent.Side != broker.SideSell {
		return &ValidationError{Field: "side", Message: "must be buy or sell"}
	}
	switch intent.Type {
	case broker.TypeMarket:
	case broker.TypeLimit:
		if intent.LimitPrice == nil || *intent.LimitPrice <= 0 {
			return &ValidationError{Field: "limit_price", Message: "required for limit orders"}
		}
	case broker.TypeStop, broker.TypeStopLimit:
		if intent.StopPrice == nil || *intent.StopPrice <= 0 {
			return &ValidationError{Field: "stop_price", Message: "required for stop orders"}
		}
		if intent.Type == broker.TypeStopLimit && (intent.LimitPrice == nil || *intent.LimitPrice <= 0) {
			return &ValidationError{Field: "limit_price", Message: "required for stop-limit orders"}
		}
	default:
		return &ValidationError{Field: "type", Message: "unknown order type"}
	}

	if sl := intent.StopLoss; sl != nil {
		if sl.StopPrice <= 0 {
			return &ValidationError{Field: "stop_loss.stop_price", Message: "must be positive"}
		}
		if sl.LimitPrice != nil && *sl.LimitPrice < sl.StopPrice {
			return &ValidationError{Field: "stop_loss.limit_price", Message: "must be >= stop price"}
		}
	}
	if tp := intent.TakeProfit; tp != nil && tp.LimitPrice <= 0 {
		return &ValidationError{Field: "take_profit.limit_price", Message: "must be positive"}
	}

	// Bracket sanity: the profit leg has to be on the profitable side of the
	// stop, per direction.
	if intent.TakeProfit != nil && intent.StopLoss != nil {
		tp, sl := intent.TakeProfit.LimitPrice, intent.StopLoss.StopPrice
		if intent.Side == broker.SideBuy && tp <= sl {
			return &ValidationError{Field: "take_profit.limit_price", Message: "must be above stop loss for buys"}
		}
		if intent.Side == broker.SideSell && tp >= sl {
			return &ValidationError{Field: "take_profit.limit_price", Message: "must be below stop loss for sells"}
		}
	}
	return nil
}

var clientIDUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ClientOrderID builds the idempotency token:
// {env}-{strategy}-{SYMBOL}-{random}, each segment length-capped and
// sanitized so any venue accepts it.
func (b *Builder) ClientOrderID(strategy, symbol string) string {
	rand := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	parts := []string{
		truncate(b.env, 10),
		truncate(strategy, 16),
		truncate(strings.ToUpper(symbol), 12),
		rand,
	}
	return clientIDUnsafe.ReplaceAllString(strings.Join(parts, "-"), "-")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
