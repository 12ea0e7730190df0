package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"talon/internal/pkg/circuit"
)

// Broker is the execution venue. Implementations must treat ClientOrderID as
// an idempotency token and must surface wash-trade rejections through Error
// so callers can apply their fallback path.
type Broker interface {
	Name() string
	SubmitOrder(ctx context.Context, payload OrderPayload) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, filter StatusFilter) ([]Order, error)
	ListPositions(ctx context.Context) ([]Position, error)
	GetAccount(ctx context.Context) (Account, error)
}

// ErrOrderNotFound is returned when the broker has no order for the given id.
var ErrOrderNotFound = errors.New("broker: order not found")

// Error is a failure reported by the venue itself, as opposed to a transport
// failure reaching it. StatusCode is the HTTP status where applicable.
type Error struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("broker: %s failed: [%d] %s (http %d)", e.Op, e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("broker: %s failed: %s (http %d)", e.Op, e.Message, e.StatusCode)
}

// IsWashTrade reports whether the venue rejected the order for self-matching.
// Alpaca phrases this "potential wash trade detected"; binance uses
// "self trade prevention".
func IsWashTrade(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	msg := strings.ToLower(be.Message)
	return strings.Contains(msg, "wash trade") || strings.Contains(msg, "self trade")
}

// IsRetryable reports whether the failure is plausibly transient: network
// errors, an open circuit, 429 or 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuit.ErrOpen) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var be *Error
	if errors.As(err, &be) {
		return be.StatusCode == 429 || be.StatusCode >= 500
	}
	return false
}
