package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"talon/internal/logger"
	"talon/internal/pkg/circuit"
)

// REST talks to an Alpaca-compatible trading API. All calls go through a
// circuit breaker so a flapping venue fails fast instead of piling up
// timeouts.
type REST struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	breaker   *circuit.Breaker
}

type RESTOptions struct {
	BaseURL          string
	APIKey           string
	APISecret        string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func NewREST(opts RESTOptions) *REST {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &REST{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		client:    &http.Client{Timeout: timeout},
		breaker:   circuit.NewBreaker("broker-rest", opts.BreakerThreshold, opts.BreakerCooldown),
	}
}

func (r *REST) Name() string { return "rest" }

func (r *REST) SubmitOrder(ctx context.Context, payload OrderPayload) (Order, error) {
	body := map[string]any{
		"symbol":        payload.Symbol,
		"qty":           fmt.Sprintf("%v", payload.Quantity),
		"side":          string(payload.Side),
		"type":          string(payload.Type),
		"time_in_force": string(payload.TimeInForce),
	}
	if payload.ClientOrderID != "" {
		body["client_order_id"] = payload.ClientOrderID
	}
	if payload.LimitPrice != nil {
		body["limit_price"] = fmt.Sprintf("%v", *payload.LimitPrice)
	}
	if payload.StopPrice != nil {
		body["stop_price"] = fmt.Sprintf("%v", *payload.StopPrice)
	}
	if payload.OrderClass != "" && payload.OrderClass != ClassSimple {
		body["order_class"] = string(payload.OrderClass)
	}
	if payload.TakeProfit != nil {
		body["take_profit"] = map[string]any{"limit_price": fmt.Sprintf("%v", payload.TakeProfit.LimitPrice)}
	}
	if payload.StopLoss != nil {
		sl := map[string]any{"stop_price": fmt.Sprintf("%v", payload.StopLoss.StopPrice)}
		if payload.StopLoss.LimitPrice != nil {
			sl["limit_price"] = fmt.Sprintf("%v", *payload.StopLoss.LimitPrice)
		}
		body["stop_loss"] = sl
	}
	if payload.ReduceOnly {
		body["reduce_only"] = true
	}

	raw, err := r.do(ctx, http.MethodPost, "/v2/orders", body)
	if err != nil {
		return Order{}, err
	}
	return parseOrder(raw), nil
}

func (r *REST) CancelOrder(ctx context.Context, orderID string) error {
	_, err := r.do(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil)
	var be *Error
	if errors.As(err, &be) && be.StatusCode == 404 {
		return ErrOrderNotFound
	}
	return err
}

func (r *REST) ListOrders(ctx context.Context, filter StatusFilter) ([]Order, error) {
	if filter == "" {
		filter = FilterOpen
	}
	raw, err := r.do(ctx, http.MethodGet, "/v2/orders?status="+string(filter)+"&limit=500", nil)
	if err != nil {
		return nil, err
	}
	var out []Order
	gjson.ParseBytes(raw).ForEach(func(_, v gjson.Result) bool {
		out = append(out, parseOrder([]byte(v.Raw)))
		return true
	})
	return out, nil
}

func (r *REST) ListPositions(ctx context.Context) ([]Position, error) {
	raw, err := r.do(ctx, http.MethodGet, "/v2/positions", nil)
	if err != nil {
		return nil, err
	}
	var out []Position
	gjson.ParseBytes(raw).ForEach(func(_, v gjson.Result) bool {
		qty := v.Get("qty").Float()
		if v.Get("side").String() == "short" && qty > 0 {
			qty = -qty
		}
		out = append(out, Position{
			Symbol:        v.Get("symbol").String(),
			Quantity:      qty,
			AvgEntryPrice: v.Get("avg_entry_price").Float(),
		})
		return true
	})
	return out, nil
}

func (r *REST) GetAccount(ctx context.Context) (Account, error) {
	raw, err := r.do(ctx, http.MethodGet, "/v2/account", nil)
	if err != nil {
		return Account{}, err
	}
	v := gjson.ParseBytes(raw)
	return Account{
		ID:             v.Get("id").String(),
		Status:         v.Get("status").String(),
		Cash:           v.Get("cash").Float(),
		BuyingPower:    v.Get("buying_power").Float(),
		Equity:         v.Get("equity").Float(),
		PortfolioValue: v.Get("portfolio_value").Float(),
	}, nil
}

func (r *REST) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var out []byte
	err := r.breaker.Do(func() error {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("broker: encode %s %s: %w", method, path, err)
			}
			reader = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("APCA-API-KEY-ID", r.apiKey)
		req.Header.Set("APCA-API-SECRET-KEY", r.apiSecret)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("broker: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("broker: read %s %s: %w", method, path, err)
		}
		if resp.StatusCode >= 400 {
			v := gjson.ParseBytes(raw)
			msg := v.Get("message").String()
			if msg == "" {
				msg = strings.TrimSpace(string(raw))
			}
			logger.Warnf("broker: %s %s -> %d: %s", method, path, resp.StatusCode, msg)
			return &Error{
				Op:         method + " " + path,
				StatusCode: resp.StatusCode,
				Code:       int(v.Get("code").Int()),
				Message:    msg,
			}
		}
		out = raw
		return nil
	})
	return out, err
}

func parseOrder(raw []byte) Order {
	v := gjson.ParseBytes(raw)
	o := Order{
		ID:             v.Get("id").String(),
		ClientOrderID:  v.Get("client_order_id").String(),
		Symbol:         v.Get("symbol").String(),
		Side:           OrderSide(v.Get("side").String()),
		Type:           OrderType(v.Get("type").String()),
		Quantity:       v.Get("qty").Float(),
		FilledQuantity: v.Get("filled_qty").Float(),
		Status:         NormalizeStatus(v.Get("status").String()),
		SubmittedAt:    v.Get("submitted_at").Time(),
	}
	if lp := v.Get("limit_price"); lp.Exists() && lp.String() != "" {
		f := lp.Float()
		o.LimitPrice = &f
	}
	if ap := v.Get("filled_avg_price"); ap.Exists() && ap.String() != "" {
		f := ap.Float()
		o.FilledAvgPrice = &f
	}
	if fa := v.Get("filled_at"); fa.Exists() && fa.String() != "" {
		t := fa.Time()
		o.FilledAt = &t
	}
	if ca := v.Get("canceled_at"); ca.Exists() && ca.String() != "" {
		t := ca.Time()
		o.CanceledAt = &t
	}
	return o
}
