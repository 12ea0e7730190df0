package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperMarketOrderFills(t *testing.T) {
	p := NewPaper(false)
	p.SetPrice("AAPL", 172.0)

	o, err := p.SubmitOrder(context.Background(), OrderPayload{
		Symbol:        "AAPL",
		Side:          SideBuy,
		Type:          TypeMarket,
		Quantity:      10,
		TimeInForce:   TIFDay,
		ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, 10.0, o.FilledQuantity)
	require.NotNil(t, o.FilledAvgPrice)
	assert.Equal(t, 172.0, *o.FilledAvgPrice)

	positions, err := p.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, 10.0, positions[0].Quantity)
	assert.Equal(t, 172.0, positions[0].AvgEntryPrice)
}

func TestPaperSubmitIdempotentOnClientOrderID(t *testing.T) {
	p := NewPaper(false)
	p.SetPrice("AAPL", 100)

	payload := OrderPayload{
		Symbol: "AAPL", Side: SideBuy, Type: TypeMarket,
		Quantity: 5, ClientOrderID: "dup-token",
	}
	first, err := p.SubmitOrder(context.Background(), payload)
	require.NoError(t, err)
	second, err := p.SubmitOrder(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	positions, _ := p.ListPositions(context.Background())
	require.Len(t, positions, 1)
	assert.Equal(t, 5.0, positions[0].Quantity)
}

func TestPaperSellClosesPosition(t *testing.T) {
	p := NewPaper(false)
	p.SetPrice("BTC/USD", 50_000)
	p.InjectPosition("BTC/USD", 2, 48_000)

	_, err := p.SubmitOrder(context.Background(), OrderPayload{
		Symbol: "BTC/USD", Side: SideSell, Type: TypeMarket, Quantity: 2,
	})
	require.NoError(t, err)

	positions, err := p.ListPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperLimitOrderRestsOpen(t *testing.T) {
	p := NewPaper(false)
	limit := 150.0
	o, err := p.SubmitOrder(context.Background(), OrderPayload{
		Symbol: "AAPL", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, o.Status)

	open, err := p.ListOrders(context.Background(), FilterOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, p.CancelOrder(context.Background(), o.ID))
	open, _ = p.ListOrders(context.Background(), FilterOpen)
	assert.Empty(t, open)
	closed, _ := p.ListOrders(context.Background(), FilterClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, StatusCancelled, closed[0].Status)
}

func TestPaperCancelTerminalOrder(t *testing.T) {
	p := NewPaper(true)
	o, err := p.SubmitOrder(context.Background(), OrderPayload{
		Symbol: "AAPL", Side: SideBuy, Type: TypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	require.Equal(t, StatusFilled, o.Status)

	err = p.CancelOrder(context.Background(), o.ID)
	require.Error(t, err)
	assert.ErrorIs(t, p.CancelOrder(context.Background(), "missing"), ErrOrderNotFound)
}
