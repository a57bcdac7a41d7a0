package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backtest/market"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// dailyCandles builds one bar per close with a +-5 range around it.
func dailyCandles(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Time:     base.AddDate(0, 0, i),
			Interval: market.Day1,
			Open:     c,
			High:     c + 5,
			Low:      c - 5,
			Close:    c,
			Volume:   1000,
		}
	}
	return out
}

func newTestExchange(t *testing.T, cash float64, candles []market.Candle) *Exchange {
	t.Helper()

	ex := New(Options{
		FeeRate:         0.001,
		Leverage:        1,
		MarginCallRatio: 0.30,
		Slippage:        None(),
	})
	require.NoError(t, ex.Init(candles, cash))
	ex.Connect()
	return ex
}

func TestExchangeInitValidation(t *testing.T) {
	t.Parallel()

	ex := New(Options{Slippage: None()})
	assert.Error(t, ex.Init(nil, 10_000))
	assert.Error(t, ex.Init(dailyCandles(100), 0))
	assert.NoError(t, ex.Init(dailyCandles(100), 10_000))
	assert.InDelta(t, 10_000.0, ex.Margin(), 1e-9)
}

func TestExchangeMarketOrderRoundTrip(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100, 110)
	ex := newTestExchange(t, 10_000, candles)

	require.Empty(t, ex.OnCandle(candles[0], "BTC_USDT"))

	state, err := ex.Apply("BTC_USDT", GoLong(NewLong("BTC_USDT", 10)))
	require.NoError(t, err)
	assert.InDelta(t, 8999.0, state.Cash, 1e-9, "debit is price*qty plus fee")
	assert.Equal(t, 1, state.OpenPositions)
	assert.Equal(t, 0, state.PendingOrders)
	assert.InDelta(t, 9999.0, state.Equity, 1e-9)

	require.Empty(t, ex.OnCandle(candles[1], "BTC_USDT"))

	state, err = ex.Apply("BTC_USDT", ClosePosition(nil))
	require.NoError(t, err)
	require.NotNil(t, state.Closed)

	pnl, ok := state.Closed.PnL()
	require.True(t, ok)
	assert.InDelta(t, 100.0, pnl, 1e-9)

	// Credit is notional plus PnL, net of the exit fee.
	assert.InDelta(t, 8999.0+110*10+100-1.1, state.Cash, 1e-9)
	assert.Equal(t, 0, state.OpenPositions)
	assert.Nil(t, ex.Position("BTC_USDT"))
	assert.Len(t, ex.ClosedPositions(), 1)
}

func TestExchangeInsufficientMarginIsRecoverable(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100)
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	state, err := ex.Apply("BTC_USDT", GoLong(NewLong("BTC_USDT", 200)))
	assert.ErrorIs(t, err, ErrInsufficientMargin)

	// Every ledger untouched and the snapshot still valid.
	assert.InDelta(t, 10_000.0, state.Cash, 1e-9)
	assert.Equal(t, 0, state.OpenPositions)
	assert.Empty(t, ex.AllOrders())
}

func TestExchangeLimitOrderMatching(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100, 100, 100)
	candles[1].Low = 96
	candles[2].Low = 94
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	o := NewLong("BTC_USDT", 10)
	o.Price = ptr(95.0)
	o.InferType(100)
	require.Equal(t, Limit, o.Type)

	state, err := ex.Apply("BTC_USDT", GoLong(o))
	require.NoError(t, err)
	assert.Equal(t, 1, state.PendingOrders)
	assert.InDelta(t, 10_000.0, state.Cash, 1e-9, "pending orders do not move cash")

	require.Empty(t, ex.OnCandle(candles[1], "BTC_USDT"), "low of 96 must not fill a 95 limit")
	assert.Equal(t, Pending, o.Status)

	require.Empty(t, ex.OnCandle(candles[2], "BTC_USDT"), "entry fills do not close positions")
	assert.Equal(t, Filled, o.Status)
	assert.InDelta(t, 95.0, o.ExecutedPrice, 1e-9, "limit orders fill at their limit price")

	p := ex.Position("BTC_USDT")
	require.NotNil(t, p)
	assert.InDelta(t, 95.0, p.EntryPrice(), 1e-9)
	assert.InDelta(t, 10_000.0-95*10-0.95, ex.Margin(), 1e-9)
}

func TestExchangeStopLossLiquidation(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100, 95)
	candles[1].Low = 89
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	o := NewLong("BTC_USDT", 10)
	o.StopLoss = ptr(90.0)
	_, err := ex.Apply("BTC_USDT", GoLong(o))
	require.NoError(t, err)

	closed := ex.OnCandle(candles[1], "BTC_USDT")
	require.Len(t, closed, 1)
	assert.True(t, closed[0].IsClosed())

	exit, ok := closed[0].ExitPrice()
	require.True(t, ok)
	assert.InDelta(t, 90.0, exit, 1e-9, "stop liquidates at the stop price, not the close")

	assert.InDelta(t, 8999.0+90*10-100-0.9, ex.Margin(), 1e-9)
}

func TestExchangeTakeProfitLiquidation(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100, 115)
	candles[1].High = 121
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	o := NewLong("BTC_USDT", 10)
	o.TakeProfit = ptr(120.0)
	_, err := ex.Apply("BTC_USDT", GoLong(o))
	require.NoError(t, err)

	closed := ex.OnCandle(candles[1], "BTC_USDT")
	require.Len(t, closed, 1)

	exit, ok := closed[0].ExitPrice()
	require.True(t, ok)
	assert.InDelta(t, 120.0, exit, 1e-9)
	assert.InDelta(t, 8999.0+120*10+200-1.2, ex.Margin(), 1e-9)
}

func TestExchangeMarginCall(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(1000, 200)
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	_, err := ex.Apply("BTC_USDT", GoLong(NewLong("BTC_USDT", 9)))
	require.NoError(t, err)
	assert.InDelta(t, 991.0, ex.Margin(), 1e-9)

	// Position value 1800 plus margin 991 is under the 3000 call level.
	closed := ex.OnCandle(candles[1], "BTC_USDT")
	require.Len(t, closed, 1)
	assert.True(t, closed[0].IsClosed())
	assert.Nil(t, ex.Position("BTC_USDT"))

	// The leveraged loss exceeds the remaining margin; the account is wiped.
	assert.Equal(t, 0.0, ex.Margin())
	assert.Equal(t, 0.0, ex.Equity())
}

func TestExchangeReducingFillKeepsPositionOpen(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100, 110)
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	_, err := ex.Apply("BTC_USDT", GoLong(NewLong("BTC_USDT", 10)))
	require.NoError(t, err)

	ex.OnCandle(candles[1], "BTC_USDT")

	state, err := ex.Apply("BTC_USDT", GoShort(NewShort("BTC_USDT", 4)))
	require.NoError(t, err)
	assert.Nil(t, state.Closed)
	assert.Equal(t, 1, state.OpenPositions)

	p := ex.Position("BTC_USDT")
	require.NotNil(t, p)
	assert.InDelta(t, 6.0, p.Quantity(), 1e-9)
	assert.InDelta(t, 8999.0+110*4+40-0.44, state.Cash, 1e-9)
}

func TestExchangeOversizedExitIsRecoverable(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100)
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	_, err := ex.Apply("BTC_USDT", GoLong(NewLong("BTC_USDT", 10)))
	require.NoError(t, err)

	state, err := ex.Apply("BTC_USDT", GoShort(NewShort("BTC_USDT", 25)))
	assert.ErrorIs(t, err, ErrExcessiveQuantity)

	// The reject happens before execution: no fill recorded, no cash moved,
	// the position keeps its full quantity.
	assert.InDelta(t, 8999.0, state.Cash, 1e-9)
	assert.Equal(t, 1, state.OpenPositions)
	assert.Len(t, ex.AllOrders(), 1)

	p := ex.Position("BTC_USDT")
	require.NotNil(t, p)
	assert.True(t, p.IsOpen())
	assert.InDelta(t, 10.0, p.Quantity(), 1e-9)

	// Exiting exactly the open quantity is still a full close.
	state, err = ex.Apply("BTC_USDT", GoShort(NewShort("BTC_USDT", 10)))
	require.NoError(t, err)
	require.NotNil(t, state.Closed)
	assert.InDelta(t, 0.0, state.Closed.Quantity(), 1e-9)
}

func TestExchangeCancelAndUpdateDecisions(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100, 100)
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	o := NewLong("BTC_USDT", 10)
	o.Price = ptr(90.0)
	o.InferType(100)
	_, err := ex.Apply("BTC_USDT", GoLong(o))
	require.NoError(t, err)

	state, err := ex.Apply("BTC_USDT", CancelOrders(o))
	require.NoError(t, err)
	assert.Equal(t, 0, state.PendingOrders)
	assert.Equal(t, Cancelled, o.Status)

	_, err = ex.Apply("BTC_USDT", GoLong(NewLong("BTC_USDT", 10)))
	require.NoError(t, err)

	_, err = ex.Apply("BTC_USDT", UpdatePosition(func(p *Position) {
		p.StopLoss = ptr(95.0)
	}))
	require.NoError(t, err)
	require.NotNil(t, ex.Position("BTC_USDT").StopLoss)
	assert.InDelta(t, 95.0, *ex.Position("BTC_USDT").StopLoss, 1e-9)
}

func TestExchangeCandleHistoryExcludesCurrent(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100, 101, 102)
	ex := newTestExchange(t, 10_000, candles)

	assert.Len(t, ex.Candles("BTC_USDT"), 3, "full set before the first bar")

	ex.OnCandle(candles[0], "BTC_USDT")
	assert.Empty(t, ex.Candles("BTC_USDT"))

	ex.OnCandle(candles[2], "BTC_USDT")
	assert.Len(t, ex.Candles("BTC_USDT"), 2)
	assert.InDelta(t, 102.0, ex.MarkPrice("BTC_USDT"), 1e-9)
}

func TestExchangeClosePositionWithNoneOpen(t *testing.T) {
	t.Parallel()

	candles := dailyCandles(100)
	ex := newTestExchange(t, 10_000, candles)
	ex.OnCandle(candles[0], "BTC_USDT")

	_, err := ex.Apply("BTC_USDT", ClosePosition(nil))
	assert.Error(t, err)
}
