package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backtest/exchange"
	"github.com/rustyeddy/backtest/journal"
	"github.com/rustyeddy/backtest/market"
	"github.com/rustyeddy/backtest/strategy"
)

// memFeed serves candles from memory.
type memFeed struct {
	candles []market.Candle
}

func (f *memFeed) Candles(ctx context.Context, from, to time.Time) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range f.candles {
		if !c.Time.Before(from) && !c.Time.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// scripted turns a function into a strategy.
type scripted struct {
	decide func(v strategy.View) exchange.Decision
	calls  int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Decide(v strategy.View) exchange.Decision {
	s.calls++
	return s.decide(v)
}

type testJournal struct {
	positions []journal.PositionRecord
	steps     []journal.StepRecord
}

func (j *testJournal) RecordPosition(r journal.PositionRecord) error {
	j.positions = append(j.positions, r)
	return nil
}

func (j *testJournal) RecordStep(r journal.StepRecord) error {
	j.steps = append(j.steps, r)
	return nil
}

func (j *testJournal) Close() error { return nil }

func testCandles(closes ...float64) []market.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Time:     t0.AddDate(0, 0, i),
			Interval: market.Day1,
			Open:     c, High: c + 1, Low: c - 1, Close: c,
			Volume: 1000,
		}
	}
	return out
}

func testOptions(candles []market.Candle) Options {
	return Options{
		InitialCash:     10_000,
		Symbol:          "BTC_USDT",
		Interval:        market.Day1,
		Start:           candles[0].Time,
		End:             candles[len(candles)-1].Time,
		FeeRate:         0.001,
		Leverage:        1,
		MarginCallRatio: 0.30,
		Slippage:        exchange.None(),
	}
}

func TestEngineRunValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := New(nil, &scripted{}, Options{}).Run(ctx)
	assert.EqualError(t, err, "backtest: Feed is required")

	_, err = New(&memFeed{}, nil, Options{}).Run(ctx)
	assert.EqualError(t, err, "backtest: Strategy is required")

	candles := testCandles(100)
	e := New(&memFeed{}, &scripted{decide: func(strategy.View) exchange.Decision {
		return exchange.Wait("idle")
	}}, testOptions(candles))
	_, err = e.Run(ctx)
	assert.ErrorContains(t, err, "no candles")
}

func TestEngineRunTradeRoundTrip(t *testing.T) {
	t.Parallel()

	candles := testCandles(100, 105, 110)

	opened := false
	strat := &scripted{decide: func(v strategy.View) exchange.Decision {
		if p := v.Position; p != nil && p.IsOpen() {
			if v.Candle.Close >= 110 {
				return exchange.ClosePosition(p)
			}
			return exchange.Wait("holding")
		}
		if !opened {
			opened = true
			return exchange.GoLong(exchange.NewLong(v.Symbol, 10))
		}
		return exchange.Wait("done")
	}}

	j := &testJournal{}
	e := New(&memFeed{candles: candles}, strat, testOptions(candles))
	e.Journal = j

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Backtest.Candles)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, exchange.DecideGoLong, res.Steps[0].Decision)
	assert.Equal(t, exchange.DecideWait, res.Steps[1].Decision)
	assert.Equal(t, exchange.DecideClosePosition, res.Steps[2].Decision)
	assert.Empty(t, res.Errors)

	require.Len(t, res.Trades, 1)
	pnl, ok := res.Trades[0].PnL()
	require.True(t, ok)
	assert.InDelta(t, 100.0, pnl, 1e-9)

	assert.Equal(t, 1, res.Indicators.Trades)
	assert.InDelta(t, 1.0, res.Indicators.WinRate, 1e-9)
	assert.InDelta(t, 100.0, res.Indicators.AvgWin, 1e-9)
	assert.InDelta(t, 0.0, res.Indicators.MaxDrawdown, 1e-9)

	// Entry debit 1001 at 100, exit credit 1100+100-1.1 at 110.
	assert.InDelta(t, 10_000-1001+1198.9, res.Cash.End, 1e-9)
	assert.InDelta(t, res.Cash.End, res.Equity.End, 1e-9, "flat at the end, equity equals cash")

	assert.Len(t, j.steps, 3)
	require.Len(t, j.positions, 1)
	assert.Equal(t, "long", j.positions[0].Side)
	assert.InDelta(t, 100.0, j.positions[0].PnL, 1e-9)
}

func TestEngineIsolatesStrategyFaults(t *testing.T) {
	t.Parallel()

	candles := testCandles(100, 101, 102, 103, 104, 105, 106, 107)

	strat := &scripted{decide: func(v strategy.View) exchange.Decision {
		return exchange.Wait("idle")
	}}
	inner := strat.decide
	strat.decide = func(v strategy.View) exchange.Decision {
		if strat.calls == 5 {
			panic("strategy bug")
		}
		return inner(v)
	}

	e := New(&memFeed{candles: candles}, strat, testOptions(candles))
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Steps, 8, "a faulting bar must not stop the run")
	assert.Equal(t, 8, strat.calls)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "strategy bug")

	assert.Equal(t, exchange.DecideError, res.Steps[4].Decision)
	require.NotNil(t, res.Steps[4].Err)
	assert.Equal(t, exchange.DecideWait, res.Steps[5].Decision)
}

func TestEngineRejectedDecisionBecomesErrorStep(t *testing.T) {
	t.Parallel()

	candles := testCandles(100, 101)

	strat := &scripted{decide: func(v strategy.View) exchange.Decision {
		if v.Position == nil {
			return exchange.GoLong(exchange.NewLong(v.Symbol, 1_000))
		}
		return exchange.Wait("idle")
	}}

	e := New(&memFeed{candles: candles}, strat, testOptions(candles))
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Steps, 2)
	assert.Len(t, res.Errors, 2, "the unaffordable entry is retried and rejected each bar")
	assert.Contains(t, res.Errors[0].Message, "insufficient")
	assert.Equal(t, 0, res.Indicators.Trades)
	assert.InDelta(t, 10_000.0, res.Cash.End, 1e-9)
}

func TestEngineWarmUpExcludedFromScoring(t *testing.T) {
	t.Parallel()

	candles := testCandles(100, 101, 102, 103, 104, 105, 106, 107, 108, 109)

	var firstHistory int
	first := true
	strat := &scripted{decide: func(v strategy.View) exchange.Decision {
		if first {
			first = false
			firstHistory = len(v.Candles)
		}
		return exchange.Wait("idle")
	}}

	opts := testOptions(candles)
	opts.Start = candles[2].Time
	opts.WarmUpCandles = 2

	e := New(&memFeed{candles: candles}, strat, opts)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, res.Backtest.Candles, "warm-up bars are fetched but not scored")
	assert.Equal(t, 8, strat.calls)
	assert.Equal(t, 2, firstHistory, "warm-up history visible to the strategy on the first bar")
	assert.InDelta(t, 102.0, res.Asset.Start, 1e-9)
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions("BTC_USDT")
	assert.Equal(t, "BTC_USDT", opts.Symbol)
	assert.InDelta(t, 10_000.0, opts.InitialCash, 1e-9)
	assert.Equal(t, market.Day1, opts.Interval)
	assert.Equal(t, 200, opts.WarmUpCandles)
}
