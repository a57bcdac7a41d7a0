// Package backtest replays historical candles against a strategy on a
// simulated exchange, producing a step-by-step audit trail and aggregate
// performance statistics.
package backtest

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rustyeddy/backtest/exchange"
	"github.com/rustyeddy/backtest/journal"
	"github.com/rustyeddy/backtest/market"
	"github.com/rustyeddy/backtest/strategy"
	"go.uber.org/zap"
)

// DataFeed supplies the ordered candles covering a closed time range.
// Implementations should be deterministic; the engine never mutates the
// returned slice.
type DataFeed interface {
	Candles(ctx context.Context, from, to time.Time) ([]market.Candle, error)
}

// Options configures a backtest run.
type Options struct {
	InitialCash   float64 // starting capital, default 10,000
	Symbol        string
	Interval      market.Interval
	Start         time.Time // zero: Jan 1 two years back
	End           time.Time // zero or future: clamped to now
	WarmUpCandles int       // bars fetched before Start to prime the strategy

	FeeRate         float64
	Leverage        float64
	MarginCallRatio float64
	MatchStops      bool

	// Slippage overrides the model built from SlippageBound/SlippageSeed.
	Slippage      exchange.Slippage
	SlippageBound float64
	SlippageSeed  int64
}

// DefaultOptions mirrors the historical defaults: 10k starting capital,
// daily candles, 200 warm-up bars.
func DefaultOptions(symbol string) Options {
	return Options{
		InitialCash:   10_000,
		Symbol:        symbol,
		Interval:      market.Day1,
		WarmUpCandles: 200,
	}
}

// Step is one bar's immutable audit record: the candle, the decision kind,
// the exchange snapshot after decision application, the positions closed
// during the step, and the captured error if the step faulted.
type Step struct {
	Candle   market.Candle
	Decision exchange.DecisionKind
	State    exchange.State
	Closed   []*exchange.Position
	Err      *StepError
}

// StepError is a captured per-step fault: the run continues, the error is
// surfaced in the report.
type StepError struct {
	Time    time.Time
	Message string
	Details string
}

// Engine drives the bar-by-bar loop: intake, strategy, decision
// application, step record. The loop is a strict sequential fold: each
// bar's visible exchange state depends on the previous bar's mutations, so
// bars are never processed concurrently.
type Engine struct {
	Feed     DataFeed
	Strategy strategy.Strategy
	Options  Options

	// Journal, when set, persists step and position records as the run
	// progresses.
	Journal journal.Journal
	Log     *zap.Logger

	ex *exchange.Exchange
}

func New(feed DataFeed, strat strategy.Strategy, opts Options) *Engine {
	return &Engine{
		Feed:     feed,
		Strategy: strat,
		Options:  opts,
	}
}

// Run executes the full backtest and aggregates the step records into a
// result. Per-step faults are isolated into error steps; Run itself fails
// only on setup problems (no data, bad options, feed errors).
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.Feed == nil {
		return nil, fmt.Errorf("backtest: Feed is required")
	}
	if e.Strategy == nil {
		return nil, fmt.Errorf("backtest: Strategy is required")
	}
	if e.Log == nil {
		e.Log = zap.NewNop()
	}

	opts := e.Options
	if opts.InitialCash <= 0 {
		opts.InitialCash = 10_000
	}
	if opts.Interval == 0 {
		opts.Interval = market.Day1
	}

	now := time.Now()
	start := opts.Start
	if start.IsZero() {
		start = time.Date(now.Year()-2, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	end := opts.End
	if end.IsZero() || end.After(now) {
		end = now
	}

	warmup := time.Duration(opts.WarmUpCandles) * opts.Interval.Duration()
	candles, err := e.Feed.Candles(ctx, start.Add(-warmup), end)
	if err != nil {
		return nil, fmt.Errorf("backtest: fetch candles: %w", err)
	}

	var trading []market.Candle
	for _, c := range candles {
		if !c.Time.Before(start) && !c.Time.After(end) {
			trading = append(trading, c)
		}
	}
	if len(trading) == 0 {
		return nil, fmt.Errorf("backtest: no candles between %s and %s", start, end)
	}

	slip := opts.Slippage
	if slip == nil {
		bound := opts.SlippageBound
		if bound == 0 {
			bound = exchange.DefaultSlippageBound
		}
		slip = exchange.Uniform(bound, opts.SlippageSeed)
	}

	e.ex = exchange.New(exchange.Options{
		FeeRate:         opts.FeeRate,
		Leverage:        opts.Leverage,
		MarginCallRatio: opts.MarginCallRatio,
		MatchStops:      opts.MatchStops,
		Slippage:        slip,
		Logger:          e.Log,
	})
	if err := e.ex.Init(candles, opts.InitialCash); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	e.ex.Connect()
	defer e.ex.Disconnect()

	e.Log.Info("backtest starting",
		zap.String("symbol", opts.Symbol),
		zap.Stringer("interval", opts.Interval),
		zap.Int("candles", len(trading)),
		zap.Float64("initial_cash", opts.InitialCash))

	began := time.Now()
	steps := make([]Step, 0, len(trading))
	for _, c := range trading {
		s := e.step(c)
		steps = append(steps, s)
		e.record(s)
	}
	duration := time.Since(began)

	res := newResult(opts, start, end, steps, duration)
	e.Log.Info("backtest finished",
		zap.Duration("duration", duration),
		zap.Int("trades", res.Indicators.Trades),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// step processes a single bar inside a fault boundary: any panic during
// intake, decision or application becomes an error step and the run moves
// on to the next bar.
func (e *Engine) step(c market.Candle) (s Step) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.Warn("step fault", zap.Time("bar", c.Time), zap.Any("panic", r))
			s = Step{
				Candle:   c,
				Decision: exchange.DecideError,
				Err: &StepError{
					Time:    c.Time,
					Message: fmt.Sprint(r),
					Details: string(debug.Stack()),
				},
			}
		}
	}()

	closed := e.ex.OnCandle(c, e.Options.Symbol)

	decision := e.Strategy.Decide(e.view(c))

	state, err := e.ex.Apply(e.Options.Symbol, decision)

	s = Step{
		Candle:   c,
		Decision: decision.Kind,
		State:    state,
		Closed:   closed,
	}
	if state.Closed != nil {
		s.Closed = append(s.Closed, state.Closed)
	}

	switch {
	case err != nil:
		s.Err = &StepError{Time: c.Time, Message: err.Error()}
		e.Log.Warn("decision rejected", zap.Time("bar", c.Time), zap.Error(err))
	case decision.Kind == exchange.DecideError && decision.Cause != nil:
		s.Err = &StepError{Time: c.Time, Message: decision.Cause.Error()}
		e.Log.Warn("strategy fault", zap.Time("bar", c.Time), zap.Error(decision.Cause))
	}
	return s
}

// view assembles the read-only exchange state handed to the strategy.
// These are independent read-only fetches; order among them is irrelevant.
func (e *Engine) view(c market.Candle) strategy.View {
	sym := e.Options.Symbol
	return strategy.View{
		Symbol:    sym,
		Candle:    c,
		Candles:   e.ex.Candles(sym),
		Position:  e.ex.Position(sym),
		Orders:    e.ex.Orders(sym),
		Margin:    e.ex.Margin(),
		FeeRate:   e.ex.FeeRate(sym),
		Leverage:  e.ex.Leverage(sym),
		MarkPrice: e.ex.MarkPrice(sym),
	}
}

func (e *Engine) record(s Step) {
	if e.Journal == nil {
		return
	}

	if err := e.Journal.RecordStep(journal.NewStepRecord(
		s.Candle.Time, s.Decision.String(),
		s.State.Cash, s.State.Equity, s.State.MarkPrice,
		s.State.PendingOrders, s.State.OpenPositions,
		errMessage(s.Err),
	)); err != nil {
		e.Log.Warn("journal step failed", zap.Error(err))
	}

	for _, p := range s.Closed {
		if err := e.Journal.RecordPosition(journal.NewPositionRecord(p)); err != nil {
			e.Log.Warn("journal position failed", zap.Error(err))
		}
	}
}

func errMessage(e *StepError) string {
	if e == nil {
		return ""
	}
	return e.Message
}
