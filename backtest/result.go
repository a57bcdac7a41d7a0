package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/backtest/exchange"
	"github.com/rustyeddy/backtest/market"
)

// Curve summarizes a per-bar series: first, last, lowest and highest
// observed values.
type Curve struct {
	Start float64
	End   float64
	Min   float64
	Max   float64
}

// Performance is the fractional change from Start to End.
func (c Curve) Performance() float64 {
	if c.Start == 0 {
		return 0
	}
	return (c.End - c.Start) / c.Start
}

func newCurve(values []float64) Curve {
	if len(values) == 0 {
		return Curve{}
	}
	c := Curve{
		Start: values[0],
		End:   values[len(values)-1],
		Min:   values[0],
		Max:   values[0],
	}
	for _, v := range values[1:] {
		if v < c.Min {
			c.Min = v
		}
		if v > c.Max {
			c.Max = v
		}
	}
	return c
}

// Metrics are the aggregate trade and equity statistics of a run.
type Metrics struct {
	// MaxDrawdown is the largest peak-to-trough decline of the equity
	// curve, as a positive fraction of the peak.
	MaxDrawdown float64

	Trades  int
	WinRate float64
	AvgWin  float64
	AvgLoss float64

	// ExcessReturn is the equity performance minus the buy-and-hold
	// performance of the asset over the same window.
	ExcessReturn float64
}

// Summary describes the run itself.
type Summary struct {
	Symbol   string
	Interval market.Interval
	Candles  int
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// Result is the full outcome of a backtest: the run summary, aggregate
// metrics, the asset/cash/equity curves, every closed trade, the per-step
// records and the captured faults.
type Result struct {
	Backtest   Summary
	Indicators Metrics

	Asset  Curve
	Cash   Curve
	Equity Curve

	Trades []*exchange.Position
	Steps  []Step
	Errors []StepError
}

func newResult(opts Options, start, end time.Time, steps []Step, duration time.Duration) *Result {
	res := &Result{
		Backtest: Summary{
			Symbol:   opts.Symbol,
			Interval: opts.Interval,
			Candles:  len(steps),
			Start:    start,
			End:      end,
			Duration: duration,
		},
		Steps: steps,
	}

	var assets, cashes, equities []float64
	for _, s := range steps {
		assets = append(assets, s.Candle.Close)
		if s.Err != nil {
			res.Errors = append(res.Errors, *s.Err)
		}
		// A faulted step may carry no snapshot; the curves skip it.
		if s.State.Time.IsZero() {
			continue
		}
		cashes = append(cashes, s.State.Cash)
		equities = append(equities, s.State.Equity)
		res.Trades = append(res.Trades, s.Closed...)
	}

	res.Asset = newCurve(assets)
	res.Cash = newCurve(cashes)
	res.Equity = newCurve(equities)

	res.Indicators = Metrics{
		MaxDrawdown:  maxDrawdown(equities),
		ExcessReturn: res.Equity.Performance() - res.Asset.Performance(),
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, p := range res.Trades {
		pnl, ok := p.PnL()
		if !ok {
			continue
		}
		if pnl > 0 {
			wins++
			winSum += pnl
		} else {
			losses++
			lossSum += pnl
		}
	}
	res.Indicators.Trades = len(res.Trades)
	if len(res.Trades) > 0 {
		res.Indicators.WinRate = float64(wins) / float64(len(res.Trades))
	}
	if wins > 0 {
		res.Indicators.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		res.Indicators.AvgLoss = lossSum / float64(losses)
	}
	return res
}

// maxDrawdown walks the equity series tracking the running peak and the
// deepest fractional decline from it.
func maxDrawdown(equities []float64) float64 {
	var peak, worst float64
	for _, eq := range equities {
		if eq > peak {
			peak = eq
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - eq) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// String renders a human-readable report.
func (r *Result) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Backtest %s %s  %s -> %s  (%d candles in %s)\n",
		r.Backtest.Symbol, r.Backtest.Interval,
		r.Backtest.Start.Format("2006-01-02"), r.Backtest.End.Format("2006-01-02"),
		r.Backtest.Candles, r.Backtest.Duration.Round(time.Millisecond))

	fmt.Fprintf(&b, "  Asset   %12.2f -> %-12.2f min %.2f max %.2f  (%+.2f%%)\n",
		r.Asset.Start, r.Asset.End, r.Asset.Min, r.Asset.Max, r.Asset.Performance()*100)
	fmt.Fprintf(&b, "  Cash    %12.2f -> %-12.2f min %.2f max %.2f  (%+.2f%%)\n",
		r.Cash.Start, r.Cash.End, r.Cash.Min, r.Cash.Max, r.Cash.Performance()*100)
	fmt.Fprintf(&b, "  Equity  %12.2f -> %-12.2f min %.2f max %.2f  (%+.2f%%)\n",
		r.Equity.Start, r.Equity.End, r.Equity.Min, r.Equity.Max, r.Equity.Performance()*100)

	fmt.Fprintf(&b, "  Trades %d  win rate %.1f%%  avg win %.2f  avg loss %.2f\n",
		r.Indicators.Trades, r.Indicators.WinRate*100,
		r.Indicators.AvgWin, r.Indicators.AvgLoss)
	fmt.Fprintf(&b, "  Max drawdown -%.2f%%  excess return %+.2f%%\n",
		r.Indicators.MaxDrawdown*100, r.Indicators.ExcessReturn*100)

	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "  Errors (%d):\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "    %s  %s\n", e.Time.Format("2006-01-02 15:04"), e.Message)
		}
	}
	return b.String()
}
