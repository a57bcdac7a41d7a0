package strategies

import (
	"time"

	"github.com/rustyeddy/backtest/exchange"
	"github.com/rustyeddy/backtest/indicators"
	"github.com/rustyeddy/backtest/market"
	"github.com/rustyeddy/backtest/strategy"
)

// EMACross trades a single symbol on a fast/slow EMA crossover:
//   - enters long on a bull cross, short on a bear cross
//   - closes an open position on the opposite cross
//   - optional stop-loss/take-profit as fractions of the entry price
//
// Warm-up candles arrive through the view's history and prime the EMAs
// before the first scored bar.
type EMACross struct {
	strategy.Base
	cfg Config

	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA

	lastDiff     float64
	haveLastDiff bool
	lastFed      time.Time

	bull bool
	bear bool
}

// NewEMACross builds the crossover rules wrapped in the standard decision
// flow.
func NewEMACross(cfg Config) strategy.Flow {
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = 10
	}
	if cfg.SlowPeriod <= 0 {
		cfg.SlowPeriod = 30
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = 1
	}
	return strategy.NewFlow(&EMACross{
		cfg:  cfg,
		fast: indicators.NewEMA(cfg.FastPeriod),
		slow: indicators.NewEMA(cfg.SlowPeriod),
	})
}

func (s *EMACross) Name() string { return "ema-cross" }

// Before feeds every candle not yet seen, history first, then the current
// bar, and records whether this bar produced a cross.
func (s *EMACross) Before(v strategy.View) {
	s.bull, s.bear = false, false

	for _, c := range v.Candles {
		if c.Time.After(s.lastFed) {
			s.feed(c)
		}
	}
	if v.Candle.Time.After(s.lastFed) {
		s.feed(v.Candle)
	}
}

func (s *EMACross) feed(c market.Candle) {
	s.lastFed = c.Time
	s.fast.Update(c)
	s.slow.Update(c)

	if !s.fast.Ready() || !s.slow.Ready() {
		return
	}

	diff := s.fast.Value() - s.slow.Value()
	if s.haveLastDiff {
		s.bull = diff > 0 && s.lastDiff <= 0
		s.bear = diff < 0 && s.lastDiff >= 0
	}
	s.lastDiff = diff
	s.haveLastDiff = true
}

func (s *EMACross) ShouldClosePosition(v strategy.View, p *exchange.Position) bool {
	if p.Side == exchange.Long {
		return s.bear
	}
	return s.bull
}

func (s *EMACross) ShouldCancelOrders(v strategy.View, orders []*exchange.Order) bool {
	// A cross in either direction invalidates resting entries.
	return s.bull || s.bear
}

func (s *EMACross) ShouldLong(v strategy.View) (*exchange.Order, bool) {
	if !s.bull {
		return nil, false
	}
	o := exchange.NewLong(s.cfg.Symbol, s.cfg.Quantity)
	o.Leverage = v.Leverage
	s.protect(o, v.MarkPrice, exchange.Long)
	return o, true
}

func (s *EMACross) ShouldShort(v strategy.View) (*exchange.Order, bool) {
	if !s.bear {
		return nil, false
	}
	o := exchange.NewShort(s.cfg.Symbol, s.cfg.Quantity)
	o.Leverage = v.Leverage
	s.protect(o, v.MarkPrice, exchange.Short)
	return o, true
}

func (s *EMACross) protect(o *exchange.Order, mark float64, side exchange.PositionSide) {
	dir := float64(side)
	if s.cfg.StopPct > 0 {
		stop := mark * (1 - dir*s.cfg.StopPct)
		o.StopLoss = &stop
	}
	if s.cfg.TakePct > 0 {
		take := mark * (1 + dir*s.cfg.TakePct)
		o.TakeProfit = &take
	}
}
