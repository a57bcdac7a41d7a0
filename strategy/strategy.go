// Package strategy defines the contract between the backtest engine and a
// trading strategy: a read-only per-bar view of the exchange in, exactly
// one decision out.
package strategy

import (
	"fmt"

	"github.com/rustyeddy/backtest/exchange"
	"github.com/rustyeddy/backtest/market"
)

// View is the exchange state made available to the strategy each bar,
// refreshed after bar intake. It is read-only: strategies observe and
// construct decisions, they never mutate the exchange.
type View struct {
	Symbol  string
	Candle  market.Candle
	Candles []market.Candle

	Position *exchange.Position
	Orders   []*exchange.Order

	Margin    float64
	FeeRate   float64
	Leverage  float64
	MarkPrice float64
}

// Strategy produces one decision per bar.
type Strategy interface {
	Name() string
	Decide(v View) exchange.Decision
}

// Rules are the hooks a strategy implements under the published decision
// flow. Embed Base to pick only the ones that matter.
type Rules interface {
	Name() string

	// Before runs once per bar ahead of the decision hooks, typically to
	// feed indicators.
	Before(v View)

	// With an open position: close, adjust, or wait.
	ShouldClosePosition(v View, p *exchange.Position) bool
	ShouldUpdatePosition(v View, p *exchange.Position) (func(*exchange.Position), bool)

	// With pending orders: cancel or wait.
	ShouldCancelOrders(v View, orders []*exchange.Order) bool

	// Flat: go long, go short, or wait. The returned order is placed as-is.
	ShouldLong(v View) (*exchange.Order, bool)
	ShouldShort(v View) (*exchange.Order, bool)
}

// Base provides no-op defaults for every rule hook.
type Base struct{}

func (Base) Before(View)                                       {}
func (Base) ShouldClosePosition(View, *exchange.Position) bool { return false }
func (Base) ShouldUpdatePosition(View, *exchange.Position) (func(*exchange.Position), bool) {
	return nil, false
}
func (Base) ShouldCancelOrders(View, []*exchange.Order) bool { return false }
func (Base) ShouldLong(View) (*exchange.Order, bool)         { return nil, false }
func (Base) ShouldShort(View) (*exchange.Order, bool)        { return nil, false }

// Flow drives a Rules implementation through the published decision flow:
// position open -> close/adjust/wait; orders pending -> cancel/wait;
// otherwise -> long/short/wait. A panic inside the rules is captured as an
// Error decision and never reaches the orchestrator.
type Flow struct {
	Rules Rules
}

func NewFlow(r Rules) Flow { return Flow{Rules: r} }

func (f Flow) Name() string { return f.Rules.Name() }

func (f Flow) Decide(v View) (d exchange.Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = exchange.Fault(fmt.Errorf("strategy %s: %v", f.Rules.Name(), r))
		}
	}()

	f.Rules.Before(v)

	if p := v.Position; p != nil && p.IsOpen() {
		if f.Rules.ShouldClosePosition(v, p) {
			return exchange.ClosePosition(p)
		}
		if mutate, ok := f.Rules.ShouldUpdatePosition(v, p); ok {
			return exchange.UpdatePosition(mutate)
		}
		return exchange.Wait("holding position")
	}

	if pending := pendingOf(v.Orders); len(pending) > 0 {
		if f.Rules.ShouldCancelOrders(v, pending) {
			return exchange.CancelOrders(pending...)
		}
		return exchange.Wait("orders working")
	}

	if o, ok := f.Rules.ShouldLong(v); ok {
		o.InferType(v.MarkPrice)
		return exchange.GoLong(o)
	}
	if o, ok := f.Rules.ShouldShort(v); ok {
		o.InferType(v.MarkPrice)
		return exchange.GoShort(o)
	}
	return exchange.Wait("no signal")
}

func pendingOf(orders []*exchange.Order) []*exchange.Order {
	var out []*exchange.Order
	for _, o := range orders {
		if o.Status == exchange.Pending {
			out = append(out, o)
		}
	}
	return out
}
