package strategies

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/backtest/exchange"
	"github.com/rustyeddy/backtest/strategy"
)

// Config carries the parameters shared by the built-in strategies.
type Config struct {
	Symbol   string
	Quantity float64

	// EMA cross parameters
	FastPeriod int
	SlowPeriod int

	// Protective prices as fractions of the entry mark price (0 disables).
	StopPct float64
	TakePct float64
}

// ByName resolves a built-in strategy.
func ByName(name string, cfg Config) (strategy.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wait", "noop", "none":
		return Wait{}, nil

	case "ema-cross", "emacross":
		return NewEMACross(cfg), nil

	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: wait, ema-cross)", name)
	}
}

// Wait is the do-nothing strategy; useful for dry runs and tests.
type Wait struct{}

func (Wait) Name() string { return "wait" }

func (Wait) Decide(strategy.View) exchange.Decision {
	return exchange.Wait("idle")
}
