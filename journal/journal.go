// Package journal persists the audit trail of a backtest run: one record
// per closed position and one record per processed bar.
package journal

import (
	"time"

	"github.com/rustyeddy/backtest/exchange"
)

// PositionRecord is a flattened closed position.
type PositionRecord struct {
	PositionID string
	Symbol     string
	Side       string
	Quantity   float64
	Leverage   float64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	Fee        float64
	PnL        float64
}

// StepRecord is a flattened per-bar snapshot.
type StepRecord struct {
	Time          time.Time
	Decision      string
	Cash          float64
	Equity        float64
	MarkPrice     float64
	PendingOrders int
	OpenPositions int
	Error         string
}

type Journal interface {
	RecordPosition(PositionRecord) error
	RecordStep(StepRecord) error
	Close() error
}

// NewPositionRecord flattens a closed position. Exit fields stay zero for a
// position that somehow still has quantity.
func NewPositionRecord(p *exchange.Position) PositionRecord {
	r := PositionRecord{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side.String(),
		Leverage:   p.Leverage,
		EntryPrice: p.EntryPrice(),
		EntryTime:  p.EntryTime(),
		Fee:        p.Fee(),
	}
	for _, o := range p.ExitFills() {
		r.Quantity += o.Quantity
	}
	if exit, ok := p.ExitPrice(); ok {
		r.ExitPrice = exit
	}
	if t, ok := p.ExitTime(); ok {
		r.ExitTime = t
	}
	if pnl, ok := p.PnL(); ok {
		r.PnL = pnl
	}
	return r
}

func NewStepRecord(t time.Time, decision string, cash, equity, mark float64, pending, open int, errMsg string) StepRecord {
	return StepRecord{
		Time:          t,
		Decision:      decision,
		Cash:          cash,
		Equity:        equity,
		MarkPrice:     mark,
		PendingOrders: pending,
		OpenPositions: open,
		Error:         errMsg,
	}
}
