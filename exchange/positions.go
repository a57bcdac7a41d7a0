package exchange

import (
	"fmt"
	"time"
)

// positionBook is the position ledger. It holds at most one open position
// per symbol plus the full history of retired ones.
type positionBook struct {
	open map[string]*Position
	all  []*Position
}

func newPositionBook() *positionBook {
	return &positionBook{open: make(map[string]*Position)}
}

// Open creates a position from a filled entry order. Fails when the symbol
// already has one open.
func (b *positionBook) Open(o *Order) (*Position, error) {
	if _, exists := b.open[o.Symbol]; exists {
		return nil, fmt.Errorf("open position for %s: %w", o.Symbol, ErrPositionOpen)
	}

	p, err := newPosition(o)
	if err != nil {
		return nil, err
	}

	b.open[o.Symbol] = p
	b.all = append(b.all, p)
	return p, nil
}

// Apply routes a filled order into the ledger: it opens a position when the
// symbol has none, otherwise adds the fill to the open one. closed reports
// whether the fill took the position to zero and retired it.
func (b *positionBook) Apply(o *Order) (p *Position, closed bool, err error) {
	p, exists := b.open[o.Symbol]
	if !exists {
		p, err = b.Open(o)
		return p, false, err
	}

	if err := p.addFill(o); err != nil {
		return nil, false, err
	}
	if p.IsClosed() {
		delete(b.open, o.Symbol)
		return p, true, nil
	}
	return p, false, nil
}

// Liquidate closes the position at the given price and fee by synthesizing
// an opposite-side filled market order over the full remaining quantity and
// feeding it through the normal fill path. This is the single exit path for
// stop-loss, take-profit, margin-call and explicit closes. Calling it on a
// closed position is a caller bug.
func (b *positionBook) Liquidate(p *Position, t time.Time, price, fee float64) error {
	if p.IsClosed() {
		return fmt.Errorf("liquidate position %s: %w", p.ID, ErrPositionClosed)
	}

	o := NewOrder(p.Symbol, p.Side.OrderSide().Opposite(), p.Quantity())
	o.Leverage = p.Leverage
	o.Status = Filled
	o.ExecutedPrice = price
	o.ExecutedFee = fee
	o.ExecutedTime = t

	if err := p.addFill(o); err != nil {
		return fmt.Errorf("liquidate position %s: %w", p.ID, err)
	}
	if p.IsOpen() {
		return fmt.Errorf("liquidate position %s: still open after full exit fill", p.ID)
	}

	delete(b.open, p.Symbol)
	return nil
}

// Get returns the open position for the symbol, or nil.
func (b *positionBook) Get(symbol string) *Position { return b.open[symbol] }

// OpenPositions returns all currently open positions.
func (b *positionBook) OpenPositions() []*Position {
	var out []*Position
	for _, p := range b.all {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// ClosedPositions returns all retired positions in creation order.
func (b *positionBook) ClosedPositions() []*Position {
	var out []*Position
	for _, p := range b.all {
		if p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// History returns every position ever opened.
func (b *positionBook) History() []*Position {
	out := make([]*Position, len(b.all))
	copy(out, b.all)
	return out
}

// Update applies a mutation (stop/take prices in practice) to the symbol's
// open position. Returns the position, or nil when none is open.
func (b *positionBook) Update(symbol string, mutate func(*Position)) *Position {
	p, ok := b.open[symbol]
	if !ok {
		return nil
	}
	mutate(p)
	return p
}
