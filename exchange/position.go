package exchange

import (
	"fmt"
	"time"

	"github.com/rustyeddy/backtest/internal/id"
	"github.com/rustyeddy/backtest/market"
)

// PositionSide: +1 long, -1 short.
type PositionSide int8

const (
	Long  PositionSide = +1
	Short PositionSide = -1
)

func (s PositionSide) String() string {
	if s == Long {
		return "long"
	}
	return "short"
}

// OrderSide returns the order side that opened the position.
func (s PositionSide) OrderSide() OrderSide {
	if s == Long {
		return Buy
	}
	return Sell
}

type PositionStatus int8

const (
	Open PositionStatus = iota
	Closed
)

func (s PositionStatus) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Position aggregates the executed orders of one symbol into a single
// exposure. Fills on the position's side are entries, opposite fills are
// exits. All derived figures (quantity, prices, fee, PnL) come from the
// fills; the position closes when quantity reaches zero and never reopens.
type Position struct {
	ID       string
	Symbol   string
	Side     PositionSide
	Leverage float64

	StopLoss   *float64
	TakeProfit *float64

	fills []*Order
}

// newPosition opens a position from a filled entry order. The order's
// leverage and stop/take prices carry over.
func newPosition(o *Order) (*Position, error) {
	p := &Position{
		ID:         id.New(),
		Symbol:     o.Symbol,
		Side:       o.PositionSide(),
		Leverage:   o.Leverage,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
	}
	if err := p.addFill(o); err != nil {
		return nil, err
	}
	return p, nil
}

// addFill appends an executed order. The order must be filled, match the
// symbol and the position's fixed leverage, and carry positive quantity.
func (p *Position) addFill(o *Order) error {
	if o.Status != Filled {
		return fmt.Errorf("add fill to position %s: order status %s, want filled", p.ID, o.Status)
	}
	if o.Symbol != p.Symbol {
		return fmt.Errorf("add fill to position %s: symbol %q does not match %q", p.ID, o.Symbol, p.Symbol)
	}
	if o.ExecutedPrice <= 0 || o.ExecutedTime.IsZero() {
		return fmt.Errorf("add fill to position %s: order %s missing execution fields", p.ID, o.ID)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("add fill to position %s: invalid quantity %v", p.ID, o.Quantity)
	}
	if o.Leverage != p.Leverage {
		return fmt.Errorf("add fill to position %s: leverage %v does not match position leverage %v",
			p.ID, o.Leverage, p.Leverage)
	}
	if o.PositionSide() != p.Side && o.Quantity > p.Quantity() {
		return fmt.Errorf("add fill to position %s: exit quantity %v exceeds open quantity %v: %w",
			p.ID, o.Quantity, p.Quantity(), ErrExcessiveQuantity)
	}

	p.fills = append(p.fills, o)
	return nil
}

// Fills returns all executed orders in execution order.
func (p *Position) Fills() []*Order {
	out := make([]*Order, len(p.fills))
	copy(out, p.fills)
	return out
}

// EntryFills are executed orders on the position's own side.
func (p *Position) EntryFills() []*Order {
	var out []*Order
	for _, o := range p.fills {
		if o.PositionSide() == p.Side {
			out = append(out, o)
		}
	}
	return out
}

// ExitFills are executed orders opposite to the position's side.
func (p *Position) ExitFills() []*Order {
	var out []*Order
	for _, o := range p.fills {
		if o.PositionSide() != p.Side {
			out = append(out, o)
		}
	}
	return out
}

// Quantity is the remaining open quantity: entries minus exits.
func (p *Position) Quantity() float64 {
	q := 0.0
	for _, o := range p.fills {
		if o.PositionSide() == p.Side {
			q += o.Quantity
		} else {
			q -= o.Quantity
		}
	}
	return q
}

func (p *Position) Status() PositionStatus {
	if p.Quantity() <= 0 {
		return Closed
	}
	return Open
}

func (p *Position) IsOpen() bool   { return p.Status() == Open }
func (p *Position) IsClosed() bool { return p.Status() == Closed }

// EntryPrice is the quantity-weighted average price of the entry fills.
func (p *Position) EntryPrice() float64 {
	sum, qty := 0.0, 0.0
	for _, o := range p.EntryFills() {
		sum += o.ExecutedPrice * o.Quantity
		qty += o.Quantity
	}
	if qty == 0 {
		return 0
	}
	return sum / qty
}

// ExitPrice is the quantity-weighted average price of the exit fills.
// It is undefined (ok=false) until the first exit fill.
func (p *Position) ExitPrice() (float64, bool) {
	sum, qty := 0.0, 0.0
	for _, o := range p.ExitFills() {
		sum += o.ExecutedPrice * o.Quantity
		qty += o.Quantity
	}
	if qty == 0 {
		return 0, false
	}
	return sum / qty, true
}

// Fee is the sum of all executed fees.
func (p *Position) Fee() float64 {
	f := 0.0
	for _, o := range p.fills {
		f += o.ExecutedFee
	}
	return f
}

// EntryTime is the execution time of the most recent entry fill.
func (p *Position) EntryTime() time.Time {
	var t time.Time
	for _, o := range p.EntryFills() {
		if o.ExecutedTime.After(t) {
			t = o.ExecutedTime
		}
	}
	return t
}

// ExitTime is the execution time of the most recent exit fill, if any.
func (p *Position) ExitTime() (time.Time, bool) {
	var t time.Time
	for _, o := range p.ExitFills() {
		if o.ExecutedTime.After(t) {
			t = o.ExecutedTime
		}
	}
	return t, !t.IsZero()
}

// PnL is the realized profit and loss over the exited quantity, scaled by
// leverage. Undefined (ok=false) until the first exit fill.
func (p *Position) PnL() (float64, bool) {
	exit, ok := p.ExitPrice()
	if !ok {
		return 0, false
	}

	exitQty := 0.0
	for _, o := range p.ExitFills() {
		exitQty += o.Quantity
	}

	return (exit - p.EntryPrice()) * float64(p.Side) * exitQty * p.Leverage, true
}

// UnrealizedPnL marks the open quantity against the given price.
func (p *Position) UnrealizedPnL(markPrice float64) float64 {
	return (markPrice - p.EntryPrice()) * float64(p.Side) * p.Quantity()
}

// Value is the mark-to-market value of the open quantity: entry value plus
// leveraged unrealized PnL.
func (p *Position) Value(markPrice float64) float64 {
	entryValue := p.Quantity() * p.EntryPrice()
	return entryValue + p.UnrealizedPnL(markPrice)*p.Leverage
}

// StopLossHit reports whether the candle's range reached the stop price on
// the losing side of the position.
func (p *Position) StopLossHit(c market.Candle) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Side == Long {
		return *p.StopLoss >= c.Low
	}
	return *p.StopLoss <= c.High
}

// TakeProfitHit reports whether the candle's range reached the take price
// on the winning side of the position.
func (p *Position) TakeProfitHit(c market.Candle) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Side == Long {
		return *p.TakeProfit <= c.High
	}
	return *p.TakeProfit >= c.Low
}
