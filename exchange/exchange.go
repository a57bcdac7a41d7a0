package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/backtest/market"
	"go.uber.org/zap"
)

// Options configures the simulated exchange.
type Options struct {
	FeeRate         float64  // taker fee fraction, default 0.001
	Leverage        float64  // fixed leverage quoted per symbol, default 1
	MarginCallRatio float64  // call level as fraction of initial cash, default 0.30
	MatchStops      bool     // whether pending stop orders participate in bar matching
	Slippage        Slippage // execution price perturbation, default Uniform
	Logger          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.FeeRate == 0 {
		o.FeeRate = 0.001
	}
	if o.Leverage == 0 {
		o.Leverage = 1
	}
	if o.MarginCallRatio == 0 {
		o.MarginCallRatio = 0.30
	}
	if o.Slippage == nil {
		o.Slippage = Uniform(DefaultSlippageBound, time.Now().UnixNano())
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// State is the exchange snapshot returned after each decision application.
type State struct {
	Time          time.Time
	Cash          float64
	MarkPrice     float64
	Equity        float64
	PendingOrders int
	OpenPositions int

	// Closed is the position closed by this decision, if any.
	Closed *Position
}

// Exchange is a deterministic in-process stand-in for a real exchange,
// driven entirely by bar data. It owns the order, position and cash
// ledgers; all coordination flows through its methods and no component
// holds a reference back to it.
type Exchange struct {
	mu   sync.Mutex
	opts Options

	orders    *orderBook
	positions *positionBook
	cash      *cashBook

	candles []market.Candle
	cur     market.Candle
	started bool

	connected bool
	log       *zap.Logger
}

func New(opts Options) *Exchange {
	opts = opts.withDefaults()
	return &Exchange{
		opts:      opts,
		orders:    newOrderBook(),
		positions: newPositionBook(),
		cash:      newCashBook(opts.MarginCallRatio),
		log:       opts.Logger,
	}
}

// Init hands the exchange its bar set and deposits the starting capital at
// the first bar.
func (e *Exchange) Init(candles []market.Candle, initialCash float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(candles) == 0 {
		return fmt.Errorf("exchange init: empty candle set")
	}
	if initialCash <= 0 {
		return fmt.Errorf("exchange init: invalid initial cash %v", initialCash)
	}

	e.candles = candles
	e.cash.Init(candles[0].Time, initialCash)
	return nil
}

// Connect and Disconnect are lifecycle only; there is no network.
func (e *Exchange) Connect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = true
}

func (e *Exchange) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
}

func (e *Exchange) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// CurrentCandle returns the bar the exchange last advanced to.
func (e *Exchange) CurrentCandle() market.Candle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

// Candles returns the bar history strictly before the current bar.
func (e *Exchange) Candles(symbol string) []market.Candle {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []market.Candle
	for _, c := range e.candles {
		if !e.started || c.Time.Before(e.cur.Time) {
			out = append(out, c)
		}
	}
	return out
}

// MarkPrice is the close of the current bar.
func (e *Exchange) MarkPrice(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur.Close
}

// MarkPriceWithSlippage perturbs the mark price through the slippage model.
func (e *Exchange) MarkPriceWithSlippage(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.Slippage.Apply(e.cur.Close)
}

func (e *Exchange) FeeRate(symbol string) float64  { return e.opts.FeeRate }
func (e *Exchange) Leverage(symbol string) float64 { return e.opts.Leverage }

// Fee computes the execution fee for a fill.
func (e *Exchange) Fee(symbol string, price, qty float64) float64 {
	f := price * qty * e.opts.FeeRate
	if f < 0 {
		f = -f
	}
	return f
}

// Margin is the current cash balance.
func (e *Exchange) Margin() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash.Margin()
}

// InitialCash returns the deposited starting capital.
func (e *Exchange) InitialCash() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash.Initial()
}

// CashCurve returns the append-only margin series.
func (e *Exchange) CashCurve() []CashEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash.Curve()
}

// Equity is margin plus the mark-to-market value of open positions.
func (e *Exchange) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equityLocked()
}

func (e *Exchange) equityLocked() float64 {
	eq := e.cash.Margin()
	for _, p := range e.positions.OpenPositions() {
		eq += p.Value(e.cur.Close)
	}
	return eq
}

// Orders returns all orders for the symbol.
func (e *Exchange) Orders(symbol string) []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.BySymbol(symbol)
}

// AllOrders returns every order ever placed.
func (e *Exchange) AllOrders() []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.All()
}

// PendingOrders returns the open orders for the symbol.
func (e *Exchange) PendingOrders(symbol string) []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Pending(symbol)
}

// PlaceOrder books a pending limit/stop order for later matching.
func (e *Exchange) PlaceOrder(o *Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Place(o)
}

// PlaceMarketOrder executes a market order at the given price:
// fee, affordability check, execution, position open/extend/reduce and cash
// settlement, all or nothing. An unaffordable entry returns
// ErrInsufficientMargin, an exit larger than the open quantity returns
// ErrExcessiveQuantity; either reject leaves every ledger untouched.
func (e *Exchange) PlaceMarketOrder(o *Order, price float64) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.Type != Market {
		return nil, fmt.Errorf("place market order: order type is %s", o.Type)
	}
	if o.Quantity <= 0 {
		return nil, fmt.Errorf("place market order: invalid quantity %v", o.Quantity)
	}
	if price <= 0 {
		return nil, fmt.Errorf("place market order: invalid execution price %v", price)
	}

	if err := e.affordLocked(o, price); err != nil {
		return nil, err
	}
	if err := e.orders.PlaceMarket(o, e.cur.Time, price, e.opts.FeeRate); err != nil {
		return nil, err
	}
	return e.settleFillLocked(o)
}

// affordLocked rejects entry fills whose cost exceeds the current margin
// and exit fills larger than the open quantity. Both checks run before the
// order book records an execution, so a reject leaves every ledger
// untouched.
func (e *Exchange) affordLocked(o *Order, price float64) error {
	existing := e.positions.Get(o.Symbol)
	if existing != nil && o.PositionSide() != existing.Side {
		// Reducing fills release cash, they never cost margin, but they
		// must not exit more than the position holds.
		if o.Quantity > existing.Quantity() {
			return fmt.Errorf("market order %s exits %v with %v open: %w",
				o.ID, o.Quantity, existing.Quantity(), ErrExcessiveQuantity)
		}
		return nil
	}

	cost := price*o.Quantity + e.Fee(o.Symbol, price, o.Quantity)
	if !e.cash.CanAfford(cost) {
		return fmt.Errorf("market order %s costs %v with margin %v: %w",
			o.ID, cost, e.cash.Margin(), ErrInsufficientMargin)
	}
	return nil
}

// settleFillLocked routes an executed order into the position ledger and
// applies the matching cash flow. Entry fills debit cost plus fee; exit
// fills credit notional plus leveraged realized PnL, net of fee.
func (e *Exchange) settleFillLocked(o *Order) (*Position, error) {
	existing := e.positions.Get(o.Symbol)
	entry := existing == nil || o.PositionSide() == existing.Side

	pos, closed, err := e.positions.Apply(o)
	if err != nil {
		return nil, err
	}

	price, qty := o.ExecutedPrice, o.Quantity
	if entry {
		if err := e.cash.Add(o.ExecutedTime, -(price*qty + o.ExecutedFee)); err != nil {
			return nil, err
		}
	} else {
		pnl := (price - pos.EntryPrice()) * float64(pos.Side) * qty * pos.Leverage
		e.cash.Settle(o.ExecutedTime, price*qty+pnl-o.ExecutedFee)
	}

	if closed {
		return pos, nil
	}
	return nil, nil
}

// CancelOrders cancels the named orders; already-terminal orders are
// untouched.
func (e *Exchange) CancelOrders(ids ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders.Cancel(ids...)
}

// CancelAllOrders cancels every pending order for the symbol.
func (e *Exchange) CancelAllOrders(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders.CancelAll(symbol)
}

// UpdateOrder mutates a pending order.
func (e *Exchange) UpdateOrder(id string, mutate func(*Order)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.Update(id, mutate)
}

// Position returns the open position for the symbol, or nil.
func (e *Exchange) Position(symbol string) *Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.Get(symbol)
}

// Positions returns every position ever opened.
func (e *Exchange) Positions() []*Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.History()
}

// ClosedPositions returns the retired positions in creation order.
func (e *Exchange) ClosedPositions() []*Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.ClosedPositions()
}

// UpdatePosition mutates the symbol's open position (stop/take prices in
// practice). No-op when none is open.
func (e *Exchange) UpdatePosition(symbol string, mutate func(*Position)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions.Update(symbol, mutate)
}

// ClosePosition liquidates the position at the given price and credits the
// proceeds: notional plus leveraged PnL, net of fee.
func (e *Exchange) ClosePosition(p *Position, price float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liquidateLocked(p, price)
}

func (e *Exchange) liquidateLocked(p *Position, price float64) error {
	qty := p.Quantity()
	fee := e.Fee(p.Symbol, price, qty)
	pnl := (price - p.EntryPrice()) * float64(p.Side) * qty * p.Leverage

	if err := e.positions.Liquidate(p, e.cur.Time, price, fee); err != nil {
		return err
	}

	e.cash.Settle(e.cur.Time, price*qty+pnl-fee)
	return nil
}

// OnCandle is phase one of the per-bar protocol, run before the strategy is
// consulted: advance the current bar, liquidate on an active margin call,
// otherwise check stop-loss/take-profit on the open position, then match
// and execute triggered pending orders. Returns the positions closed
// during intake.
func (e *Exchange) OnCandle(c market.Candle, symbol string) []*Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cur = c
	e.started = true

	var closed []*Position

	pos := e.positions.Get(symbol)
	posValue := 0.0
	if pos != nil {
		posValue = pos.Value(c.Close)
	}

	if e.cash.ShouldMarginCall(posValue, pos != nil) {
		// One symbol has at most one open position, so this loop runs at
		// most once; the loop shape mirrors the forced-liquidation sweep.
		for p := e.positions.Get(symbol); p != nil; p = e.positions.Get(symbol) {
			price := e.opts.Slippage.Apply(c.Close)
			if err := e.liquidateLocked(p, price); err != nil {
				e.log.Error("margin call liquidation failed", zap.String("position", p.ID), zap.Error(err))
				break
			}
			e.log.Warn("margin call",
				zap.String("position", p.ID),
				zap.Float64("price", price),
				zap.Float64("margin", e.cash.Margin()))
			closed = append(closed, p)
		}
		return closed
	}

	if pos != nil {
		switch {
		case pos.StopLossHit(c):
			if err := e.liquidateLocked(pos, *pos.StopLoss); err == nil {
				closed = append(closed, pos)
			}
		case pos.TakeProfitHit(c):
			if err := e.liquidateLocked(pos, *pos.TakeProfit); err == nil {
				closed = append(closed, pos)
			}
		}
	}

	for _, o := range e.orders.Match(c, e.opts.MatchStops) {
		price := *o.Price
		if err := e.affordLocked(o, price); err != nil {
			// Triggered but unaffordable: drop the order rather than
			// retrigger it every following bar.
			e.orders.Cancel(o.ID)
			e.log.Warn("cancelled unaffordable triggered order", zap.String("order", o.ID), zap.Error(err))
			continue
		}
		if err := e.orders.Execute(o, c.Time, price, e.opts.FeeRate); err != nil {
			e.log.Error("triggered order execution failed", zap.String("order", o.ID), zap.Error(err))
			continue
		}
		p, err := e.settleFillLocked(o)
		if err != nil {
			e.log.Error("triggered order settlement failed", zap.String("order", o.ID), zap.Error(err))
			continue
		}
		if p != nil {
			closed = append(closed, p)
		}
	}

	return closed
}

// Apply is phase two of the per-bar protocol: dispatch the strategy's
// decision, then snapshot the exchange state. Recoverable conditions
// (insufficient margin, validation rejects) come back as the error next to
// a valid snapshot; the run continues.
func (e *Exchange) Apply(symbol string, d Decision) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var closed *Position
	var err error

	switch d.Kind {
	case DecideGoLong, DecideGoShort:
		closed, err = e.placeDecisionOrderLocked(d.Order)

	case DecideCancelOrders:
		for _, o := range d.Orders {
			e.orders.Cancel(o.ID)
		}

	case DecideUpdatePosition:
		if d.Mutate != nil {
			e.positions.Update(symbol, d.Mutate)
		}

	case DecideClosePosition:
		p := d.Position
		if p == nil {
			p = e.positions.Get(symbol)
		}
		if p == nil {
			err = fmt.Errorf("close position: no open position for %s", symbol)
			break
		}
		price := e.opts.Slippage.Apply(e.cur.Close)
		if err = e.liquidateLocked(p, price); err == nil {
			closed = p
		}

	case DecideWait, DecideError, DecideStart:
		// no action
	}

	return State{
		Time:          e.cur.Time,
		Cash:          e.cash.Margin(),
		MarkPrice:     e.cur.Close,
		Equity:        e.equityLocked(),
		PendingOrders: len(e.orders.ByStatus(Pending)),
		OpenPositions: len(e.positions.OpenPositions()),
		Closed:        closed,
	}, err
}

func (e *Exchange) placeDecisionOrderLocked(o *Order) (*Position, error) {
	if o == nil {
		return nil, fmt.Errorf("decision carries no order")
	}

	if o.Type != Market {
		return nil, e.orders.Place(o)
	}

	price := e.opts.Slippage.Apply(e.cur.Close)
	if err := e.affordLocked(o, price); err != nil {
		return nil, err
	}
	if err := e.orders.PlaceMarket(o, e.cur.Time, price, e.opts.FeeRate); err != nil {
		return nil, err
	}
	return e.settleFillLocked(o)
}
