package exchange

import (
	"fmt"
	"time"

	"github.com/rustyeddy/backtest/market"
)

// orderBook is the order ledger: every order ever placed, in placement
// order, indexed by ID. Orders are mutated only here.
type orderBook struct {
	orders []*Order
	index  map[string]*Order
}

func newOrderBook() *orderBook {
	return &orderBook{index: make(map[string]*Order)}
}

// Place books a pending non-market order. Market orders go through
// PlaceMarket so they cannot linger unexecuted.
func (b *orderBook) Place(o *Order) error {
	if o.Type == Market {
		return fmt.Errorf("place order: market orders must be placed with an execution price")
	}
	if o.Price == nil || *o.Price <= 0 {
		return fmt.Errorf("place order: %s order requires a positive price", o.Type)
	}
	return b.book(o)
}

// PlaceMarket books and immediately executes a market order.
func (b *orderBook) PlaceMarket(o *Order, t time.Time, price, feeRate float64) error {
	if o.Type != Market {
		return fmt.Errorf("place market order: order type is %s", o.Type)
	}
	if price <= 0 {
		return fmt.Errorf("place market order: invalid execution price %v", price)
	}
	if err := b.book(o); err != nil {
		return err
	}
	return b.Execute(o, t, price, feeRate)
}

func (b *orderBook) book(o *Order) error {
	if o.Quantity <= 0 {
		return fmt.Errorf("place order: invalid quantity %v", o.Quantity)
	}
	if _, dup := b.index[o.ID]; dup {
		return fmt.Errorf("place order: duplicate id %s", o.ID)
	}

	b.orders = append(b.orders, o)
	b.index[o.ID] = o
	return nil
}

// Execute fills a pending order at the given price.
func (b *orderBook) Execute(o *Order, t time.Time, price, feeRate float64) error {
	return o.setExecuted(t, price, feeRate)
}

// Cancel sets the named orders to Cancelled. Terminal orders are left
// untouched, so cancelling twice is harmless.
func (b *orderBook) Cancel(ids ...string) {
	for _, id := range ids {
		if o, ok := b.index[id]; ok && !o.Terminal() {
			o.Status = Cancelled
		}
	}
}

// CancelAll cancels every pending order for the symbol.
func (b *orderBook) CancelAll(symbol string) {
	for _, o := range b.orders {
		if o.Symbol == symbol && !o.Terminal() {
			o.Status = Cancelled
		}
	}
}

func (b *orderBook) Get(id string) *Order { return b.index[id] }

func (b *orderBook) All() []*Order {
	out := make([]*Order, len(b.orders))
	copy(out, b.orders)
	return out
}

func (b *orderBook) BySymbol(symbol string) []*Order {
	var out []*Order
	for _, o := range b.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

func (b *orderBook) ByStatus(status OrderStatus) []*Order {
	var out []*Order
	for _, o := range b.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// Pending returns the open orders for a symbol.
func (b *orderBook) Pending(symbol string) []*Order {
	var out []*Order
	for _, o := range b.orders {
		if o.Symbol == symbol && o.Status == Pending {
			out = append(out, o)
		}
	}
	return out
}

// Update applies a mutation to a pending order. Terminal orders are
// immutable.
func (b *orderBook) Update(id string, mutate func(*Order)) error {
	o, ok := b.index[id]
	if !ok {
		return fmt.Errorf("update order: %s not found", id)
	}
	if o.Terminal() {
		return fmt.Errorf("update order: %s is %s", id, o.Status)
	}
	mutate(o)
	return nil
}

// Match returns the pending orders triggered by the candle's range. The
// caller executes them so cash and position state stay consistent.
func (b *orderBook) Match(c market.Candle, matchStops bool) []*Order {
	var out []*Order
	for _, o := range b.orders {
		if o.Hit(c, matchStops) {
			out = append(out, o)
		}
	}
	return out
}
