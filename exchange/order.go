package exchange

import (
	"fmt"
	"time"

	"github.com/rustyeddy/backtest/internal/id"
	"github.com/rustyeddy/backtest/market"
)

// OrderSide: +1 buy, -1 sell.
type OrderSide int8

const (
	Buy  OrderSide = +1
	Sell OrderSide = -1
)

func (s OrderSide) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the side that reduces a position opened on s.
func (s OrderSide) Opposite() OrderSide { return -s }

type OrderType int8

const (
	Market OrderType = iota
	Limit
	Stop
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	}
	return "unknown"
}

type OrderStatus int8

const (
	Pending OrderStatus = iota
	Filled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Order is a request to trade a quantity of a symbol. Orders start Pending
// and end Filled or Cancelled; the transition is one-way. Executed fields
// are set exactly once, when the order fills.
type Order struct {
	ID       string
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Status   OrderStatus
	Quantity float64
	Leverage float64

	// Price is the limit/stop trigger. Nil means market.
	Price      *float64
	StopLoss   *float64
	TakeProfit *float64

	ExecutedPrice float64
	ExecutedFee   float64
	ExecutedTime  time.Time
}

// NewOrder creates a pending market order with leverage 1.
func NewOrder(symbol string, side OrderSide, qty float64) *Order {
	return &Order{
		ID:       id.New(),
		Symbol:   symbol,
		Side:     side,
		Type:     Market,
		Status:   Pending,
		Quantity: qty,
		Leverage: 1,
	}
}

func NewLong(symbol string, qty float64) *Order  { return NewOrder(symbol, Buy, qty) }
func NewShort(symbol string, qty float64) *Order { return NewOrder(symbol, Sell, qty) }

func (o *Order) Terminal() bool { return o.Status != Pending }
func (o *Order) Executed() bool { return o.Status == Filled }

// PositionSide maps the order side to the position side it opens.
func (o *Order) PositionSide() PositionSide {
	if o.Side == Buy {
		return Long
	}
	return Short
}

// InferType derives the order type from its price relative to the market:
// no price or at market is a market order, a sell above / buy below is a
// limit, the remaining combinations are stops.
func (o *Order) InferType(markPrice float64) {
	switch {
	case o.Price == nil || *o.Price == markPrice:
		o.Type = Market
	case (o.Side == Sell && *o.Price > markPrice) || (o.Side == Buy && *o.Price < markPrice):
		o.Type = Limit
	default:
		o.Type = Stop
	}
}

// Hit reports whether the candle's range triggers this pending order.
// Stop orders only participate when matchStops is enabled.
func (o *Order) Hit(c market.Candle, matchStops bool) bool {
	if o.Status != Pending || o.Price == nil {
		return false
	}

	switch o.Type {
	case Limit:
		if o.Side == Buy {
			return c.Low <= *o.Price
		}
		return c.High >= *o.Price

	case Stop:
		if !matchStops {
			return false
		}
		if o.Side == Buy {
			return c.High >= *o.Price
		}
		return c.Low <= *o.Price
	}

	return false
}

// setExecuted marks the order filled at the given price and time.
// fee = quantity * price * feeRate.
func (o *Order) setExecuted(t time.Time, price, feeRate float64) error {
	if o.Status != Pending {
		return fmt.Errorf("execute order %s: status is %s, not pending", o.ID, o.Status)
	}
	if price <= 0 {
		return fmt.Errorf("execute order %s: invalid execution price %v", o.ID, price)
	}

	o.ExecutedPrice = price
	o.ExecutedFee = o.Quantity * price * feeRate
	o.ExecutedTime = t
	o.Status = Filled
	return nil
}

func (o *Order) String() string {
	px := "market"
	if o.Price != nil {
		px = fmt.Sprintf("%v", *o.Price)
	}
	return fmt.Sprintf("%s %s %v @ %s x%v [%s]", o.Side, o.Symbol, o.Quantity, px, o.Leverage, o.Status)
}
