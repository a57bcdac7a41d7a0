package exchange

// DecisionKind tags the variant of a strategy decision.
type DecisionKind uint8

const (
	DecideWait DecisionKind = iota
	DecideGoLong
	DecideGoShort
	DecideCancelOrders
	DecideUpdatePosition
	DecideClosePosition
	DecideError
	DecideStart
)

func (k DecisionKind) String() string {
	switch k {
	case DecideWait:
		return "wait"
	case DecideGoLong:
		return "go-long"
	case DecideGoShort:
		return "go-short"
	case DecideCancelOrders:
		return "cancel-orders"
	case DecideUpdatePosition:
		return "update-position"
	case DecideClosePosition:
		return "close-position"
	case DecideError:
		return "error"
	case DecideStart:
		return "start"
	}
	return "unknown"
}

// Decision is what a strategy returns for each bar: a closed tagged union
// with one typed payload per variant. Exactly one decision is produced per
// bar and consumed by the exchange.
type Decision struct {
	Kind   DecisionKind
	Reason string

	Order    *Order          // GoLong, GoShort
	Orders   []*Order        // CancelOrders
	Position *Position       // ClosePosition
	Mutate   func(*Position) // UpdatePosition
	Cause    error           // Error
}

// Wait decides to do nothing this bar.
func Wait(reason string) Decision {
	return Decision{Kind: DecideWait, Reason: reason}
}

// GoLong places the given buy order.
func GoLong(o *Order) Decision {
	return Decision{Kind: DecideGoLong, Order: o}
}

// GoShort places the given sell order.
func GoShort(o *Order) Decision {
	return Decision{Kind: DecideGoShort, Order: o}
}

// CancelOrders cancels the named orders.
func CancelOrders(orders ...*Order) Decision {
	return Decision{Kind: DecideCancelOrders, Orders: orders}
}

// UpdatePosition applies the mutation to the current open position.
// In practice only the stop-loss and take-profit prices change.
func UpdatePosition(mutate func(*Position)) Decision {
	return Decision{Kind: DecideUpdatePosition, Mutate: mutate}
}

// ClosePosition liquidates the position at the current mark price.
func ClosePosition(p *Position) Decision {
	return Decision{Kind: DecideClosePosition, Position: p}
}

// Fault captures a strategy error as a decision instead of propagating it.
func Fault(cause error) Decision {
	return Decision{Kind: DecideError, Cause: cause}
}

// Start is the no-op decision preceding the first bar.
func Start() Decision {
	return Decision{Kind: DecideStart}
}
