package exchange

import (
	"fmt"
	"time"
)

// CashEntry is one point on the margin curve: the running balance after a
// signed delta was applied at a bar's timestamp.
type CashEntry struct {
	Time    time.Time
	Balance float64
}

// cashBook is the cash/margin ledger: an append-only series of cumulative
// balances keyed by bar time. Entries are never mutated or removed.
type cashBook struct {
	initial   float64
	callRatio float64
	entries   []CashEntry
}

func newCashBook(callRatio float64) *cashBook {
	return &cashBook{callRatio: callRatio}
}

// Init records the starting capital at the first bar.
func (b *cashBook) Init(t time.Time, cash float64) {
	b.initial = cash
	b.entries = append(b.entries, CashEntry{Time: t, Balance: cash})
}

// Add applies a signed delta at the bar's timestamp. A debit that would
// drive the balance negative is rejected and nothing is recorded.
func (b *cashBook) Add(t time.Time, delta float64) error {
	next := b.Margin() + delta
	if next < 0 {
		return fmt.Errorf("cash delta %v exceeds margin %v: %w", delta, b.Margin(), ErrInsufficientMargin)
	}
	b.entries = append(b.entries, CashEntry{Time: t, Balance: next})
	return nil
}

// Settle applies a signed delta, flooring the balance at zero. Used on
// liquidation paths, which must never fail: a leveraged loss larger than
// the remaining margin wipes the account.
func (b *cashBook) Settle(t time.Time, delta float64) {
	next := b.Margin() + delta
	if next < 0 {
		next = 0
	}
	b.entries = append(b.entries, CashEntry{Time: t, Balance: next})
}

// Margin is the current cash balance, the latest entry.
func (b *cashBook) Margin() float64 {
	if len(b.entries) == 0 {
		return 0
	}
	return b.entries[len(b.entries)-1].Balance
}

func (b *cashBook) Initial() float64 { return b.initial }

// CanAfford reports whether the current margin covers the cost.
func (b *cashBook) CanAfford(cost float64) bool { return b.Margin() >= cost }

// CallLevel is the margin-call threshold: a fixed fraction of the initial
// capital.
func (b *cashBook) CallLevel() float64 { return b.initial * b.callRatio }

// ShouldMarginCall reports whether the account is below the call level.
// With an open position its mark-to-market value counts toward the margin;
// without one the margin stands alone.
func (b *cashBook) ShouldMarginCall(positionValue float64, hasPosition bool) bool {
	if hasPosition {
		return positionValue+b.Margin() < b.CallLevel()
	}
	return b.Margin() < b.CallLevel()
}

// Curve returns the full balance series in append order.
func (b *cashBook) Curve() []CashEntry {
	out := make([]CashEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
