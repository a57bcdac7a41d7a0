package exchange

import "errors"

var (
	// ErrInsufficientMargin is returned when a market order's cost exceeds
	// the available margin. It is recoverable: the execution is skipped and
	// the step continues.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrExcessiveQuantity is returned when an exit fill's quantity exceeds
	// the open position's remaining quantity. It is recoverable in the same
	// way as ErrInsufficientMargin.
	ErrExcessiveQuantity = errors.New("exit quantity exceeds open position")

	// ErrPositionOpen is returned when opening a position for a symbol that
	// already has one open.
	ErrPositionOpen = errors.New("open position already exists")

	// ErrPositionClosed is returned when liquidating or filling a position
	// that is already closed.
	ErrPositionClosed = errors.New("position is already closed")
)
