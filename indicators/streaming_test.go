package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/backtest/market"
)

func feed(ind Indicator, closes ...float64) {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		ind.Update(market.Candle{Time: t.AddDate(0, 0, i), Close: c})
	}
}

func TestSimpleMA(t *testing.T) {
	t.Parallel()

	ma := NewMA(3)
	assert.False(t, ma.Ready())
	assert.Equal(t, 0.0, ma.Value())

	feed(ma, 1, 2, 3)
	assert.True(t, ma.Ready())
	assert.InDelta(t, 2.0, ma.Value(), 1e-9)

	// Window slides: (2+3+7)/3.
	feed(ma, 7)
	assert.InDelta(t, 4.0, ma.Value(), 1e-9)
}

func TestSimpleMAReset(t *testing.T) {
	t.Parallel()

	ma := NewMA(2)
	feed(ma, 5, 5)
	assert.True(t, ma.Ready())

	ma.Reset()
	assert.False(t, ma.Ready())
}

func TestExponentialMASeedsWithSMA(t *testing.T) {
	t.Parallel()

	ema := NewEMA(3)
	feed(ema, 1, 2)
	assert.False(t, ema.Ready())

	feed(ema, 3)
	assert.True(t, ema.Ready())
	assert.InDelta(t, 2.0, ema.Value(), 1e-9, "seed is the SMA over the warmup window")

	// multiplier 2/(3+1) = 0.5: (6-2)*0.5 + 2.
	feed(ema, 6)
	assert.InDelta(t, 4.0, ema.Value(), 1e-9)
}

func TestIndicatorNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "MA(5)", NewMA(5).Name())
	assert.Equal(t, "EMA(12)", NewEMA(12).Name())
	assert.Equal(t, 5, NewMA(5).Warmup())
	assert.Equal(t, 12, NewEMA(12).Warmup())
}
