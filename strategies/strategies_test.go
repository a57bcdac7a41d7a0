package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backtest/exchange"
	"github.com/rustyeddy/backtest/strategy"
)

func TestByName(t *testing.T) {
	t.Parallel()

	s, err := ByName("wait", Config{})
	require.NoError(t, err)
	assert.Equal(t, "wait", s.Name())

	s, err = ByName("EMA-Cross", Config{Symbol: "BTC_USDT"})
	require.NoError(t, err)
	assert.Equal(t, "ema-cross", s.Name())

	_, err = ByName("nope", Config{})
	assert.Error(t, err)
}

func TestWaitStrategy(t *testing.T) {
	t.Parallel()

	d := Wait{}.Decide(strategy.View{})
	assert.Equal(t, exchange.DecideWait, d.Kind)
}
