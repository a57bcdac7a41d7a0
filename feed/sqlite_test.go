package feed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/backtest/market"
)

func newTestSQLiteFeed(t *testing.T) *SQLiteFeed {
	t.Helper()

	path := filepath.Join(t.TempDir(), "candles.db")
	f, err := NewSQLite(path, "BTC_USDT", market.Day1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestSQLiteFeedStoreAndLoad(t *testing.T) {
	t.Parallel()

	f := newTestSQLiteFeed(t)
	ctx := context.Background()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := []market.Candle{
		{Time: t0, Interval: market.Day1, Open: 100, High: 105, Low: 95, Close: 102, Volume: 1000},
		{Time: t0.AddDate(0, 0, 1), Interval: market.Day1, Open: 102, High: 108, Low: 101, Close: 107, Volume: 1100},
		{Time: t0.AddDate(0, 0, 2), Interval: market.Day1, Open: 107, High: 110, Low: 103, Close: 104, Volume: 900},
	}
	require.NoError(t, f.Store(ctx, stored))

	got, err := f.Candles(ctx, t0, t0.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Time.Equal(t0))
	assert.InDelta(t, 102.0, got[0].Close, 1e-9)
	assert.Equal(t, market.Day1, got[0].Interval)

	// Range excludes the last bar.
	got, err = f.Candles(ctx, t0, t0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLiteFeedStoreReplacesDuplicates(t *testing.T) {
	t.Parallel()

	f := newTestSQLiteFeed(t)
	ctx := context.Background()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := market.Candle{Time: t0, Interval: market.Day1, Open: 100, High: 105, Low: 95, Close: 102, Volume: 1000}
	require.NoError(t, f.Store(ctx, []market.Candle{c}))

	c.Close = 103
	require.NoError(t, f.Store(ctx, []market.Candle{c}))

	got, err := f.Candles(ctx, t0, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 103.0, got[0].Close, 1e-9)
}

func TestSQLiteFeedEmptyRange(t *testing.T) {
	t.Parallel()

	f := newTestSQLiteFeed(t)

	got, err := f.Candles(context.Background(),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, got)
}
