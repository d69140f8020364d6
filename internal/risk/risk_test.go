package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/bybit-perp-bot/internal/market"
)

func rangedCandles(n int, barRange float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = market.Candle{
			Timestamp: int64(i) * 900_000,
			Open:      100, High: 100 + barRange, Low: 100 - barRange, Close: 100,
			Volume: 1,
		}
	}
	return out
}

func TestPositionSizePercent(t *testing.T) {
	assert.Equal(t, 10.0, PositionSize(SizePercent, 1, 1000, 100))
	assert.Equal(t, 25.0, PositionSize(SizePercent, 5, 500, 100))
	assert.Equal(t, 0.0, PositionSize(SizePercent, 1, 0, 100))
	assert.Equal(t, 0.0, PositionSize(SizePercent, 0, 1000, 100))
	assert.Equal(t, 0.0, PositionSize(SizePercent, 1, -100, 100))
}

func TestPositionSizeFlat(t *testing.T) {
	assert.Equal(t, 0.5, PositionSize(SizeFlat, 50, 1000, 100))
	assert.Equal(t, 2.0, PositionSize(SizeFlat, 100, 0, 50)) // balance irrelevant
	assert.Equal(t, 0.0, PositionSize(SizeFlat, 50, 1000, 0))
	assert.Equal(t, 0.0, PositionSize(SizeFlat, 0, 1000, 100))
}

func TestPositionSizeUnknownMethod(t *testing.T) {
	assert.Equal(t, 0.0, PositionSize("martingale", 1, 1000, 100))
}

func TestStopTakeProfitFromATR(t *testing.T) {
	candles := rangedCandles(20, 1) // constant TR of 2, ATR 2

	sl, tp := StopTakeProfit(100, true, 2, candles)
	assert.InDelta(t, 96.0, sl, 1e-9)
	assert.InDelta(t, 106.0, tp, 1e-9)

	sl, tp = StopTakeProfit(100, false, 2, candles)
	assert.InDelta(t, 104.0, sl, 1e-9)
	assert.InDelta(t, 94.0, tp, 1e-9)
}

func TestStopTakeProfitPercentFallback(t *testing.T) {
	sl, tp := StopTakeProfit(100, true, 2, nil)
	assert.InDelta(t, 97.5, sl, 1e-9)
	assert.InDelta(t, 105.0, tp, 1e-9)

	sl, tp = StopTakeProfit(100, false, 2, nil)
	assert.InDelta(t, 102.5, sl, 1e-9)
	assert.InDelta(t, 95.0, tp, 1e-9)
}

func TestTrailingStopLong(t *testing.T) {
	// Price has not advanced past entry*(1+1%): no change.
	_, ok := TrailingStop(100.5, 100, 95, true, 1)
	assert.False(t, ok)

	// Advanced: stop moves up to price*(1-1%).
	sl, ok := TrailingStop(102, 100, 95, true, 1)
	require.True(t, ok)
	assert.InDelta(t, 100.98, sl, 1e-9)
}

func TestTrailingStopOnlyTightens(t *testing.T) {
	// The candidate 100.98 is below the current stop: keep the stop.
	_, ok := TrailingStop(102, 100, 101.5, true, 1)
	assert.False(t, ok)

	// Short side: candidate above the current stop is discarded.
	_, ok = TrailingStop(98, 100, 98.5, false, 1)
	assert.False(t, ok)

	sl, ok := TrailingStop(97, 100, 99, false, 1)
	require.True(t, ok)
	assert.InDelta(t, 97.97, sl, 1e-9)
}

func TestTrailingStopFromZeroStop(t *testing.T) {
	sl, ok := TrailingStop(102, 100, 0, true, 1)
	require.True(t, ok)
	assert.InDelta(t, 100.98, sl, 1e-9)
}
