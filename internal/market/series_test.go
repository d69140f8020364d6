package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleAt(ts int64, close float64) Candle {
	return Candle{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func timestamps(s *Series) []int64 {
	out := make([]int64, 0, s.Len())
	for _, c := range s.Candles() {
		out = append(out, c.Timestamp)
	}
	return out
}

func TestSeriesAddKeepsAscendingOrder(t *testing.T) {
	s := NewSeries(10)
	s.Add(candleAt(3000, 1))
	s.Add(candleAt(1000, 1))
	s.Add(candleAt(2000, 1))

	assert.Equal(t, []int64{1000, 2000, 3000}, timestamps(s))
}

func TestSeriesAddSameTimestampReplaces(t *testing.T) {
	s := NewSeries(10)
	s.Add(candleAt(1000, 5))
	s.Add(candleAt(2000, 6))
	s.Add(candleAt(1000, 9)) // correction for an earlier bar

	require.Equal(t, 2, s.Len())
	candles := s.Candles()
	assert.Equal(t, 9.0, candles[0].Close)
	assert.Equal(t, 6.0, candles[1].Close)
}

func TestSeriesEvictsOldestBeyondLimit(t *testing.T) {
	s := NewSeries(3)
	for ts := int64(1000); ts <= 5000; ts += 1000 {
		s.Add(candleAt(ts, 1))
	}

	assert.Equal(t, []int64{3000, 4000, 5000}, timestamps(s))
}

func TestSeriesReplaceTruncatesToLimit(t *testing.T) {
	s := NewSeries(2)
	s.Replace([]Candle{candleAt(1000, 1), candleAt(2000, 2), candleAt(3000, 3)})

	assert.Equal(t, []int64{2000, 3000}, timestamps(s))
}

func TestSeriesLatest(t *testing.T) {
	s := NewSeries(5)
	_, ok := s.Latest()
	assert.False(t, ok)

	s.Add(candleAt(1000, 1))
	s.Add(candleAt(2000, 2))
	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(2000), latest.Timestamp)
}

func TestSeriesHasGap(t *testing.T) {
	s := NewSeries(10)
	s.Add(candleAt(0, 1))
	s.Add(candleAt(60_000, 1))
	s.Add(candleAt(120_000, 1))
	assert.False(t, s.HasGap(60_000))

	s.Add(candleAt(300_000, 1))
	assert.True(t, s.HasGap(60_000))
}

func TestCandleValid(t *testing.T) {
	tests := []struct {
		name   string
		candle Candle
		want   bool
	}{
		{"ok", Candle{Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 10}, true},
		{"open above high", Candle{Open: 4, High: 3, Low: 1, Close: 2, Volume: 10}, false},
		{"close below low", Candle{Open: 2, High: 3, Low: 1, Close: 0.5, Volume: 10}, false},
		{"negative volume", Candle{Open: 2, High: 3, Low: 1, Close: 2, Volume: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.candle.Valid())
		})
	}
}

func TestIntervalMs(t *testing.T) {
	ms, err := IntervalMs("15")
	require.NoError(t, err)
	assert.Equal(t, int64(15*60*1000), ms)

	_, err = IntervalMs("D")
	assert.Error(t, err)
}
