// Package market owns the in-memory candle store: per-symbol, per-timeframe
// bounded series of confirmed OHLCV bars.
package market

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Candle is a confirmed OHLCV bar. Timestamp is the bar's open time in
// milliseconds UTC, aligned to the timeframe boundary.
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Valid reports whether the candle satisfies the OHLCV invariants:
// low <= open <= high, low <= close <= high, non-negative volume and
// finite fields.
func (c Candle) Valid() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.Low <= c.Open && c.Open <= c.High &&
		c.Low <= c.Close && c.Close <= c.High &&
		c.Volume >= 0
}

// Time returns the candle's open time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// IntervalMs converts a timeframe expressed in minutes (e.g. "1", "15")
// to milliseconds.
func IntervalMs(timeframe string) (int64, error) {
	minutes, err := strconv.Atoi(timeframe)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	return int64(minutes) * 60 * 1000, nil
}
