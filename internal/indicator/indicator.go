// Package indicator provides pure functions computing technical indicators
// over candle sequences. Insufficient history is reported through the
// boolean return, never a panic.
package indicator

import (
	"math"

	"github.com/your-org/bybit-perp-bot/internal/market"
)

func closes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// SMA returns the simple moving average of the last period closes.
func SMA(candles []market.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	var sum float64
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period), true
}

// RSISeries computes the relative strength index over the closes, using a
// simple rolling mean of gains and losses. Entries without enough history
// are NaN.
func RSISeries(candles []market.Candle, period int) []float64 {
	cs := closes(candles)
	out := make([]float64, len(cs))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(cs) <= period {
		return out
	}
	for i := period; i < len(cs); i++ {
		var gain, loss float64
		for j := i - period + 1; j <= i; j++ {
			delta := cs[j] - cs[j-1]
			if delta > 0 {
				gain += delta
			} else {
				loss -= delta
			}
		}
		gain /= float64(period)
		loss /= float64(period)
		if loss == 0 {
			out[i] = 100
			continue
		}
		rs := gain / loss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// RSI returns the latest RSI value.
func RSI(candles []market.Candle, period int) (float64, bool) {
	series := RSISeries(candles, period)
	if len(series) == 0 {
		return 0, false
	}
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return 0, false
	}
	return last, true
}

// StochRSIK computes the smoothed %K line of the stochastic RSI, scaled
// 0-100. The stochastic is taken over a rolling period of the RSI and
// smoothed with a kSmooth rolling mean. Entries without enough history
// are NaN.
func StochRSIK(candles []market.Candle, period, kSmooth int) []float64 {
	rsi := RSISeries(candles, period)
	stoch := make([]float64, len(rsi))
	for i := range stoch {
		stoch[i] = math.NaN()
		if i+1 < period {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(rsi[j]) {
				valid = false
				break
			}
			lo = math.Min(lo, rsi[j])
			hi = math.Max(hi, rsi[j])
		}
		if !valid || hi == lo {
			continue
		}
		stoch[i] = (rsi[i] - lo) / (hi - lo)
	}

	k := make([]float64, len(stoch))
	for i := range k {
		k[i] = math.NaN()
		if i+1 < kSmooth {
			continue
		}
		var sum float64
		valid := true
		for j := i - kSmooth + 1; j <= i; j++ {
			if math.IsNaN(stoch[j]) {
				valid = false
				break
			}
			sum += stoch[j]
		}
		if valid {
			k[i] = sum / float64(kSmooth) * 100
		}
	}
	return k
}

// trueRanges returns the TR sequence for candles[1:].
func trueRanges(candles []market.Candle) []float64 {
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		hi := math.Max(candles[i].High, prevClose)
		lo := math.Min(candles[i].Low, prevClose)
		out = append(out, hi-lo)
	}
	return out
}

// ATR returns the average true range as a simple rolling mean of the TR
// over the period.
func ATR(candles []market.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	tr := trueRanges(candles)
	var sum float64
	for _, v := range tr[len(tr)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// wilder applies Wilder's exponential smoothing (alpha = 1/period) to the
// sequence, seeding with the mean of the first period values.
func wilder(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out = append(out, seed)
	alpha := 1 / float64(period)
	prev := seed
	for _, v := range values[period:] {
		prev = prev + alpha*(v-prev)
		out = append(out, prev)
	}
	return out
}

// ADX returns the average directional index with Wilder smoothing.
func ADX(candles []market.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0, false
	}
	tr := trueRanges(candles)
	plusDM := make([]float64, len(tr))
	minusDM := make([]float64, len(tr))
	for i := 1; i < len(candles); i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}

	atr := wilder(tr, period)
	plus := wilder(plusDM, period)
	minus := wilder(minusDM, period)

	dx := make([]float64, 0, len(atr))
	for i := range atr {
		if atr[i] == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := 100 * plus[i] / atr[i]
		minusDI := 100 * minus[i] / atr[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, math.Abs(plusDI-minusDI)/sum*100)
	}

	adx := wilder(dx, period)
	if len(adx) == 0 {
		return 0, false
	}
	last := adx[len(adx)-1]
	if math.IsNaN(last) {
		return 0, false
	}
	return last, true
}
