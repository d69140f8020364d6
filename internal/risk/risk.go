// Package risk derives position sizes, protective stop levels and
// trailing stops.
package risk

import (
	"github.com/your-org/bybit-perp-bot/internal/indicator"
	"github.com/your-org/bybit-perp-bot/internal/market"
)

const atrPeriod = 14

// Sizing methods.
const (
	SizePercent = "percent"
	SizeFlat    = "flat"
)

// PositionSize returns the amount to commit. The percent method reads
// value as a percentage of balance; the flat method converts a fixed
// quote value at the given price. Unknown methods size to zero.
func PositionSize(method string, value, balance, price float64) float64 {
	if value <= 0 {
		return 0
	}
	switch method {
	case SizePercent:
		if balance <= 0 {
			return 0
		}
		return balance * value / 100
	case SizeFlat:
		if price <= 0 {
			return 0
		}
		return value / price
	}
	return 0
}

// StopTakeProfit derives stop-loss and take-profit levels from the entry
// price. With enough candles the distance is mult ATRs (take profit at
// 1.5x the stop distance); otherwise a fixed 2.5%/5% band is used.
func StopTakeProfit(entry float64, long bool, mult float64, candles []market.Candle) (sl, tp float64) {
	if atr, ok := indicator.ATR(candles, atrPeriod); ok && atr > 0 {
		if long {
			return entry - mult*atr, entry + mult*1.5*atr
		}
		return entry + mult*atr, entry - mult*1.5*atr
	}
	if long {
		return entry * 0.975, entry * 1.05
	}
	return entry * 1.025, entry * 0.95
}

// TrailingStop proposes a tightened stop once price has moved at least
// distancePct beyond the entry. The result only ever tightens: a
// candidate looser than currentStop is discarded. ok is false when the
// stop should stay where it is.
func TrailingStop(price, entry, currentStop float64, long bool, distancePct float64) (float64, bool) {
	d := distancePct / 100
	if long {
		if price > entry*(1+d) {
			candidate := price * (1 - d)
			if currentStop == 0 || candidate > currentStop {
				return candidate, true
			}
		}
		return 0, false
	}
	if price < entry*(1-d) {
		candidate := price * (1 + d)
		if currentStop == 0 || candidate < currentStop {
			return candidate, true
		}
	}
	return 0, false
}
