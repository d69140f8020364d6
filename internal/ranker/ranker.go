// Package ranker scores symbols by volatility and trend strength to pick
// the tradable universe each cycle.
package ranker

import (
	"sort"

	"github.com/your-org/bybit-perp-bot/internal/indicator"
	"github.com/your-org/bybit-perp-bot/internal/market"
)

const (
	// trendTimeframe is the reference timeframe for scoring.
	trendTimeframe = "15"

	minHistory  = 21
	atrPeriod   = 14
	adxPeriod   = 14
	trendPeriod = 21
)

type scored struct {
	symbol string
	score  float64
}

// SelectTop scores every symbol in the snapshot and returns the n best,
// ordered by descending score. Symbols with insufficient history or a
// flat trend are excluded. Given the same snapshot the output is fully
// deterministic; ties keep the (sorted) symbol order.
func SelectTop(snapshot market.Snapshot, n int) []string {
	symbols := make([]string, 0, len(snapshot))
	for symbol := range snapshot {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	scores := make([]scored, 0, len(symbols))
	for _, symbol := range symbols {
		candles := snapshot[symbol][trendTimeframe]
		if len(candles) < minHistory {
			continue
		}
		score, ok := Score(candles)
		if !ok {
			continue
		}
		scores = append(scores, scored{symbol: symbol, score: score})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if n < len(scores) {
		scores = scores[:n]
	}
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.symbol
	}
	return out
}

// Score computes ATR x ADX for a trending series. It returns false for a
// flat trend or insufficient history; an ADX of zero or below scores 0.
func Score(candles []market.Candle) (float64, bool) {
	atr, ok := indicator.ATR(candles, atrPeriod)
	if !ok {
		return 0, false
	}
	sma, ok := indicator.SMA(candles, trendPeriod)
	if !ok {
		return 0, false
	}
	price := candles[len(candles)-1].Close
	if price == sma {
		return 0, false
	}
	adx, ok := indicator.ADX(candles, adxPeriod)
	if !ok {
		return 0, false
	}
	if adx <= 0 {
		return 0, true
	}
	return atr * adx, true
}
