package strategy

import (
	"math"

	"github.com/your-org/bybit-perp-bot/internal/config"
	"github.com/your-org/bybit-perp-bot/internal/indicator"
	"github.com/your-org/bybit-perp-bot/internal/risk"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

const (
	srsiPeriod     = 14
	srsiKSmooth    = 3
	srsiMinCandles = 20
)

// srsiStrategy trades stochastic-RSI extremes confirmed across every
// configured timeframe, optionally gated by a 15m SMA trend filter.
type srsiStrategy struct {
	buyThreshold   float64
	sellThreshold  float64
	useCross       bool
	useTrendFilter bool
	timeframes     []string
	maxPositions   int
	sizeMethod     string
	sizeValue      float64
	atrMult        float64
}

func newSRSI(cfg *config.Config) Strategy {
	return &srsiStrategy{
		buyThreshold:   cfg.SRSI.BuyThreshold,
		sellThreshold:  cfg.SRSI.SellThreshold,
		useCross:       cfg.SRSI.UseCross,
		useTrendFilter: cfg.SRSI.UseTrendFilter,
		timeframes:     cfg.Trading.Timeframes,
		maxPositions:   cfg.Trading.MaxPositions,
		sizeMethod:     cfg.Trading.SizeMethod,
		sizeValue:      cfg.Trading.SizePct,
		atrMult:        cfg.Trading.ATRMultiplier,
	}
}

func (s *srsiStrategy) Name() string { return "srsi" }

type kPair struct {
	prev float64
	curr float64
}

func (s *srsiStrategy) Analyze(view MarketView, ledger LedgerView) Signal {
	stochK := make(map[string]kPair, len(s.timeframes))
	for _, tf := range s.timeframes {
		candles := view.CandlesByTF[tf]
		if len(candles) < srsiMinCandles {
			logger.Debugf("Not enough %sm candles for %s", tf, view.Symbol)
			return hold
		}
		k := indicator.StochRSIK(candles, srsiPeriod, srsiKSmooth)
		if len(k) < 2 {
			return hold
		}
		pair := kPair{prev: k[len(k)-2], curr: k[len(k)-1]}
		if math.IsNaN(pair.prev) || math.IsNaN(pair.curr) {
			return hold
		}
		stochK[tf] = pair
	}

	latest, ok := view.Latest("1")
	if !ok {
		return hold
	}
	price := latest.Close
	side, hasPosition := ledger.PositionSide(view.Symbol)

	candles15 := view.CandlesByTF["15"]
	trendBullish, trendBearish := false, false
	if s.useTrendFilter {
		fast, okFast := indicator.SMA(candles15, 9)
		slow, okSlow := indicator.SMA(candles15, 21)
		adx, okADX := indicator.ADX(candles15, 14)
		if okFast && okSlow && okADX {
			trendBullish = fast > slow && adx > 0
			trendBearish = fast < slow && adx > 0
		}
	}

	allBelow := true
	allAbove := true
	for _, tf := range s.timeframes {
		pair := stochK[tf]
		if pair.curr >= s.buyThreshold || (s.useCross && pair.curr <= pair.prev) {
			allBelow = false
		}
		if pair.curr <= s.sellThreshold || (s.useCross && pair.curr >= pair.prev) {
			allAbove = false
		}
	}
	// The 15m reading drives non-extreme exits; without it the zero
	// value would read as deeply oversold, so those exits are skipped.
	k15, hasK15 := stochK["15"]

	if allBelow {
		if hasPosition {
			if side == "short" {
				return Signal{Action: CloseShort}
			}
			return hold
		}
		if s.useTrendFilter && !trendBullish {
			return hold
		}
		if ledger.OpenCount() >= s.maxPositions {
			return hold
		}
		sl, tp := risk.StopTakeProfit(price, true, s.atrMult, candles15)
		return Signal{
			Action:     OpenLong,
			Amount:     risk.PositionSize(s.sizeMethod, s.sizeValue, ledger.SizingBalance(view.Symbol), price),
			StopLoss:   sl,
			TakeProfit: tp,
		}
	}

	if hasPosition && side == "long" && ((hasK15 && k15.curr > s.sellThreshold) || (s.useTrendFilter && trendBearish)) {
		return Signal{Action: CloseLong}
	}

	if allAbove {
		if hasPosition {
			if side == "long" {
				return Signal{Action: CloseLong}
			}
			return hold
		}
		if s.useTrendFilter && !trendBearish {
			return hold
		}
		if ledger.OpenCount() >= s.maxPositions {
			return hold
		}
		sl, tp := risk.StopTakeProfit(price, false, s.atrMult, candles15)
		return Signal{
			Action:     OpenShort,
			Amount:     risk.PositionSize(s.sizeMethod, s.sizeValue, ledger.SizingBalance(view.Symbol), price),
			StopLoss:   sl,
			TakeProfit: tp,
		}
	}

	if hasPosition && side == "short" && ((hasK15 && k15.curr < s.buyThreshold) || (s.useTrendFilter && trendBullish)) {
		return Signal{Action: CloseShort}
	}

	return hold
}
