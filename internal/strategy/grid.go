package strategy

import (
	"github.com/your-org/bybit-perp-bot/internal/config"
	"github.com/your-org/bybit-perp-bot/internal/indicator"
	"github.com/your-org/bybit-perp-bot/internal/risk"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

// gridStrategy lays an ATR-sized grid around the current price in the
// direction of the 15m trend, buying the low band and selling the high
// band, with breakout entries beyond the outer levels. Flat trend closes
// any open position.
type gridStrategy struct {
	numLevels         int
	spacingPct        float64
	breakoutOffsetPct float64
	sizeMethod        string
	sizeValue         float64
	atrMult           float64
}

func newGrid(cfg *config.Config) Strategy {
	return &gridStrategy{
		numLevels:         cfg.Grid.NumLevels,
		spacingPct:        cfg.Grid.SpacingPct,
		breakoutOffsetPct: cfg.Grid.BreakoutOffsetPct,
		sizeMethod:        cfg.Trading.SizeMethod,
		sizeValue:         cfg.Trading.SizePct,
		atrMult:           cfg.Trading.ATRMultiplier,
	}
}

func (g *gridStrategy) Name() string { return "grid" }

func (g *gridStrategy) Analyze(view MarketView, ledger LedgerView) Signal {
	candles := view.CandlesByTF["15"]
	if len(candles) < 21 {
		logger.Debugf("Not enough 15m candles for %s", view.Symbol)
		return hold
	}

	price := candles[len(candles)-1].Close
	sma, okSMA := indicator.SMA(candles, 21)
	_, okADX := indicator.ADX(candles, 14)
	atr, okATR := indicator.ATR(candles, 14)
	if !okSMA || !okADX || !okATR {
		logger.Debugf("Indicator calculation failed for %s", view.Symbol)
		return hold
	}

	side, hasPosition := ledger.PositionSide(view.Symbol)

	if price == sma {
		if hasPosition {
			if side == "long" {
				return Signal{Action: CloseLong}
			}
			return Signal{Action: CloseShort}
		}
		return hold
	}

	// One position per symbol; re-entries wait for the close.
	if hasPosition {
		return hold
	}

	gridSize := atr * (g.spacingPct / 100)
	halfSpan := float64(g.numLevels) / 2 * gridSize
	lowGrid := price - halfSpan
	highGrid := price + halfSpan
	breakout := g.breakoutOffsetPct / 100 * price

	open := func(action Action, long bool) Signal {
		sl, tp := risk.StopTakeProfit(price, long, g.atrMult, candles)
		return Signal{
			Action:     action,
			Amount:     risk.PositionSize(g.sizeMethod, g.sizeValue, ledger.SizingBalance(view.Symbol), price),
			StopLoss:   sl,
			TakeProfit: tp,
		}
	}

	if price > sma {
		if price <= lowGrid+gridSize {
			logger.Infof("Grid buy signal for %s at %f", view.Symbol, price)
			return open(OpenLong, true)
		}
		if price > highGrid+breakout {
			logger.Infof("Breakout buy signal for %s at %f", view.Symbol, price)
			return open(OpenLong, true)
		}
		return hold
	}

	if price >= highGrid-gridSize {
		logger.Infof("Grid sell signal for %s at %f", view.Symbol, price)
		return open(OpenShort, false)
	}
	if price < lowGrid-breakout {
		logger.Infof("Breakout sell signal for %s at %f", view.Symbol, price)
		return open(OpenShort, false)
	}
	return hold
}
