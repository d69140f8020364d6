package backtest

import (
	"context"
	"math"
	"math/rand"

	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

const scoreEpsilon = 1e-6

// Trial is one scored parameter candidate.
type Trial struct {
	Number  int
	Params  Params
	Score   float64
	Metrics Metrics
}

// Score combines total PnL, win rate and drawdown into the optimizer
// objective, maximized over trials.
func Score(m Metrics) float64 {
	return (m.PnL * m.WinRate) / math.Max(m.MaxDrawdown, scoreEpsilon)
}

// Optimize runs a bounded random search over strategy parameters and
// returns the winning parameter set, its confirmation-run metrics and
// every trial. The confirmation run re-executes the best candidate so
// the reported metrics are reproduced rather than taken from the
// winning trial itself.
func (e *Engine) Optimize(ctx context.Context, trials int, rng *rand.Rand) (Params, Metrics, []Trial, error) {
	results := make([]Trial, 0, trials)
	best := Trial{Score: math.Inf(-1)}

	for i := 0; i < trials; i++ {
		if ctx.Err() != nil {
			return best.Params, best.Metrics, results, ctx.Err()
		}
		params := e.suggest(rng)
		metrics, err := e.Run(ctx, params)
		if err != nil {
			return best.Params, best.Metrics, results, err
		}
		trial := Trial{Number: i, Params: params, Score: Score(metrics), Metrics: metrics}
		results = append(results, trial)
		logger.Infof("Trial %d score %.4f (pnl=%.2f winRate=%.2f drawdown=%.4f)",
			i, trial.Score, metrics.PnL, metrics.WinRate, metrics.MaxDrawdown)
		if trial.Score > best.Score {
			best = trial
		}
	}

	confirmed, err := e.Run(ctx, best.Params)
	if err != nil {
		return best.Params, best.Metrics, results, err
	}
	logger.Infof("Optimization complete: best trial %d, confirmed score %.4f", best.Number, Score(confirmed))
	return best.Params, confirmed, results, nil
}

// suggest draws a parameter candidate for the configured strategy.
func (e *Engine) suggest(rng *rand.Rand) Params {
	switch e.cfg.Strategy {
	case "grid":
		grid := e.cfg.Grid
		grid.NumLevels = 4 + rng.Intn(7)
		grid.SpacingPct = 30 + rng.Float64()*40
		grid.BreakoutOffsetPct = 0.3 + rng.Float64()*0.7
		return Params{Grid: &grid}
	default:
		srsi := e.cfg.SRSI
		srsi.BuyThreshold = float64(15 + 5*rng.Intn(3))
		srsi.SellThreshold = float64(75 + 5*rng.Intn(3))
		return Params{SRSI: &srsi}
	}
}
