package csvwriter

import (
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/bybit-perp-bot/internal/backtest"
	"github.com/your-org/bybit-perp-bot/internal/strategy"
)

// Activity records engine signals and equity marks into CSV files under
// one directory. It satisfies the engine's Recorder contract.
type Activity struct {
	signals *Writer
	equity  *Writer
	logger  *zap.Logger
}

// NewActivity opens signals.csv and equity.csv under dir.
func NewActivity(dir string, logger *zap.Logger) (*Activity, error) {
	signals, err := NewWriter(filepath.Join(dir, "signals.csv"),
		[]string{"time", "symbol", "action", "price", "amount", "stop_loss", "take_profit"}, logger)
	if err != nil {
		return nil, err
	}
	equity, err := NewWriter(filepath.Join(dir, "equity.csv"),
		[]string{"time", "balance", "equity"}, logger)
	if err != nil {
		signals.Close()
		return nil, err
	}
	return &Activity{signals: signals, equity: equity, logger: logger}, nil
}

func (a *Activity) RecordSignal(symbol string, sig strategy.Signal, price float64) {
	record := []string{
		time.Now().UTC().Format(time.RFC3339),
		symbol,
		sig.Action.String(),
		formatFloat(price),
		formatFloat(sig.Amount),
		formatFloat(sig.StopLoss),
		formatFloat(sig.TakeProfit),
	}
	if err := a.signals.Write(record); err != nil {
		a.logger.Error("Failed to write signal record", zap.Error(err))
	}
	a.signals.Flush()
}

func (a *Activity) RecordEquity(ts time.Time, balance, equity float64) {
	record := []string{
		ts.UTC().Format(time.RFC3339),
		formatFloat(balance),
		formatFloat(equity),
	}
	if err := a.equity.Write(record); err != nil {
		a.logger.Error("Failed to write equity record", zap.Error(err))
	}
	a.equity.Flush()
}

// Close closes both files.
func (a *Activity) Close() error {
	err := a.signals.Close()
	if cerr := a.equity.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteTrials dumps optimizer trial results, best first, to
// backtest_results.csv under dir.
func WriteTrials(dir string, trials []backtest.Trial, logger *zap.Logger) error {
	w, err := NewWriter(filepath.Join(dir, "backtest_results.csv"),
		[]string{"trial", "score", "pnl", "win_rate", "max_drawdown", "trades"}, logger)
	if err != nil {
		return err
	}
	defer w.Close()
	sorted := append([]backtest.Trial(nil), trials...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	for _, t := range sorted {
		record := []string{
			strconv.Itoa(t.Number),
			formatFloat(t.Score),
			formatFloat(t.Metrics.PnL),
			formatFloat(t.Metrics.WinRate),
			formatFloat(t.Metrics.MaxDrawdown),
			strconv.Itoa(t.Metrics.Trades),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
