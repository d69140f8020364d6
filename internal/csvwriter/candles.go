package csvwriter

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/your-org/bybit-perp-bot/internal/market"
)

var candleHeader = []string{"symbol", "interval", "timestamp_utc", "open", "high", "low", "close", "volume"}

// DumpCandles writes one CSV file per (symbol, timeframe) pair under
// dir, named <symbol>-<timeframe>.csv. Each dump overwrites the
// previous one, so a file always holds the current retained series.
func DumpCandles(dir string, snapshot market.Snapshot, logger *zap.Logger) error {
	var firstErr error
	for symbol, byTF := range snapshot {
		for tf, candles := range byTF {
			if len(candles) == 0 {
				continue
			}
			if err := dumpSeries(dir, symbol, tf, candles, logger); err != nil {
				logger.Error("Failed to dump candle series",
					zap.String("symbol", symbol), zap.String("timeframe", tf), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func dumpSeries(dir, symbol, tf string, candles []market.Candle, logger *zap.Logger) error {
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.csv", symbol, tf))
	w, err := NewWriter(path, candleHeader, logger)
	if err != nil {
		return err
	}
	defer w.Close()
	for _, c := range candles {
		record := []string{
			symbol,
			tf,
			c.Time().UTC().Format("2006-01-02 15:04:05"),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}
