// Package backtest replays historical candles through the live
// strategy and order pipeline and scores the result for parameter
// search.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/your-org/bybit-perp-bot/internal/config"
	"github.com/your-org/bybit-perp-bot/internal/engine"
	"github.com/your-org/bybit-perp-bot/internal/exchange"
	"github.com/your-org/bybit-perp-bot/internal/feed"
	"github.com/your-org/bybit-perp-bot/internal/market"
	"github.com/your-org/bybit-perp-bot/internal/order"
	"github.com/your-org/bybit-perp-bot/internal/position"
	"github.com/your-org/bybit-perp-bot/internal/ranker"
	"github.com/your-org/bybit-perp-bot/internal/strategy"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

const minuteMs = int64(time.Minute / time.Millisecond)

// Metrics aggregates one backtest run.
type Metrics struct {
	PnL          float64
	Trades       int
	Wins         int
	WinRate      float64
	MaxDrawdown  float64
	PeakBalance  float64
	FinalBalance float64
	FinalEquity  float64
}

// observe folds one equity reading into the running PnL, peak and
// maximum drawdown. The drawdown is the running maximum of
// (peak - equity) / peak, so it never decreases.
func (m *Metrics) observe(equity, initial float64) {
	m.PnL = equity - initial
	if equity > m.PeakBalance {
		m.PeakBalance = equity
	}
	if m.PeakBalance > 0 {
		if drawdown := (m.PeakBalance - equity) / m.PeakBalance; drawdown > m.MaxDrawdown {
			m.MaxDrawdown = drawdown
		}
	}
}

// Params overrides strategy parameters for one run. Nil sections keep
// the configured values; nothing mutates the shared configuration.
type Params struct {
	SRSI *config.SRSIConf
	Grid *config.GridConf
}

func (p Params) apply(cfg config.Config) config.Config {
	if p.SRSI != nil {
		cfg.SRSI = *p.SRSI
	}
	if p.Grid != nil {
		cfg.Grid = *p.Grid
	}
	return cfg
}

// Engine holds historical data loaded once; individual runs against it
// are pure functions of their parameters.
type Engine struct {
	cfg        config.Config
	data       map[string]map[string][]market.Candle
	timestamps []int64
}

// Load fetches the historical range for a bounded symbol subset across
// every configured timeframe.
func Load(ctx context.Context, cfg *config.Config, gateway exchange.Gateway) (*Engine, error) {
	instruments, err := gateway.FetchInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("instrument discovery: %w", err)
	}
	symbols := make([]string, 0, cfg.Backtest.MaxSymbols)
	for _, inst := range instruments {
		if len(symbols) >= cfg.Backtest.MaxSymbols {
			break
		}
		symbols = append(symbols, inst.Symbol)
	}

	end := time.Now().UnixMilli()
	start := end - int64(cfg.Backtest.Days)*24*60*minuteMs

	type job struct{ symbol, tf string }
	type result struct {
		symbol, tf string
		candles    []market.Candle
		err        error
	}
	jobs := make(chan job)
	results := make(chan result)
	var wg sync.WaitGroup
	workers := cfg.Feed.BackfillWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				candles, err := gateway.FetchKlines(ctx, j.symbol, j.tf, start, end)
				results <- result{symbol: j.symbol, tf: j.tf, candles: candles, err: err}
			}
		}()
	}
	go func() {
		for _, symbol := range symbols {
			for _, tf := range cfg.Trading.Timeframes {
				jobs <- job{symbol: symbol, tf: tf}
			}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	data := make(map[string]map[string][]market.Candle, len(symbols))
	for r := range results {
		if r.err != nil {
			logger.Warnf("History load for %s/%s failed: %v", r.symbol, r.tf, r.err)
			continue
		}
		if data[r.symbol] == nil {
			data[r.symbol] = make(map[string][]market.Candle, len(cfg.Trading.Timeframes))
		}
		data[r.symbol][r.tf] = feed.Normalize(r.candles, 0)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no historical data loaded")
	}

	e := &Engine{cfg: *cfg, data: data}
	e.timestamps = collectTimestamps(data)
	logger.Infof("Backtest loaded: %d symbols, %d steps over %d days", len(data), len(e.timestamps), cfg.Backtest.Days)
	return e, nil
}

// collectTimestamps returns the sorted minute-aligned timestamps that
// actually occur in the data.
func collectTimestamps(data map[string]map[string][]market.Candle) []int64 {
	seen := make(map[int64]struct{})
	for _, byTF := range data {
		for _, candles := range byTF {
			for _, c := range candles {
				if c.Timestamp%minuteMs == 0 {
					seen[c.Timestamp] = struct{}{}
				}
			}
		}
	}
	out := make([]int64, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// viewAt builds the point-in-time snapshot: per symbol and timeframe,
// every candle with timestamp <= ts, truncated to the retention bound.
func (e *Engine) viewAt(ts int64) market.Snapshot {
	limit := e.cfg.Trading.CandleLimit
	snapshot := make(market.Snapshot, len(e.data))
	for symbol, byTF := range e.data {
		view := make(map[string][]market.Candle, len(byTF))
		for tf, candles := range byTF {
			n := sort.Search(len(candles), func(i int) bool { return candles[i].Timestamp > ts })
			if n == 0 {
				continue
			}
			lo := 0
			if n > limit {
				lo = n - limit
			}
			view[tf] = candles[lo:n]
		}
		if len(view) > 0 {
			snapshot[symbol] = view
		}
	}
	return snapshot
}

func numSymbols(cfg *config.Config) int {
	if cfg.Strategy == "grid" {
		return cfg.Grid.NumSymbols
	}
	return cfg.SRSI.NumSymbols
}

// Run replays the loaded data with the given parameter overrides and
// returns the aggregated metrics. Each call uses a fresh ledger, so
// runs are independent and repeatable.
func (e *Engine) Run(ctx context.Context, params Params) (Metrics, error) {
	cfg := params.apply(e.cfg)
	strat, err := strategy.New(cfg.Strategy, &cfg)
	if err != nil {
		return Metrics{}, err
	}

	ledger := position.NewLedger(cfg.Trading.StartBalance, cfg.Trading.MaxPositions)
	exec := order.NewSimExecutor(0, cfg.Trading.SlippagePct, cfg.Trading.FeeRate)
	orders := order.NewManager(ledger, exec, cfg.Trading.TrailingPct)

	initial := cfg.Trading.StartBalance
	metrics := Metrics{PeakBalance: initial}

	for _, ts := range e.timestamps {
		if ctx.Err() != nil {
			return metrics, ctx.Err()
		}
		snapshot := e.viewAt(ts)
		priceOf := engine.PriceLookup(snapshot)

		selected := ranker.SelectTop(snapshot, numSymbols(&cfg))
		signals := engine.Evaluate(snapshot, selected, strat, ledger)
		for _, symbol := range selected {
			sig, ok := signals[symbol]
			if !ok {
				continue
			}
			price, ok := priceOf(symbol)
			if !ok {
				continue
			}
			// A bad step aborts only that signal; the replay continues.
			if err := orders.Apply(ctx, symbol, sig, price); err != nil {
				logger.Warnf("Signal for %s at %d failed: %v", symbol, ts, err)
			}
		}

		orders.RefreshPositions(ctx, priceOf)

		metrics.observe(ledger.Equity(), initial)
	}

	metrics.Trades, metrics.Wins, metrics.WinRate = ledger.Stats()
	metrics.FinalBalance = ledger.Balance()
	metrics.FinalEquity = ledger.Equity()
	logger.Infof("Backtest complete: PnL %.2f, win rate %.2f, max drawdown %.4f over %d trades",
		metrics.PnL, metrics.WinRate, metrics.MaxDrawdown, metrics.Trades)
	return metrics, nil
}
