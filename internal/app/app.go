// Package app wires the application: configuration, logging sinks,
// exchange gateway, feed, strategy engine and order pipeline. All
// component lifecycles are owned here; nothing lives in package-level
// globals.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/your-org/bybit-perp-bot/internal/backtest"
	"github.com/your-org/bybit-perp-bot/internal/config"
	"github.com/your-org/bybit-perp-bot/internal/csvwriter"
	"github.com/your-org/bybit-perp-bot/internal/dbwriter"
	"github.com/your-org/bybit-perp-bot/internal/engine"
	"github.com/your-org/bybit-perp-bot/internal/exchange"
	"github.com/your-org/bybit-perp-bot/internal/feed"
	"github.com/your-org/bybit-perp-bot/internal/market"
	"github.com/your-org/bybit-perp-bot/internal/order"
	"github.com/your-org/bybit-perp-bot/internal/position"
	"github.com/your-org/bybit-perp-bot/internal/strategy"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

// App owns every component for one bot process.
type App struct {
	cfg       *config.Config
	zapLogger *zap.Logger
	gateway   exchange.Gateway
	dbWriter  dbwriter.DBWriter
	activity  *csvwriter.Activity
	optimize  bool
}

// Options tweak the run without editing the config file.
type Options struct {
	Optimize bool
}

// New builds the application from configuration.
func New(cfg *config.Config, opts Options) (*App, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.LogLevel == "debug" {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("zap logger: %w", err)
	}

	return &App{
		cfg:       cfg,
		zapLogger: zapLogger,
		gateway:   exchange.NewClient(cfg.Feed.RESTURL, cfg.APIKey, cfg.APISecret),
		optimize:  opts.Optimize,
	}, nil
}

// Run executes the configured mode until ctx is cancelled or the run
// completes.
func (a *App) Run(ctx context.Context) error {
	defer a.shutdown()

	if err := a.initSinks(ctx); err != nil {
		return err
	}

	switch a.cfg.Mode {
	case "backtest":
		return a.runBacktest(ctx)
	case "paper", "live":
		return a.runTrading(ctx)
	default:
		return fmt.Errorf("invalid mode %q", a.cfg.Mode)
	}
}

func (a *App) initSinks(ctx context.Context) error {
	var pool dbwriter.Pool
	if a.cfg.DBWriter.BatchSize > 0 && a.cfg.DBWriter.DSN != "" {
		pgPool, err := pgxpool.New(ctx, a.cfg.DBWriter.DSN)
		if err != nil {
			return fmt.Errorf("database pool: %w", err)
		}
		pool = pgPool
	}
	writer, err := dbwriter.NewTimescaleWriter(pool, a.cfg.DBWriter, a.zapLogger)
	if err != nil {
		return fmt.Errorf("db writer: %w", err)
	}
	a.dbWriter = writer

	activity, err := csvwriter.NewActivity(a.cfg.CSVDir, a.zapLogger)
	if err != nil {
		return fmt.Errorf("csv activity writer: %w", err)
	}
	a.activity = activity
	return nil
}

func (a *App) shutdown() {
	if a.activity != nil {
		if err := a.activity.Close(); err != nil {
			logger.Errorf("Closing activity writer: %v", err)
		}
	}
	if a.dbWriter != nil {
		a.dbWriter.Close()
	}
	_ = a.zapLogger.Sync()
}

// runTrading runs the paper or live pipeline: discover symbols,
// backfill, stream, strategy loop.
func (a *App) runTrading(ctx context.Context) error {
	cfg := a.cfg
	live := cfg.Mode == "live"
	logger.Infof("Starting %s trading with strategy %s", cfg.Mode, cfg.Strategy)

	instruments, err := a.gateway.FetchInstruments(ctx)
	if err != nil {
		return fmt.Errorf("instrument discovery: %w", err)
	}
	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		symbols = append(symbols, inst.Symbol)
	}
	logger.Infof("Discovered %d tradable symbols", len(symbols))

	store := market.NewStore(cfg.Trading.Timeframes, cfg.Trading.CandleLimit)
	store.Register(symbols...)

	stream := exchange.NewStream(cfg.Feed.WSURL, cfg.Feed.TopicChunk, time.Duration(cfg.Feed.HeartbeatSec)*time.Second)
	feedMgr := feed.NewManager(cfg, store, a.gateway, stream)

	if err := feedMgr.BackfillAll(ctx); err != nil {
		return fmt.Errorf("initial backfill: %w", err)
	}
	feedMgr.RepairGaps(ctx)

	ledger := position.NewLedger(cfg.Trading.StartBalance, cfg.Trading.MaxPositions)
	if live {
		if balance, err := a.gateway.GetBalance(ctx); err != nil {
			logger.Warnf("Wallet balance unavailable, using configured start balance: %v", err)
		} else {
			ledger = position.NewLedger(balance, cfg.Trading.MaxPositions)
			logger.Infof("Wallet balance: %.2f USD", balance)
		}
	}

	var exec order.Executor
	if live {
		exec = order.NewLiveExecutor(a.gateway, cfg.Trading.Leverage)
	} else {
		exec = order.NewSimExecutor(time.Duration(cfg.Trading.LatencyMs)*time.Millisecond,
			cfg.Trading.SlippagePct, cfg.Trading.FeeRate)
	}
	orders := order.NewManager(ledger, exec, cfg.Trading.TrailingPct)
	orders.SetTradeObserver(func(pos position.Position, exitPrice, pnl, fee float64) {
		a.dbWriter.SaveTrade(dbwriter.TradeRecord{
			Time:   time.Now().UTC(),
			Symbol: pos.Symbol,
			Side:   pos.Side,
			Entry:  pos.Entry,
			Exit:   exitPrice,
			Size:   pos.Size,
			PnL:    pnl,
			Fee:    fee,
		})
	})

	strat, err := strategy.New(cfg.Strategy, cfg)
	if err != nil {
		return err
	}

	eng := engine.New(store, ledger, orders, strat, a.numSymbols())
	eng.SetRecorder(&recorder{activity: a.activity, db: a.dbWriter})

	if !live {
		go reconcilePaperBalance(ctx, a.gateway, ledger, cfg.Trading.StartBalance, time.Minute)
	}
	go dumpCandlesLoop(ctx, filepath.Join(cfg.CSVDir, "candle_data"), store, a.zapLogger, time.Minute)

	errCh := make(chan error, 2)
	go func() { errCh <- feedMgr.Run(ctx) }()
	go func() { errCh <- eng.Run(ctx) }()

	err = <-errCh
	if ctx.Err() != nil {
		logger.Info("Shutdown requested, stopping")
		return nil
	}
	return err
}

func (a *App) runBacktest(ctx context.Context) error {
	logger.Infof("Starting backtest for %s over %d days, optimize=%v",
		a.cfg.Strategy, a.cfg.Backtest.Days, a.optimize)

	bt, err := backtest.Load(ctx, a.cfg, a.gateway)
	if err != nil {
		return err
	}

	if !a.optimize {
		metrics, err := bt.Run(ctx, backtest.Params{})
		if err != nil {
			return err
		}
		logReport(metrics)
		return nil
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	params, metrics, trials, err := bt.Optimize(ctx, a.cfg.Backtest.Trials, rng)
	if err != nil {
		return err
	}
	if err := csvwriter.WriteTrials(a.cfg.CSVDir, trials, a.zapLogger); err != nil {
		logger.Errorf("Writing trial results: %v", err)
	}
	logger.Infof("Best parameters: %+v", params)
	logReport(metrics)
	return nil
}

// reconcilePaperBalance keeps the simulated balance anchored to the real
// wallet in paper mode. The first successful read fixes the offset
// between the wallet and the configured start balance; afterwards any
// wallet movement (deposits, withdrawals, trades outside the bot) is
// applied to the ledger as a delta, so simulated PnL is preserved.
func reconcilePaperBalance(ctx context.Context, gateway exchange.Gateway, ledger *position.Ledger, start float64, interval time.Duration) {
	wallet, err := gateway.GetBalance(ctx)
	if err != nil {
		logger.Debugf("Paper balance reconciliation disabled, wallet unavailable: %v", err)
		return
	}
	offset := wallet - start
	logger.Infof("[Paper] Wallet %.2f, offset %.2f against start balance %.2f", wallet, offset, start)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := gateway.GetBalance(ctx)
			if err != nil {
				logger.Debugf("Paper balance read failed: %v", err)
				continue
			}
			if delta := current - wallet; delta != 0 {
				wallet = current
				ledger.AdjustBalance(delta)
				logger.Infof("[Paper] Adjusted balance by %.2f, wallet now %.2f, ledger %.2f",
					delta, wallet, ledger.Balance())
			}
		}
	}
}

// dumpCandlesLoop periodically snapshots the store into per-pair CSV
// files for offline inspection.
func dumpCandlesLoop(ctx context.Context, dir string, store *market.Store, zapLogger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := csvwriter.DumpCandles(dir, store.SnapshotAll(), zapLogger); err != nil {
				logger.Errorf("Candle dump failed: %v", err)
			}
		}
	}
}

func (a *App) numSymbols() int {
	if a.cfg.Strategy == "grid" {
		return a.cfg.Grid.NumSymbols
	}
	return a.cfg.SRSI.NumSymbols
}

func logReport(m backtest.Metrics) {
	logger.Infof("Backtest report: PnL %.2f, trades %d, win rate %.2f, max drawdown %.4f, final equity %.2f",
		m.PnL, m.Trades, m.WinRate, m.MaxDrawdown, m.FinalEquity)
}

// recorder fans engine activity out to the CSV and database sinks.
type recorder struct {
	activity *csvwriter.Activity
	db       dbwriter.DBWriter
}

func (r *recorder) RecordSignal(symbol string, sig strategy.Signal, price float64) {
	r.activity.RecordSignal(symbol, sig, price)
}

func (r *recorder) RecordEquity(ts time.Time, balance, equity float64) {
	r.activity.RecordEquity(ts, balance, equity)
	r.db.SaveEquity(dbwriter.EquityMark{Time: ts, Balance: balance, Equity: equity})
}
