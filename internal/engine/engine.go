// Package engine runs the periodic live strategy cycle: snapshot,
// rank, evaluate concurrently, apply signals.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/your-org/bybit-perp-bot/internal/market"
	"github.com/your-org/bybit-perp-bot/internal/order"
	"github.com/your-org/bybit-perp-bot/internal/position"
	"github.com/your-org/bybit-perp-bot/internal/ranker"
	"github.com/your-org/bybit-perp-bot/internal/strategy"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

const (
	batchSize  = 50
	maxWorkers = 20
)

// Recorder observes engine activity for logging sinks. Implementations
// must be safe for concurrent use.
type Recorder interface {
	RecordSignal(symbol string, sig strategy.Signal, price float64)
	RecordEquity(ts time.Time, balance, equity float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordSignal(string, strategy.Signal, float64) {}
func (nopRecorder) RecordEquity(time.Time, float64, float64)      {}

// Engine owns the strategy cycle. Evaluation is concurrent per symbol;
// signal application is serialized so the ledger sees one mutation
// stream.
type Engine struct {
	store      *market.Store
	ledger     *position.Ledger
	orders     *order.Manager
	strat      strategy.Strategy
	numSymbols int
	recorder   Recorder
}

func New(store *market.Store, ledger *position.Ledger, orders *order.Manager, strat strategy.Strategy, numSymbols int) *Engine {
	return &Engine{
		store:      store,
		ledger:     ledger,
		orders:     orders,
		strat:      strat,
		numSymbols: numSymbols,
		recorder:   nopRecorder{},
	}
}

// SetRecorder installs an activity sink. Must be called before Run.
func (e *Engine) SetRecorder(r Recorder) {
	if r != nil {
		e.recorder = r
	}
}

// Run executes one cycle per minute, aligned to the minute boundary
// with a one second buffer so the closing candles have arrived. An
// in-flight cycle completes before a stop request takes effect.
func (e *Engine) Run(ctx context.Context) error {
	logger.Info("Strategy loop started")
	defer logger.Info("Strategy loop stopped")
	for {
		start := time.Now()
		e.Cycle(ctx)
		logger.Infof("Strategy cycle completed in %.2fs", time.Since(start).Seconds())

		wait := time.Until(start.Truncate(time.Minute).Add(time.Minute + time.Second))
		if wait < 0 {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Cycle runs one full pass: protective checks, ranking, concurrent
// evaluation and serialized signal application.
func (e *Engine) Cycle(ctx context.Context) {
	snapshot := e.store.SnapshotAll()
	priceOf := PriceLookup(snapshot)

	e.orders.RefreshPositions(ctx, priceOf)

	selected := ranker.SelectTop(snapshot, e.numSymbols)
	signals := Evaluate(snapshot, selected, e.strat, e.ledger)

	for _, symbol := range selected {
		sig, ok := signals[symbol]
		if !ok || sig.Action == strategy.Hold {
			continue
		}
		price, ok := priceOf(symbol)
		if !ok {
			continue
		}
		e.recorder.RecordSignal(symbol, sig, price)
		if err := e.orders.Apply(ctx, symbol, sig, price); err != nil {
			logger.Errorf("Signal application for %s failed: %v", symbol, err)
		}
	}

	e.recorder.RecordEquity(time.Now(), e.ledger.Balance(), e.ledger.Equity())
}

// PriceLookup returns a price function backed by the snapshot's latest
// 1m close.
func PriceLookup(snapshot market.Snapshot) func(symbol string) (float64, bool) {
	return func(symbol string) (float64, bool) {
		candles := snapshot[symbol]["1"]
		if len(candles) == 0 {
			return 0, false
		}
		return candles[len(candles)-1].Close, true
	}
}

// Evaluate analyzes the selected symbols through a bounded worker pool
// and returns the non-hold signals keyed by symbol. Strategies only
// read shared state, so evaluation parallelizes freely.
func Evaluate(snapshot market.Snapshot, selected []string, strat strategy.Strategy, ledger *position.Ledger) map[string]strategy.Signal {
	var mu sync.Mutex
	signals := make(map[string]strategy.Signal, len(selected))

	for start := 0; start < len(selected); start += batchSize {
		batch := selected[start:min(start+batchSize, len(selected))]
		jobs := make(chan string)
		var wg sync.WaitGroup
		workers := min(maxWorkers, len(batch))
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for symbol := range jobs {
					view := strategy.MarketView{Symbol: symbol, CandlesByTF: snapshot[symbol]}
					sig := strat.Analyze(view, ledger)
					if sig.Action == strategy.Hold {
						continue
					}
					mu.Lock()
					signals[symbol] = sig
					mu.Unlock()
				}
			}()
		}
		for _, symbol := range batch {
			jobs <- symbol
		}
		close(jobs)
		wg.Wait()
	}
	return signals
}
