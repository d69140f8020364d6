package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/bybit-perp-bot/internal/market"
	"github.com/your-org/bybit-perp-bot/internal/order"
	"github.com/your-org/bybit-perp-bot/internal/position"
	"github.com/your-org/bybit-perp-bot/internal/strategy"
)

type stubStrategy struct {
	signals map[string]strategy.Signal
}

func (s stubStrategy) Name() string { return "stub" }

func (s stubStrategy) Analyze(view strategy.MarketView, _ strategy.LedgerView) strategy.Signal {
	return s.signals[view.Symbol]
}

type captureRecorder struct {
	mu      sync.Mutex
	signals []string
	equity  int
}

func (r *captureRecorder) RecordSignal(symbol string, sig strategy.Signal, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, symbol)
}

func (r *captureRecorder) RecordEquity(ts time.Time, balance, equity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.equity++
}

// upTrendSeries yields rising 15m candles wide enough for the ranker's
// indicators.
func upTrendSeries(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		out[i] = market.Candle{
			Timestamp: int64(i) * 900_000,
			Open:      price, High: price + 2, Low: price - 2, Close: price,
			Volume: 1,
		}
	}
	return out
}

func minuteSeries(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		out[i] = market.Candle{Timestamp: int64(i) * 60_000, Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return out
}

func TestPriceLookup(t *testing.T) {
	snapshot := market.Snapshot{
		"BTCUSDT": {"1": {{Timestamp: 60_000, Close: 101}, {Timestamp: 120_000, Close: 102}}},
		"ETHUSDT": {"15": {{Timestamp: 900_000, Close: 7}}},
	}
	priceOf := PriceLookup(snapshot)

	price, ok := priceOf("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 102.0, price)

	_, ok = priceOf("ETHUSDT") // no 1m series
	assert.False(t, ok)
	_, ok = priceOf("XRPUSDT")
	assert.False(t, ok)
}

func TestEvaluateKeepsOnlyActionableSignals(t *testing.T) {
	snapshot := make(market.Snapshot)
	selected := make([]string, 0, 120)
	signals := make(map[string]strategy.Signal)
	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		signals[symbol] = strategy.Signal{Action: strategy.OpenLong, Amount: 10}
	}
	// More symbols than one batch holds, most of them holding.
	for i := 0; i < 120; i++ {
		symbol := string(rune('A'+i%26)) + string(rune('A'+i%26)) + string(rune('A'+(i/26)%26))
		snapshot[symbol] = map[string][]market.Candle{}
		selected = append(selected, symbol)
	}

	ledger := position.NewLedger(1000, 5)
	out := Evaluate(snapshot, selected, stubStrategy{signals: signals}, ledger)

	for symbol, sig := range out {
		assert.Contains(t, signals, symbol)
		assert.Equal(t, strategy.OpenLong, sig.Action)
	}
	assert.Contains(t, out, "AAA")
}

func TestCycleOpensSignaledPosition(t *testing.T) {
	store := market.NewStore([]string{"1", "15"}, 50)
	store.Register("BTCUSDT")
	require.True(t, store.Replace("BTCUSDT", "15", upTrendSeries(40)))
	require.True(t, store.Replace("BTCUSDT", "1", minuteSeries(40)))

	ledger := position.NewLedger(1000, 5)
	exec := order.NewSimExecutor(0, 0, 0)
	orders := order.NewManager(ledger, exec, 1)
	strat := stubStrategy{signals: map[string]strategy.Signal{
		"BTCUSDT": {Action: strategy.OpenLong, Amount: 100, StopLoss: 50, TakeProfit: 500},
	}}

	eng := New(store, ledger, orders, strat, 5)
	rec := &captureRecorder{}
	eng.SetRecorder(rec)

	eng.Cycle(context.Background())

	pos, ok := ledger.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, position.SideLong, pos.Side)
	assert.Equal(t, []string{"BTCUSDT"}, rec.signals)
	assert.Equal(t, 1, rec.equity)

	// A repeated open signal is recorded but absorbed by the manager.
	eng.Cycle(context.Background())
	assert.Equal(t, 1, ledger.OpenCount())
	assert.Len(t, rec.signals, 2)
	assert.Equal(t, 2, rec.equity)
}
