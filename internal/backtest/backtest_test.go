package backtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/bybit-perp-bot/internal/config"
	"github.com/your-org/bybit-perp-bot/internal/exchange"
	"github.com/your-org/bybit-perp-bot/internal/market"
)

type fakeGateway struct {
	instruments []exchange.Instrument
	klines      map[string][]market.Candle // key symbol/tf
	failKlines  bool
}

func (g *fakeGateway) FetchInstruments(ctx context.Context) ([]exchange.Instrument, error) {
	return g.instruments, nil
}

func (g *fakeGateway) FetchInstrument(ctx context.Context, symbol string) (exchange.Instrument, error) {
	return exchange.Instrument{Symbol: symbol, QtyStep: 0.001}, nil
}

func (g *fakeGateway) FetchKlines(ctx context.Context, symbol, tf string, start, end int64) ([]market.Candle, error) {
	if g.failKlines {
		return nil, fmt.Errorf("kline fetch failed")
	}
	return g.klines[symbol+"/"+tf], nil
}

func (g *fakeGateway) GetTicker(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (g *fakeGateway) GetBalance(ctx context.Context) (float64, error) { return 0, nil }

func (g *fakeGateway) GetPosition(ctx context.Context, symbol string) (*exchange.PositionInfo, error) {
	return &exchange.PositionInfo{Symbol: symbol}, nil
}

func (g *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	return nil
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func backtestConfig() config.Config {
	return config.Config{
		Strategy: "grid",
		Trading: config.TradingConf{
			Timeframes:    []string{"1", "15"},
			CandleLimit:   50,
			MaxPositions:  5,
			StartBalance:  1000,
			FeeRate:       0.0005,
			SlippagePct:   0.001,
			TrailingPct:   1,
			SizeMethod:    "percent",
			SizePct:       5,
			ATRMultiplier: 2,
		},
		Grid:     config.GridConf{NumLevels: 2, SpacingPct: 50, BreakoutOffsetPct: 0.5, NumSymbols: 3},
		SRSI:     config.SRSIConf{BuyThreshold: 20, SellThreshold: 80, NumSymbols: 3},
		Backtest: config.BacktestConf{Days: 1, MaxSymbols: 2, Trials: 3},
		Feed:     config.FeedConf{BackfillWorkers: 2},
	}
}

// upTrendEngine builds an engine over a single rising symbol. The 15m
// series carries the trend, the 1m series supplies the mark price.
func upTrendEngine(n int) *Engine {
	c15 := make([]market.Candle, n)
	c1 := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		ts := int64(i) * 900_000
		close := 100 + float64(i)
		c15[i] = market.Candle{Timestamp: ts, Open: close, High: close + 2, Low: close - 2, Close: close, Volume: 1}
		c1[i] = market.Candle{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
	}
	data := map[string]map[string][]market.Candle{
		"BTCUSDT": {"15": c15, "1": c1},
	}
	return &Engine{cfg: backtestConfig(), data: data, timestamps: collectTimestamps(data)}
}

func TestCollectTimestampsSkipsUnaligned(t *testing.T) {
	data := map[string]map[string][]market.Candle{
		"A": {"1": {
			{Timestamp: 60_000, Close: 1},
			{Timestamp: 61_234, Close: 2}, // off the minute grid
			{Timestamp: 120_000, Close: 3},
		}},
	}
	assert.Equal(t, []int64{60_000, 120_000}, collectTimestamps(data))
}

func TestViewAtTruncatesToRetention(t *testing.T) {
	e := upTrendEngine(60)
	e.cfg.Trading.CandleLimit = 10

	ts := int64(59) * 900_000
	snap := e.viewAt(ts)
	require.Contains(t, snap, "BTCUSDT")
	candles := snap["BTCUSDT"]["15"]
	require.Len(t, candles, 10)
	assert.Equal(t, ts, candles[len(candles)-1].Timestamp)
}

func TestViewAtExcludesFuture(t *testing.T) {
	e := upTrendEngine(60)

	snap := e.viewAt(4 * 900_000)
	candles := snap["BTCUSDT"]["15"]
	require.Len(t, candles, 5)
	for _, c := range candles {
		assert.LessOrEqual(t, c.Timestamp, int64(4*900_000))
	}

	snap = e.viewAt(-1)
	assert.NotContains(t, snap, "BTCUSDT")
}

func TestRunProfitsOnUptrend(t *testing.T) {
	e := upTrendEngine(60)

	metrics, err := e.Run(context.Background(), Params{})
	require.NoError(t, err)

	assert.Greater(t, metrics.Trades, 0)
	assert.Greater(t, metrics.Wins, 0)
	assert.Greater(t, metrics.PnL, 0.0)
	assert.GreaterOrEqual(t, metrics.MaxDrawdown, 0.0)
	assert.InDelta(t, 1000+metrics.PnL, metrics.FinalEquity, 1e-9)
	assert.GreaterOrEqual(t, metrics.PeakBalance, 1000.0)
}

func TestRunSurvivesBadStepData(t *testing.T) {
	e := upTrendEngine(60)
	// A zero close is structurally valid but yields no usable fill
	// price; the step is skipped, the replay keeps going.
	e.data["BTCUSDT"]["1"][28].Close = 0

	metrics, err := e.Run(context.Background(), Params{})
	require.NoError(t, err)
	assert.Greater(t, metrics.Trades, 0)
}

func TestMetricsObserveTracksRunningDrawdown(t *testing.T) {
	m := Metrics{PeakBalance: 1000}

	m.observe(1100, 1000)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 1100.0, m.PeakBalance)

	m.observe(990, 1000)
	assert.InDelta(t, 110.0/1100.0, m.MaxDrawdown, 1e-9)
	assert.Equal(t, -10.0, m.PnL)

	// A smaller dip never shrinks the reported maximum.
	m.observe(1050, 1000)
	assert.InDelta(t, 110.0/1100.0, m.MaxDrawdown, 1e-9)

	m.observe(880, 1000)
	assert.InDelta(t, 220.0/1100.0, m.MaxDrawdown, 1e-9)
	assert.Equal(t, 1100.0, m.PeakBalance)
}

func TestRunIsRepeatable(t *testing.T) {
	e := upTrendEngine(60)

	first, err := e.Run(context.Background(), Params{})
	require.NoError(t, err)
	second, err := e.Run(context.Background(), Params{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunDoesNotMutateConfig(t *testing.T) {
	e := upTrendEngine(60)
	override := config.GridConf{NumLevels: 2, SpacingPct: 60, BreakoutOffsetPct: 0.4, NumSymbols: 3}

	_, err := e.Run(context.Background(), Params{Grid: &override})
	require.NoError(t, err)
	assert.Equal(t, 50.0, e.cfg.Grid.SpacingPct)
}

func TestParamsApply(t *testing.T) {
	cfg := backtestConfig()
	override := config.SRSIConf{BuyThreshold: 15, SellThreshold: 85, NumSymbols: 3}

	applied := Params{SRSI: &override}.apply(cfg)
	assert.Equal(t, 15.0, applied.SRSI.BuyThreshold)
	assert.Equal(t, 20.0, cfg.SRSI.BuyThreshold)
	assert.Equal(t, cfg.Grid, applied.Grid)

	assert.Equal(t, cfg, Params{}.apply(cfg))
}

func TestLoadBoundsSymbolsAndNormalizes(t *testing.T) {
	cfg := backtestConfig()
	cfg.Backtest.MaxSymbols = 1
	gw := &fakeGateway{
		instruments: []exchange.Instrument{{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}},
		klines: map[string][]market.Candle{
			"BTCUSDT/1": {
				{Timestamp: 120_000, Close: 2, Open: 2, High: 2, Low: 2, Volume: 1},
				{Timestamp: 60_000, Close: 1, Open: 1, High: 1, Low: 1, Volume: 1},
				{Timestamp: 120_000, Close: 2.5, Open: 2.5, High: 2.5, Low: 2.5, Volume: 1},
			},
			"BTCUSDT/15": {
				{Timestamp: 900_000, Close: 1, Open: 1, High: 1, Low: 1, Volume: 1},
			},
		},
	}

	e, err := Load(context.Background(), &cfg, gw)
	require.NoError(t, err)

	require.Contains(t, e.data, "BTCUSDT")
	assert.NotContains(t, e.data, "ETHUSDT")

	ones := e.data["BTCUSDT"]["1"]
	require.Len(t, ones, 2)
	assert.Equal(t, int64(60_000), ones[0].Timestamp)
	assert.Equal(t, 2.5, ones[1].Close) // later duplicate wins
	assert.Equal(t, []int64{60_000, 120_000, 900_000}, e.timestamps)
}

func TestLoadFailsWithoutData(t *testing.T) {
	cfg := backtestConfig()
	gw := &fakeGateway{
		instruments: []exchange.Instrument{{Symbol: "BTCUSDT"}},
		failKlines:  true,
	}

	_, err := Load(context.Background(), &cfg, gw)
	assert.Error(t, err)
}
