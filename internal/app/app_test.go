package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/bybit-perp-bot/internal/exchange"
	"github.com/your-org/bybit-perp-bot/internal/market"
	"github.com/your-org/bybit-perp-bot/internal/position"
)

type walletGateway struct {
	mu      sync.Mutex
	balance float64
	fail    bool
}

func (g *walletGateway) setBalance(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balance = v
}

func (g *walletGateway) GetBalance(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return 0, fmt.Errorf("wallet unavailable")
	}
	return g.balance, nil
}

func (g *walletGateway) FetchInstruments(ctx context.Context) ([]exchange.Instrument, error) {
	return nil, nil
}

func (g *walletGateway) FetchInstrument(ctx context.Context, symbol string) (exchange.Instrument, error) {
	return exchange.Instrument{Symbol: symbol}, nil
}

func (g *walletGateway) FetchKlines(ctx context.Context, symbol, tf string, start, end int64) ([]market.Candle, error) {
	return nil, nil
}

func (g *walletGateway) GetTicker(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (g *walletGateway) GetPosition(ctx context.Context, symbol string) (*exchange.PositionInfo, error) {
	return &exchange.PositionInfo{Symbol: symbol}, nil
}

func (g *walletGateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	return nil
}

func (g *walletGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func TestReconcilePaperBalanceAppliesWalletDelta(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &walletGateway{balance: 1200}
	ledger := position.NewLedger(1000, 5)

	go reconcilePaperBalance(ctx, gw, ledger, 1000, 5*time.Millisecond)

	// The initial offset against the configured start balance is
	// absorbed, not applied.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1000.0, ledger.Balance())

	// A deposit of 50 flows through as a delta.
	gw.setBalance(1250)
	require.Eventually(t, func() bool {
		return ledger.Balance() == 1050
	}, time.Second, 5*time.Millisecond)

	// A withdrawal flows through the same way.
	gw.setBalance(1150)
	require.Eventually(t, func() bool {
		return ledger.Balance() == 950
	}, time.Second, 5*time.Millisecond)
}

func TestReconcilePaperBalanceBailsWhenWalletUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &walletGateway{fail: true}
	ledger := position.NewLedger(1000, 5)

	reconcilePaperBalance(ctx, gw, ledger, 1000, time.Millisecond)
	assert.Equal(t, 1000.0, ledger.Balance())
}
