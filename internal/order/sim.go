package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/bybit-perp-bot/internal/position"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

// SimExecutor fills orders locally with modeled latency, directional
// slippage and taker fees. Used by paper trading and backtests.
type SimExecutor struct {
	Latency     time.Duration
	SlippagePct float64
	FeeRate     float64
}

func NewSimExecutor(latency time.Duration, slippagePct, feeRate float64) *SimExecutor {
	return &SimExecutor{Latency: latency, SlippagePct: slippagePct, FeeRate: feeRate}
}

func (e *SimExecutor) wait(ctx context.Context) error {
	if e.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.Latency):
		return nil
	}
}

// fillPrice applies slippage in the unfavorable direction for the taker.
func (e *SimExecutor) fillPrice(refPrice float64, buying bool) float64 {
	if buying {
		return refPrice * (1 + e.SlippagePct)
	}
	return refPrice * (1 - e.SlippagePct)
}

func (e *SimExecutor) Open(ctx context.Context, symbol, side string, notional, refPrice, sl, tp float64) (Fill, error) {
	if refPrice <= 0 {
		return Fill{}, fmt.Errorf("no reference price for %s", symbol)
	}
	if err := e.wait(ctx); err != nil {
		return Fill{}, err
	}
	execPrice := e.fillPrice(refPrice, side == position.SideLong)
	size := notional / execPrice
	fee := notional * e.FeeRate * 2
	fill := Fill{
		OrderID: uuid.NewString(),
		Price:   execPrice,
		Size:    size,
		Fee:     fee,
	}
	logger.Infof("Simulated open %s for %s: %f @ %f", side, symbol, size, execPrice)
	return fill, nil
}

func (e *SimExecutor) Close(ctx context.Context, symbol string, pos position.Position, refPrice float64) (Fill, error) {
	if refPrice <= 0 {
		return Fill{}, fmt.Errorf("no reference price for %s", symbol)
	}
	if err := e.wait(ctx); err != nil {
		return Fill{}, err
	}
	// Closing a long sells, closing a short buys.
	execPrice := e.fillPrice(refPrice, pos.Side == position.SideShort)
	fee := pos.Size * execPrice * e.FeeRate * 2
	fill := Fill{
		OrderID: uuid.NewString(),
		Price:   execPrice,
		Size:    pos.Size,
		Fee:     fee,
	}
	logger.Infof("Simulated close %s for %s: %f @ %f", pos.Side, symbol, pos.Size, execPrice)
	return fill, nil
}
