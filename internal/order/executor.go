// Package order interprets strategy signals: it enforces position
// limits, executes fills through a simulated or live executor and keeps
// the ledger in sync.
package order

import (
	"context"

	"github.com/your-org/bybit-perp-bot/internal/position"
)

// Fill reports an executed order.
type Fill struct {
	OrderID string
	Price   float64 // execution price
	Size    float64 // contract quantity
	Fee     float64 // total fee debited from the ledger
}

// Executor performs fills. The simulated executor models slippage,
// latency and fees locally; the live executor delegates to the exchange
// gateway.
type Executor interface {
	// Open executes an opening market order for the notional amount.
	// refPrice is the caller's reference price; live execution refreshes
	// it from the exchange.
	Open(ctx context.Context, symbol, side string, notional, refPrice, sl, tp float64) (Fill, error)

	// Close executes a closing market order for the full position.
	Close(ctx context.Context, symbol string, pos position.Position, refPrice float64) (Fill, error)
}
