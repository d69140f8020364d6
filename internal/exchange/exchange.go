// Package exchange defines the gateway contract to the derivatives
// exchange and its Bybit v5 implementation.
package exchange

import (
	"context"
	"fmt"

	"github.com/your-org/bybit-perp-bot/internal/market"
)

// APIError is a domain error: the exchange answered with a non-zero
// return code. Transport failures are reported as plain errors.
type APIError struct {
	RetCode int
	RetMsg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange retCode %d: %s", e.RetCode, e.RetMsg)
}

// Instrument describes a tradable perpetual contract.
type Instrument struct {
	Symbol  string
	QtyStep float64 // quantity granularity for orders
}

// PositionInfo is the exchange's view of an open position.
type PositionInfo struct {
	Symbol        string
	Side          string // "long" or "short", empty when flat
	Size          float64
	EntryPrice    float64
	Leverage      float64
	UnrealizedPnL float64
}

// Open reports whether the exchange holds a position for the symbol.
func (p *PositionInfo) Open() bool {
	return p != nil && p.Size > 0
}

// OrderRequest is a market order submission, optionally with SL/TP
// attached.
type OrderRequest struct {
	Symbol     string
	Side       string // "Buy" or "Sell"
	Qty        float64
	ReduceOnly bool
	StopLoss   float64 // 0 omits
	TakeProfit float64 // 0 omits
}

// Gateway is the call contract to the exchange. Implementations return
// *APIError for non-zero return codes and plain errors for transport
// failures.
type Gateway interface {
	// FetchInstruments lists tradable linear perpetual symbols.
	FetchInstruments(ctx context.Context) ([]Instrument, error)

	// FetchInstrument returns one instrument's metadata.
	FetchInstrument(ctx context.Context, symbol string) (Instrument, error)

	// FetchKlines pages historical candles for the pair in 1000-row
	// batches, stripping the still-open trailing candle of each page.
	// start/end are millisecond bounds; zero leaves them unset.
	FetchKlines(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)

	// GetTicker returns the last traded price.
	GetTicker(ctx context.Context, symbol string) (float64, error)

	// GetBalance returns the unified wallet balance in USD.
	GetBalance(ctx context.Context) (float64, error)

	// GetPosition returns the current position for the symbol; a flat
	// position is returned with Size 0, not an error.
	GetPosition(ctx context.Context, symbol string) (*PositionInfo, error)

	// SetLeverage adjusts buy and sell leverage for the symbol.
	SetLeverage(ctx context.Context, symbol string, leverage float64) error

	// PlaceOrder submits a market order and returns the order id.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
}
