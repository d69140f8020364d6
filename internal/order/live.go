package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/your-org/bybit-perp-bot/internal/exchange"
	"github.com/your-org/bybit-perp-bot/internal/position"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

// minOrderValue is the exchange's minimum order value in USD.
const minOrderValue = 5

// LiveExecutor dispatches orders to the exchange gateway. Failures are
// reported, never retried here.
type LiveExecutor struct {
	gateway  exchange.Gateway
	leverage float64
}

func NewLiveExecutor(gateway exchange.Gateway, leverage float64) *LiveExecutor {
	return &LiveExecutor{gateway: gateway, leverage: leverage}
}

// roundToStep snaps qty to the instrument's quantity granularity.
// Decimal arithmetic here: float rounding can produce a quantity the
// exchange rejects.
func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	rounded, _ := q.Div(s).Round(0).Mul(s).Float64()
	return rounded
}

func (e *LiveExecutor) Open(ctx context.Context, symbol, side string, notional, refPrice, sl, tp float64) (Fill, error) {
	if e.leverage > 0 {
		if err := e.gateway.SetLeverage(ctx, symbol, e.leverage); err != nil {
			logger.Warnf("Leverage adjustment for %s failed: %v", symbol, err)
		}
	}

	existing, err := e.gateway.GetPosition(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("position lookup: %w", err)
	}
	if existing.Open() {
		if existing.Side == side {
			logger.Infof("Position already open for %s (%s), no action", symbol, side)
			return Fill{Price: existing.EntryPrice, Size: existing.Size}, nil
		}
		logger.Infof("Closing opposite %s position on %s before open", existing.Side, symbol)
		if _, err := e.closeRemote(ctx, symbol, existing); err != nil {
			return Fill{}, err
		}
	}

	price, err := e.gateway.GetTicker(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("market price: %w", err)
	}
	inst, err := e.gateway.FetchInstrument(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("instrument info: %w", err)
	}

	qty := notional / price
	if minQty := minOrderValue / price; qty < minQty {
		qty = minQty
	}
	qty = roundToStep(qty, inst.QtyStep)
	if qty <= 0 {
		return Fill{}, fmt.Errorf("notional %f rounds to zero quantity for %s", notional, symbol)
	}

	buying := side == position.SideLong
	if sl == 0 {
		if buying {
			sl = price * 0.975
		} else {
			sl = price * 1.025
		}
	}
	if tp == 0 {
		if buying {
			tp = price * 1.05
		} else {
			tp = price * 0.95
		}
	}
	if buying && (sl >= price || tp <= price) {
		return Fill{}, fmt.Errorf("invalid SL/TP for buy: sl=%f tp=%f price=%f", sl, tp, price)
	}
	if !buying && (sl <= price || tp >= price) {
		return Fill{}, fmt.Errorf("invalid SL/TP for sell: sl=%f tp=%f price=%f", sl, tp, price)
	}

	orderSide := "Buy"
	if !buying {
		orderSide = "Sell"
	}
	orderID, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       orderSide,
		Qty:        qty,
		StopLoss:   sl,
		TakeProfit: tp,
	})
	if err != nil {
		return Fill{}, err
	}
	logger.Infof("Market %s %f %s @ ~%f, order %s", orderSide, qty, symbol, price, orderID)

	// The exchange's reported position is authoritative for entry price
	// and size; fall back to our own numbers if the read fails.
	fill := Fill{OrderID: orderID, Price: price, Size: qty}
	if confirmed, err := e.gateway.GetPosition(ctx, symbol); err == nil && confirmed.Open() {
		fill.Price = confirmed.EntryPrice
		fill.Size = confirmed.Size
	}
	return fill, nil
}

func (e *LiveExecutor) Close(ctx context.Context, symbol string, pos position.Position, refPrice float64) (Fill, error) {
	existing, err := e.gateway.GetPosition(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("position lookup: %w", err)
	}
	if !existing.Open() {
		logger.Infof("No open position on exchange for %s, nothing to close", symbol)
		return Fill{Price: pos.Entry, Size: 0}, nil
	}
	return e.closeRemote(ctx, symbol, existing)
}

func (e *LiveExecutor) closeRemote(ctx context.Context, symbol string, pos *exchange.PositionInfo) (Fill, error) {
	side := "Sell"
	if pos.Side == position.SideShort {
		side = "Buy"
	}
	orderID, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Qty:        pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return Fill{}, err
	}
	price, err := e.gateway.GetTicker(ctx, symbol)
	if err != nil {
		price = pos.EntryPrice
	}
	logger.Infof("Closed %f %s %s position, order %s", pos.Size, symbol, pos.Side, orderID)
	return Fill{OrderID: orderID, Price: price, Size: pos.Size}, nil
}
