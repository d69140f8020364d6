package order

import (
	"context"
	"fmt"

	"github.com/your-org/bybit-perp-bot/internal/position"
	"github.com/your-org/bybit-perp-bot/internal/risk"
	"github.com/your-org/bybit-perp-bot/internal/strategy"
	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

// TradeObserver is notified after every realized close.
type TradeObserver func(pos position.Position, exitPrice, pnl, fee float64)

// Manager routes strategy signals to the executor and mutates the
// ledger. All open/close operations are idempotent: acting on
// already-correct state succeeds without effect.
type Manager struct {
	ledger      *position.Ledger
	exec        Executor
	trailingPct float64
	onTrade     TradeObserver
}

func NewManager(ledger *position.Ledger, exec Executor, trailingPct float64) *Manager {
	return &Manager{ledger: ledger, exec: exec, trailingPct: trailingPct}
}

// SetTradeObserver installs a realized-close hook. Must be called
// before signals flow.
func (m *Manager) SetTradeObserver(o TradeObserver) {
	m.onTrade = o
}

// Apply routes one signal for the symbol. refPrice is the latest known
// market price, used as the simulated fill reference.
func (m *Manager) Apply(ctx context.Context, symbol string, sig strategy.Signal, refPrice float64) error {
	switch sig.Action {
	case strategy.OpenLong:
		return m.OpenLong(ctx, symbol, sig.Amount, sig.StopLoss, sig.TakeProfit, refPrice)
	case strategy.OpenShort:
		return m.OpenShort(ctx, symbol, sig.Amount, sig.StopLoss, sig.TakeProfit, refPrice)
	case strategy.CloseLong:
		return m.CloseLong(ctx, symbol, refPrice)
	case strategy.CloseShort:
		return m.CloseShort(ctx, symbol, refPrice)
	default:
		return nil
	}
}

func (m *Manager) OpenLong(ctx context.Context, symbol string, amount, sl, tp, refPrice float64) error {
	return m.open(ctx, symbol, position.SideLong, amount, sl, tp, refPrice)
}

func (m *Manager) OpenShort(ctx context.Context, symbol string, amount, sl, tp, refPrice float64) error {
	return m.open(ctx, symbol, position.SideShort, amount, sl, tp, refPrice)
}

func (m *Manager) open(ctx context.Context, symbol, side string, amount, sl, tp, refPrice float64) error {
	if current, ok := m.ledger.PositionSide(symbol); ok {
		logger.Debugf("Ignoring open %s for %s, %s position already held", side, symbol, current)
		return nil
	}
	// The cap is enforced before the executor runs: a rejected open must
	// not leave an order on the exchange.
	if m.ledger.AtCapacity() {
		return fmt.Errorf("position cap reached, rejecting open %s for %s", side, symbol)
	}
	fill, err := m.exec.Open(ctx, symbol, side, amount, refPrice, sl, tp)
	if err != nil {
		logger.Errorf("Open %s for %s failed: %v", side, symbol, err)
		return err
	}
	if fill.Size == 0 {
		return nil
	}
	opened := m.ledger.Open(position.Position{
		Symbol:     symbol,
		Side:       side,
		Entry:      fill.Price,
		Size:       fill.Size,
		Notional:   fill.Price * fill.Size,
		StopLoss:   sl,
		TakeProfit: tp,
	}, fill.Fee)
	if !opened {
		logger.Warnf("Ledger rejected fill for %s, position cap or duplicate", symbol)
	}
	return nil
}

func (m *Manager) CloseLong(ctx context.Context, symbol string, refPrice float64) error {
	return m.close(ctx, symbol, position.SideLong, refPrice)
}

func (m *Manager) CloseShort(ctx context.Context, symbol string, refPrice float64) error {
	return m.close(ctx, symbol, position.SideShort, refPrice)
}

func (m *Manager) close(ctx context.Context, symbol, side string, refPrice float64) error {
	pos, ok := m.ledger.Get(symbol)
	if !ok || pos.Side != side {
		return nil
	}
	fill, err := m.exec.Close(ctx, symbol, pos, refPrice)
	if err != nil {
		logger.Errorf("Close %s for %s failed: %v", side, symbol, err)
		return err
	}
	pnl := (fill.Price - pos.Entry) * pos.Size
	if side == position.SideShort {
		pnl = -pnl
	}
	if closed, ok := m.ledger.Close(symbol, side, pnl, fill.Fee); ok {
		logger.Infof("Closed %s %s at %f, PnL %f", side, symbol, fill.Price, pnl)
		if m.onTrade != nil {
			m.onTrade(closed, fill.Price, pnl, fill.Fee)
		}
	}
	return nil
}

// RefreshPositions runs the protective checks against every open
// position: a stop-loss or take-profit hit closes it, otherwise the
// trailing stop may tighten. priceOf supplies the latest price per
// symbol.
func (m *Manager) RefreshPositions(ctx context.Context, priceOf func(symbol string) (float64, bool)) {
	for _, pos := range m.ledger.Positions() {
		price, ok := priceOf(pos.Symbol)
		if !ok || price <= 0 {
			continue
		}
		m.ledger.MarkPrice(pos.Symbol, price)

		long := pos.Side == position.SideLong
		hit := false
		if long {
			hit = (pos.StopLoss > 0 && price <= pos.StopLoss) || (pos.TakeProfit > 0 && price >= pos.TakeProfit)
		} else {
			hit = (pos.StopLoss > 0 && price >= pos.StopLoss) || (pos.TakeProfit > 0 && price <= pos.TakeProfit)
		}
		if hit {
			logger.Infof("Protective level hit for %s %s at %f", pos.Side, pos.Symbol, price)
			if err := m.close(ctx, pos.Symbol, pos.Side, price); err != nil {
				logger.Errorf("Protective close for %s failed: %v", pos.Symbol, err)
			}
			continue
		}

		if sl, ok := risk.TrailingStop(price, pos.Entry, pos.StopLoss, long, m.trailingPct); ok {
			m.ledger.SetStopLoss(pos.Symbol, sl)
			logger.Debugf("Trailing stop for %s tightened to %f", pos.Symbol, sl)
		}
	}
}
