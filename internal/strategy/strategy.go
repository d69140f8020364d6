// Package strategy defines the trading signal contract and the
// strategies that produce signals from market views.
package strategy

import (
	"fmt"
	"sort"

	"github.com/your-org/bybit-perp-bot/internal/config"
	"github.com/your-org/bybit-perp-bot/internal/market"
)

// Action is the decision a strategy emits for one symbol.
type Action int

const (
	Hold Action = iota
	OpenLong
	OpenShort
	CloseLong
	CloseShort
)

func (a Action) String() string {
	switch a {
	case Hold:
		return "HOLD"
	case OpenLong:
		return "OPEN_LONG"
	case OpenShort:
		return "OPEN_SHORT"
	case CloseLong:
		return "CLOSE_LONG"
	case CloseShort:
		return "CLOSE_SHORT"
	default:
		return "UNKNOWN"
	}
}

// Signal carries the action plus, for opens, the notional amount and the
// protective levels.
type Signal struct {
	Action     Action
	Amount     float64
	StopLoss   float64
	TakeProfit float64
}

var hold = Signal{Action: Hold}

// MarketView bundles one symbol's candle series keyed by timeframe. The
// series are immutable snapshots.
type MarketView struct {
	Symbol      string
	CandlesByTF map[string][]market.Candle
}

// Latest returns the most recent candle of the timeframe.
func (v MarketView) Latest(timeframe string) (market.Candle, bool) {
	candles := v.CandlesByTF[timeframe]
	if len(candles) == 0 {
		return market.Candle{}, false
	}
	return candles[len(candles)-1], true
}

// LedgerView is the read-only slice of the position ledger strategies
// may consult. Strategies never mutate shared state.
type LedgerView interface {
	// PositionSide returns "long" or "short" when a position is open for
	// the symbol.
	PositionSide(symbol string) (string, bool)

	// OpenCount returns the number of open positions across all symbols.
	OpenCount() int

	// SizingBalance returns the balance available for sizing a new
	// position on the symbol, including that symbol's unrealized PnL.
	SizingBalance(symbol string) float64
}

// Strategy analyzes one symbol's market view against the ledger and
// emits a signal. Implementations must be safe for concurrent use.
type Strategy interface {
	Name() string
	Analyze(view MarketView, ledger LedgerView) Signal
}

type factory func(cfg *config.Config) Strategy

var registry = map[string]factory{
	"srsi": newSRSI,
	"grid": newGrid,
}

// New instantiates the named strategy from the configuration.
func New(name string, cfg *config.Config) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(cfg), nil
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
