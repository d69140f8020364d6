// Package position holds the ledger of open positions and the realized
// trading account state.
package position

import (
	"sync"
	"time"

	"github.com/your-org/bybit-perp-bot/pkg/logger"
)

const (
	SideLong  = "long"
	SideShort = "short"
)

// Position is one open position. Size is the contract quantity; Notional
// is the committed USD value at entry.
type Position struct {
	Symbol        string
	Side          string
	Entry         float64
	Size          float64
	Notional      float64
	StopLoss      float64
	TakeProfit    float64
	UnrealizedPnL float64
	OpenedAt      time.Time
}

// Ledger maps symbols to open positions and tracks balance and trade
// statistics. One lock guards everything; every mutation goes through it.
type Ledger struct {
	mu           sync.Mutex
	balance      float64
	positions    map[string]*Position
	maxPositions int

	trades int
	wins   int
}

func NewLedger(startBalance float64, maxPositions int) *Ledger {
	return &Ledger{
		balance:      startBalance,
		positions:    make(map[string]*Position),
		maxPositions: maxPositions,
	}
}

// Balance returns the realized balance.
func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Equity returns balance plus unrealized PnL across open positions.
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	equity := l.balance
	for _, p := range l.positions {
		equity += p.UnrealizedPnL
	}
	return equity
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// AtCapacity reports whether the ledger already holds the maximum
// number of concurrent positions.
func (l *Ledger) AtCapacity() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions) >= l.maxPositions
}

// PositionSide returns the open side for the symbol, if any.
func (l *Ledger) PositionSide(symbol string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return "", false
	}
	return p.Side, true
}

// SizingBalance returns the balance available for sizing a new position
// on the symbol, including that symbol's unrealized PnL.
func (l *Ledger) SizingBalance(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balance
	if p, ok := l.positions[symbol]; ok {
		balance += p.UnrealizedPnL
	}
	return balance
}

// Get returns a copy of the symbol's open position.
func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of every open position.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Open records a new position and debits the fee. It fails when the
// position cap is reached or the symbol already has an open position;
// ok reports whether the position was recorded.
func (l *Ledger) Open(p Position, fee float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.positions) >= l.maxPositions {
		logger.Infof("Ignoring open for %s, position cap %d reached", p.Symbol, l.maxPositions)
		return false
	}
	if _, exists := l.positions[p.Symbol]; exists {
		return false
	}
	l.balance -= fee
	stored := p
	l.positions[p.Symbol] = &stored
	return true
}

// Close removes the symbol's position if its side matches, settles
// pnl minus fee into the balance and updates the trade counters. This
// is the single point where wins and trades are counted; a positive
// realized PnL counts as a win. ok is false when no matching position
// was open.
func (l *Ledger) Close(symbol, side string, pnl, fee float64) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, exists := l.positions[symbol]
	if !exists || p.Side != side {
		return Position{}, false
	}
	delete(l.positions, symbol)
	l.balance += pnl - fee
	l.trades++
	if pnl > 0 {
		l.wins++
	}
	return *p, true
}

// MarkPrice refreshes the symbol's unrealized PnL from the given price.
func (l *Ledger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return
	}
	if p.Side == SideLong {
		p.UnrealizedPnL = (price - p.Entry) * p.Size
	} else {
		p.UnrealizedPnL = (p.Entry - price) * p.Size
	}
}

// SetStopLoss writes a new stop level for the symbol.
func (l *Ledger) SetStopLoss(symbol string, sl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbol]; ok {
		p.StopLoss = sl
	}
}

// AdjustBalance applies a reconciliation delta reported by the exchange.
func (l *Ledger) AdjustBalance(delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += delta
}

// Stats returns the trade count, win count and win rate.
func (l *Ledger) Stats() (trades, wins int, winRate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.trades > 0 {
		winRate = float64(l.wins) / float64(l.trades)
	}
	return l.trades, l.wins, winRate
}
