package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerOpenDebitsFee(t *testing.T) {
	l := NewLedger(1000, 5)
	ok := l.Open(Position{Symbol: "BTCUSDT", Side: SideLong, Entry: 100, Size: 1}, 2)
	require.True(t, ok)
	assert.Equal(t, 998.0, l.Balance())
	assert.Equal(t, 1, l.OpenCount())
}

func TestLedgerOpenEnforcesCap(t *testing.T) {
	l := NewLedger(1000, 2)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong}, 0))
	require.True(t, l.Open(Position{Symbol: "B", Side: SideShort}, 0))

	assert.False(t, l.Open(Position{Symbol: "C", Side: SideLong}, 0))
	assert.Equal(t, 2, l.OpenCount())
}

func TestLedgerAtCapacity(t *testing.T) {
	l := NewLedger(1000, 2)
	assert.False(t, l.AtCapacity())

	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong}, 0))
	assert.False(t, l.AtCapacity())
	require.True(t, l.Open(Position{Symbol: "B", Side: SideShort}, 0))
	assert.True(t, l.AtCapacity())

	_, ok := l.Close("A", SideLong, 0, 0)
	require.True(t, ok)
	assert.False(t, l.AtCapacity())
}

func TestLedgerOpenRejectsDuplicateSymbol(t *testing.T) {
	l := NewLedger(1000, 5)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong}, 0))
	assert.False(t, l.Open(Position{Symbol: "A", Side: SideShort}, 0))
}

func TestLedgerCloseSettlesAndCounts(t *testing.T) {
	l := NewLedger(1000, 5)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong, Entry: 100, Size: 2}, 0))

	closed, ok := l.Close("A", SideLong, 20, 1)
	require.True(t, ok)
	assert.Equal(t, "A", closed.Symbol)
	assert.Equal(t, 1019.0, l.Balance())
	assert.Equal(t, 0, l.OpenCount())

	trades, wins, winRate := l.Stats()
	assert.Equal(t, 1, trades)
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1.0, winRate)
}

func TestLedgerCloseLossIsNotAWin(t *testing.T) {
	l := NewLedger(1000, 5)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideShort, Entry: 100, Size: 1}, 0))

	_, ok := l.Close("A", SideShort, -10, 1)
	require.True(t, ok)

	trades, wins, winRate := l.Stats()
	assert.Equal(t, 1, trades)
	assert.Equal(t, 0, wins)
	assert.Equal(t, 0.0, winRate)
}

func TestLedgerCloseMismatchIsNoOp(t *testing.T) {
	l := NewLedger(1000, 5)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong}, 0))

	_, ok := l.Close("A", SideShort, 10, 0)
	assert.False(t, ok)
	_, ok = l.Close("B", SideLong, 10, 0)
	assert.False(t, ok)

	// Neither balance nor counters moved.
	assert.Equal(t, 1000.0, l.Balance())
	trades, _, _ := l.Stats()
	assert.Equal(t, 0, trades)
}

func TestLedgerCloseCountsOncePerPosition(t *testing.T) {
	l := NewLedger(1000, 5)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong}, 0))

	_, ok := l.Close("A", SideLong, 5, 0)
	require.True(t, ok)
	_, ok = l.Close("A", SideLong, 5, 0)
	assert.False(t, ok)

	trades, wins, _ := l.Stats()
	assert.Equal(t, 1, trades)
	assert.Equal(t, 1, wins)
}

func TestLedgerMarkPriceAndEquity(t *testing.T) {
	l := NewLedger(1000, 5)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong, Entry: 100, Size: 2}, 0))
	require.True(t, l.Open(Position{Symbol: "B", Side: SideShort, Entry: 50, Size: 4}, 0))

	l.MarkPrice("A", 110) // +20
	l.MarkPrice("B", 55)  // -20
	assert.Equal(t, 1000.0, l.Equity())

	l.MarkPrice("B", 45) // +20
	assert.Equal(t, 1040.0, l.Equity())
}

func TestLedgerSizingBalanceIncludesSymbolPnL(t *testing.T) {
	l := NewLedger(1000, 5)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong, Entry: 100, Size: 1}, 0))
	l.MarkPrice("A", 150)

	assert.Equal(t, 1050.0, l.SizingBalance("A"))
	assert.Equal(t, 1000.0, l.SizingBalance("B"))
}

func TestLedgerSetStopLoss(t *testing.T) {
	l := NewLedger(1000, 5)
	require.True(t, l.Open(Position{Symbol: "A", Side: SideLong, Entry: 100, Size: 1, StopLoss: 95}, 0))

	l.SetStopLoss("A", 98)
	pos, ok := l.Get("A")
	require.True(t, ok)
	assert.Equal(t, 98.0, pos.StopLoss)
}
