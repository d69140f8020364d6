package market

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	s := NewStore([]string{"1", "15"}, 5)
	s.Register("BTCUSDT", "ETHUSDT")
	return s
}

func TestStoreRegisterIsIdempotent(t *testing.T) {
	s := newTestStore()
	s.Insert("BTCUSDT", "1", candleAt(1000, 5))

	s.Register("BTCUSDT")
	latest, ok := s.Latest("BTCUSDT", "1")
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Close)
}

func TestStoreInsertUnknownSymbol(t *testing.T) {
	s := newTestStore()
	assert.False(t, s.Insert("XRPUSDT", "1", candleAt(1000, 1)))
	assert.False(t, s.Insert("BTCUSDT", "5", candleAt(1000, 1)))
}

func TestStoreSnapshotIsDeepCopy(t *testing.T) {
	s := newTestStore()
	s.Insert("BTCUSDT", "1", candleAt(1000, 5))

	snap := s.SnapshotSymbol("BTCUSDT")
	want := map[string][]Candle{
		"1":  {candleAt(1000, 5)},
		"15": {},
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// Mutating the snapshot must not touch the store.
	snap["1"][0].Close = 99
	latest, ok := s.Latest("BTCUSDT", "1")
	require.True(t, ok)
	assert.Equal(t, 5.0, latest.Close)
}

func TestStoreSnapshotAll(t *testing.T) {
	s := newTestStore()
	s.Insert("BTCUSDT", "1", candleAt(1000, 5))
	s.Insert("ETHUSDT", "15", candleAt(2000, 7))

	snap := s.SnapshotAll()
	require.Len(t, snap, 2)
	assert.Len(t, snap["BTCUSDT"]["1"], 1)
	assert.Len(t, snap["ETHUSDT"]["15"], 1)
}

func TestStoreReset(t *testing.T) {
	s := newTestStore()
	s.Insert("BTCUSDT", "1", candleAt(1000, 5))

	s.Reset()
	_, ok := s.Latest("BTCUSDT", "1")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, s.Symbols())
}

func TestStoreHasGap(t *testing.T) {
	s := newTestStore()
	s.Insert("BTCUSDT", "1", candleAt(0, 1))
	s.Insert("BTCUSDT", "1", candleAt(60_000, 1))
	assert.False(t, s.HasGap("BTCUSDT", "1", 60_000))

	s.Insert("BTCUSDT", "1", candleAt(240_000, 1))
	assert.True(t, s.HasGap("BTCUSDT", "1", 60_000))
}
