package market

import (
	"sync"
)

// Snapshot is an immutable copy of the store contents at a point in time,
// keyed by symbol then timeframe.
type Snapshot map[string]map[string][]Candle

// Store owns every symbol's candle series across all timeframes. All
// mutation of a symbol's series happens under that symbol's lock; no
// store-wide lock exists, so symbols make progress concurrently.
type Store struct {
	mu         sync.RWMutex // guards the entry map only
	entries    map[string]*symbolEntry
	timeframes []string
	limit      int
}

type symbolEntry struct {
	mu     sync.Mutex
	series map[string]*Series
}

// NewStore creates a store retaining limit candles per (symbol, timeframe).
func NewStore(timeframes []string, limit int) *Store {
	return &Store{
		entries:    make(map[string]*symbolEntry),
		timeframes: append([]string(nil), timeframes...),
		limit:      limit,
	}
}

// Register creates series for the given symbols. Registering an already
// known symbol is a no-op, so symbols discovered later are safe to add.
func (s *Store) Register(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, symbol := range symbols {
		if _, ok := s.entries[symbol]; ok {
			continue
		}
		entry := &symbolEntry{series: make(map[string]*Series, len(s.timeframes))}
		for _, tf := range s.timeframes {
			entry.series[tf] = NewSeries(s.limit)
		}
		s.entries[symbol] = entry
	}
}

// Symbols returns the registered symbols in unspecified order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for symbol := range s.entries {
		out = append(out, symbol)
	}
	return out
}

// Known reports whether the (symbol, timeframe) pair is registered.
func (s *Store) Known(symbol, timeframe string) bool {
	s.mu.RLock()
	entry, ok := s.entries[symbol]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	_, ok = entry.series[timeframe]
	return ok
}

// Limit returns the retention bound per series.
func (s *Store) Limit() int {
	return s.limit
}

// Timeframes returns the configured timeframes.
func (s *Store) Timeframes() []string {
	return append([]string(nil), s.timeframes...)
}

func (s *Store) entry(symbol string) (*symbolEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[symbol]
	return entry, ok
}

// Insert adds a candle to the (symbol, timeframe) series under the
// symbol's lock. Unknown symbols or timeframes are ignored.
func (s *Store) Insert(symbol, timeframe string, c Candle) bool {
	entry, ok := s.entry(symbol)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	series, ok := entry.series[timeframe]
	if !ok {
		return false
	}
	series.Add(c)
	return true
}

// Replace installs a full sorted, deduplicated series for the pair.
func (s *Store) Replace(symbol, timeframe string, candles []Candle) bool {
	entry, ok := s.entry(symbol)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	series, ok := entry.series[timeframe]
	if !ok {
		return false
	}
	series.Replace(candles)
	return true
}

// Latest returns the most recent candle for the pair.
func (s *Store) Latest(symbol, timeframe string) (Candle, bool) {
	entry, ok := s.entry(symbol)
	if !ok {
		return Candle{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	series, ok := entry.series[timeframe]
	if !ok {
		return Candle{}, false
	}
	return series.Latest()
}

// HasGap reports whether the stored series has consecutive timestamps more
// than one interval apart.
func (s *Store) HasGap(symbol, timeframe string, intervalMs int64) bool {
	entry, ok := s.entry(symbol)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	series, ok := entry.series[timeframe]
	if !ok {
		return false
	}
	return series.HasGap(intervalMs)
}

// SnapshotSymbol deep-copies every timeframe series of one symbol under
// its lock, so callers never observe a mutable alias.
func (s *Store) SnapshotSymbol(symbol string) map[string][]Candle {
	entry, ok := s.entry(symbol)
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make(map[string][]Candle, len(entry.series))
	for tf, series := range entry.series {
		out[tf] = series.Candles()
	}
	return out
}

// SnapshotAll deep-copies the whole store, taking each symbol's lock in
// turn. Symbols mutate independently while the snapshot is being built,
// but each individual series copy is consistent.
func (s *Store) SnapshotAll() Snapshot {
	snapshot := make(Snapshot)
	for _, symbol := range s.Symbols() {
		snapshot[symbol] = s.SnapshotSymbol(symbol)
	}
	return snapshot
}

// Reset discards every stored candle while keeping the registered
// symbols. Used by hard recovery before a full re-backfill.
func (s *Store) Reset() {
	for _, symbol := range s.Symbols() {
		entry, ok := s.entry(symbol)
		if !ok {
			continue
		}
		entry.mu.Lock()
		for tf := range entry.series {
			entry.series[tf] = NewSeries(s.limit)
		}
		entry.mu.Unlock()
	}
}
