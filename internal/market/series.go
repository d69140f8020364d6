package market

// Series is an ordered, timestamp-deduplicated candle sequence bounded to
// the most recent limit entries. It is not safe for concurrent use; the
// Store guards each symbol's series with that symbol's lock.
type Series struct {
	candles []Candle
	limit   int
}

// NewSeries creates an empty series bounded to limit entries.
func NewSeries(limit int) *Series {
	if limit <= 0 {
		panic("series limit must be positive")
	}
	return &Series{
		candles: make([]Candle, 0, limit),
		limit:   limit,
	}
}

// Add inserts a candle preserving strict ascending timestamp order.
// A candle with a timestamp already present replaces the stored entry
// (stale pushes correcting an earlier bar). Insertion past the bound
// evicts the oldest entry.
func (s *Series) Add(c Candle) {
	n := len(s.candles)

	// Common case: strictly newer than everything stored.
	if n == 0 || c.Timestamp > s.candles[n-1].Timestamp {
		s.candles = append(s.candles, c)
		s.trim()
		return
	}

	i := s.searchTimestamp(c.Timestamp)
	if i < n && s.candles[i].Timestamp == c.Timestamp {
		s.candles[i] = c // update-in-place, never a duplicate
		return
	}

	// Positional insert for out-of-order arrivals.
	s.candles = append(s.candles, Candle{})
	copy(s.candles[i+1:], s.candles[i:])
	s.candles[i] = c
	s.trim()
}

// searchTimestamp returns the index of the first candle with a timestamp
// >= ts.
func (s *Series) searchTimestamp(ts int64) int {
	lo, hi := 0, len(s.candles)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.candles[mid].Timestamp < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (s *Series) trim() {
	if excess := len(s.candles) - s.limit; excess > 0 {
		s.candles = append(s.candles[:0], s.candles[excess:]...)
	}
}

// Replace discards the series contents and installs the given candles,
// which must already be sorted ascending and deduplicated. Only the most
// recent limit entries are kept.
func (s *Series) Replace(candles []Candle) {
	if excess := len(candles) - s.limit; excess > 0 {
		candles = candles[excess:]
	}
	s.candles = append(s.candles[:0], candles...)
}

// Len returns the number of stored candles.
func (s *Series) Len() int {
	return len(s.candles)
}

// Latest returns the most recent candle, if any.
func (s *Series) Latest() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Candles returns a copy of the stored candles in ascending order.
func (s *Series) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// HasGap reports whether any two consecutive timestamps differ by more
// than one interval.
func (s *Series) HasGap(intervalMs int64) bool {
	for i := 1; i < len(s.candles); i++ {
		if s.candles[i].Timestamp-s.candles[i-1].Timestamp > intervalMs {
			return true
		}
	}
	return false
}
