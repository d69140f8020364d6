package feed

import "time"

// Backoff produces an exponential reconnect delay schedule capped at a
// ceiling. Not safe for concurrent use; the feed owns one per stream.
type Backoff struct {
	initial  time.Duration
	ceiling  time.Duration
	attempts int
}

func NewBackoff(initial, ceiling time.Duration) *Backoff {
	return &Backoff{initial: initial, ceiling: ceiling}
}

// Next returns the delay for the upcoming attempt and advances the
// schedule. The delay doubles each attempt up to the ceiling.
func (b *Backoff) Next() time.Duration {
	delay := b.initial
	for i := 0; i < b.attempts; i++ {
		delay *= 2
		if delay >= b.ceiling {
			delay = b.ceiling
			break
		}
	}
	b.attempts++
	return delay
}

// Reset restores the schedule after a successful connection.
func (b *Backoff) Reset() {
	b.attempts = 0
}
