package arq

import "time"

// backoff keeps track of a duration that doubles on every step until it
// reaches a ceiling.
type backoff struct {
	currentBackoff time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	return &backoff{
		currentBackoff: min,
		minBackoff:     min,
		maxBackoff:     max,
	}
}

// current returns the current duration.
func (b *backoff) current() time.Duration {
	return b.currentBackoff
}

// step doubles the current duration, capped at the ceiling, and returns it.
func (b *backoff) step() time.Duration {
	switch {
	case b.currentBackoff < b.minBackoff:
		b.currentBackoff = b.minBackoff

	case b.currentBackoff < b.maxBackoff:
		b.currentBackoff = b.currentBackoff * 2
		if b.currentBackoff > b.maxBackoff {
			b.currentBackoff = b.maxBackoff
		}
	}

	return b.currentBackoff
}

// reset drops the current duration back to min, which also becomes the new
// floor.
func (b *backoff) reset(min time.Duration) {
	b.minBackoff = min
	b.currentBackoff = min
	if b.maxBackoff < min {
		b.maxBackoff = min
	}
}
