package broker

import (
	"math/rand/v2"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// backoff returns the delay before a retry, using exponential backoff with
// full jitter between min and min*2^(attempt-1), capped at max. Attempt
// is 1-based.
func backoff(attempt uint64, min, max time.Duration, rng func(int64) int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if rng == nil {
		rng = rand.Int64N
	}

	// Exponential, checking for overflow
	delay := max
	if shift := attempt - 1; shift < 62 && min <= max>>shift {
		delay = min << shift
	}

	// Jitter
	if delay <= min {
		return delay
	}
	return min + time.Duration(rng(int64(delay-min)+1))
}
