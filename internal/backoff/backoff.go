// Package backoff implements bounded exponential retry delays.
package backoff

import (
	"time"
)

// Policy computes the delay before retry attempt n (zero-based):
// Initial * Multiplier^n, capped at Max.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.Max {
			return p.Max
		}
	}

	d := time.Duration(delay)
	if d > p.Max {
		return p.Max
	}
	if d < p.Initial {
		return p.Initial
	}
	return d
}
