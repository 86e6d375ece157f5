package poll

import (
	"math"
	"time"
)

// backoff computes the delay before the next poll:
//
//	delay = min(base * growth^attempt * jitter, cap)
//
// where jitter is uniformly sampled from [0.9, 1.1) per attempt. The sample
// is supplied by the caller so tests can pin it.
func backoff(base time.Duration, growth float64, attempt int, capDelay time.Duration, sample float64) time.Duration {
	jitter := 0.9 + 0.2*sample
	d := time.Duration(float64(base) * math.Pow(growth, float64(attempt)) * jitter)
	if d > capDelay {
		return capDelay
	}
	return d
}
