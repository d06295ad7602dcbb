package queue

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/openmined/photoqueue/internal/transport"
)

// RetryPolicy decides whether and when a failed item is re-enqueued automatically.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// CanRetry reports whether another attempt fits under the cap.
func (p RetryPolicy) CanRetry(retryCount int) bool {
	return retryCount < p.MaxRetries
}

// ShouldRetry reports whether a failure with the given (already incremented)
// retry count gets an automatic re-dispatch.
func (p RetryPolicy) ShouldRetry(retryCount int, err error) bool {
	if transport.IsPermanent(err) {
		return false
	}
	return p.CanRetry(retryCount)
}

// Delay returns BaseDelay * 2^(retryCount-1), capped at MaxDelay.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < retryCount; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if p.MaxDelay > 0 {
		delay = min(delay, p.MaxDelay)
	}

	if p.Jitter && delay > 0 {
		jitterFactor := 0.75 + (rand.Float64() * 0.5)
		delay = time.Duration(float64(delay) * jitterFactor)
	}
	return delay
}
