package transport

import (
	"math"
	"math/rand"
	"time"
)

// reconnector computes jittered exponential backoff delays for the
// reconnection loop. Not safe for concurrent use; the read loop owns it.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		baseDelay:   base,
		maxDelay:    max,
		maxAttempts: maxAttempts,
	}
}

// shouldReconnect reports whether another attempt is allowed.
// maxAttempts == 0 means unbounded.
func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

// markConnected records a successful connection so a stable hour-long
// session does not inherit the attempt count of an old outage.
func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay returns the next backoff delay and advances the attempt
// counter. The counter resets after 60s of stable connection.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}
