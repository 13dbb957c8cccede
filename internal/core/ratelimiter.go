package core

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/x-stp/o365scan/internal/metrics"
	"golang.org/x/time/rate"
)

// Adaptive rate limiting bounds, in queries per second.
const (
	// MinRate is the floor the limiter backs off to under sustained failures.
	MinRate = 1.0
	// RateIncreaseFraction of the ceiling is added back after each clean lookup.
	RateIncreaseFraction = 0.02
	// RateDecreaseFraction of the ceiling is removed after a temporary failure.
	RateDecreaseFraction = 0.10
)

// RateLimiter caps outbound MX queries and adapts to upstream health.
// Temporary failures (timeouts, SERVFAIL) lower the rate, clean answers raise
// it back toward the configured ceiling.
//
// It satisfies classify.Throttle. The current rate is kept as float64 bits so
// reads and writes stay lock-free.
type RateLimiter struct {
	limiter      *rate.Limiter
	ceiling      float64
	currentRate  uint64
	successCount atomic.Uint64
	failureCount atomic.Uint64
	metrics      *metrics.Metrics
}

// NewRateLimiter creates an adaptive limiter starting at its ceiling.
//
// Parameters:
//
//	qps: the ceiling in queries per second. Values below MinRate are raised
//	     to MinRate. The burst is qps rounded up.
//
// Returns:
//
//	A pointer to the newly created RateLimiter.
func NewRateLimiter(qps float64) *RateLimiter {
	if qps < MinRate {
		qps = MinRate
	}
	burst := int(math.Ceil(qps))
	rl := &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		ceiling: qps,
		metrics: metrics.GetMetrics(),
	}
	rl.setRate(qps)
	rl.metrics.UpdateRateLimit(qps)
	return rl
}

// Wait blocks until a query may be sent.
//
// Returns:
//
//	nil when a token was taken, or an error if ctx is done first or the wait
//	would outlive its deadline.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Observe records the outcome of a query and adjusts the rate.
//
// Parameters:
//
//	success: false for temporary upstream failures (timeouts, SERVFAIL),
//	         true for any definitive answer, NXDOMAIN included.
func (rl *RateLimiter) Observe(success bool) {
	if success {
		rl.successCount.Add(1)
	} else {
		rl.failureCount.Add(1)
	}
	rl.adjustRate(success)
}

// GetCurrentRate returns the current rate limit in queries per second.
func (rl *RateLimiter) GetCurrentRate() float64 {
	return rl.getRate()
}

// RateLimiterStats is a point-in-time view of the limiter.
type RateLimiterStats struct {
	CurrentRate float64
	Ceiling     float64
	Successes   uint64
	Failures    uint64
}

// Stats returns the limiter counters. The fields are read independently, so
// they are not a consistent snapshot under concurrent Observe calls.
func (rl *RateLimiter) Stats() RateLimiterStats {
	return RateLimiterStats{
		CurrentRate: rl.getRate(),
		Ceiling:     rl.ceiling,
		Successes:   rl.successCount.Load(),
		Failures:    rl.failureCount.Load(),
	}
}

// adjustRate moves the rate one step toward the ceiling or the floor.
// It retries its compare-and-swap until it wins or the rate is already at the
// bound, so concurrent observers never lose an adjustment.
func (rl *RateLimiter) adjustRate(success bool) {
	for {
		bits := atomic.LoadUint64(&rl.currentRate)
		current := math.Float64frombits(bits)

		var next float64
		if success {
			next = math.Min(current+rl.ceiling*RateIncreaseFraction, rl.ceiling)
		} else {
			next = math.Max(current-rl.ceiling*RateDecreaseFraction, MinRate)
		}
		if next == current {
			return
		}
		if atomic.CompareAndSwapUint64(&rl.currentRate, bits, math.Float64bits(next)) {
			rl.limiter.SetLimit(rate.Limit(next))
			rl.metrics.UpdateRateLimit(next)
			return
		}
	}
}

func (rl *RateLimiter) getRate() float64 {
	return math.Float64frombits(atomic.LoadUint64(&rl.currentRate))
}

func (rl *RateLimiter) setRate(r float64) {
	atomic.StoreUint64(&rl.currentRate, math.Float64bits(r))
}
