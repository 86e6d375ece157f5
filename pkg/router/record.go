package router

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/polygate/polygate/pkg/provider"
)

// Health is the gate on whether a provider receives traffic.
type Health string

const (
	// Healthy providers receive traffic normally.
	Healthy Health = "healthy"

	// Degraded providers still receive traffic but have failed recently.
	Degraded Health = "degraded"

	// Unhealthy providers are skipped until a cooldown elapses.
	Unhealthy Health = "unhealthy"
)

// Record tracks one registered provider. All mutation happens under mu as a
// single read-modify-write, so concurrent requests never lose aggregate
// updates.
type Record struct {
	Provider provider.Provider
	Priority int

	breaker *gobreaker.CircuitBreaker

	mu          sync.Mutex
	health      Health
	successRate float64
	latency     time.Duration
	inFlight    int

	consecFailures  int
	consecSuccesses int
	unhealthySince  time.Time
}

// Snapshot is a point-in-time copy of a record's mutable state.
type Snapshot struct {
	Name        string
	Priority    int
	Health      Health
	SuccessRate float64
	Latency     time.Duration
	InFlight    int
}

// Snapshot returns the record's current state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Name:        r.Provider.Name(),
		Priority:    r.Priority,
		Health:      r.health,
		SuccessRate: r.successRate,
		Latency:     r.latency,
		InFlight:    r.inFlight,
	}
}

// eligible reports whether the record may serve a request right now. An
// Unhealthy record becomes eligible again once the cooldown has elapsed,
// acting as a half-open probe.
func (r *Record) eligible(model string, maxInFlight int, cooldown time.Duration, now time.Time) bool {
	if !provider.Serves(r.Provider, model) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxInFlight > 0 && r.inFlight >= maxInFlight {
		return false
	}
	if r.health == Unhealthy {
		return now.Sub(r.unhealthySince) >= cooldown
	}
	return true
}

// acquire reserves one in-flight slot.
func (r *Record) acquire() {
	r.mu.Lock()
	r.inFlight++
	r.mu.Unlock()
}

// release returns an in-flight slot.
func (r *Record) release() {
	r.mu.Lock()
	if r.inFlight > 0 {
		r.inFlight--
	}
	r.mu.Unlock()
}

// observe folds one invocation outcome into the aggregates and walks the
// health state machine.
func (r *Record) observe(success bool, elapsed time.Duration, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sample := 0.0
	if success {
		sample = 1.0
	}
	r.successRate = opts.EWMAAlpha*sample + (1-opts.EWMAAlpha)*r.successRate
	if elapsed > 0 {
		if r.latency == 0 {
			r.latency = elapsed
		} else {
			r.latency = time.Duration(opts.EWMAAlpha*float64(elapsed) + (1-opts.EWMAAlpha)*float64(r.latency))
		}
	}

	if success {
		r.consecFailures = 0
		r.consecSuccesses++
		if r.consecSuccesses >= opts.RecoverySuccesses {
			switch r.health {
			case Unhealthy:
				r.health = Degraded
			case Degraded:
				r.health = Healthy
			}
			r.consecSuccesses = 0
		}
		return
	}

	r.consecSuccesses = 0
	r.consecFailures++
	switch {
	case r.consecFailures >= opts.UnhealthyThreshold:
		if r.health != Unhealthy {
			r.health = Unhealthy
			r.unhealthySince = opts.Now()
		}
	case r.consecFailures >= opts.DegradedThreshold:
		if r.health == Healthy {
			r.health = Degraded
		}
	}
}
