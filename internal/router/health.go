package router

import (
	"sync"
	"time"
)

// HealthTracker keeps one circuit breaker per upstream endpoint name.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
	now                   func() time.Time
}

func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
		now:                   time.Now,
	}
}

// GetBreaker returns (or lazily creates) the breaker for an endpoint.
func (ht *HealthTracker) GetBreaker(endpoint string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[endpoint]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[endpoint]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval)
	cb.now = ht.now
	ht.breakers[endpoint] = cb
	return cb
}

func (ht *HealthTracker) IsAvailable(endpoint string) bool {
	return ht.GetBreaker(endpoint).Allow()
}

func (ht *HealthTracker) RecordSuccess(endpoint string) {
	ht.GetBreaker(endpoint).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(endpoint string) {
	ht.GetBreaker(endpoint).RecordFailure()
}

// States reports the state of every breaker created so far.
func (ht *HealthTracker) States() map[string]string {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make(map[string]string, len(ht.breakers))
	for name, cb := range ht.breakers {
		out[name] = cb.State().String()
	}
	return out
}
