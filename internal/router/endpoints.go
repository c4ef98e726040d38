package router

import (
	"strings"
	"sync"

	"github.com/af-corp/antigravity-gateway/internal/config"
)

// Endpoint is one upstream base URL.
type Endpoint struct {
	Name    string
	BaseURL string
}

// Endpoints is the ordered upstream endpoint list. Earlier entries are
// preferred; each is guarded by its breaker in the HealthTracker.
type Endpoints struct {
	mu     sync.RWMutex
	list   []Endpoint
	health *HealthTracker
}

func NewEndpoints(cfgs []config.EndpointConfig, health *HealthTracker) *Endpoints {
	e := &Endpoints{health: health}
	e.Update(cfgs)
	return e
}

// Update replaces the endpoint list, e.g. after a config reload. Breaker
// state is kept for endpoints whose name survives.
func (e *Endpoints) Update(cfgs []config.EndpointConfig) {
	list := make([]Endpoint, 0, len(cfgs))
	for _, c := range cfgs {
		if c.BaseURL == "" {
			continue
		}
		name := c.Name
		if name == "" {
			name = c.BaseURL
		}
		list = append(list, Endpoint{Name: name, BaseURL: strings.TrimRight(c.BaseURL, "/")})
	}
	e.mu.Lock()
	e.list = list
	e.mu.Unlock()
}

func (e *Endpoints) List() []Endpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Endpoint(nil), e.list...)
}

// Allow reports whether the endpoint's breaker admits a request. In the
// half-open state this claims the single probe, so call it only right
// before sending.
func (e *Endpoints) Allow(name string) bool { return e.health.IsAvailable(name) }

func (e *Endpoints) RecordSuccess(name string) { e.health.RecordSuccess(name) }

func (e *Endpoints) RecordFailure(name string) { e.health.RecordFailure(name) }

// States reports breaker state per endpoint name.
func (e *Endpoints) States() map[string]string {
	states := e.health.States()
	for _, ep := range e.List() {
		if _, ok := states[ep.Name]; !ok {
			states[ep.Name] = StateClosed.String()
		}
	}
	return states
}
