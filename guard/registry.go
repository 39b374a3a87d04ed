package guard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-mailroom/core"
)

const (
	DependencyProvider   = "provider"
	DependencyStorage    = "storage"
	DependencyEnrichment = "enrichment"
)

// Registry hands out one breaker per dependency name so every caller that
// talks to the same dependency shares failure state.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]core.BreakerConfig
	fallback core.BreakerConfig
	observer *core.Observer
}

func NewRegistry(cfg core.BreakersConfig, observer *core.Observer) *Registry {
	return &Registry{
		breakers: map[string]*Breaker{},
		configs: map[string]core.BreakerConfig{
			DependencyProvider:   cfg.Provider,
			DependencyStorage:    cfg.Storage,
			DependencyEnrichment: cfg.Enrichment,
		},
		fallback: cfg.Provider,
		observer: observer,
	}
}

// For returns the breaker guarding name, creating it on first use. Unknown
// names inherit the provider tuning.
func (r *Registry) For(name string) *Breaker {
	if r == nil {
		return NewBreaker(name, Settings{})
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DependencyProvider
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, ok := r.breakers[name]; ok {
		return breaker
	}

	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.fallback
	}
	breaker := NewBreaker(name, Settings{
		FailMax:      cfg.FailMax,
		ResetTimeout: time.Duration(cfg.ResetTimeoutSecs) * time.Second,
		CallTimeout:  time.Duration(cfg.CallTimeoutSecs) * time.Second,
		Observer:     r.observer,
	})
	r.breakers[name] = breaker
	return breaker
}

// States reports the current state of every breaker created so far, for
// health endpoints and tests.
func (r *Registry) States() map[string]State {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for name, breaker := range r.breakers {
		out[name] = breaker.State()
	}
	return out
}

func (r *Registry) String() string {
	if r == nil {
		return "guard.Registry(nil)"
	}
	return fmt.Sprintf("guard.Registry(%d breakers)", len(r.breakers))
}
