package resilience

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultCategory is the breaker used when a caller names no category.
const DefaultCategory = "default"

// CircuitBreakerRegistry manages one circuit breaker per category
type CircuitBreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	configs  map[string]*CircuitBreakerConfig
	template CircuitBreakerConfig
	logger   *zap.Logger
	mutex    sync.RWMutex
}

// NewCircuitBreakerRegistry creates a registry whose unregistered categories copy template.
func NewCircuitBreakerRegistry(template *CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerRegistry {
	if template == nil {
		template = DefaultCircuitBreakerConfig(DefaultCategory)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		configs:  make(map[string]*CircuitBreakerConfig),
		template: *template,
		logger:   logger,
	}
}

// RegisterConfig registers a circuit breaker configuration
func (r *CircuitBreakerRegistry) RegisterConfig(config *CircuitBreakerConfig) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.configs[config.Name] = config
}

// Get returns a circuit breaker by name, creating one if it doesn't exist
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	if name == "" {
		name = DefaultCategory
	}

	r.mutex.RLock()
	if cb, ok := r.breakers[name]; ok {
		r.mutex.RUnlock()
		return cb
	}
	r.mutex.RUnlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config, ok := r.configs[name]
	if !ok {
		cfg := r.template
		cfg.Name = name
		config = &cfg
	}

	cb := NewCircuitBreaker(config, r.logger)
	r.breakers[name] = cb

	r.logger.Debug("Created circuit breaker", zap.String("name", name))
	return cb
}

// States returns the state of every breaker created so far
func (r *CircuitBreakerRegistry) States() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		result[name] = cb.State()
	}
	return result
}

// GetMetrics returns metrics for all circuit breakers
func (r *CircuitBreakerRegistry) GetMetrics() map[string]CircuitBreakerMetrics {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make(map[string]CircuitBreakerMetrics, len(r.breakers))
	for name, cb := range r.breakers {
		result[name] = cb.Metrics()
	}
	return result
}

// Reset resets all circuit breakers
func (r *CircuitBreakerRegistry) Reset() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
