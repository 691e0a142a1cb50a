package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"classifieds-messaging/backend/pkg/logger"
)

// ErrCircuitOpen is returned without calling the protected function while the circuit is open
var ErrCircuitOpen = errors.New("circuit open")

// State represents the current state of a circuit breaker
type State string

const (
	// StateClosed means requests pass through
	StateClosed State = "closed"
	// StateOpen means requests are short-circuited
	StateOpen State = "open"
	// StateHalfOpen means a limited number of probe requests are allowed
	StateHalfOpen State = "half-open"
)

// Config holds configuration for a circuit breaker
type Config struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing dependency for RetryTimeout after
// FailureThreshold consecutive failures.
type CircuitBreaker struct {
	cfg             Config
	mu              sync.Mutex
	state           State
	failureCount    uint
	successCount    uint
	nextAttemptTime time.Time
	now             func() time.Time
	log             *logger.Logger
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg Config, log *logger.Logger) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
		log:   log,
	}
}

// Execute runs fn through the circuit breaker. Context cancellation is
// reported by fn itself and counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	if err := fn(ctx); err != nil {
		cb.recordFailure(err)
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			return false
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.log.Info("Circuit breaker half-open", "name", cb.cfg.Name)
		return true
	case StateHalfOpen:
		return cb.successCount < cb.cfg.SuccessThreshold
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.log.Info("Circuit breaker closed", "name", cb.cfg.Name)
		}
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.open(err)
		}
	case StateHalfOpen:
		cb.open(err)
	}
}

// open must be called with mu held
func (cb *CircuitBreaker) open(err error) {
	cb.state = StateOpen
	cb.nextAttemptTime = cb.now().Add(cb.cfg.RetryTimeout)
	cb.log.Warn("Circuit breaker opened",
		"name", cb.cfg.Name,
		"failures", cb.failureCount,
		"error", err.Error(),
		"next_attempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
