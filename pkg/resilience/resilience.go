package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/metrics"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// CircuitBreaker stops calling a failing dependency after consecutive failures.
// Once the cooldown has passed a single probe is let through; its result closes
// or reopens the circuit.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	metrics          *metrics.Metrics
	now              func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewCircuitBreaker creates a closed breaker. m may be nil.
func NewCircuitBreaker(name string, failureThreshold int, cooldown time.Duration, m *metrics.Metrics) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		metrics:          m,
		now:              time.Now,
		state:            CircuitBreakerClosed,
	}
}

// Execute runs fn unless the circuit is open
func (b *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !b.allow() {
		logger.Debug("Circuit breaker open, operation skipped",
			zap.String("breaker", b.name),
			zap.String("operation", operation))
		return ErrCircuitOpen
	}

	err := fn(ctx)
	b.done(operation, err)
	return err
}

// State returns the current circuit breaker state
func (b *CircuitBreaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerClosed:
		return true
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(CircuitBreakerHalfOpen)
		b.probing = true
		return true
	default:
		// Half-open: only the single in-flight probe is allowed
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *CircuitBreaker) done(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.consecutiveFailures = 0
		if b.state != CircuitBreakerClosed {
			logger.Info("Circuit breaker closed",
				zap.String("breaker", b.name),
				zap.String("operation", operation))
			b.setState(CircuitBreakerClosed)
		}
		return
	}

	b.consecutiveFailures++
	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		if b.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker opened",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.String("error_type", ClassifyError(err)),
				zap.Error(err))
		}
		b.openedAt = b.now()
		b.setState(CircuitBreakerOpen)
	}
}

func (b *CircuitBreaker) setState(state CircuitBreakerState) {
	b.state = state
	if b.metrics == nil {
		return
	}
	switch state {
	case CircuitBreakerClosed:
		b.metrics.SetCircuitBreakerState(b.name, 0)
	case CircuitBreakerHalfOpen:
		b.metrics.SetCircuitBreakerState(b.name, 1)
	case CircuitBreakerOpen:
		b.metrics.SetCircuitBreakerState(b.name, 2)
	}
}

// ClassifyError buckets an error for logs and metric labels
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	case strings.Contains(errMsg, "circuit breaker"):
		return "circuit_breaker"
	default:
		return "unknown"
	}
}
