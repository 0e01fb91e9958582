package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"medipredict-backend/pkg/metrics"
)

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker("call_records", 2, 10*time.Second, metrics.NewMetrics("test"))
	b.now = func() time.Time { return now }

	ctx := context.Background()
	failing := errors.New("dial tcp: connection refused")
	calls := 0
	fail := func(context.Context) error { calls++; return failing }
	succeed := func(context.Context) error { calls++; return nil }

	assert.ErrorIs(t, b.Execute(ctx, "append", fail), failing)
	assert.Equal(t, CircuitBreakerClosed, b.State())
	assert.ErrorIs(t, b.Execute(ctx, "append", fail), failing)
	assert.Equal(t, CircuitBreakerOpen, b.State())

	assert.ErrorIs(t, b.Execute(ctx, "append", succeed), ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open circuit does not call the operation")

	now = now.Add(11 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, "append", fail), failing)
	assert.Equal(t, CircuitBreakerOpen, b.State(), "failed probe reopens")

	now = now.Add(11 * time.Second)
	assert.NoError(t, b.Execute(ctx, "append", succeed))
	assert.Equal(t, CircuitBreakerClosed, b.State())
	assert.Equal(t, 4, calls)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewCircuitBreaker("call_records", 2, time.Minute, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, "append", func(context.Context) error { return errors.New("boom") })
	_ = b.Execute(ctx, "append", func(context.Context) error { return nil })
	_ = b.Execute(ctx, "append", func(context.Context) error { return errors.New("boom") })

	assert.Equal(t, CircuitBreakerClosed, b.State())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "none", ClassifyError(nil))
	assert.Equal(t, "timeout", ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, "network", ClassifyError(errors.New("dial tcp 10.0.0.1:26257: connection refused")))
	assert.Equal(t, "circuit_breaker", ClassifyError(ErrCircuitOpen))
	assert.Equal(t, "unknown", ClassifyError(errors.New("duplicate key")))
}
