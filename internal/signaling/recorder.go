package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"medipredict-backend/internal/domain"
	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/metrics"
	"medipredict-backend/pkg/resilience"
)

// RecordQueue accepts finished call records for persistence without blocking the caller
type RecordQueue interface {
	Enqueue(record *domain.CallRecord)
}

// AsyncRecorder writes call records to a CallRecordSink from a single background
// worker. A full queue drops the record rather than stalling the relay path.
type AsyncRecorder struct {
	sink    CallRecordSink
	queue   chan *domain.CallRecord
	timeout time.Duration
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncRecorder starts the writer. A nil sink runs the service without
// call log persistence; records are then only logged.
func NewAsyncRecorder(sink CallRecordSink, queueSize int, timeout time.Duration, m *metrics.Metrics) *AsyncRecorder {
	r := &AsyncRecorder{
		sink:    sink,
		queue:   make(chan *domain.CallRecord, queueSize),
		timeout: timeout,
		metrics: m,
		done:    make(chan struct{}),
	}

	go r.run()

	return r
}

// Enqueue hands record to the writer
func (r *AsyncRecorder) Enqueue(record *domain.CallRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		logger.Warn("Call record dropped after recorder shutdown", recordFields(record)...)
		r.metrics.RecordSinkFailure("closed")
		return
	}

	select {
	case r.queue <- record:
	default:
		logger.Error("Call record queue full, dropping record", recordFields(record)...)
		r.metrics.RecordSinkFailure("queue_full")
	}
}

// Close stops accepting records and waits until the queued ones are written
func (r *AsyncRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}

func (r *AsyncRecorder) run() {
	defer close(r.done)

	for record := range r.queue {
		r.write(record)
	}
}

func (r *AsyncRecorder) write(record *domain.CallRecord) {
	if r.sink == nil {
		logger.Warn("Call log persistence disabled, record not stored", recordFields(record)...)
		r.metrics.RecordSinkFailure("no_sink")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// The session is already gone; a failed write is logged and never retried into the table
	if err := r.sink.Append(ctx, record); err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			logger.Warn("Call log store unavailable, record not stored", recordFields(record)...)
			r.metrics.RecordSinkFailure("circuit_open")
			return
		}
		logger.Error("Failed to persist call record",
			append(recordFields(record), zap.Error(err))...)
		r.metrics.RecordSinkFailure("write_error")
		return
	}

	logger.Debug("Call record persisted", recordFields(record)...)
}

func recordFields(record *domain.CallRecord) []zap.Field {
	return []zap.Field{
		zap.String("record_id", record.RecordID.String()),
		zap.String("caller_id", record.CallerID),
		zap.String("receiver_id", record.ReceiverID),
		zap.String("outcome", string(record.Outcome)),
		zap.Int("duration", record.Duration),
	}
}

// GuardedSink wraps a CallRecordSink with a circuit breaker so an unreachable
// store fails fast instead of costing every record a full write timeout
type GuardedSink struct {
	sink    CallRecordSink
	breaker *resilience.CircuitBreaker
}

// NewGuardedSink guards sink with breaker
func NewGuardedSink(sink CallRecordSink, breaker *resilience.CircuitBreaker) *GuardedSink {
	return &GuardedSink{sink: sink, breaker: breaker}
}

// Append writes record unless the breaker is open
func (g *GuardedSink) Append(ctx context.Context, record *domain.CallRecord) error {
	return g.breaker.Execute(ctx, "append_call_record", func(ctx context.Context) error {
		return g.sink.Append(ctx, record)
	})
}
