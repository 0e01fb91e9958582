package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medipredict-backend/internal/domain"
	"medipredict-backend/pkg/metrics"
	"medipredict-backend/pkg/resilience"
)

func testRecord(outcome domain.Outcome) *domain.CallRecord {
	session := &domain.CallSession{
		CallerID:   "doc1",
		CallerRole: domain.RoleClinician,
		ReceiverID: "pat1",
		Medium:     domain.MediumVideo,
		StartedAt:  time.Now().Add(-time.Minute),
	}
	return session.Finish(time.Now(), outcome)
}

func TestAsyncRecorder_WritesInOrder(t *testing.T) {
	sink := new(MockCallRecordSink)
	var (
		mu    sync.Mutex
		order []domain.Outcome
	)
	sink.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, args.Get(1).(*domain.CallRecord).Outcome)
	}).Return(nil)

	recorder := NewAsyncRecorder(sink, 8, time.Second, metrics.NewMetrics("test"))
	recorder.Enqueue(testRecord(domain.OutcomeDeclined))
	recorder.Enqueue(testRecord(domain.OutcomeCompleted))
	recorder.Enqueue(testRecord(domain.OutcomeCancelled))
	recorder.Close()

	assert.Equal(t, []domain.Outcome{
		domain.OutcomeDeclined,
		domain.OutcomeCompleted,
		domain.OutcomeCancelled,
	}, order)
}

func TestAsyncRecorder_SinkErrorIsSwallowed(t *testing.T) {
	sink := new(MockCallRecordSink)
	sink.On("Append", mock.Anything, mock.Anything).Return(errors.New("db down"))

	recorder := NewAsyncRecorder(sink, 4, time.Second, metrics.NewMetrics("test"))
	recorder.Enqueue(testRecord(domain.OutcomeCompleted))
	recorder.Enqueue(testRecord(domain.OutcomeMissed))
	recorder.Close()

	sink.AssertNumberOfCalls(t, "Append", 2)
}

func TestAsyncRecorder_AppliesWriteTimeout(t *testing.T) {
	sink := new(MockCallRecordSink)
	sink.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		_, ok := ctx.Deadline()
		assert.True(t, ok)
	}).Return(nil)

	recorder := NewAsyncRecorder(sink, 1, 50*time.Millisecond, metrics.NewMetrics("test"))
	recorder.Enqueue(testRecord(domain.OutcomeCompleted))
	recorder.Close()

	sink.AssertExpectations(t)
}

func TestAsyncRecorder_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sink := new(MockCallRecordSink)
	sink.On("Append", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}).Return(nil)

	recorder := NewAsyncRecorder(sink, 1, time.Second, metrics.NewMetrics("test"))

	recorder.Enqueue(testRecord(domain.OutcomeCompleted))
	<-started // worker holds the first record
	recorder.Enqueue(testRecord(domain.OutcomeCompleted)) // fills the queue
	recorder.Enqueue(testRecord(domain.OutcomeCompleted)) // dropped

	close(release)
	recorder.Close()

	sink.AssertNumberOfCalls(t, "Append", 2)
}

func TestAsyncRecorder_NilSink(t *testing.T) {
	recorder := NewAsyncRecorder(nil, 2, time.Second, metrics.NewMetrics("test"))

	require.NotPanics(t, func() {
		recorder.Enqueue(testRecord(domain.OutcomeCompleted))
		recorder.Close()
	})
}

func TestAsyncRecorder_EnqueueAfterClose(t *testing.T) {
	sink := new(MockCallRecordSink)
	recorder := NewAsyncRecorder(sink, 2, time.Second, metrics.NewMetrics("test"))
	recorder.Close()

	require.NotPanics(t, func() {
		recorder.Enqueue(testRecord(domain.OutcomeCompleted))
	})
	recorder.Close()

	sink.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestGuardedSink_FailsFastWhenOpen(t *testing.T) {
	sink := new(MockCallRecordSink)
	sink.On("Append", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Twice()

	m := metrics.NewMetrics("test")
	guarded := NewGuardedSink(sink, resilience.NewCircuitBreaker("call_records", 2, time.Hour, m))
	recorder := NewAsyncRecorder(guarded, 8, time.Second, m)
	for i := 0; i < 4; i++ {
		recorder.Enqueue(testRecord(domain.OutcomeCompleted))
	}
	recorder.Close()

	sink.AssertNumberOfCalls(t, "Append", 2)
}
