package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiquery/internal/amqp"
	"aiquery/internal/metrics"
	"aiquery/internal/storage"
)

func sampleMessage() *amqp.ConversationCompletedMessage {
	return &amqp.ConversationCompletedMessage{
		RunID:       "run-1",
		ThreadID:    "thread-1",
		Backend:     "rules",
		Status:      "Assistant done",
		Rounds:      1,
		DurationMs:  42,
		CompletedAt: time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC),
		Calls: []amqp.ToolCallRecord{
			{CallID: "c1", Tool: "filter_by_type_and_sum", Args: map[string]any{"transaction_type": "debit"}, Result: `{"result":100}`, Round: 1, DurationMs: 2},
			{CallID: "c2", Tool: "filter_by_date_and_count", Args: map[string]any{"start_date": "2025-13-01"}, Result: "invalid start_date", IsError: true, Round: 1},
		},
	}
}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestHandleConversationCompleted_RecordsRun(t *testing.T) {
	repo := newRepo(t)
	m := metrics.New()
	w := NewAuditWorker(repo, nil, m)
	ctx := context.Background()

	require.NoError(t, w.HandleConversationCompleted(ctx, sampleMessage()))

	runs, err := repo.RunsForThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 42*time.Millisecond, runs[0].Duration)
	require.Len(t, runs[0].Calls, 2)
	assert.Equal(t, "debit", runs[0].Calls[0].Args["transaction_type"])
	assert.True(t, runs[0].Calls[1].IsError)

	count, err := testutil.GatherAndCount(m.Registry(), "aiquery_audit_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandleConversationCompleted_RedeliveryIsNoop(t *testing.T) {
	repo := newRepo(t)
	w := NewAuditWorker(repo, nil, nil)
	ctx := context.Background()

	require.NoError(t, w.HandleConversationCompleted(ctx, sampleMessage()))
	require.NoError(t, w.HandleConversationCompleted(ctx, sampleMessage()))

	runs, err := repo.RunsForThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Calls, 2)
}

type failingRecorder struct{}

func (failingRecorder) RecordRun(context.Context, storage.AuditRun) (bool, error) {
	return false, errors.New("disk full")
}

func TestHandleConversationCompleted_RecorderError(t *testing.T) {
	w := NewAuditWorker(failingRecorder{}, nil, nil)

	err := w.HandleConversationCompleted(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-1")
	assert.Contains(t, err.Error(), "disk full")
}

// fakeConsumer hands queued messages to the handler, then blocks until cancelled.
type fakeConsumer struct {
	msgs []*amqp.ConversationCompletedMessage
	mu   sync.Mutex
	errs []error
}

func (f *fakeConsumer) ConsumeConversationCompleted(ctx context.Context, handler func(context.Context, *amqp.ConversationCompletedMessage) error) error {
	for _, msg := range f.msgs {
		err := handler(ctx, msg)
		f.mu.Lock()
		f.errs = append(f.errs, err)
		f.mu.Unlock()
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeConsumer) handled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func TestAuditWorker_Lifecycle(t *testing.T) {
	repo := newRepo(t)
	w := NewAuditWorker(repo, nil, nil)
	second := sampleMessage()
	second.RunID = "run-2"
	consumer := &fakeConsumer{msgs: []*amqp.ConversationCompletedMessage{sampleMessage(), second}}

	require.NoError(t, w.Start(context.Background(), consumer))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background(), consumer))

	require.Eventually(t, func() bool { return consumer.handled() == 2 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.IsRunning())
	assert.ErrorIs(t, w.Err(), context.Canceled)

	runs, err := repo.RunsForThread(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// brokenConsumer returns as soon as it is started, like a lost connection.
type brokenConsumer struct{ err error }

func (b brokenConsumer) ConsumeConversationCompleted(context.Context, func(context.Context, *amqp.ConversationCompletedMessage) error) error {
	return b.err
}

func TestAuditWorker_RestartsAfterConsumerExits(t *testing.T) {
	w := NewAuditWorker(newRepo(t), nil, nil)
	lost := errors.New("connection lost")

	require.NoError(t, w.Start(context.Background(), brokenConsumer{err: lost}))
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not finish after the consumer returned")
	}
	assert.False(t, w.IsRunning())
	assert.ErrorIs(t, w.Err(), lost)

	consumer := &fakeConsumer{msgs: []*amqp.ConversationCompletedMessage{sampleMessage()}}
	require.NoError(t, w.Start(context.Background(), consumer))
	assert.True(t, w.IsRunning())
	require.Eventually(t, func() bool { return consumer.handled() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.IsRunning())
}

func TestAuditWorker_StopWhenIdle(t *testing.T) {
	w := NewAuditWorker(failingRecorder{}, nil, nil)
	assert.NoError(t, w.Stop(context.Background()))
	assert.Nil(t, w.Done())
}

func TestAuditRun_Conversion(t *testing.T) {
	run := AuditRun(sampleMessage())

	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, 1, run.Rounds)
	assert.Equal(t, 2*time.Millisecond, run.Calls[0].Duration)
	assert.Equal(t, "c2", run.Calls[1].CallID)
}
