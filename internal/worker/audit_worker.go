package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aiquery/internal/amqp"
	"aiquery/internal/log"
	"aiquery/internal/metrics"
	"aiquery/internal/storage"
)

// AuditRecorder persists completed runs.
type AuditRecorder interface {
	RecordRun(ctx context.Context, run storage.AuditRun) (bool, error)
}

// Consumer delivers conversation audit events to a handler until ctx ends.
type Consumer interface {
	ConsumeConversationCompleted(ctx context.Context, handler func(context.Context, *amqp.ConversationCompletedMessage) error) error
}

// AuditWorker writes conversation audit events to the audit log.
type AuditWorker struct {
	recorder AuditRecorder
	logger   *log.Logger
	metrics  *metrics.Metrics

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	lastErr error
}

// NewAuditWorker creates an audit worker. logger and m may be nil.
func NewAuditWorker(recorder AuditRecorder, logger *log.Logger, m *metrics.Metrics) *AuditWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &AuditWorker{
		recorder: recorder,
		logger:   logger.WithComponent(log.ComponentWorker),
		metrics:  m,
	}
}

// HandleConversationCompleted records a single audit event. Redelivered
// events that were already recorded are acknowledged without changes.
func (w *AuditWorker) HandleConversationCompleted(ctx context.Context, msg *amqp.ConversationCompletedMessage) error {
	w.logger.DebugContext(ctx, "Processing audit message",
		log.FieldRunID, msg.RunID,
		log.FieldThreadID, msg.ThreadID)

	inserted, err := w.recorder.RecordRun(ctx, AuditRun(msg))
	w.metrics.ObserveAudit(log.OpConsume, err)
	if err != nil {
		log.NewStructuredLogger(w.logger).LogError(ctx, "Failed to record audit event", err, log.OpConsume,
			log.NewFields().WithConversation(msg.RunID, msg.ThreadID).WithErrorType(log.ErrorTypeDatabase))
		return fmt.Errorf("record run %s: %w", msg.RunID, err)
	}

	if !inserted {
		w.logger.InfoContext(ctx, "Audit event already recorded",
			log.FieldRunID, msg.RunID)
		return nil
	}

	w.logger.InfoContext(ctx, "Recorded conversation audit",
		log.FieldRunID, msg.RunID,
		log.FieldThreadID, msg.ThreadID,
		log.FieldBackend, msg.Backend,
		log.FieldStatus, msg.Status,
		"calls", len(msg.Calls))

	return nil
}

// Start consumes events in the background. Returns an error if already running.
func (w *AuditWorker) Start(ctx context.Context, consumer Consumer) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("audit worker is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.running = true
	w.cancel = cancel
	w.doneCh = done
	w.lastErr = nil
	w.mu.Unlock()

	go func() {
		var err error
		// running is cleared however the consumer returns, so a stopped or
		// crashed worker can be started again.
		defer func() {
			w.mu.Lock()
			w.lastErr = err
			w.running = false
			w.mu.Unlock()
			cancel()
			close(done)
		}()
		err = consumer.ConsumeConversationCompleted(ctx, w.HandleConversationCompleted)
	}()

	w.logger.InfoContext(ctx, "Audit worker started")
	return nil
}

// Stop cancels consumption and waits for the consumer to return.
func (w *AuditWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.doneCh
	w.mu.Unlock()

	cancel()

	select {
	case <-done:
		w.logger.InfoContext(ctx, "Audit worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Audit worker stop timed out")
		return ctx.Err()
	}
	return nil
}

// Done is closed when the consumer returns. Nil before Start.
func (w *AuditWorker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.doneCh
}

// Err reports why the consumer returned.
func (w *AuditWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// IsRunning returns whether the worker is currently running
func (w *AuditWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// AuditRun converts a wire event into the storage record.
func AuditRun(msg *amqp.ConversationCompletedMessage) storage.AuditRun {
	run := storage.AuditRun{
		RunID:       msg.RunID,
		ThreadID:    msg.ThreadID,
		Status:      msg.Status,
		Rounds:      msg.Rounds,
		Duration:    time.Duration(msg.DurationMs) * time.Millisecond,
		CompletedAt: msg.CompletedAt,
		Calls:       make([]storage.AuditCall, 0, len(msg.Calls)),
	}
	for _, c := range msg.Calls {
		run.Calls = append(run.Calls, storage.AuditCall{
			CallID:   c.CallID,
			Tool:     c.Tool,
			Args:     c.Args,
			Result:   c.Result,
			IsError:  c.IsError,
			Round:    c.Round,
			Duration: time.Duration(c.DurationMs) * time.Millisecond,
		})
	}
	return run
}
