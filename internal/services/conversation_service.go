package services

import (
	"context"
	"errors"
	"io"
	"time"

	"aiquery/internal/amqp"
	"aiquery/internal/core"
	"aiquery/internal/engine"
	"aiquery/internal/log"
	"aiquery/internal/metrics"
)

const auditPublishTimeout = 5 * time.Second

// Runner executes one orchestration run.
type Runner interface {
	Run(ctx context.Context, req *core.Request) (*engine.Outcome, error)
	EngineName() string
}

// AuditPublisher publishes conversation audit events.
type AuditPublisher interface {
	PublishConversationCompleted(ctx context.Context, msg *amqp.ConversationCompletedMessage) error
}

// Reply is the response body of a successful conversation request.
type Reply struct {
	Messages string  `json:"messages"`
	Audio    *string `json:"audio"`
	Status   string  `json:"status"`
}

// ConversationService runs validated requests through the orchestrator and
// publishes the audit trail.
type ConversationService struct {
	runner    Runner
	publisher AuditPublisher
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// Option configures a ConversationService.
type Option func(*ConversationService)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *ConversationService) { s.logger = l.WithComponent(log.ComponentConversation) }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ConversationService) { s.metrics = m }
}

// NewConversationService wires the orchestrator and an optional publisher.
func NewConversationService(runner Runner, publisher AuditPublisher, opts ...Option) *ConversationService {
	s := &ConversationService{
		runner:    runner,
		publisher: publisher,
		logger:    log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Converse decodes and validates body, then runs the conversation. Validation
// failures are returned as *core.ValidationError before any engine work.
func (s *ConversationService) Converse(ctx context.Context, body io.Reader) (*Reply, error) {
	req, err := core.DecodeRequest(body)
	if err != nil {
		return nil, err
	}
	return s.Ask(ctx, req)
}

// Ask runs an already validated request.
func (s *ConversationService) Ask(ctx context.Context, req *core.Request) (*Reply, error) {
	if s.runner == nil {
		return nil, engine.ErrEngineUnavailable
	}

	out, err := s.runner.Run(ctx, req)
	if err != nil {
		fields := log.NewFields().WithConversation("", req.ThreadID).WithErrorType(errorType(err))
		fields[log.FieldTransactions] = len(req.Transactions)
		log.NewStructuredLogger(s.logger).LogError(ctx, "Conversation run failed", err, log.OpRun, fields)
		return nil, err
	}

	s.publishAudit(ctx, out)

	return &Reply{Messages: out.Answer, Audio: out.Audio, Status: out.Status}, nil
}

// publishAudit never fails the request: the answer is already final.
func (s *ConversationService) publishAudit(ctx context.Context, out *engine.Outcome) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditPublishTimeout)
	defer cancel()

	err := s.publisher.PublishConversationCompleted(ctx, AuditMessage(out, s.runner.EngineName()))
	s.metrics.ObserveAudit(log.OpPublish, err)
	if err != nil {
		log.NewStructuredLogger(s.logger).LogError(ctx, "Failed to publish conversation audit event", err, log.OpPublish,
			log.NewFields().WithConversation(out.RunID, out.ThreadID).WithErrorType(log.ErrorTypeNetwork))
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return log.ErrorTypeTimeout
	case errors.Is(err, engine.ErrEngineUnavailable):
		return log.ErrorTypeEngine
	default:
		return log.ErrorTypeInternal
	}
}

// AuditMessage builds the audit event for a completed run.
func AuditMessage(out *engine.Outcome, backend string) *amqp.ConversationCompletedMessage {
	msg := &amqp.ConversationCompletedMessage{
		RunID:       out.RunID,
		ThreadID:    out.ThreadID,
		Backend:     backend,
		Status:      out.Status,
		Rounds:      out.Rounds,
		DurationMs:  out.Duration.Milliseconds(),
		CompletedAt: out.Started.Add(out.Duration).UTC(),
		Calls:       make([]amqp.ToolCallRecord, 0, len(out.Calls)),
	}
	for _, c := range out.Calls {
		msg.Calls = append(msg.Calls, amqp.ToolCallRecord{
			CallID:     c.ID,
			Tool:       c.Name,
			Args:       c.Args,
			Result:     c.Result,
			IsError:    c.IsError,
			Round:      c.Round,
			DurationMs: c.Duration.Milliseconds(),
		})
	}
	return msg
}
