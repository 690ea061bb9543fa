package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aiquery/internal/core"
	"aiquery/internal/log"
	"aiquery/internal/metrics"
	"aiquery/internal/tools"
)

// State is a step of the orchestration state machine.
type State string

const (
	StateAwaitDecision     State = "AWAIT_DECISION"
	StateExecutingTools    State = "EXECUTING_TOOLS"
	StateSynthesizingAudio State = "SYNTHESIZING_AUDIO"
	StateDone              State = "DONE"
)

// Status strings recorded for every completed run.
const (
	StatusAssistantDone  = "Assistant done"
	StatusAudioGenerated = "Audio generated successfully"
	StatusNoAudioText    = "No text available for audio conversion"
	statusAudioFailed    = "Audio generation failed: "
)

const defaultMaxRounds = 8

// CallRecord is the audit view of one executed tool call.
type CallRecord struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Result   string         `json:"result"`
	IsError  bool           `json:"is_error"`
	Round    int            `json:"round"`
	Duration time.Duration  `json:"duration"`
}

// Outcome is the result of a completed run.
type Outcome struct {
	RunID    string
	ThreadID string
	Answer   string
	// Audio is the base64 encoded speech, nil when not requested or failed.
	Audio    *string
	Status   string
	Rounds   int
	Calls    []CallRecord
	Started  time.Time
	Duration time.Duration
}

// Orchestrator drives one conversation run. It is safe for concurrent use;
// runs on the same thread are serialized by Sessions.
type Orchestrator struct {
	engine          DecisionEngine
	synth           Synthesizer
	sessions        Sessions
	catalog         *tools.Catalog
	logger          *log.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
	maxRounds       int
	decisionTimeout time.Duration
	synthTimeout    time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.WithComponent(log.ComponentOrchestrator) }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the clock used for the *date* injected into prompts.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMaxRounds bounds the number of tool rounds per run.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithDecisionTimeout bounds each decision engine call.
func WithDecisionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.decisionTimeout = d }
}

// WithSynthesisTimeout bounds the speech synthesis call.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.synthTimeout = d }
}

// NewOrchestrator wires the decision engine, synthesizer and session store.
// synth may be nil, in which case audio requests degrade to no audio.
func NewOrchestrator(engine DecisionEngine, synth Synthesizer, sessions Sessions, catalog *tools.Catalog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:    engine,
		synth:     synth,
		sessions:  sessions,
		catalog:   catalog,
		logger:    log.Discard(),
		now:       time.Now,
		maxRounds: defaultMaxRounds,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EngineName returns the configured decision backend name.
func (o *Orchestrator) EngineName() string {
	if o.engine == nil {
		return ""
	}
	return o.engine.Name()
}

// run is the mutable state of one orchestration run.
type run struct {
	state    State
	conv     core.Conversation
	txs      []core.Transaction
	getAudio bool
	decision Decision
	rounds   int
	outcome  *Outcome
	logger   *log.Logger
}

// Run executes the state machine for a validated request and persists the
// conversation once the run is DONE. Nothing is persisted on failure.
func (o *Orchestrator) Run(ctx context.Context, req *core.Request) (*Outcome, error) {
	if o.engine == nil || o.catalog == nil {
		return nil, ErrEngineUnavailable
	}
	if o.sessions == nil {
		return nil, fmt.Errorf("%w: session store missing", ErrEngineUnavailable)
	}

	started := o.now()
	out := &Outcome{
		RunID:    uuid.NewString(),
		ThreadID: req.ThreadID,
		Started:  started,
	}
	logger := o.logger.With(log.FieldRunID, out.RunID).WithThread(req.ThreadID)

	err := o.sessions.WithLock(ctx, req.ThreadID, func(ctx context.Context) error {
		conv, err := o.sessions.Load(ctx, req.ThreadID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}

		system, err := SystemInstruction(o.catalog)
		if err != nil {
			return err
		}
		human, err := HumanTurn(req.Prompt, started, req.Transactions)
		if err != nil {
			return err
		}
		conv.System = system
		conv.Append(human)

		r := &run{
			state:    StateAwaitDecision,
			conv:     conv,
			txs:      req.Transactions,
			getAudio: req.GetAudio,
			outcome:  out,
			logger:   logger,
		}
		if err := o.drive(ctx, r); err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.sessions.Save(ctx, req.ThreadID, r.conv); err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
		return nil
	})

	out.Duration = o.now().Sub(started)
	o.metrics.ObserveRun(out.Duration, out.Rounds, err)
	if err != nil {
		logger.ErrorContext(ctx, "Conversation run failed", log.FieldError, err, log.FieldRound, out.Rounds)
		return nil, err
	}

	logger.InfoContext(ctx, "Conversation run completed",
		log.FieldRound, out.Rounds,
		log.FieldStatus, out.Status,
		log.FieldTransactions, len(req.Transactions),
		log.FieldDuration, out.Duration.Milliseconds())
	return out, nil
}

func (o *Orchestrator) drive(ctx context.Context, r *run) error {
	for r.state != StateDone {
		if err := ctx.Err(); err != nil {
			return err
		}

		var next State
		var err error
		switch r.state {
		case StateAwaitDecision:
			next, err = o.awaitDecision(ctx, r)
		case StateExecutingTools:
			next, err = o.executeTools(ctx, r)
		case StateSynthesizingAudio:
			next = o.synthesize(ctx, r)
		default:
			err = fmt.Errorf("unknown state %q", r.state)
		}
		if err != nil {
			return err
		}

		r.logger.LogState(ctx, string(r.state), string(next), r.rounds)
		r.state = next
	}
	return nil
}

func (o *Orchestrator) awaitDecision(ctx context.Context, r *run) (State, error) {
	dctx := ctx
	if o.decisionTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, o.decisionTimeout)
		defer cancel()
	}

	start := time.Now()
	decision, err := o.engine.Decide(dctx, r.conv, o.catalog)
	o.metrics.ObserveDecision(o.engine.Name(), time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("decision engine %s: %w", o.engine.Name(), err)
	}
	r.decision = decision

	if decision.Kind == DecisionToolCalls && len(decision.Calls) > 0 {
		if r.rounds >= o.maxRounds {
			return "", fmt.Errorf("%w (%d)", ErrTooManyRounds, o.maxRounds)
		}
		return StateExecutingTools, nil
	}

	r.conv.Append(core.Turn{Role: core.RoleAssistant, Content: decision.Text})
	r.outcome.Answer = decision.Text
	r.outcome.Status = StatusAssistantDone
	if r.getAudio {
		return StateSynthesizingAudio, nil
	}
	return StateDone, nil
}

// executeTools runs the requested calls sequentially in request order and
// appends one tool turn per call. The transaction list is only read.
func (o *Orchestrator) executeTools(ctx context.Context, r *run) (State, error) {
	r.rounds++
	r.outcome.Rounds = r.rounds

	calls := make([]core.ToolCall, len(r.decision.Calls))
	for i, call := range r.decision.Calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		calls[i] = call
	}
	r.conv.Append(core.Turn{Role: core.RoleAssistant, Content: r.decision.Text, ToolCalls: calls})

	sl := log.NewStructuredLogger(r.logger)
	for _, call := range calls {
		start := time.Now()
		res := o.catalog.Execute(ctx, call, r.txs)
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			return "", res.Err
		}

		tr := res.ToolResult()
		r.conv.Append(core.Turn{Role: core.RoleTool, Result: &tr})
		r.outcome.Calls = append(r.outcome.Calls, CallRecord{
			ID:       call.ID,
			Name:     call.Name,
			Args:     call.Args,
			Result:   tr.Content,
			IsError:  tr.IsError,
			Round:    r.rounds,
			Duration: time.Since(start),
		})

		o.metrics.ObserveToolCall(call.Name, res.Err)
		sl.LogToolCall(ctx, r.outcome.ThreadID, call.Name, call.ID, res.Err)
	}

	return StateAwaitDecision, nil
}

// synthesize never fails the run: errors degrade to no audio with a status note.
func (o *Orchestrator) synthesize(ctx context.Context, r *run) State {
	text := r.outcome.Answer
	if text == "" {
		r.outcome.Status = StatusNoAudioText
		r.logger.WarnContext(ctx, "No answer text for speech synthesis")
		return StateDone
	}
	if o.synth == nil {
		err := errors.New("speech synthesis is not configured")
		r.outcome.Status = statusAudioFailed + err.Error()
		o.metrics.ObserveSynthesis(err)
		return StateDone
	}

	sctx := ctx
	if o.synthTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, o.synthTimeout)
		defer cancel()
	}

	audio, err := o.synth.Synthesize(sctx, text)
	if err == nil && len(audio) == 0 {
		err = errors.New("empty audio returned")
	}
	o.metrics.ObserveSynthesis(err)
	if err != nil {
		r.outcome.Status = statusAudioFailed + err.Error()
		r.logger.WarnContext(ctx, "Speech synthesis failed", log.FieldError, err)
		return StateDone
	}

	encoded := base64.StdEncoding.EncodeToString(audio)
	r.outcome.Audio = &encoded
	r.outcome.Status = StatusAudioGenerated
	r.logger.DebugContext(ctx, "Speech synthesized", log.FieldAudioBytes, len(audio))
	return StateDone
}
