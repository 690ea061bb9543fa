// Package engine runs the conversation state machine: it asks a decision
// engine what to do, executes the requested primitives, feeds results back,
// and optionally synthesizes the final answer as speech.
package engine

import (
	"context"
	"errors"
	"fmt"

	"aiquery/internal/core"
	"aiquery/internal/tools"
)

// DecisionKind tags a Decision.
type DecisionKind string

const (
	DecisionToolCalls DecisionKind = "toolCalls"
	DecisionAnswer    DecisionKind = "answer"
)

// Decision is what a DecisionEngine returns for one round: either one or more
// tool calls, or a final natural-language answer.
type Decision struct {
	Kind  DecisionKind
	Calls []core.ToolCall
	// Text is the answer for DecisionAnswer, or optional commentary that
	// accompanied tool calls.
	Text string
}

// ToolCalls builds a tool-call decision.
func ToolCalls(calls ...core.ToolCall) Decision {
	return Decision{Kind: DecisionToolCalls, Calls: calls}
}

// Answer builds a final-answer decision.
func Answer(text string) Decision {
	return Decision{Kind: DecisionAnswer, Text: text}
}

// DecisionEngine picks the next step for a conversation given the tool catalog.
type DecisionEngine interface {
	Decide(ctx context.Context, conv core.Conversation, catalog *tools.Catalog) (Decision, error)
	Name() string
}

// Synthesizer converts text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Sessions persists conversations and serializes work per thread.
type Sessions interface {
	WithLock(ctx context.Context, threadID string, fn func(ctx context.Context) error) error
	Load(ctx context.Context, threadID string) (core.Conversation, error)
	Save(ctx context.Context, threadID string, conv core.Conversation) error
}

var (
	// ErrEngineUnavailable means the decision engine or its backing resource
	// is not initialised. Fatal for the request.
	ErrEngineUnavailable = errors.New("decision engine is not initialized")

	// ErrTooManyRounds means the decision engine kept requesting tools past
	// the configured bound.
	ErrTooManyRounds = errors.New("decision engine exceeded the maximum number of tool rounds")
)

// UnavailableError wraps a backend failure that makes the engine unusable.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrEngineUnavailable, e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrEngineUnavailable, e.Err}
}
