// Package rules is an offline decision engine that executes the routing
// policy directly: it maps a prompt onto one primitive call and narrates the
// result. It needs no API key and is deterministic, which makes it the
// default backend for tests and local runs.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aiquery/internal/core"
	"aiquery/internal/engine"
	"aiquery/internal/tools"
)

// Name is the backend name reported in logs and metrics.
const Name = "rules"

// InvalidDateRange is the answer for impossible or future date ranges.
const InvalidDateRange = "Invalid date range specified. Please provide a valid date range."

const snapshotPrefix = "*transactions*: "

// Engine implements engine.DecisionEngine.
type Engine struct {
	parser *parser
	now    func() time.Time
}

// New compiles the routing vocabulary. A nil routing uses the embedded policy.
func New(routing *tools.Routing) (*Engine, error) {
	if routing == nil {
		routing = tools.DefaultRouting()
	}
	p, err := newParser(routing)
	if err != nil {
		return nil, fmt.Errorf("rules engine: %w", err)
	}
	return &Engine{parser: p, now: time.Now}, nil
}

func (e *Engine) Name() string { return Name }

// Decide answers from trailing tool results when there are any, otherwise it
// routes the latest human turn.
func (e *Engine) Decide(ctx context.Context, conv core.Conversation, catalog *tools.Catalog) (engine.Decision, error) {
	if err := ctx.Err(); err != nil {
		return engine.Decision{}, err
	}

	if calls, results := conv.TrailingResults(); len(results) > 0 {
		return engine.Answer(e.narrate(calls, results, catalog)), nil
	}

	human, ok := conv.LastHuman()
	if !ok {
		return engine.Decision{}, fmt.Errorf("%w: no human turn to answer", engine.ErrEngineUnavailable)
	}

	today := e.now()
	if human.Today != "" {
		if t, err := time.Parse(core.DateLayout, human.Today); err == nil {
			today = t
		}
	}

	q := e.parser.parse(human.Query, today)
	switch {
	case !q.inScope:
		return engine.Answer(e.parser.routing.Decline), nil
	case q.invalid:
		return engine.Answer(InvalidDateRange), nil
	case q.balance && !q.hasWindow() && !q.hasAmounts():
		return engine.Answer(balanceAnswer(human.Content)), nil
	}

	name, args := q.call()
	return engine.ToolCalls(core.ToolCall{Name: name, Args: args}), nil
}

func (e *Engine) narrate(calls []core.ToolCall, results []core.ToolResult, catalog *tools.Catalog) string {
	byID := make(map[string]core.ToolCall, len(calls))
	for _, c := range calls {
		byID[c.ID] = c
	}

	sentences := make([]string, 0, len(results))
	for _, r := range results {
		call, ok := byID[r.CallID]
		if !ok {
			call = core.ToolCall{Name: r.Name}
		}
		sentences = append(sentences, sentence(call, r, catalog))
	}
	return strings.Join(sentences, " ")
}

func sentence(call core.ToolCall, r core.ToolResult, catalog *tools.Catalog) string {
	if r.IsError {
		return "I couldn't complete that request: " + strings.TrimPrefix(r.Content, "Error: ") + "."
	}
	value, ok := tools.ParseContent(r.Content)
	if !ok {
		return "I couldn't read the result of " + call.Name + "."
	}

	var args tools.Args
	def, found := catalog.Lookup(call.Name)
	if found {
		args, _ = tools.DecodeArgs(def, call.Args)
	}
	if found && def.Reduction == tools.ReduceCount {
		n := int(value)
		noun := "transactions"
		if n == 1 {
			noun = "transaction"
		}
		if args.Kind != "" {
			noun = args.Kind + " " + noun
		}
		return fmt.Sprintf("You have %d %s%s.", n, noun, describe(args, " with amounts"))
	}

	subject := "The total amount"
	if args.Kind != "" {
		subject = "The total " + args.Kind + " amount"
	}
	return fmt.Sprintf("%s%s is %s.", subject, describe(args, " for transactions"), core.FormatNGN(value))
}

// describe renders the filters of a call; lead introduces the amount clause.
func describe(a tools.Args, lead string) string {
	var b strings.Builder
	switch {
	case a.MinAmount != nil && a.MaxAmount != nil:
		fmt.Fprintf(&b, "%s between %s and %s", lead, core.FormatNGN(*a.MinAmount), core.FormatNGN(*a.MaxAmount))
	case a.MinAmount != nil:
		fmt.Fprintf(&b, "%s of at least %s", lead, core.FormatNGN(*a.MinAmount))
	case a.MaxAmount != nil:
		fmt.Fprintf(&b, "%s of at most %s", lead, core.FormatNGN(*a.MaxAmount))
	}
	switch {
	case a.StartDate != "" && (a.EndDate == "" || a.EndDate == a.StartDate):
		fmt.Fprintf(&b, " on %s", a.StartDate)
	case a.StartDate != "":
		fmt.Fprintf(&b, " from %s to %s", a.StartDate, a.EndDate)
	case a.EndDate != "":
		fmt.Fprintf(&b, " up to %s", a.EndDate)
	}
	return b.String()
}

// balanceAnswer reads the current balance from the snapshot embedded in the
// human turn; the snapshot is ordered newest first.
func balanceAnswer(content string) string {
	var snapshot []struct {
		Balance float64 `json:"balance"`
	}
	for _, line := range strings.Split(content, "\n") {
		if rest, ok := strings.CutPrefix(line, snapshotPrefix); ok {
			_ = json.Unmarshal([]byte(rest), &snapshot)
			break
		}
	}
	if len(snapshot) == 0 {
		return "I couldn't find any transactions to determine your balance."
	}
	return "Your current balance is " + core.FormatNGN(snapshot[0].Balance) + "."
}

var _ engine.DecisionEngine = (*Engine)(nil)
