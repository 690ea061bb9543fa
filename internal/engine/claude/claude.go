// Package claude is the Anthropic Messages API decision engine.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aiquery/internal/core"
	"aiquery/internal/engine"
	"aiquery/internal/tools"
)

// Name is the backend name reported in logs and metrics.
const Name = "claude"

const defaultMaxTokens = 1024

// MessagesAPI is the subset of the Anthropic client used by the engine.
type MessagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Engine implements engine.DecisionEngine on top of Claude tool use.
type Engine struct {
	messages  MessagesAPI
	model     string
	maxTokens int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxTokens sets the response token cap.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = int64(n)
		}
	}
}

// New creates an engine backed by the Anthropic API.
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, &engine.UnavailableError{Backend: Name, Err: errors.New("ANTHROPIC_API_KEY is not set")}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return NewWithAPI(&client.Messages, model, opts...), nil
}

// NewWithAPI creates an engine over an existing messages client.
func NewWithAPI(messages MessagesAPI, model string, opts ...Option) *Engine {
	e := &Engine{messages: messages, model: model, maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return Name }

// Decide sends the whole conversation with the tool catalog and maps the
// response onto a decision.
func (e *Engine) Decide(ctx context.Context, conv core.Conversation, catalog *tools.Catalog) (engine.Decision, error) {
	if e.messages == nil {
		return engine.Decision{}, engine.ErrEngineUnavailable
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		Messages:  Messages(conv),
		Tools:     Tools(catalog),
	}
	if conv.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: conv.System}}
	}

	resp, err := e.messages.New(ctx, params)
	if err != nil {
		return engine.Decision{}, classify(err)
	}
	return decision(resp)
}

// Tools renders the catalog as Anthropic tool definitions.
func Tools(catalog *tools.Catalog) []anthropic.ToolUnionParam {
	defs := catalog.Definitions()
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		props := make(map[string]any, len(d.Params))
		for _, p := range d.Params {
			props[p.Name] = p.Property()
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: props},
		}})
	}
	return out
}

// Messages converts the conversation into Anthropic messages. Consecutive
// tool turns are folded into one user message of tool_result blocks.
func Messages(conv core.Conversation) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, t := range conv.Turns {
		switch t.Role {
		case core.RoleTool:
			if t.Result != nil {
				pending = append(pending, anthropic.NewToolResultBlock(t.Result.CallID, t.Result.Content, t.Result.IsError))
			}
		case core.RoleHuman:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case core.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(t.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Content))
			}
			for _, c := range t.ToolCalls {
				args := c.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, args, c.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flush()
	return out
}

func decision(resp *anthropic.Message) (engine.Decision, error) {
	var text strings.Builder
	var calls []core.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return engine.Decision{}, fmt.Errorf("decode input of %s: %w", block.Name, err)
				}
			}
			calls = append(calls, core.ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}

	if len(calls) > 0 {
		d := engine.ToolCalls(calls...)
		d.Text = text.String()
		return d, nil
	}
	return engine.Answer(strings.TrimSpace(text.String())), nil
}

// classify turns authentication failures into UnavailableError.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &engine.UnavailableError{Backend: Name, Err: err}
		}
	}
	return fmt.Errorf("claude API error: %w", err)
}

var _ engine.DecisionEngine = (*Engine)(nil)
