// Package gemini is the Google Gemini function-calling decision engine.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"aiquery/internal/core"
	"aiquery/internal/engine"
	"aiquery/internal/tools"
)

// Name is the backend name reported in logs and metrics.
const Name = "gemini"

const (
	roleUser  = "user"
	roleModel = "model"
)

// ModelsAPI is the subset of the genai client used by the engine.
type ModelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Engine implements engine.DecisionEngine on top of Gemini function calling.
type Engine struct {
	models    ModelsAPI
	model     string
	maxTokens int32
}

// New creates an engine backed by the Gemini API.
func New(ctx context.Context, apiKey, model string, maxTokens int) (*Engine, error) {
	if apiKey == "" {
		return nil, &engine.UnavailableError{Backend: Name, Err: errors.New("GEMINI_API_KEY is not set")}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &engine.UnavailableError{Backend: Name, Err: fmt.Errorf("create genai client: %w", err)}
	}
	return NewWithAPI(client.Models, model, maxTokens), nil
}

// NewWithAPI creates an engine over an existing models client.
func NewWithAPI(models ModelsAPI, model string, maxTokens int) *Engine {
	return &Engine{models: models, model: model, maxTokens: int32(maxTokens)}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Decide(ctx context.Context, conv core.Conversation, catalog *tools.Catalog) (engine.Decision, error) {
	if e.models == nil {
		return engine.Decision{}, engine.ErrEngineUnavailable
	}

	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		Tools:       []*genai.Tool{{FunctionDeclarations: Declarations(catalog)}},
		Temperature: &temperature,
	}
	if e.maxTokens > 0 {
		config.MaxOutputTokens = e.maxTokens
	}
	if conv.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: conv.System}}}
	}

	resp, err := e.models.GenerateContent(ctx, e.model, Contents(conv), config)
	if err != nil {
		return engine.Decision{}, classify(err)
	}
	return decision(resp), nil
}

// Declarations renders the catalog as Gemini function declarations.
func Declarations(catalog *tools.Catalog) []*genai.FunctionDeclaration {
	defs := catalog.Definitions()
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		props := make(map[string]*genai.Schema, len(d.Params))
		for _, p := range d.Params {
			s := &genai.Schema{Type: genai.TypeString, Description: p.Description, Enum: p.Enum}
			if p.Type == tools.TypeNumber {
				s = &genai.Schema{Type: genai.TypeNumber, Description: p.Description}
			}
			props[p.Name] = s
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: props},
		})
	}
	return out
}

// Contents converts the conversation into Gemini contents. Consecutive tool
// turns become one user content of function responses.
func Contents(conv core.Conversation) []*genai.Content {
	var out []*genai.Content
	var pending []*genai.Part

	flush := func() {
		if len(pending) > 0 {
			out = append(out, &genai.Content{Role: roleUser, Parts: pending})
			pending = nil
		}
	}

	for _, t := range conv.Turns {
		switch t.Role {
		case core.RoleTool:
			if t.Result == nil {
				continue
			}
			key := "output"
			if t.Result.IsError {
				key = "error"
			}
			pending = append(pending, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       t.Result.CallID,
				Name:     t.Result.Name,
				Response: map[string]any{key: t.Result.Content},
			}})
		case core.RoleHuman:
			flush()
			out = append(out, &genai.Content{Role: roleUser, Parts: []*genai.Part{{Text: t.Content}}})
		case core.RoleAssistant:
			flush()
			var parts []*genai.Part
			if strings.TrimSpace(t.Content) != "" {
				parts = append(parts, &genai.Part{Text: t.Content})
			}
			for _, c := range t.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: c.ID, Name: c.Name, Args: c.Args}})
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: roleModel, Parts: parts})
			}
		}
	}
	flush()
	return out
}

func decision(resp *genai.GenerateContentResponse) engine.Decision {
	if fcs := resp.FunctionCalls(); len(fcs) > 0 {
		calls := make([]core.ToolCall, 0, len(fcs))
		for _, fc := range fcs {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			calls = append(calls, core.ToolCall{ID: fc.ID, Name: fc.Name, Args: args})
		}
		return engine.ToolCalls(calls...)
	}
	return engine.Answer(strings.TrimSpace(resp.Text()))
}

// classify turns authentication failures into UnavailableError.
func classify(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return &engine.UnavailableError{Backend: Name, Err: err}
	}
	return fmt.Errorf("gemini API error: %w", err)
}

var _ engine.DecisionEngine = (*Engine)(nil)
