package core

import "slices"

// Role identifies who produced a turn.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type (
	// ToolCall is a primitive invocation requested by the decision engine.
	ToolCall struct {
		ID   string         `json:"id"`
		Name string         `json:"name"`
		Args map[string]any `json:"args,omitempty"`
	}

	// ToolResult is the outcome of one ToolCall, success value or failure message.
	ToolResult struct {
		CallID  string `json:"call_id"`
		Name    string `json:"name"`
		Content string `json:"content"`
		IsError bool   `json:"is_error,omitempty"`
	}

	// Turn is one entry of a conversation.
	//
	// Human turns carry the rendered message in Content plus the raw Query and
	// the Today date it was rendered with. Assistant turns carry either
	// ToolCalls or a final answer in Content. Tool turns carry a Result.
	Turn struct {
		Role      Role        `json:"role"`
		Content   string      `json:"content,omitempty"`
		Query     string      `json:"query,omitempty"`
		Today     string      `json:"today,omitempty"`
		ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
		Result    *ToolResult `json:"result,omitempty"`
	}

	// Conversation is the ordered history of a thread. System is rendered
	// fresh for every run and is not part of the persisted history.
	Conversation struct {
		System string `json:"-"`
		Turns  []Turn `json:"turns"`
	}
)

// Append adds turns to the end of the conversation.
func (c *Conversation) Append(turns ...Turn) {
	c.Turns = append(c.Turns, turns...)
}

// Len returns the number of turns.
func (c Conversation) Len() int {
	return len(c.Turns)
}

// Clone returns a deep enough copy that appending to either side does not affect the other.
func (c Conversation) Clone() Conversation {
	return Conversation{System: c.System, Turns: slices.Clone(c.Turns)}
}

// LastAnswer returns the content of the final assistant answer, if any.
func (c Conversation) LastAnswer() (string, bool) {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		t := c.Turns[i]
		if t.Role == RoleAssistant && len(t.ToolCalls) == 0 {
			return t.Content, true
		}
	}
	return "", false
}

// LastHuman returns the most recent human turn.
func (c Conversation) LastHuman() (Turn, bool) {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleHuman {
			return c.Turns[i], true
		}
	}
	return Turn{}, false
}

// TrailingResults returns the tool turns after the last assistant turn along
// with the tool calls of that assistant turn.
func (c Conversation) TrailingResults() ([]ToolCall, []ToolResult) {
	var results []ToolResult
	i := len(c.Turns) - 1
	for ; i >= 0 && c.Turns[i].Role == RoleTool; i-- {
		if c.Turns[i].Result != nil {
			results = append(results, *c.Turns[i].Result)
		}
	}
	if len(results) == 0 || i < 0 || c.Turns[i].Role != RoleAssistant {
		return nil, nil
	}
	slices.Reverse(results)
	return c.Turns[i].ToolCalls, results
}
