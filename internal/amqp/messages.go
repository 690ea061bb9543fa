package amqp

import (
	"encoding/json"
	"time"
)

// ConversationCompletedMessage is the audit event published after a run
// reaches DONE. It carries the executed tool calls but never the
// transactions or the prompt.
type ConversationCompletedMessage struct {
	RunID       string           `json:"run_id"`
	ThreadID    string           `json:"thread_id"`
	Backend     string           `json:"backend"`
	Status      string           `json:"status"`
	Rounds      int              `json:"rounds"`
	DurationMs  int64            `json:"duration_ms"`
	CompletedAt time.Time        `json:"completed_at"`
	Calls       []ToolCallRecord `json:"calls"`
}

// ToolCallRecord is one executed primitive inside a run.
type ToolCallRecord struct {
	CallID     string         `json:"call_id"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result"`
	IsError    bool           `json:"is_error"`
	Round      int            `json:"round"`
	DurationMs int64          `json:"duration_ms"`
}

// ToJSON converts the message to JSON bytes
func (m *ConversationCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ConversationCompletedMessageFromJSON decodes a message and rejects events
// that cannot be keyed.
func ConversationCompletedMessageFromJSON(data []byte) (*ConversationCompletedMessage, error) {
	var msg ConversationCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.RunID == "" || msg.ThreadID == "" {
		return nil, errMissingKeys
	}
	return &msg, nil
}
