package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldQuery        = "query"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldErrorType    = "error_type"
	FieldOperation    = "operation"
	FieldThreadID     = "thread_id"
	FieldRunID        = "run_id"
	FieldTool         = "tool"
	FieldCallID       = "call_id"
	FieldRound        = "round"
	FieldStateFrom    = "from"
	FieldStateTo      = "to"
	FieldStatus       = "status"
	FieldTransactions = "transactions"
	FieldTurns        = "turns"
	FieldBackend      = "backend"
	FieldModel        = "model"
	FieldAudioBytes   = "audio_bytes"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentHTTP         = "http"
	ComponentConversation = "conversation"
	ComponentOrchestrator = "orchestrator"
	ComponentEngine       = "engine"
	ComponentTools        = "tools"
	ComponentSpeech       = "speech"
	ComponentSession      = "session"
	ComponentStorage      = "storage"
	ComponentAMQP         = "amqp"
	ComponentWorker       = "worker"
	ComponentCache        = "cache"
	ComponentSecurity     = "security"
	ComponentRateLimit    = "rate_limit"
	ComponentTrace        = "trace"
	ComponentBackend      = "backend"
	ComponentMCP          = "mcp"
)

// Operations defines standard operation names
const (
	OpRun     = "run"
	OpExecute = "execute"
	OpPublish = "publish"
	OpConsume = "consume"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeDatabase = "database_error"
	ErrorTypeNetwork  = "network_error"
	ErrorTypeTimeout  = "timeout_error"
	ErrorTypeEngine   = "engine_error"
	ErrorTypeInternal = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithConversation adds the fields that identify one orchestration run.
// runID is omitted when the run never started.
func (f LogFields) WithConversation(runID, threadID string) LogFields {
	if runID != "" {
		f[FieldRunID] = runID
	}
	f[FieldThreadID] = threadID
	return f
}

// WithErrorType adds the error category
func (f LogFields) WithErrorType(errorType string) LogFields {
	f[FieldErrorType] = errorType
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
