package logging

// LogEntry is one structured log record. Beyond the standard fields it
// carries the identifiers that correlate a line with a model call and a
// learning attempt.
type LogEntry struct {
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	ModelID   string     // Model serving the request, when known
	AttemptID string     // Learning attempt the line belongs to
	TokenInfo *TokenInfo // Token usage for prompt/completion lines

	// General structured data
	Fields map[string]interface{}
}

// TokenInfo tracks token usage for cost and performance monitoring.
type TokenInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
