package nodeflow

import "github.com/google/uuid"

// NewID returns a fresh identifier for executions and approvals.
func NewID() string { return uuid.NewString() }

// Message is one conversational turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelRequest is the model-call capability input. Model is "provider/model";
// an empty Model selects the configured default.
type ModelRequest struct {
	Model       string         `json:"model,omitempty"`
	System      string         `json:"system,omitempty"`
	Messages    []Message      `json:"messages"`
	Tools       []string       `json:"tools,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

// ModelResponse carries the model text and, when a schema was requested and
// the text parsed as JSON, the decoded document.
type ModelResponse struct {
	Text      string     `json:"text"`
	JSON      any        `json:"json,omitempty"`
	ToolTrace []ToolCall `json:"tool_trace,omitempty"`
}

// FetchOptions tune one web fetch. Zero values select provider defaults.
type FetchOptions struct {
	Provider string `json:"provider,omitempty"`
	Selector string `json:"selector,omitempty"`
	Format   string `json:"format,omitempty"`
	MaxBytes int    `json:"max_bytes,omitempty"`
}

type FetchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}
