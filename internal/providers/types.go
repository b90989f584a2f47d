package providers

import "context"

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Chat sends messages to the LLM and returns a response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// ResponseFormat asks the provider for a particular output shape.
type ResponseFormat string

const (
	FormatText ResponseFormat = ""
	FormatJSON ResponseFormat = "json_object"
)

// Option keys understood by every provider.
const (
	OptMaxTokens   = "max_tokens"
	OptTemperature = "temperature"
)

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Messages       []Message              `json:"messages"`
	Model          string                 `json:"model,omitempty"`
	ResponseFormat ResponseFormat         `json:"response_format,omitempty"`
	Options        map[string]interface{} `json:"options,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"` // "stop", "length"
	Usage        *Usage `json:"usage,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
