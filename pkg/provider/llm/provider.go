// Package llm defines the Provider interface for the language model backends
// that act as extraction oracles.
//
// An oracle receives a single extraction prompt and answers with text that is
// expected to contain a JSON object. Providers hide the SDK behind a uniform
// request/response pair so that backends can be swapped by configuration and
// composed into failover groups.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to answer.
type CompletionRequest struct {
	// SystemPrompt is sent as a leading system message when non-empty.
	SystemPrompt string

	// Messages is the ordered conversation. It must not be empty.
	Messages []Message

	// Temperature controls randomness. Zero selects the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero selects the provider default.
	MaxTokens int

	// JSON asks the backend to constrain its answer to a JSON object where the
	// backend supports it. Backends without such a mode ignore it.
	JSON bool
}

// CompletionResponse is the model's answer.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text generation backend.
type Provider interface {
	// Complete sends req and waits for the full answer. It must return
	// promptly once ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// EstimateTokens approximates the prompt size of messages at roughly four
// characters per token plus a small per-message overhead. It never
// undercounts by much and is only used for logging and metrics.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
