package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/worldtracker/pkg/provider/llm"
)

// Oracle turns an extraction prompt into a raw report.
type Oracle interface {
	Extract(ctx context.Context, prompt string) (string, error)
}

// OracleFunc adapts a function to [Oracle].
type OracleFunc func(ctx context.Context, prompt string) (string, error)

// Extract calls f.
func (f OracleFunc) Extract(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// LLMOracle asks an [llm.Provider] for the report. Backends that support it
// are put into JSON mode.
type LLMOracle struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

var _ Oracle = (*LLMOracle)(nil)

// LLMOption configures an [LLMOracle].
type LLMOption func(*LLMOracle)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(t float64) LLMOption {
	return func(o *LLMOracle) { o.temperature = t }
}

// WithMaxTokens caps the report length. Default: 2048.
func WithMaxTokens(n int) LLMOption {
	return func(o *LLMOracle) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithLogger sets the logger that receives per-call token accounting.
// Default: [slog.Default].
func WithLogger(l *slog.Logger) LLMOption {
	return func(o *LLMOracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewLLMOracle wraps p.
func NewLLMOracle(p llm.Provider, opts ...LLMOption) *LLMOracle {
	o := &LLMOracle{provider: p, temperature: 0.2, maxTokens: 2048, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Extract implements [Oracle].
func (o *LLMOracle) Extract(ctx context.Context, prompt string) (string, error) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}
	estimate := llm.EstimateTokens(msgs)
	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     msgs[1:],
		Temperature:  o.temperature,
		MaxTokens:    o.maxTokens,
		JSON:         true,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "extract: oracle call failed", "prompt_tokens_est", estimate, "err", err)
		return "", fmt.Errorf("extract: oracle: %w", err)
	}
	o.logger.DebugContext(ctx, "extract: oracle call",
		"prompt_tokens_est", estimate,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Content, nil
}
