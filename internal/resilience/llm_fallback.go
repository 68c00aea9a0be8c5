package resilience

import (
	"context"

	"github.com/MrWong99/worldtracker/pkg/provider/llm"
)

// OracleFallback is an [llm.Provider] that fails over between several
// oracle backends.
type OracleFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*OracleFallback)(nil)

// NewOracleFallback creates an OracleFallback preferring primary.
func NewOracleFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *OracleFallback {
	return &OracleFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after the earlier ones.
func (f *OracleFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Names returns the backend names in try order.
func (f *OracleFallback) Names() []string { return f.group.Names() }

// Complete sends req to the first backend that answers.
func (f *OracleFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
