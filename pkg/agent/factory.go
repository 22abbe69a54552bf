package agent

import (
	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/models"
)

// Factory builds workers per role. Injected so the coordinator and tests can
// substitute fake workers without a live provider.
type Factory interface {
	Worker(role models.Role) Worker
}

// ProviderFactory builds LLM-backed workers sharing one provider and model.
type ProviderFactory struct {
	provider llm.CompletionProvider
	model    string
}

// NewFactory creates a ProviderFactory.
func NewFactory(provider llm.CompletionProvider, model string) *ProviderFactory {
	return &ProviderFactory{provider: provider, model: model}
}

// Worker implements Factory.
func (f *ProviderFactory) Worker(role models.Role) Worker {
	return &worker{role: role, provider: f.provider, model: f.model}
}
