// Package orchestrator runs a trigger through a graph of specialized agents:
// a root orchestrator plus specialists, each bound to its own instruction,
// model, tool subset, and memory scope, with LLM-driven control transfer
// between them.
package orchestrator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/agent/providers"
)

// localModelPrefixes classify a model reference as local-LLM routed.
var localModelPrefixes = []string{"ollama_chat/", "ollama/"}

// ModelResolver turns an AgentSpec's model reference into a provider and a
// concrete model name. References prefixed "ollama_chat/" or "ollama/" route
// to a local client wrapping the configured base URL; any other value is a
// hosted-provider model name. Resolution happens once per agent construction
// and again after a config change rebuilds the agent set.
type ModelResolver struct {
	// Hosted serves every non-local model reference.
	Hosted agent.LLMProvider

	// HostedDefaultModel is used when a spec leaves the reference empty.
	HostedDefaultModel string

	// OllamaBaseURL configures local clients; defaults to the standard
	// local endpoint when empty.
	OllamaBaseURL string

	mu    sync.Mutex
	local map[string]agent.LLMProvider // model → client
}

// Resolve classifies the reference and returns the provider plus the model
// name to request from it.
func (r *ModelResolver) Resolve(modelReference string) (agent.LLMProvider, string, error) {
	ref := strings.TrimSpace(modelReference)

	for _, prefix := range localModelPrefixes {
		if strings.HasPrefix(ref, prefix) {
			model := strings.TrimPrefix(ref, prefix)
			if model == "" {
				return nil, "", fmt.Errorf("model reference %q names no model", modelReference)
			}
			return r.localProvider(model), model, nil
		}
	}

	if r.Hosted == nil {
		return nil, "", fmt.Errorf("no hosted provider configured for model reference %q", modelReference)
	}
	if ref == "" {
		ref = r.HostedDefaultModel
	}
	if ref == "" {
		return nil, "", fmt.Errorf("empty model reference and no hosted default model")
	}
	return r.Hosted, ref, nil
}

// localProvider returns a cached local client for the model.
func (r *ModelResolver) localProvider(model string) agent.LLMProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local == nil {
		r.local = make(map[string]agent.LLMProvider)
	}
	if provider, ok := r.local[model]; ok {
		return provider
	}
	provider := providers.NewOllamaProvider(providers.OllamaConfig{
		BaseURL:      r.OllamaBaseURL,
		DefaultModel: model,
	})
	r.local[model] = provider
	return provider
}

// IsLocalReference reports whether the reference routes to the local client.
func IsLocalReference(modelReference string) bool {
	ref := strings.TrimSpace(modelReference)
	for _, prefix := range localModelPrefixes {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}
