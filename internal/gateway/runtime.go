// Package gateway provides the main Nexus gateway server.
//
// runtime.go contains runtime initialization, Model Resolution (spec.md
// §4.1), and Tool Registry composition (spec.md §4.2).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/agent/providers"
	"github.com/haasonsaas/nexus-assist/internal/agent/routing"
	"github.com/haasonsaas/nexus-assist/internal/agent/tape"
	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/internal/tools/memorysearch"
	"github.com/haasonsaas/nexus-assist/internal/tools/message"
	sessiontools "github.com/haasonsaas/nexus-assist/internal/tools/sessions"
	"github.com/haasonsaas/nexus-assist/internal/tools/vectormemory"
	"github.com/haasonsaas/nexus-assist/internal/tools/websearch"
)

// ensureRuntime initializes the agent runtime if not already created.
func (s *Server) ensureRuntime(ctx context.Context) (*agent.Runtime, error) {
	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()

	if s.runtime != nil {
		return s.runtime, nil
	}

	if s.sessions == nil {
		store, err := s.newSessionStore()
		if err != nil {
			return nil, fmt.Errorf("create session store: %w", err)
		}
		s.sessions = store
	}

	provider, defaultModel, err := s.newProvider()
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	if s.llmProvider == nil {
		s.llmProvider = provider
		s.defaultModel = defaultModel
	}

	runtime := agent.NewRuntime(provider, s.sessions)
	if defaultModel != "" {
		runtime.SetDefaultModel(defaultModel)
	}
	if err := s.registerTools(ctx, runtime); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	// Register event timeline plugin for observability
	if plugin := s.GetEventTimelinePlugin(); plugin != nil {
		runtime.Use(plugin)
	}
	// Register OpenTelemetry span plugin around turns and tool calls
	if plugin := s.GetTracingPlugin(); plugin != nil {
		runtime.Use(plugin)
	}


	runtime.SetOptions(agent.RuntimeOptions{
		MaxIterations:   s.config.Tools.Execution.MaxIterations,
		ToolParallelism: s.config.Tools.Execution.Parallelism,
		ToolTimeout:     s.config.Tools.Execution.Timeout,
		ToolMaxAttempts: s.config.Tools.Execution.MaxAttempts,
		MaxToolCalls:    s.config.Tools.Execution.MaxToolCalls,
		Logger:          s.logger,
	})
	if pruning := config.EffectiveContextPruningSettings(s.config.Session.ContextPruning); pruning != nil {
		runtime.SetContextPruning(pruning)
	}

	// Initialize broadcast manager if configured
	if s.broadcastManager == nil && len(s.config.Gateway.Broadcast.Groups) > 0 {
		s.broadcastManager = NewBroadcastManager(
			BroadcastConfig{
				Strategy: BroadcastStrategy(s.config.Gateway.Broadcast.Strategy),
				Groups:   s.config.Gateway.Broadcast.Groups,
			},
			s.sessions,
			runtime,
			s.logger,
		)
	}

	s.runtime = runtime
	return runtime, nil
}

// newSessionStore creates a new session store based on configuration.
func (s *Server) newSessionStore() (sessions.Store, error) {
	if s.config.Database.URL == "" {
		return sessions.NewMemoryStore(), nil
	}

	poolCfg := sessions.DefaultCockroachConfig()
	if s.config.Database.MaxConnections > 0 {
		poolCfg.MaxOpenConns = s.config.Database.MaxConnections
	}
	if s.config.Database.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = s.config.Database.ConnMaxLifetime
	}

	return sessions.NewCockroachStoreFromDSN(s.config.Database.URL, poolCfg)
}

// newProvider builds the hosted default provider (with optional rule-based
// routing and local-provider auto-discovery). Per-agent model resolution —
// classifying each AgentSpec's model_reference by prefix, once per agent
// construction and again after a config change — lives in
// orchestrator.ModelResolver; this provider serves as its hosted backend and
// as the single-agent fallback path.
func (s *Server) newProvider() (agent.LLMProvider, string, error) {
	providerID := strings.TrimSpace(s.config.LLM.DefaultProvider)
	if providerID == "" {
		providerID = "anthropic"
	}
	providerID = strings.ToLower(providerID)

	primary, model, err := s.buildProvider(providerID)
	if err != nil {
		return nil, "", err
	}

	providerMap := map[string]agent.LLMProvider{providerID: primary}
	selected := primary

	localProviders := []string{}
	if s.config.LLM.AutoDiscover.Ollama.Enabled {
		discovered, err := discoverOllama(s.config.LLM.AutoDiscover.Ollama.ProbeLocations, s.logger)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("ollama discovery failed", "error", err)
			}
		} else if discovered != nil {
			provider := providers.NewOllamaProvider(providers.OllamaConfig{
				BaseURL:      discovered.BaseURL,
				DefaultModel: discovered.DefaultModel,
			})
			providerMap["ollama"] = provider
			localProviders = append(localProviders, "ollama")
		}
	}
	// An explicit ollama block always makes the local client available as a
	// routing target, even without active mDNS/port-probe discovery.
	if _, ok := providerMap["ollama"]; !ok {
		if ollamaCfg, ok := s.config.LLM.Providers["ollama"]; ok {
			defaultModel := strings.TrimSpace(ollamaCfg.DefaultModel)
			if defaultModel == "" {
				defaultModel = "llama3"
			}
			providerMap["ollama"] = providers.NewOllamaProvider(providers.OllamaConfig{
				BaseURL:      ollamaCfg.BaseURL,
				DefaultModel: defaultModel,
			})
			localProviders = append(localProviders, "ollama")
		}
	}

	if s.config.LLM.Routing.Enabled {
		rules := make([]routing.Rule, 0, len(s.config.LLM.Routing.Rules))
		for _, rule := range s.config.LLM.Routing.Rules {
			rules = append(rules, routing.Rule{
				Name: rule.Name,
				Match: routing.Match{
					Patterns: rule.Match.Patterns,
					Tags:     rule.Match.Tags,
				},
				Target: routing.Target{
					Provider: rule.Target.Provider,
					Model:    rule.Target.Model,
				},
			})
		}
		preferLocal := s.config.LLM.Routing.PreferLocal || s.config.LLM.AutoDiscover.Ollama.PreferLocal
		router := routing.NewRouter(routing.Config{
			DefaultProvider: providerID,
			PreferLocal:     preferLocal,
			LocalProviders:  localProviders,
			Rules:           rules,
			Fallback: routing.Target{
				Provider: s.config.LLM.Routing.Fallback.Provider,
				Model:    s.config.LLM.Routing.Fallback.Model,
			},
			FailureCooldown: s.config.LLM.Routing.UnhealthyCooldown,
		}, providerMap)
		selected = router
	}

	// Record provider turns to a tape for offline replay when configured.
	if tapePath := strings.TrimSpace(s.config.LLM.TapePath); tapePath != "" {
		recorder := tape.NewRecorder(selected)
		s.tapeRecorder = recorder
		s.tapePath = tapePath
		selected = recorder
	}

	return selected, model, nil
}

// saveTape flushes the recorded provider tape to disk, called on shutdown.
func (s *Server) saveTape() {
	if s.tapeRecorder == nil || s.tapePath == "" {
		return
	}
	data, err := s.tapeRecorder.Tape().Marshal()
	if err != nil {
		s.logger.Warn("failed to marshal provider tape", "error", err)
		return
	}
	if err := os.WriteFile(s.tapePath, data, 0o600); err != nil {
		s.logger.Warn("failed to write provider tape", "path", s.tapePath, "error", err)
		return
	}
	s.logger.Info("provider tape written", "path", s.tapePath)
}

// buildProvider creates a single LLM provider by ID — the three hosted /
// local ModelClient implementations SPEC_FULL.md §11 wires: Anthropic,
// OpenAI, and the local Ollama HTTP client.
func (s *Server) buildProvider(providerID string) (agent.LLMProvider, string, error) {
	providerKey := strings.ToLower(strings.TrimSpace(providerID))
	providerCfg, ok := s.config.LLM.Providers[providerKey]
	if !ok {
		return nil, "", fmt.Errorf("provider config missing for %q", providerID)
	}

	switch providerKey {
	case "anthropic":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("anthropic api key is required")
		}
		provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
			BaseURL:      providerCfg.BaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, providerCfg.DefaultModel, nil
	case "openai":
		if providerCfg.APIKey == "" {
			return nil, "", errors.New("openai api key is required")
		}
		provider := providers.NewOpenAIProviderWithConfig(providers.OpenAIConfig{
			APIKey:  providerCfg.APIKey,
			BaseURL: providerCfg.BaseURL,
		})
		return provider, providerCfg.DefaultModel, nil
	case "ollama":
		defaultModel := strings.TrimSpace(providerCfg.DefaultModel)
		if defaultModel == "" {
			defaultModel = "llama3"
		}
		provider := providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: defaultModel,
		})
		return provider, defaultModel, nil
	default:
		return nil, "", fmt.Errorf("unsupported provider %q (spec wires anthropic, openai, ollama only)", providerKey)
	}
}

// registryTools composes the shared tool set: session/message tools every
// agent needs to act on its channel, vector-memory search/write, and the
// optional websearch/memorysearch tools. Both the single-agent runtime and
// the orchestrator's per-agent catalogs draw from this list.
func (s *Server) registryTools() []agent.Tool {
	var tools []agent.Tool

	if s.sessions != nil {
		tools = append(tools,
			sessiontools.NewListTool(s.sessions, s.config.Session.DefaultAgentID),
			sessiontools.NewHistoryTool(s.sessions))
	}
	if s.channels != nil {
		tools = append(tools, message.NewTool("send_message", s.channels, s.sessions, s.config.Session.DefaultAgentID))
	}

	if s.vectorMemory != nil {
		tools = append(tools,
			vectormemory.NewSearchTool(s.vectorMemory, &s.config.VectorMemory),
			vectormemory.NewWriteTool(s.vectorMemory, &s.config.VectorMemory))
	}

	if s.config.Tools.WebSearch.Enabled {
		searchConfig := &websearch.Config{SearXNGURL: s.config.Tools.WebSearch.URL}
		switch strings.ToLower(strings.TrimSpace(s.config.Tools.WebSearch.Provider)) {
		case string(websearch.BackendSearXNG):
			searchConfig.DefaultBackend = websearch.BackendSearXNG
		case string(websearch.BackendBraveSearch):
			searchConfig.DefaultBackend = websearch.BackendBraveSearch
		default:
			searchConfig.DefaultBackend = websearch.BackendDuckDuckGo
		}
		tools = append(tools, websearch.NewWebSearchTool(searchConfig))
	}

	if s.config.Tools.MemorySearch.Enabled {
		searchConfig := &memorysearch.Config{
			Directory:     s.config.Tools.MemorySearch.Directory,
			MemoryFile:    s.config.Tools.MemorySearch.MemoryFile,
			WorkspacePath: s.config.Workspace.Path,
			MaxResults:    s.config.Tools.MemorySearch.MaxResults,
			MaxSnippetLen: s.config.Tools.MemorySearch.MaxSnippetLen,
			Mode:          s.config.Tools.MemorySearch.Mode,
		}
		tools = append(tools, memorysearch.NewMemorySearchTool(searchConfig))
	}

	return tools
}

// registerTools registers the shared tool set on the single-agent runtime.
func (s *Server) registerTools(ctx context.Context, runtime *agent.Runtime) error {
	for _, tool := range s.registryTools() {
		runtime.RegisterTool(tool)
	}
	_ = ctx
	return nil
}
