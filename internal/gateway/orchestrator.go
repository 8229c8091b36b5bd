// orchestrator.go wires the agent orchestration graph into the gateway:
// when agents are configured, every trigger (chat, cron, webhook) runs
// through the orchestrator instead of the single default runtime, with
// events fanned out to the session's subscribers.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/orchestrator"
	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/internal/tasks"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// ensureOrchestrator lazily builds the orchestrator from the configured
// agent specs. Returns nil when orchestration is not configured. Rebuilt
// after a config change touching the agent or llm sections
// (notifyConfigSectionChanged clears it).
func (s *Server) ensureOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	if !s.config.Agents.Enabled() {
		return nil, nil
	}

	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()
	if s.agentOrchestrator != nil {
		return s.agentOrchestrator, nil
	}

	if s.sessions == nil {
		store, err := s.newSessionStore()
		if err != nil {
			return nil, fmt.Errorf("create session store: %w", err)
		}
		s.sessions = store
	}

	hosted, hostedModel, err := s.newProvider()
	if err != nil {
		return nil, fmt.Errorf("create hosted provider: %w", err)
	}

	resolver := &orchestrator.ModelResolver{
		Hosted:             hosted,
		HostedDefaultModel: hostedModel,
	}
	if ollamaCfg, ok := s.config.LLM.Providers["ollama"]; ok {
		resolver.OllamaBaseURL = ollamaCfg.BaseURL
	}

	orch := orchestrator.New(resolver, s.sessions, orchestrator.Options{
		RootName:  s.config.Agents.RootName(),
		MaxTurns:  s.config.Agents.MaxTurns,
		WallClock: s.config.Agents.WallClock,
		RuntimeOptions: agent.RuntimeOptions{
			MaxIterations:   s.config.Tools.Execution.MaxIterations,
			ToolParallelism: s.config.Tools.Execution.Parallelism,
			ToolTimeout:     s.config.Tools.Execution.Timeout,
			ToolMaxAttempts: s.config.Tools.Execution.MaxAttempts,
			MaxToolCalls:    s.config.Tools.Execution.MaxToolCalls,
			Logger:          s.logger,
		},
	})

	// Catalog: the two core memory tools every agent may reference, plus
	// the same registry tools the single-agent path exposes.
	orch.RegisterCatalogTool(orchestrator.NewMemorySearchTool(orch, s.vectorMemory))
	orch.RegisterCatalogTool(orchestrator.NewMemoryStoreTool(orch, s.vectorMemory))
	for _, tool := range s.registryTools() {
		orch.RegisterCatalogTool(tool)
	}

	for i := range s.config.Agents.Specs {
		spec := s.config.Agents.Specs[i]
		if err := orch.RegisterAgent(&spec); err != nil {
			return nil, fmt.Errorf("register agent: %w", err)
		}
	}
	if _, ok := orch.Spec(orch.RootName()); !ok {
		return nil, fmt.Errorf("agents config names no %q agent", orch.RootName())
	}

	if plugin := s.GetEventTimelinePlugin(); plugin != nil {
		orch.Use(plugin)
	}
	if plugin := s.GetTracingPlugin(); plugin != nil {
		orch.Use(plugin)
	}

	s.agentOrchestrator = orch
	return orch, nil
}

// scheduledTriggerExecutor runs scheduled tasks through the agent graph:
// the cron fire becomes a trigger envelope targeting the root orchestrator,
// on the task's session or the shared scheduler session.
type scheduledTriggerExecutor struct {
	server *Server
}

func (e *scheduledTriggerExecutor) Execute(ctx context.Context, task *tasks.ScheduledTask, exec *tasks.TaskExecution) (string, error) {
	if task == nil || exec == nil {
		return "", fmt.Errorf("task and execution are required")
	}
	orch, err := e.server.ensureOrchestrator(ctx)
	if err != nil {
		return "", err
	}
	if orch == nil {
		return "", fmt.Errorf("agent orchestration not configured")
	}

	channelID := "scheduler-default"
	if v, ok := task.Metadata["session_id"].(string); ok && strings.TrimSpace(v) != "" {
		channelID = v
	}
	agentID := orch.RootName()
	key := sessions.SessionKey(agentID, models.ChannelAPI, channelID)
	session, err := e.server.sessions.GetOrCreate(ctx, key, agentID, models.ChannelAPI, channelID)
	if err != nil {
		return "", fmt.Errorf("get or create session: %w", err)
	}
	exec.SessionID = session.ID

	outcome := orch.RunTrigger(ctx, models.TriggerEnvelope{
		SessionID:     session.ID,
		InitialPrompt: exec.Prompt,
		InitialAgent:  agentID,
		Origin:        models.OriginScheduler,
	}, session, func(ev models.TriggerEvent) {
		if e.server.sessionEvents != nil {
			e.server.sessionEvents.Publish(session.ID, string(ev.Type), ev)
		}
	})

	if outcome.State == models.TriggerAborted {
		return "", fmt.Errorf("trigger aborted: %s", outcome.AbortReason)
	}
	return outcome.Response, nil
}

// processWithOrchestrator runs one inbound message as a trigger through the
// agent graph: events stream to the session's subscribers, the final reply
// goes out on the originating channel, and an aborted trigger leaves one
// system chat message explaining why — it never silently drops.
func (s *Server) processWithOrchestrator(ctx context.Context, orch *orchestrator.Orchestrator, session *models.Session, msg *models.Message) {
	env := models.TriggerEnvelope{
		SessionID:     session.ID,
		InitialPrompt: msg.Content,
		InitialAgent:  orch.RootName(),
		Origin:        models.OriginChat,
	}

	outcome := orch.RunTrigger(ctx, env, session, func(e models.TriggerEvent) {
		if s.sessionEvents != nil {
			s.sessionEvents.Publish(session.ID, string(e.Type), e)
		}
	})

	if outcome.State == models.TriggerAborted {
		notice := "Request aborted: " + outcome.AbortReason
		s.appendSystemNotice(ctx, session.ID, notice)
		s.sendImmediateReply(ctx, session, msg, notice)
		return
	}

	if strings.TrimSpace(outcome.Response) == "" {
		return
	}

	adapter, ok := s.channels.GetOutbound(msg.Channel)
	if !ok {
		s.logger.Error("no adapter registered for channel", "channel", msg.Channel)
		return
	}
	outbound := &models.Message{
		SessionID: session.ID,
		Channel:   msg.Channel,
		ChannelID: msg.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		AgentName: outcome.FinalAgent,
		Content:   outcome.Response,
		Metadata:  s.buildReplyMetadata(msg),
		CreatedAt: time.Now(),
	}
	if err := s.sendChunked(ctx, adapter, outbound); err != nil {
		s.logger.Error("failed to send orchestrated reply", "error", err)
	}
}
