package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus-assist/internal/channels"
	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/internal/tasks"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// MessageExecutor delivers a scheduled task's prompt directly to a channel
// adapter, bypassing the agent runtime entirely. It backs tasks configured
// with tasks.ExecutionTypeMessage, such as plain reminders that don't need
// an LLM turn to produce their content.
type MessageExecutor struct {
	channels *channels.Registry
	sessions sessions.Store
	scoping  sessions.ScopeConfig
	logf     func(format string, args ...any)
}

// MessageExecutorConfig configures a MessageExecutor.
type MessageExecutorConfig struct {
	Sessions sessions.Store
	Scoping  sessions.ScopeConfig
	Logger   func(format string, args ...any)
}

// NewMessageExecutor creates an executor that sends task prompts directly to
// a channel adapter instead of routing them through the agent runtime.
func NewMessageExecutor(registry *channels.Registry, cfg MessageExecutorConfig) *MessageExecutor {
	logf := cfg.Logger
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &MessageExecutor{
		channels: registry,
		sessions: cfg.Sessions,
		scoping:  cfg.Scoping,
		logf:     logf,
	}
}

// Execute sends the task's prompt to its configured channel. The prompt
// itself is returned as the execution's response, since no agent turn runs.
func (e *MessageExecutor) Execute(ctx context.Context, task *tasks.ScheduledTask, exec *tasks.TaskExecution) (string, error) {
	if task == nil {
		return "", fmt.Errorf("task is required")
	}
	if exec == nil {
		return "", fmt.Errorf("execution is required")
	}
	if e.channels == nil {
		return "", fmt.Errorf("message executor has no channel registry")
	}

	channel := models.ChannelType(task.Config.Channel)
	if channel == "" {
		return "", fmt.Errorf("task %q has no channel configured for message execution", task.ID)
	}
	channelID := task.Config.ChannelID
	if channelID == "" {
		return "", fmt.Errorf("task %q has no channel_id configured for message execution", task.ID)
	}

	outbound, ok := e.channels.GetOutbound(channel)
	if !ok {
		return "", fmt.Errorf("no outbound adapter registered for channel %q", channel)
	}

	sessionID, err := e.resolveSessionID(ctx, task, channel, channelID)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	exec.SessionID = sessionID

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Channel:   channel,
		ChannelID: channelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   task.Prompt,
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"scheduled_task_id":   task.ID,
			"scheduled_task_name": task.Name,
			"execution_id":        exec.ID,
		},
	}

	if err := outbound.Send(ctx, msg); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	e.logf("delivered scheduled message for task %q to %s:%s", task.ID, channel, channelID)

	if e.sessions != nil && sessionID != "" {
		if err := e.sessions.AppendMessage(ctx, sessionID, msg); err != nil {
			e.logf("failed to append message to session history for task %q: %v", task.ID, err)
		}
	}

	return task.Prompt, nil
}

// resolveSessionID finds or creates the session a delivered message should be
// recorded against, honoring a fixed session override and the configured DM
// scoping rules.
func (e *MessageExecutor) resolveSessionID(ctx context.Context, task *tasks.ScheduledTask, channel models.ChannelType, channelID string) (string, error) {
	if task.Config.SessionID != "" {
		return task.Config.SessionID, nil
	}
	if e.sessions == nil {
		return "", nil
	}

	key := sessions.BuildSessionKey(task.AgentID, channel, channelID, false, e.scoping.DMScope, e.scoping.IdentityLinks)
	session, err := e.sessions.GetOrCreate(ctx, key, task.AgentID, channel, channelID)
	if err != nil {
		return "", err
	}
	return session.ID, nil
}
