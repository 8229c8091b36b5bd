// task_results.go connects scheduled-task completions to the session fabric:
// every finished run is recorded as a durable pending result (for replay to
// reconnecting clients), appended to the session's chat history as a system
// message, and pushed live to current WebSocket subscribers.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-assist/internal/tasks"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// resultRecordingExecutor decorates a task executor with pending-result
// persistence and session broadcast.
type resultRecordingExecutor struct {
	inner  tasks.Executor
	server *Server
}

func (s *Server) wrapExecutorWithResults(inner tasks.Executor) tasks.Executor {
	return &resultRecordingExecutor{inner: inner, server: s}
}

func (e *resultRecordingExecutor) Execute(ctx context.Context, task *tasks.ScheduledTask, exec *tasks.TaskExecution) (string, error) {
	response, err := e.inner.Execute(ctx, task, exec)
	if err != nil {
		return response, err
	}

	sessionID := ""
	if exec != nil {
		sessionID = exec.SessionID
	}
	taskName := ""
	prompt := ""
	if task != nil {
		taskName = task.Name
		prompt = task.Prompt
	}
	if sessionID == "" {
		return response, nil
	}

	// Record outside the execution context so a cancelled run still leaves a
	// durable trail.
	recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.server.recordPendingResult(recordCtx, models.OriginScheduler, sessionID, prompt, response, "scheduled_task_result", map[string]any{
		"task_name": taskName,
	})
	e.server.appendSystemNotice(recordCtx, sessionID, formatTaskNotice(taskName, response))

	return response, nil
}

// appendSystemNotice persists a system-authored chat message so asynchronous
// results show up in-line in session history.
func (s *Server) appendSystemNotice(ctx context.Context, sessionID, content string) {
	if s.sessions == nil || strings.TrimSpace(content) == "" {
		return
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Channel:   models.ChannelAPI,
		Direction: models.DirectionOutbound,
		Role:      models.RoleSystem,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.AppendMessage(ctx, sessionID, msg); err != nil {
		s.logger.Warn("failed to persist system notice", "session_id", sessionID, "error", err)
	}
}

func formatTaskNotice(taskName, response string) string {
	if taskName == "" {
		return response
	}
	return "[" + taskName + "] " + response
}
