// commands.go implements leading-slash chat commands that are intercepted
// before a message reaches the agent runtime: session status, per-session
// model override, and aborting an in-flight run.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-assist/pkg/models"
)

const commandHelpText = `Available commands:
/help - show this help
/status - show session status
/model <name> - override the model for this session
/model clear - remove the model override
/abort - cancel the in-flight run for this session`

// commandsEnabled reports whether text command handling is on (default true).
func (s *Server) commandsEnabled() bool {
	if s.config == nil || s.config.Commands.Enabled == nil {
		return true
	}
	return *s.config.Commands.Enabled
}

// commandAllowlistAllows checks a channel/sender allowlist. An empty map
// allows everyone; "*" allows every sender on that channel.
func commandAllowlistAllows(allow map[string][]string, msg *models.Message) bool {
	if len(allow) == 0 {
		return true
	}
	senders, ok := allow[strings.ToLower(string(msg.Channel))]
	if !ok {
		return false
	}
	sender := extractSenderID(msg)
	for _, entry := range senders {
		if entry == "*" || strings.EqualFold(strings.TrimSpace(entry), sender) {
			return true
		}
	}
	return false
}

// maybeHandleCommand intercepts a message that is entirely a slash command.
// Returns true when the message was consumed.
func (s *Server) maybeHandleCommand(ctx context.Context, session *models.Session, msg *models.Message) bool {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return false
	}
	// Elevated directives are handled by the elevated flow in handleMessage.
	if _, ok := parseElevatedDirective(content); ok {
		return false
	}
	if !s.commandsEnabled() || !commandAllowlistAllows(s.config.Commands.AllowFrom, msg) {
		return false
	}

	fields := strings.Fields(strings.TrimPrefix(content, "/"))
	if len(fields) == 0 {
		return false
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	reply, handled := s.runCommand(ctx, session, name, args)
	if !handled {
		return false
	}
	if reply != "" {
		s.sendImmediateReply(ctx, session, msg, reply)
	}
	return true
}

// maybeHandleInlineCommands applies configured inline command shortcuts at
// the start of a message, stripping the handled tokens and letting the rest
// of the text continue to the runtime. Returns true when a shortcut fired.
func (s *Server) maybeHandleInlineCommands(ctx context.Context, session *models.Session, msg *models.Message) bool {
	if !s.commandsEnabled() || len(s.config.Commands.InlineCommands) == 0 {
		return false
	}
	if !commandAllowlistAllows(s.config.Commands.InlineAllowFrom, msg) {
		return false
	}

	fields := strings.Fields(strings.TrimSpace(msg.Content))
	if len(fields) == 0 {
		return false
	}
	name := strings.ToLower(fields[0])
	allowed := false
	for _, candidate := range s.config.Commands.InlineCommands {
		if strings.EqualFold(candidate, name) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	consumed := 1
	var args []string
	if name == "model" && len(fields) > 1 {
		args = fields[1:2]
		consumed = 2
	}
	reply, handled := s.runCommand(ctx, session, name, args)
	if !handled {
		return false
	}
	msg.Content = strings.TrimSpace(strings.Join(fields[consumed:], " "))
	if reply != "" && msg.Content == "" {
		s.sendImmediateReply(ctx, session, msg, reply)
	}
	return true
}

// runCommand executes one named command. The second return value reports
// whether the name is a known command.
func (s *Server) runCommand(ctx context.Context, session *models.Session, name string, args []string) (string, bool) {
	switch name {
	case "help":
		return commandHelpText, true

	case "status":
		model := sessionModelOverride(session)
		if model == "" {
			model = s.defaultModel
		}
		return fmt.Sprintf("session: %s\nagent: %s\nmodel: %s\nelevated: %s",
			session.ID, session.AgentID, model, elevatedModeFromSession(session)), true

	case "model":
		if len(args) == 0 {
			current := sessionModelOverride(session)
			if current == "" {
				return "no model override set", true
			}
			return "model override: " + current, true
		}
		if strings.EqualFold(args[0], "clear") {
			setSessionModelOverride(session, "")
		} else {
			setSessionModelOverride(session, args[0])
		}
		if err := s.sessions.Update(ctx, session); err != nil {
			s.logger.Error("failed to persist model override", "error", err)
			return "failed to update model override", true
		}
		if override := sessionModelOverride(session); override != "" {
			return "model override set: " + override, true
		}
		return "model override cleared", true

	case "abort":
		if s.abortActiveRun(session.ID) {
			return "aborted the in-flight run", true
		}
		return "no run in flight", true

	default:
		return "", false
	}
}

// sessionModelOverride returns the per-session model override, if any.
func sessionModelOverride(session *models.Session) string {
	if session == nil || session.Metadata == nil {
		return ""
	}
	if value, ok := session.Metadata["model"].(string); ok {
		return strings.TrimSpace(value)
	}
	if value, ok := session.Metadata["model_override"].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func setSessionModelOverride(session *models.Session, model string) {
	if session == nil {
		return
	}
	if session.Metadata == nil {
		session.Metadata = map[string]any{}
	}
	model = strings.TrimSpace(model)
	if model == "" {
		delete(session.Metadata, "model")
		delete(session.Metadata, "model_override")
		return
	}
	session.Metadata["model"] = model
}
