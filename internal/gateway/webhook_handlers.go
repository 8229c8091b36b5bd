package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

func (s *Server) initWebhookHooks() error {
	if s == nil || s.config == nil {
		return nil
	}
	hooks, err := NewWebhookHooks(&s.config.Gateway.WebhookHooks)
	if err != nil {
		return err
	}
	if hooks == nil {
		return nil
	}
	hooks.RegisterHandler(webhookHandlerAgent, WebhookHandlerFunc(s.handleWebhookAgent))
	hooks.RegisterHandler(webhookHandlerWake, WebhookHandlerFunc(s.handleWebhookWake))
	hooks.RegisterHandler(webhookHandlerCustom, WebhookHandlerFunc(s.handleWebhookCustom))
	s.webhookHooks = hooks
	s.wireWebhookDefinitions()
	return nil
}

// RegisterWebhookHandler registers a custom webhook handler by name.
func (s *Server) RegisterWebhookHandler(name string, handler WebhookHandler) {
	if s == nil || handler == nil {
		return
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	s.webhookMu.Lock()
	if s.webhookHandlers == nil {
		s.webhookHandlers = make(map[string]WebhookHandler)
	}
	s.webhookHandlers[name] = handler
	s.webhookMu.Unlock()
}

// handleWebhookAgent builds the inbound message from the payload and
// dispatches it to the agent runtime asynchronously, returning 202
// Accepted immediately (spec.md §4.5) rather than waiting for the turn
// to finish. The eventual result is published as a webhook_result event
// on the target session's broadcaster once the turn completes.
func (s *Server) handleWebhookAgent(ctx context.Context, payload *WebhookPayload, mapping *config.WebhookHookMapping) (*WebhookResponse, error) {
	msg, agentID, channelType, channelID, err := s.webhookMessageFromPayload(payload, mapping, "")
	if err != nil {
		return &WebhookResponse{OK: false, Error: err.Error()}, nil
	}
	s.dispatchWebhookMessage(mapping, msg)

	return &WebhookResponse{
		OK:        true,
		Status:    "accepted",
		RequestID: msg.ID,
		Message:   "message queued",
		Data: map[string]any{
			"agent_id":    agentID,
			"channel":     string(channelType),
			"channel_id":  channelID,
			"session_key": webhookSessionKey(payload, channelID),
		},
	}, nil
}

func (s *Server) handleWebhookWake(ctx context.Context, payload *WebhookPayload, mapping *config.WebhookHookMapping) (*WebhookResponse, error) {
	wakeMode := strings.ToLower(strings.TrimSpace(payload.WakeMode))
	if wakeMode == "" {
		wakeMode = "now"
	}
	msg, agentID, channelType, channelID, err := s.webhookMessageFromPayload(payload, mapping, wakeMode)
	if err != nil {
		return &WebhookResponse{OK: false, Error: err.Error()}, nil
	}
	s.dispatchWebhookMessage(mapping, msg)

	return &WebhookResponse{
		OK:        true,
		Status:    "accepted",
		RequestID: msg.ID,
		Message:   "wake queued",
		Data: map[string]any{
			"agent_id":    agentID,
			"channel":     string(channelType),
			"channel_id":  channelID,
			"session_key": webhookSessionKey(payload, channelID),
			"mode":        wakeMode,
		},
	}, nil
}

func (s *Server) handleWebhookCustom(ctx context.Context, payload *WebhookPayload, mapping *config.WebhookHookMapping) (*WebhookResponse, error) {
	if mapping == nil {
		return &WebhookResponse{OK: false, Error: "mapping required"}, nil
	}
	key := webhookHandlerKey(mapping)
	if key == "" {
		return &WebhookResponse{OK: false, Error: "custom handler name required"}, nil
	}
	s.webhookMu.RLock()
	handler := s.webhookHandlers[key]
	s.webhookMu.RUnlock()
	if handler == nil {
		return &WebhookResponse{OK: false, Error: fmt.Sprintf("custom handler not registered: %s", key)}, nil
	}
	return handler.Handle(ctx, payload, mapping)
}

// dispatchWebhookMessage hands msg to the message pipeline on its own
// goroutine so the HTTP handler can return 202 immediately. Completion
// (success or failure) is observed by the normal handleMessage path,
// which persists the assistant reply and broadcasts it to the target
// session the same way any other inbound message would.
func (s *Server) dispatchWebhookMessage(mapping *config.WebhookHookMapping, msg *models.Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		prompt := msg.Content
		s.handleMessage(ctx, msg)

		// handleMessage resolves the session and the runtime persists the
		// assistant reply; record the durable pending result and notify the
		// session's live subscribers.
		if msg.SessionID == "" {
			return
		}
		response := s.latestAssistantReply(ctx, msg.SessionID)
		webhookName := ""
		if mapping != nil {
			webhookName = mapping.Name
		}
		recordCtx, recordCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer recordCancel()
		s.recordPendingResult(recordCtx, models.OriginWebhook, msg.SessionID, prompt, response, "webhook_result", map[string]any{
			"webhook_name": webhookName,
		})
	}()
}

// latestAssistantReply returns the content of the session's most recent
// assistant message, or empty when none exists.
func (s *Server) latestAssistantReply(ctx context.Context, sessionID string) string {
	if s.sessions == nil {
		return ""
	}
	history, err := s.sessions.GetHistory(ctx, sessionID, 10)
	if err != nil {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

func (s *Server) webhookMessageFromPayload(payload *WebhookPayload, mapping *config.WebhookHookMapping, wakeMode string) (*models.Message, string, models.ChannelType, string, error) {
	if payload == nil {
		return nil, "", "", "", errors.New("payload required")
	}

	content := strings.TrimSpace(payload.Message)
	if mapping != nil && mapping.PromptTemplate != "" {
		content = strings.TrimSpace(renderPromptTemplate(mapping.PromptTemplate, payload))
	}
	if content == "" {
		return nil, "", "", "", errors.New("message required")
	}

	agentID := webhookAgentID(s, mapping)
	channelType, channelID, err := resolveWebhookChannel(payload, mapping)
	if err != nil {
		return nil, "", "", "", err
	}
	metadata := make(map[string]any)
	for k, v := range payload.Metadata {
		metadata[k] = v
	}
	metadata["agent_id"] = agentID
	if mapping != nil {
		if mapping.Name != "" {
			metadata["webhook_name"] = mapping.Name
		}
		if mapping.Path != "" {
			metadata["webhook_path"] = mapping.Path
		}
		if mapping.Handler != "" {
			metadata["webhook_handler"] = mapping.Handler
		}
		if mapping.SessionID != "" {
			metadata["session_id"] = mapping.SessionID
		}
	}
	if payload.Model != "" {
		metadata["model"] = payload.Model
	}
	if payload.Thinking != "" {
		metadata["thinking"] = payload.Thinking
	}
	if wakeMode == "next-heartbeat" {
		metadata["heartbeat"] = true
	}
	applyWebhookChannelMetadata(metadata, channelType, channelID)

	msg := &models.Message{
		ID:        uuid.NewString(),
		Channel:   channelType,
		ChannelID: channelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if mapping != nil && mapping.SessionID != "" {
		msg.SessionID = mapping.SessionID
	}
	return msg, agentID, channelType, channelID, nil
}

func webhookAgentID(s *Server, mapping *config.WebhookHookMapping) string {
	if mapping != nil {
		if agentID := strings.TrimSpace(mapping.AgentID); agentID != "" {
			return agentID
		}
	}
	if s != nil && s.config != nil {
		if agentID := strings.TrimSpace(s.config.Session.DefaultAgentID); agentID != "" {
			return agentID
		}
	}
	return defaultAgentID
}

func resolveWebhookChannel(payload *WebhookPayload, mapping *config.WebhookHookMapping) (models.ChannelType, string, error) {
	channelRaw := strings.TrimSpace(payload.Channel)
	if strings.EqualFold(channelRaw, "last") {
		channelRaw = ""
	}
	to := strings.TrimSpace(payload.To)
	channelID := ""
	if mapping != nil {
		channelID = strings.TrimSpace(mapping.ChannelID)
	}
	sessionKey := strings.TrimSpace(payload.SessionKey)

	if channelRaw != "" {
		if channelType, ok := parseWebhookChannelType(channelRaw); ok {
			resolvedID := to
			if resolvedID == "" {
				resolvedID = channelID
			}
			if resolvedID == "" {
				resolvedID = sessionKey
			}
			if resolvedID == "" && channelType != models.ChannelAPI {
				return channelType, "", fmt.Errorf("channel_id required for channel %s", channelType)
			}
			if resolvedID == "" {
				resolvedID = webhookFallbackChannelID(mapping)
			}
			return channelType, resolvedID, nil
		}
		if to == "" {
			to = channelRaw
		}
	}

	resolvedID := to
	if resolvedID == "" {
		resolvedID = channelID
	}
	if resolvedID == "" {
		resolvedID = sessionKey
	}
	if resolvedID == "" {
		resolvedID = webhookFallbackChannelID(mapping)
	}
	return models.ChannelAPI, resolvedID, nil
}

// parseWebhookChannelType recognizes the channels nexus actually routes
// messages through, plus the generic "api" channel used for webhooks
// with no chat-platform binding.
func parseWebhookChannelType(raw string) (models.ChannelType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "telegram":
		return models.ChannelTelegram, true
	case "discord":
		return models.ChannelDiscord, true
	case "slack":
		return models.ChannelSlack, true
	case "api":
		return models.ChannelAPI, true
	default:
		return "", false
	}
}

func webhookFallbackChannelID(mapping *config.WebhookHookMapping) string {
	if mapping == nil {
		return "webhook"
	}
	path := strings.Trim(strings.TrimSpace(mapping.Path), "/")
	if path == "" {
		return "webhook"
	}
	return "webhook:" + path
}

func applyWebhookChannelMetadata(metadata map[string]any, channelType models.ChannelType, channelID string) {
	if metadata == nil || channelID == "" {
		return
	}
	switch channelType {
	case models.ChannelTelegram:
		metadata[MetaChatID] = channelID
	case models.ChannelSlack:
		metadata["slack_channel"] = channelID
	case models.ChannelDiscord:
		metadata["discord_channel_id"] = channelID
	}
}

func webhookHandlerKey(mapping *config.WebhookHookMapping) string {
	if mapping == nil {
		return ""
	}
	if name := strings.TrimSpace(mapping.Name); name != "" {
		return strings.ToLower(name)
	}
	path := strings.Trim(strings.TrimSpace(mapping.Path), "/")
	return strings.ToLower(path)
}

func webhookSessionKey(payload *WebhookPayload, channelID string) string {
	if payload == nil {
		return channelID
	}
	key := strings.TrimSpace(payload.SessionKey)
	if key != "" {
		return key
	}
	return channelID
}
