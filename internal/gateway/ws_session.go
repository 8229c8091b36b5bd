// ws_session.go implements the per-session WebSocket endpoint
// `/ws/{session_id}`: clients attach to one session, receive the session's
// broadcast stream (chat messages plus asynchronous scheduler/webhook
// results), and submit chat input. Undelivered pending results are replayed
// on connect.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus-assist/internal/heartbeat"
	"github.com/haasonsaas/nexus-assist/internal/storage"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// sessionSyncWindow caps how far back a sync_request reaches.
const sessionSyncWindow = 1000

// sessionWSInbound is one client frame on the session socket. Exactly one of
// Type ("heartbeat", "sync_request", "history_request") or Message is set.
type sessionWSInbound struct {
	Type          string `json:"type,omitempty"`
	Message       string `json:"message,omitempty"`
	LastMessageID string `json:"lastMessageId,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// handleSessionWS serves WS /ws/{session_id} (spec behavior: heartbeat echo,
// sync/history replies, user input dispatch, broadcast fan-in).
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		writeJSONError(w, http.StatusNotFound, "session id is required")
		return
	}

	if _, err := s.ensureRuntime(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "runtime unavailable")
		return
	}

	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil || session == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("session ws upgrade failed", "error", err)
		return
	}
	wc := &wsConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	broadcaster := s.sessionEvents.Get(sessionID)
	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	// Forward broadcast events to this connection. A write error tears the
	// connection down; the read loop notices via the closed socket.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					_ = conn.Close()
					return
				}
				if err := wc.writeJSON(wsEvent{Type: "event", Event: event.Event, Data: event.Data}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Server-initiated keepalive so idle sockets survive proxies and NAT.
	keepalive := heartbeat.NewRunner(&heartbeat.HeartbeatConfig{
		IntervalMs:     30000,
		VisibilityMode: "none",
	}, nil, func(event *heartbeat.HeartbeatEvent) {
		if event.Type != "tick" {
			return
		}
		if err := wc.writeJSON(map[string]any{"type": "heartbeat", "timestamp": event.Timestamp.UnixMilli(), "server": true}); err != nil {
			cancel()
		}
	})
	keepalive.Start(ctx, "", sessionID)
	defer keepalive.Stop()

	s.replayPendingResults(ctx, wc, sessionID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("session ws read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var frame sessionWSInbound
		if err := json.Unmarshal(raw, &frame); err != nil {
			wc.sendEvent("error", map[string]string{"message": "invalid JSON frame"})
			continue
		}

		switch {
		case frame.Type == "heartbeat":
			_ = wc.writeJSON(map[string]any{"type": "heartbeat", "timestamp": time.Now().UnixMilli()})

		case frame.Type == "sync_request":
			s.handleSessionSync(ctx, wc, sessionID, frame.Timestamp)

		case frame.Type == "history_request":
			s.handleSessionHistory(ctx, wc, sessionID, frame.Limit)

		case strings.TrimSpace(frame.Message) != "":
			s.dispatchSessionMessage(session.ID, session.Channel, session.ChannelID, frame.Message)

		default:
			wc.sendEvent("error", map[string]string{"message": "unrecognized frame"})
		}
	}
}

// replayPendingResults pushes undelivered scheduler/webhook results to a
// freshly connected subscriber, in creation order, and marks them delivered.
func (s *Server) replayPendingResults(ctx context.Context, wc *wsConn, sessionID string) {
	if s.stores.Pending == nil {
		return
	}
	pending, err := s.stores.Pending.ListUndelivered(ctx, sessionID, 0)
	if err != nil {
		s.logger.Warn("failed to list pending results", "session_id", sessionID, "error", err)
		return
	}
	for _, result := range pending {
		if err := wc.writeJSON(wsEvent{Type: "event", Event: "pending_result", Data: result}); err != nil {
			return
		}
		if err := s.stores.Pending.MarkDelivered(ctx, result.ID); err != nil {
			s.logger.Warn("failed to mark pending result delivered", "id", result.ID, "error", err)
		}
	}
}

// handleSessionSync answers sync_request with every persisted message newer
// than the client's last-seen timestamp (epoch milliseconds), ascending.
func (s *Server) handleSessionSync(ctx context.Context, wc *wsConn, sessionID string, sinceMillis int64) {
	history, err := s.sessions.GetHistory(ctx, sessionID, sessionSyncWindow)
	if err != nil {
		wc.sendEvent("error", map[string]string{"message": "sync failed"})
		return
	}
	since := time.UnixMilli(sinceMillis)
	out := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		if msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	_ = wc.writeJSON(map[string]any{"type": "sync_response", "messages": out})
}

// handleSessionHistory answers history_request with the last N messages.
func (s *Server) handleSessionHistory(ctx context.Context, wc *wsConn, sessionID string, limit int) {
	if limit <= 0 {
		limit = 50
	}
	history, err := s.sessions.GetHistory(ctx, sessionID, limit)
	if err != nil {
		wc.sendEvent("error", map[string]string{"message": "history failed"})
		return
	}
	if history == nil {
		history = []*models.Message{}
	}
	_ = wc.writeJSON(map[string]any{"type": "history_response", "messages": history})
}

// dispatchSessionMessage submits user input from a session socket into the
// message-processing pipeline on a background goroutine. The reply reaches
// the client through the api-channel adapter's broadcast.
func (s *Server) dispatchSessionMessage(sessionID string, channel models.ChannelType, channelID string, content string) {
	if channel == "" {
		channel = models.ChannelAPI
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Channel:   channel,
		ChannelID: channelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.sessionEvents.Publish(sessionID, "chat_message", msg)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), maxProcessingTime)
		defer cancel()
		s.handleMessage(ctx, msg)
	}()
}

// recordPendingResult persists an asynchronous trigger's outcome and
// publishes it to the session's subscribers. When nobody is listening the
// row stays undelivered for replay on the next connect.
func (s *Server) recordPendingResult(ctx context.Context, origin models.TriggerOrigin, sessionID, prompt, response, event string, payload map[string]any) {
	result := &models.PendingResult{
		ID:        uuid.NewString(),
		Origin:    origin,
		SessionID: sessionID,
		Prompt:    prompt,
		Response:  response,
		CreatedAt: time.Now(),
	}
	if s.stores.Pending != nil {
		if err := s.stores.Pending.Create(ctx, result); err != nil && !storageIsConflict(err) {
			s.logger.Warn("failed to persist pending result", "error", err)
		}
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["prompt"] = prompt
	payload["response"] = response
	delivered := s.sessionEvents.Publish(sessionID, event, payload)
	if delivered > 0 && s.stores.Pending != nil {
		if err := s.stores.Pending.MarkDelivered(ctx, result.ID); err != nil {
			s.logger.Warn("failed to mark pending result delivered", "id", result.ID, "error", err)
		}
	}
}

func storageIsConflict(err error) bool {
	return err == storage.ErrAlreadyExists
}
