// Package gateway provides the main Nexus gateway server.
//
// websocket.go implements the interactive WS surface of spec.md §4.6/§4.7: a
// single `/ws` endpoint speaking a small request/response + event protocol
// (see ws_schema.go for the wire schemas) rather than a generic channels.Adapter,
// since it needs session listing/history/abort in addition to chat turns.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

const wsProtocolVersion = 1

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is an inbound request frame: {"type":"req","id":"...","method":"...","params":{...}}
type wsFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// wsResponse is a reply to a request frame, correlated by ID.
type wsResponse struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *wsRPCErr `json:"error,omitempty"`
}

type wsRPCErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsEvent is a server-initiated push: assistant deltas, completion, errors.
type wsEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// wsConn wraps a websocket connection with a write mutex, since gorilla
// requires a single writer goroutine per connection.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) sendResult(id string, result any) {
	if err := c.writeJSON(wsResponse{Type: "res", ID: id, Result: result}); err != nil {
		return
	}
}

func (c *wsConn) sendError(id, code, message string) {
	_ = c.writeJSON(wsResponse{Type: "res", ID: id, Error: &wsRPCErr{Code: code, Message: message}})
}

func (c *wsConn) sendEvent(event string, data any) {
	_ = c.writeJSON(wsEvent{Type: "event", Event: event, Data: data})
}

// handleWS upgrades the request and services frames until the connection
// closes or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", "error", err)
		return
	}
	wc := &wsConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws read error", "error", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			wc.sendError("", "bad_request", "invalid JSON frame")
			continue
		}
		if err := validateWSRequestFrame(raw, &frame); err != nil {
			wc.sendError(frame.ID, "bad_request", err.Error())
			continue
		}

		s.dispatchWSFrame(ctx, wc, &frame)
	}
}

func (s *Server) dispatchWSFrame(ctx context.Context, wc *wsConn, frame *wsFrame) {
	switch frame.Method {
	case "connect":
		s.wsHandleConnect(wc, frame)
	case "health":
		wc.sendResult(frame.ID, map[string]string{"status": "ok"})
	case "ping":
		wc.sendResult(frame.ID, map[string]string{"type": "pong"})
	case "chat.send":
		s.wsHandleChatSend(ctx, wc, frame)
	case "chat.history":
		s.wsHandleChatHistory(ctx, wc, frame)
	case "chat.abort":
		s.wsHandleChatAbort(wc, frame)
	case "sessions.list":
		s.wsHandleSessionsList(ctx, wc, frame)
	case "sessions.patch":
		s.wsHandleSessionsPatch(ctx, wc, frame)
	default:
		wc.sendError(frame.ID, "unknown_method", fmt.Sprintf("unknown method %q", frame.Method))
	}
}

func (s *Server) wsHandleConnect(wc *wsConn, frame *wsFrame) {
	var params struct {
		MinProtocol int `json:"minProtocol"`
		MaxProtocol int `json:"maxProtocol"`
	}
	_ = json.Unmarshal(frame.Params, &params)

	if params.MinProtocol > wsProtocolVersion || params.MaxProtocol < wsProtocolVersion {
		wc.sendError(frame.ID, "protocol_mismatch", fmt.Sprintf("server speaks protocol %d", wsProtocolVersion))
		return
	}

	wc.sendResult(frame.ID, map[string]any{
		"protocol": wsProtocolVersion,
		"server": map[string]string{
			"name": "nexus-gateway",
		},
	})
}

type wsChatSendParams struct {
	SessionID      string            `json:"sessionId"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

func (s *Server) wsHandleChatSend(ctx context.Context, wc *wsConn, frame *wsFrame) {
	var params wsChatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		wc.sendError(frame.ID, "bad_request", "invalid chat.send params")
		return
	}

	runtime, err := s.ensureRuntime(ctx)
	if err != nil {
		wc.sendError(frame.ID, "internal_error", "runtime unavailable")
		return
	}

	agentID := defaultAgentID
	if s.config != nil && s.config.Session.DefaultAgentID != "" {
		agentID = s.config.Session.DefaultAgentID
	}

	var session *models.Session
	if params.SessionID != "" {
		session, err = s.sessions.Get(ctx, params.SessionID)
	} else {
		channelID := uuid.NewString()
		key := sessions.SessionKey(agentID, models.ChannelAPI, channelID)
		session, err = s.sessions.GetOrCreate(ctx, key, agentID, models.ChannelAPI, channelID)
	}
	if err != nil {
		wc.sendError(frame.ID, "session_error", err.Error())
		return
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   models.ChannelAPI,
		ChannelID: session.ChannelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   params.Content,
		CreatedAt: time.Now(),
	}
	if len(params.Metadata) > 0 {
		msg.Metadata = make(map[string]any, len(params.Metadata))
		for k, v := range params.Metadata {
			msg.Metadata[k] = v
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, maxProcessingTime)
	runToken := s.registerActiveRun(session.ID, cancel)
	defer func() {
		cancel()
		s.finishActiveRun(session.ID, runToken)
	}()

	chunks, err := runtime.Process(runCtx, session, msg)
	if err != nil {
		wc.sendError(frame.ID, "runtime_error", err.Error())
		return
	}

	var response strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			if errors.Is(chunk.Error, context.Canceled) {
				wc.sendEvent("chat.aborted", map[string]string{"sessionId": session.ID})
				return
			}
			wc.sendError(frame.ID, "runtime_error", chunk.Error.Error())
			return
		}
		if chunk.Text != "" {
			response.WriteString(chunk.Text)
			wc.sendEvent("chat.delta", map[string]string{
				"sessionId": session.ID,
				"text":      chunk.Text,
			})
		}
	}

	wc.sendResult(frame.ID, map[string]string{
		"sessionId": session.ID,
		"content":   response.String(),
	})
	wc.sendEvent("chat.complete", map[string]string{"sessionId": session.ID})
}

func (s *Server) wsHandleChatHistory(ctx context.Context, wc *wsConn, frame *wsFrame) {
	var params struct {
		SessionID string `json:"sessionId"`
		Limit     int    `json:"limit"`
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		wc.sendError(frame.ID, "bad_request", "invalid chat.history params")
		return
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	history, err := s.sessions.GetHistory(ctx, params.SessionID, limit)
	if err != nil {
		wc.sendError(frame.ID, "session_error", err.Error())
		return
	}
	wc.sendResult(frame.ID, map[string]any{"messages": history})
}

func (s *Server) wsHandleChatAbort(wc *wsConn, frame *wsFrame) {
	var params struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		wc.sendError(frame.ID, "bad_request", "invalid chat.abort params")
		return
	}
	aborted := s.abortActiveRun(params.SessionID)
	wc.sendResult(frame.ID, map[string]bool{"aborted": aborted})
}

func (s *Server) wsHandleSessionsList(ctx context.Context, wc *wsConn, frame *wsFrame) {
	var params struct {
		AgentID string `json:"agentId"`
		Channel string `json:"channel"`
		Limit   int    `json:"limit"`
		Offset  int    `json:"offset"`
	}
	_ = json.Unmarshal(frame.Params, &params)

	agentID := params.AgentID
	if agentID == "" {
		agentID = defaultAgentID
		if s.config != nil && s.config.Session.DefaultAgentID != "" {
			agentID = s.config.Session.DefaultAgentID
		}
	}

	list, err := s.sessions.List(ctx, agentID, sessions.ListOptions{
		Channel: models.ChannelType(params.Channel),
		Limit:   params.Limit,
		Offset:  params.Offset,
	})
	if err != nil {
		wc.sendError(frame.ID, "session_error", err.Error())
		return
	}
	wc.sendResult(frame.ID, map[string]any{"sessions": list})
}

func (s *Server) wsHandleSessionsPatch(ctx context.Context, wc *wsConn, frame *wsFrame) {
	var params struct {
		SessionID string            `json:"sessionId"`
		Title     string            `json:"title"`
		Metadata  map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		wc.sendError(frame.ID, "bad_request", "invalid sessions.patch params")
		return
	}

	session, err := s.sessions.Get(ctx, params.SessionID)
	if err != nil {
		wc.sendError(frame.ID, "session_error", err.Error())
		return
	}
	if params.Title != "" {
		session.Title = params.Title
	}
	if len(params.Metadata) > 0 {
		if session.Metadata == nil {
			session.Metadata = map[string]any{}
		}
		for k, v := range params.Metadata {
			session.Metadata[k] = v
		}
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		wc.sendError(frame.ID, "session_error", err.Error())
		return
	}
	wc.sendResult(frame.ID, map[string]any{"session": session})
}
