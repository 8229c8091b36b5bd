// Package gateway provides the main Nexus gateway server.
//
// session_handlers.go exposes the session CRUD surface required by spec.md
// §4.7 over plain HTTP/JSON, backed by the same sessions.Store used by the
// WS handler and the channel message pipeline.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

func (s *Server) registerSessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions/create", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /api/sessions/{id}", s.handleRenameSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = defaultAgentID
		if s.config != nil && s.config.Session.DefaultAgentID != "" {
			agentID = s.config.Session.DefaultAgentID
		}
	}
	opts := sessions.ListOptions{Channel: models.ChannelType(r.URL.Query().Get("channel"))}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	} else {
		opts.Limit = 50
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset > 0 {
		opts.Offset = offset
	}

	list, err := s.sessions.List(r.Context(), agentID, opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

type createSessionRequest struct {
	AgentID   string `json:"agent_id"`
	Channel   string `json:"channel"`
	ChannelID string `json:"channel_id"`
	Title     string `json:"title,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		req.AgentID = defaultAgentID
		if s.config != nil && s.config.Session.DefaultAgentID != "" {
			req.AgentID = s.config.Session.DefaultAgentID
		}
	}
	channel := models.ChannelType(req.Channel)
	if channel == "" {
		channel = models.ChannelAPI
	}
	channelID := req.ChannelID
	if channelID == "" {
		channelID = uuid.NewString()
	}

	key := sessions.SessionKey(req.AgentID, channel, channelID)
	session, err := s.sessions.GetOrCreate(r.Context(), key, req.AgentID, channel, channelID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Title != "" && session.Title == "" {
		session.Title = req.Title
		if err := s.sessions.Update(r.Context(), session); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil || session == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil || session == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	var req renameSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session.Title = req.Title
	session.UpdatedAt = time.Now()
	if err := s.sessions.Update(r.Context(), session); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	history, err := s.sessions.GetHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}
