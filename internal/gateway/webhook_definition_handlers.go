// webhook_definition_handlers.go exposes CRUD for store-backed webhook
// definitions and adapts them into the webhook receiver's mapping shape, so
// webhooks can be created at runtime without editing the config file.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/storage"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// wireWebhookDefinitions connects the webhook receiver to the definition
// store: dynamic path resolution plus trigger counting on 2xx dispatch.
func (s *Server) wireWebhookDefinitions() {
	if s.webhookHooks == nil || s.stores.Webhooks == nil {
		return
	}
	s.webhookHooks.SetDefinitionResolver(func(ctx context.Context, pathSuffix string) (*config.WebhookHookMapping, string, bool) {
		def, err := s.stores.Webhooks.GetByPath(ctx, pathSuffix)
		if err != nil || def == nil || !def.Enabled {
			return nil, "", false
		}
		return &config.WebhookHookMapping{
			Path:           def.PathSuffix,
			Name:           def.Name,
			Handler:        "agent",
			PromptTemplate: def.PromptTemplate,
			Secret:         def.Secret,
		}, def.ID, true
	})
	s.webhookHooks.SetDispatchRecorder(func(ctx context.Context, definitionID string) {
		if err := s.stores.Webhooks.RecordTrigger(ctx, definitionID, time.Now()); err != nil {
			s.logger.Warn("failed to record webhook trigger", "id", definitionID, "error", err)
		}
	})
}

type webhookDefinitionRequest struct {
	Name           string `json:"name"`
	PathSuffix     string `json:"path_suffix"`
	PromptTemplate string `json:"prompt_template"`
	Secret         string `json:"secret,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// registerWebhookRoutes mounts the webhook definition CRUD surface.
func (s *Server) registerWebhookRoutes(mux *http.ServeMux) {
	if s.stores.Webhooks == nil {
		return
	}
	mux.HandleFunc("GET /api/webhooks/", s.handleListWebhooks)
	mux.HandleFunc("POST /api/webhooks/", s.handleCreateWebhook)
	mux.HandleFunc("PUT /api/webhooks/{id}", s.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/webhooks/{id}", s.handleDeleteWebhook)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	defs, err := s.stores.Webhooks.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Secrets never leave the server.
	out := make([]*models.WebhookDefinition, 0, len(defs))
	for _, def := range defs {
		clone := *def
		clone.Secret = ""
		out = append(out, &clone)
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookDefinitionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.PathSuffix) == "" {
		writeJSONError(w, http.StatusBadRequest, "name and path_suffix are required")
		return
	}
	if !isURLSafePathSuffix(req.PathSuffix) {
		writeJSONError(w, http.StatusBadRequest, "path_suffix must be URL-safe")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	def := &models.WebhookDefinition{
		ID:             uuid.NewString(),
		Name:           req.Name,
		PathSuffix:     req.PathSuffix,
		PromptTemplate: req.PromptTemplate,
		Secret:         req.Secret,
		Enabled:        enabled,
		SessionID:      req.SessionID,
	}
	if err := s.stores.Webhooks.Create(r.Context(), def); err != nil {
		if err == storage.ErrAlreadyExists {
			writeJSONError(w, http.StatusConflict, "name or path_suffix already in use")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	clone := *def
	clone.Secret = ""
	writeJSON(w, http.StatusCreated, &clone)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.getWebhookByID(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "webhook not found")
		return
	}

	var req webhookDefinitionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.PathSuffix != "" {
		if !isURLSafePathSuffix(req.PathSuffix) {
			writeJSONError(w, http.StatusBadRequest, "path_suffix must be URL-safe")
			return
		}
		existing.PathSuffix = req.PathSuffix
	}
	if req.PromptTemplate != "" {
		existing.PromptTemplate = req.PromptTemplate
	}
	if req.Secret != "" {
		existing.Secret = req.Secret
	}
	if req.SessionID != "" {
		existing.SessionID = req.SessionID
	}
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	if err := s.stores.Webhooks.Update(r.Context(), existing); err != nil {
		if err == storage.ErrAlreadyExists {
			writeJSONError(w, http.StatusConflict, "name or path_suffix already in use")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	clone := *existing
	clone.Secret = ""
	writeJSON(w, http.StatusOK, &clone)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.stores.Webhooks.Delete(r.Context(), r.PathValue("id")); err != nil {
		if err == storage.ErrNotFound {
			writeJSONError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) getWebhookByID(ctx context.Context, id string) (*models.WebhookDefinition, error) {
	defs, err := s.stores.Webhooks.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if def.ID == id {
			return def, nil
		}
	}
	return nil, storage.ErrNotFound
}

func isURLSafePathSuffix(suffix string) bool {
	if strings.Contains(suffix, "/") {
		return false
	}
	return url.PathEscape(suffix) == suffix
}
