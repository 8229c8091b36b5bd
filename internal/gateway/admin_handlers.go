// admin_handlers.go exposes the bearer-token-protected operator surface
// under /admin/api/: per-section config overrides, the encrypted credential
// store, integration status, and connection tests.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-assist/internal/controlplane"
	"github.com/haasonsaas/nexus-assist/internal/storage"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// registerAdminRoutes mounts the admin surface. Routes are only registered
// when an admin token is configured; an unset token disables the surface
// entirely rather than leaving it open.
func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	if strings.TrimSpace(s.config.Auth.AdminToken) == "" {
		return
	}

	mux.HandleFunc("GET /admin/api/config/", s.adminAuth(s.handleAdminListConfig))
	mux.HandleFunc("GET /admin/api/config/{section}", s.adminAuth(s.handleAdminGetConfig))
	mux.HandleFunc("PUT /admin/api/config/{section}", s.adminAuth(s.handleAdminPutConfig))
	mux.HandleFunc("DELETE /admin/api/config/{section}", s.adminAuth(s.handleAdminDeleteConfig))

	mux.HandleFunc("GET /admin/api/credentials/", s.adminAuth(s.handleAdminListCredentials))
	mux.HandleFunc("GET /admin/api/credentials/{name}", s.adminAuth(s.handleAdminGetCredential))
	mux.HandleFunc("PUT /admin/api/credentials/{name}", s.adminAuth(s.handleAdminPutCredential))
	mux.HandleFunc("DELETE /admin/api/credentials/{name}", s.adminAuth(s.handleAdminDeleteCredential))

	mux.HandleFunc("GET /admin/api/integrations/", s.adminAuth(s.handleAdminIntegrations))
	mux.HandleFunc("POST /admin/api/integrations/{name}/test", s.adminAuth(s.handleAdminIntegrationTest))

	mux.HandleFunc("GET /admin/api/config-file", s.adminAuth(s.handleAdminConfigSnapshot))
	mux.HandleFunc("PUT /admin/api/config-file", s.adminAuth(s.handleAdminConfigApply))
	mux.HandleFunc("GET /admin/api/config-schema", s.adminAuth(s.handleAdminConfigSchema))

	mux.HandleFunc("GET /admin/api/status", s.adminAuth(s.handleAdminStatus))
}

// Compile-time control-plane contract checks.
var (
	_ controlplane.GatewayManager = (*Server)(nil)
	_ controlplane.ConfigManager  = (*Server)(nil)
)

func (s *Server) handleAdminConfigSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.ConfigSnapshot(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleAdminConfigApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Raw      string `json:"raw"`
		BaseHash string `json:"base_hash,omitempty"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.ApplyConfig(r.Context(), req.Raw, req.BaseHash)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !result.Applied {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) handleAdminConfigSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.ConfigSchema(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(schema)
}

// adminAuth enforces the bearer admin token with a constant-time compare.
func (s *Server) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		expected := s.config.Auth.AdminToken
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleAdminListConfig(w http.ResponseWriter, r *http.Request) {
	if s.stores.ConfigEntries == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "config store unavailable")
		return
	}
	entries, err := s.stores.ConfigEntries.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": entries})
}

func (s *Server) handleAdminGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.stores.ConfigEntries == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "config store unavailable")
		return
	}
	entry, err := s.stores.ConfigEntries.Get(r.Context(), r.PathValue("section"))
	if err == storage.ErrNotFound {
		writeJSONError(w, http.StatusNotFound, "section not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleAdminPutConfig writes a config section override. Writes to a section
// are serialized by configApplyMu, and enumerated subscribers (the model
// resolver) are notified after the row lands.
func (s *Server) handleAdminPutConfig(w http.ResponseWriter, r *http.Request) {
	if s.stores.ConfigEntries == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "config store unavailable")
		return
	}
	section := strings.TrimSpace(r.PathValue("section"))
	if section == "" {
		writeJSONError(w, http.StatusBadRequest, "section is required")
		return
	}

	var value map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&value); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.configApplyMu.Lock()
	defer s.configApplyMu.Unlock()

	entry := &models.ConfigEntry{Section: section, Value: value}
	if err := s.stores.ConfigEntries.Set(r.Context(), entry); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.notifyConfigSectionChanged(section)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAdminDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if s.stores.ConfigEntries == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "config store unavailable")
		return
	}
	s.configApplyMu.Lock()
	defer s.configApplyMu.Unlock()
	section := r.PathValue("section")
	if err := s.stores.ConfigEntries.Delete(r.Context(), section); err != nil {
		if err == storage.ErrNotFound {
			writeJSONError(w, http.StatusNotFound, "section not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.notifyConfigSectionChanged(section)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// notifyConfigSectionChanged informs the small, enumerated set of config
// subscribers that a DB-layer section changed. The model resolver rebuilds
// its provider on the next turn when the llm/agent section moved.
func (s *Server) notifyConfigSectionChanged(section string) {
	switch section {
	case "llm", "agent", "agents":
		s.runtimeMu.Lock()
		s.runtime = nil
		s.llmProvider = nil
		s.agentOrchestrator = nil
		s.runtimeMu.Unlock()
		s.logger.Info("config section changed, model resolution reset", "section", section)
	default:
		s.logger.Info("config section changed", "section", section)
	}
}

type adminCredentialRequest struct {
	Value          string `json:"value"`
	CredentialType string `json:"credential_type,omitempty"`
	Description    string `json:"description,omitempty"`
}

func (s *Server) handleAdminListCredentials(w http.ResponseWriter, r *http.Request) {
	if s.stores.Credentials == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "credential store unavailable")
		return
	}
	creds, err := s.stores.Credentials.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": creds})
}

func (s *Server) handleAdminGetCredential(w http.ResponseWriter, r *http.Request) {
	if s.stores.Credentials == nil || s.credentialCipher == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "credential store unavailable")
		return
	}
	cred, err := s.stores.Credentials.Get(r.Context(), r.PathValue("name"))
	if err == storage.ErrNotFound {
		writeJSONError(w, http.StatusNotFound, "credential not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	value, err := s.credentialCipher.Open(cred.EncryptedValue, cred.Salt)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "credential decryption failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":            cred.Name,
		"value":           value,
		"credential_type": cred.CredentialType,
		"description":     cred.Description,
		"updated_at":      cred.UpdatedAt,
	})
}

func (s *Server) handleAdminPutCredential(w http.ResponseWriter, r *http.Request) {
	if s.stores.Credentials == nil || s.credentialCipher == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "credential store unavailable")
		return
	}
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "credential name is required")
		return
	}
	var req adminCredentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Value == "" {
		writeJSONError(w, http.StatusBadRequest, "value is required")
		return
	}
	ciphertext, salt, err := s.credentialCipher.Seal(req.Value)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cred := &models.Credential{
		Name:           name,
		EncryptedValue: ciphertext,
		Salt:           salt,
		CredentialType: req.CredentialType,
		Description:    req.Description,
		UpdatedAt:      time.Now(),
	}
	if err := s.stores.Credentials.Put(r.Context(), cred); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored", "name": name})
}

func (s *Server) handleAdminDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if s.stores.Credentials == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "credential store unavailable")
		return
	}
	if err := s.stores.Credentials.Delete(r.Context(), r.PathValue("name")); err != nil {
		if err == storage.ErrNotFound {
			writeJSONError(w, http.StatusNotFound, "credential not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// integrationStatus is one row of the admin integration listing.
type integrationStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // configured | ok | error
	Detail    string `json:"detail,omitempty"`
	Connected bool   `json:"connected"`
}

func (s *Server) handleAdminIntegrations(w http.ResponseWriter, r *http.Request) {
	out := make([]integrationStatus, 0)
	for channelType, health := range s.channels.HealthAdapters() {
		row := integrationStatus{Name: string(channelType), Status: "configured"}
		status := health.Status()
		row.Connected = status.Connected
		if status.Connected {
			row.Status = "ok"
		} else if status.Error != "" {
			row.Status = "error"
			row.Detail = status.Error
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"integrations": out})
}

// handleAdminIntegrationTest runs a live connection test against one named
// integration (a registered channel adapter).
func (s *Server) handleAdminIntegrationTest(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(r.PathValue("name")))
	health, ok := s.channels.HealthAdapters()[models.ChannelType(name)]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "integration not found")
		return
	}
	result := health.HealthCheck(r.Context())
	status := "ok"
	if !result.Healthy {
		status = "error"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"detail":  result.Message,
		"latency": result.Latency.String(),
	})
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Duration(0)
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}
	channelNames := make([]string, 0)
	for _, adapter := range s.channels.All() {
		channelNames = append(channelNames, string(adapter.Type()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime":          uptime.String(),
		"channels":        channelNames,
		"scheduler":       s.taskScheduler != nil,
		"vector_memory":   s.vectorMemory != nil,
		"credential_keys": s.credentialCipher != nil,
	})
}
