// Package gateway provides webhook hook handling for external integrations.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-assist/internal/config"
)

const (
	defaultWebhookPath   = "/webhooks/trigger"
	defaultMaxBodyBytes  = 64 * 1024
	webhookHandlerAgent  = "agent"
	webhookHandlerWake   = "wake"
	webhookHandlerCustom = "custom"
)

// WebhookPayload represents the standard webhook request body.
type WebhookPayload struct {
	// Message is the text content to process.
	Message string `json:"message"`

	// Name is the sender name (default: "Webhook").
	Name string `json:"name,omitempty"`

	// SessionKey identifies the session (auto-generated if empty).
	SessionKey string `json:"session_key,omitempty"`

	// Channel targets a specific channel ("last" or channel ID).
	Channel string `json:"channel,omitempty"`

	// To targets a specific recipient.
	To string `json:"to,omitempty"`

	// Model overrides the default model.
	Model string `json:"model,omitempty"`

	// Thinking sets the thinking level.
	Thinking string `json:"thinking,omitempty"`

	// TimeoutSeconds sets the processing timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// WakeMode controls when to process ("now" or "next-heartbeat").
	WakeMode string `json:"wake_mode,omitempty"`

	// Deliver controls whether to deliver the response (default: true).
	Deliver *bool `json:"deliver,omitempty"`

	// Metadata contains arbitrary key-value pairs.
	Metadata map[string]any `json:"metadata,omitempty"`

	// raw is the undecoded request body, kept for HMAC verification and for
	// {{payload.a.b}} template rendering against the full decoded document.
	raw  []byte
	body any
}

// WebhookResponse is the standard webhook response.
type WebhookResponse struct {
	OK        bool           `json:"ok"`
	Status    string         `json:"status,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// WebhookHandler processes webhook requests.
type WebhookHandler interface {
	Handle(ctx context.Context, payload *WebhookPayload, mapping *config.WebhookHookMapping) (*WebhookResponse, error)
}

// WebhookHandlerFunc is a function that implements WebhookHandler.
type WebhookHandlerFunc func(ctx context.Context, payload *WebhookPayload, mapping *config.WebhookHookMapping) (*WebhookResponse, error)

// Handle implements WebhookHandler.
func (f WebhookHandlerFunc) Handle(ctx context.Context, payload *WebhookPayload, mapping *config.WebhookHookMapping) (*WebhookResponse, error) {
	return f(ctx, payload, mapping)
}

// WebhookHooks manages webhook handlers and routing for POST
// {base_path}/{path_suffix}.
type WebhookHooks struct {
	mu       sync.RWMutex
	config   *config.WebhookHooksConfig
	handlers map[string]WebhookHandler
	stats    *WebhookStats

	// resolver supplies definitions from a dynamic source (the
	// webhook_definitions table), consulted after the static config
	// mappings. Returns the mapping and the definition id.
	resolver DefinitionResolver

	// recorder is called with the definition id after a successful (2xx)
	// dispatch. Rejected requests (401, 413, 404) never reach it.
	recorder func(ctx context.Context, definitionID string)
}

// DefinitionResolver resolves a path suffix to a webhook mapping from a
// dynamic source. ok is false when no definition matches.
type DefinitionResolver func(ctx context.Context, pathSuffix string) (mapping *config.WebhookHookMapping, definitionID string, ok bool)

// SetDefinitionResolver installs a dynamic definition source.
func (h *WebhookHooks) SetDefinitionResolver(r DefinitionResolver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolver = r
}

// SetDispatchRecorder installs the post-dispatch counter callback.
func (h *WebhookHooks) SetDispatchRecorder(f func(ctx context.Context, definitionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorder = f
}

// WebhookStats tracks webhook usage statistics.
type WebhookStats struct {
	mu             sync.Mutex
	TotalRequests  int64            `json:"total_requests"`
	TotalSuccesses int64            `json:"total_successes"`
	TotalErrors    int64            `json:"total_errors"`
	ByPath         map[string]int64 `json:"by_path"`
	LastRequestAt  time.Time        `json:"last_request_at"`
}

// NewWebhookHooks creates a new webhook hooks manager.
func NewWebhookHooks(cfg *config.WebhookHooksConfig) (*WebhookHooks, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	if strings.TrimSpace(cfg.Token) == "" && !anyMappingHasSecret(cfg.Mappings) {
		return nil, fmt.Errorf("webhook hooks require a token or at least one mapping secret")
	}

	if cfg.BasePath == "" {
		cfg.BasePath = defaultWebhookPath
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		cfg.BasePath = "/" + cfg.BasePath
	}
	cfg.BasePath = strings.TrimSuffix(cfg.BasePath, "/")

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &WebhookHooks{
		config:   cfg,
		handlers: make(map[string]WebhookHandler),
		stats:    &WebhookStats{ByPath: make(map[string]int64)},
	}, nil
}

func anyMappingHasSecret(mappings []config.WebhookHookMapping) bool {
	for _, m := range mappings {
		if strings.TrimSpace(m.Secret) != "" {
			return true
		}
	}
	return false
}

// RegisterHandler registers a handler for a handler type.
func (h *WebhookHooks) RegisterHandler(handlerType string, handler WebhookHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[handlerType] = handler
}

// ServeHTTP implements http.Handler for webhook requests.
func (h *WebhookHooks) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.stats.mu.Lock()
	h.stats.TotalRequests++
	h.stats.LastRequestAt = time.Now()
	h.stats.mu.Unlock()

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, h.config.BasePath)
	mapping := h.findMapping(path)
	definitionID := ""
	if mapping == nil {
		h.mu.RLock()
		resolver := h.resolver
		h.mu.RUnlock()
		if resolver != nil {
			if resolved, id, ok := resolver(r.Context(), strings.TrimPrefix(path, "/")); ok {
				mapping = resolved
				definitionID = id
			}
		}
	}
	if mapping == nil {
		h.respondError(w, http.StatusNotFound, "webhook not found")
		return
	}

	body, status, err := h.readBody(r)
	if err != nil {
		h.respondError(w, status, err.Error())
		return
	}

	// Config mappings without a secret fall back to the global bearer token;
	// store-backed definitions without a secret are open by construction
	// (they were created through the admin surface).
	if strings.TrimSpace(mapping.Secret) != "" || definitionID == "" {
		if !h.authenticate(r, mapping, body) {
			h.respondError(w, http.StatusUnauthorized, "invalid signature or token")
			return
		}
	}

	payload, err := decodeWebhookPayload(body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.stats.mu.Lock()
	h.stats.ByPath[path]++
	h.stats.mu.Unlock()

	h.mu.RLock()
	handler, ok := h.handlers[mapping.Handler]
	h.mu.RUnlock()
	if !ok {
		h.respondError(w, http.StatusNotImplemented, "handler not implemented: "+mapping.Handler)
		return
	}

	ctx := r.Context()
	if payload.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(payload.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	response, err := handler.Handle(ctx, payload, mapping)
	if err != nil {
		h.stats.mu.Lock()
		h.stats.TotalErrors++
		h.stats.mu.Unlock()
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.stats.mu.Lock()
	h.stats.TotalSuccesses++
	h.stats.mu.Unlock()

	if definitionID != "" {
		h.mu.RLock()
		recorder := h.recorder
		h.mu.RUnlock()
		if recorder != nil {
			recorder(r.Context(), definitionID)
		}
	}

	status = http.StatusOK
	if response != nil && response.Status == "accepted" {
		status = http.StatusAccepted
	}
	h.respondJSON(w, status, response)
}

// readBody reads the request body, enforcing MaxBodyBytes (413 on overflow).
func (h *WebhookHooks) readBody(r *http.Request) ([]byte, int, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.config.MaxBodyBytes)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", h.config.MaxBodyBytes)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err)
	}
	return body, http.StatusOK, nil
}

// authenticate validates the request against the mapping's HMAC secret
// (spec.md §4.5) when set, otherwise falls back to the webhook-wide bearer
// token the teacher's original single-mapping hooks used.
func (h *WebhookHooks) authenticate(r *http.Request, mapping *config.WebhookHookMapping, body []byte) bool {
	if secret := strings.TrimSpace(mapping.Secret); secret != "" {
		return verifyWebhookSignature(secret, body, r.Header.Get("X-Webhook-Signature"))
	}
	return h.validateToken(h.extractToken(r))
}

func verifyWebhookSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(provided, expected) == 1
}

func (h *WebhookHooks) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if token := r.Header.Get("X-Webhook-Token"); token != "" {
		return strings.TrimSpace(token)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return strings.TrimSpace(token)
	}
	return ""
}

func (h *WebhookHooks) validateToken(token string) bool {
	if strings.TrimSpace(h.config.Token) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.config.Token)) == 1
}

func (h *WebhookHooks) findMapping(path string) *config.WebhookHookMapping {
	path = strings.TrimPrefix(path, "/")
	for i := range h.config.Mappings {
		if strings.TrimPrefix(h.config.Mappings[i].Path, "/") == path {
			return &h.config.Mappings[i]
		}
	}
	return nil
}

func decodeWebhookPayload(body []byte) (*WebhookPayload, error) {
	if len(body) == 0 {
		return &WebhookPayload{Name: "Webhook", Channel: "last", WakeMode: "now"}, nil
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	payload.raw = body
	payload.body = decoded

	if payload.Name == "" {
		payload.Name = "Webhook"
	}
	if payload.Channel == "" {
		payload.Channel = "last"
	}
	if payload.WakeMode == "" {
		payload.WakeMode = "now"
	}
	return &payload, nil
}

// renderPromptTemplate scans template for {{path}} placeholders, where path
// is a dot-separated sequence of object keys / array indices rooted at
// "payload", and substitutes each with the corresponding value from the
// decoded request body. Unresolved placeholders are left literal.
func renderPromptTemplate(template string, payload *WebhookPayload) string {
	if payload == nil || payload.body == nil {
		return template
	}

	var out strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start

		out.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : end])
		value, ok := resolveTemplatePath(payload.body, path)
		if ok {
			out.WriteString(stringifyTemplateValue(value))
		} else {
			out.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return out.String()
}

func resolveTemplatePath(root any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] != "payload" {
		return nil, false
	}
	current := root
	for _, segment := range segments[1:] {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func stringifyTemplateValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func (h *WebhookHooks) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, &WebhookResponse{OK: false, Error: message})
}

func (h *WebhookHooks) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Stats returns webhook usage statistics.
func (h *WebhookHooks) Stats() *WebhookStats {
	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()

	byPath := make(map[string]int64, len(h.stats.ByPath))
	for k, v := range h.stats.ByPath {
		byPath[k] = v
	}

	return &WebhookStats{
		TotalRequests:  h.stats.TotalRequests,
		TotalSuccesses: h.stats.TotalSuccesses,
		TotalErrors:    h.stats.TotalErrors,
		ByPath:         byPath,
		LastRequestAt:  h.stats.LastRequestAt,
	}
}

// Config returns the webhook configuration.
func (h *WebhookHooks) Config() *config.WebhookHooksConfig {
	return h.config
}
