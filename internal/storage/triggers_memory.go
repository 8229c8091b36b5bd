package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// MemoryPendingResultStore provides an in-memory PendingResultStore.
type MemoryPendingResultStore struct {
	mu      sync.RWMutex
	results map[string]*models.PendingResult
}

// NewMemoryPendingResultStore creates an in-memory pending result store.
func NewMemoryPendingResultStore() *MemoryPendingResultStore {
	return &MemoryPendingResultStore{results: make(map[string]*models.PendingResult)}
}

func (s *MemoryPendingResultStore) Create(ctx context.Context, result *models.PendingResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("pending result is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *result
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.results[result.ID] = &clone
	return nil
}

func (s *MemoryPendingResultStore) SetResponse(ctx context.Context, id string, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[id]
	if !ok {
		return ErrNotFound
	}
	result.Response = response
	return nil
}

func (s *MemoryPendingResultStore) MarkDelivered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[id]
	if !ok {
		return ErrNotFound
	}
	result.Delivered = true
	return nil
}

func (s *MemoryPendingResultStore) ListUndelivered(ctx context.Context, sessionID string, limit int) ([]*models.PendingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PendingResult, 0)
	for _, result := range s.results {
		if result.Delivered {
			continue
		}
		if sessionID != "" && result.SessionID != sessionID {
			continue
		}
		clone := *result
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryCredentialStore provides an in-memory CredentialStore.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]*models.Credential
}

// NewMemoryCredentialStore creates an in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]*models.Credential)}
}

func (s *MemoryCredentialStore) Put(ctx context.Context, cred *models.Credential) error {
	if cred == nil || strings.TrimSpace(cred.Name) == "" {
		return fmt.Errorf("credential name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cred
	clone.UpdatedAt = time.Now()
	s.creds[cred.Name] = &clone
	return nil
}

func (s *MemoryCredentialStore) Get(ctx context.Context, name string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[name]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *cred
	return &clone, nil
}

func (s *MemoryCredentialStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[name]; !ok {
		return ErrNotFound
	}
	delete(s.creds, name)
	return nil
}

func (s *MemoryCredentialStore) List(ctx context.Context) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		clone := *cred
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MemoryConfigEntryStore provides an in-memory ConfigEntryStore.
type MemoryConfigEntryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.ConfigEntry
}

// NewMemoryConfigEntryStore creates an in-memory config entry store.
func NewMemoryConfigEntryStore() *MemoryConfigEntryStore {
	return &MemoryConfigEntryStore{entries: make(map[string]*models.ConfigEntry)}
}

func (s *MemoryConfigEntryStore) Set(ctx context.Context, entry *models.ConfigEntry) error {
	if entry == nil || strings.TrimSpace(entry.Section) == "" {
		return fmt.Errorf("config section is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.entries[entry.Section] = &clone
	return nil
}

func (s *MemoryConfigEntryStore) Get(ctx context.Context, section string) (*models.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[section]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

func (s *MemoryConfigEntryStore) Delete(ctx context.Context, section string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[section]; !ok {
		return ErrNotFound
	}
	delete(s.entries, section)
	return nil
}

func (s *MemoryConfigEntryStore) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ConfigEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		clone := *entry
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Section < out[j].Section })
	return out, nil
}

// MemoryWebhookDefinitionStore provides an in-memory WebhookDefinitionStore.
type MemoryWebhookDefinitionStore struct {
	mu   sync.RWMutex
	defs map[string]*models.WebhookDefinition
}

// NewMemoryWebhookDefinitionStore creates an in-memory webhook definition store.
func NewMemoryWebhookDefinitionStore() *MemoryWebhookDefinitionStore {
	return &MemoryWebhookDefinitionStore{defs: make(map[string]*models.WebhookDefinition)}
}

func (s *MemoryWebhookDefinitionStore) Create(ctx context.Context, def *models.WebhookDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("webhook definition is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.defs {
		if existing.Name == def.Name || existing.PathSuffix == def.PathSuffix {
			return ErrAlreadyExists
		}
	}
	clone := *def
	s.defs[def.ID] = &clone
	return nil
}

func (s *MemoryWebhookDefinitionStore) GetByPath(ctx context.Context, pathSuffix string) (*models.WebhookDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, def := range s.defs {
		if def.PathSuffix == pathSuffix {
			clone := *def
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryWebhookDefinitionStore) Update(ctx context.Context, def *models.WebhookDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("webhook definition is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range s.defs {
		if id == def.ID {
			continue
		}
		if existing.Name == def.Name || existing.PathSuffix == def.PathSuffix {
			return ErrAlreadyExists
		}
	}
	clone := *def
	s.defs[def.ID] = &clone
	return nil
}

func (s *MemoryWebhookDefinitionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return ErrNotFound
	}
	delete(s.defs, id)
	return nil
}

func (s *MemoryWebhookDefinitionStore) List(ctx context.Context) ([]*models.WebhookDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WebhookDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		clone := *def
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryWebhookDefinitionStore) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok {
		return ErrNotFound
	}
	def.TriggerCount++
	def.LastTriggeredAt = at
	return nil
}
