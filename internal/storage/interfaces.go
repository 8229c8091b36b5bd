package storage

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/nexus-assist/internal/auth"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// AgentStore persists agent configurations.
type AgentStore interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Agent, int, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error
}

// ChannelConnectionStore persists channel connection records.
type ChannelConnectionStore interface {
	Create(ctx context.Context, conn *models.ChannelConnection) error
	Get(ctx context.Context, id string) (*models.ChannelConnection, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.ChannelConnection, int, error)
	Update(ctx context.Context, conn *models.ChannelConnection) error
	Delete(ctx context.Context, id string) error
}

// UserStore persists user identities (OAuth and API users).
type UserStore interface {
	FindOrCreate(ctx context.Context, info *auth.UserInfo) (*models.User, error)
	Get(ctx context.Context, id string) (*models.User, error)
}

// PendingResultStore persists the output of asynchronous (scheduler/webhook)
// triggers so reconnecting clients can replay what they missed.
type PendingResultStore interface {
	Create(ctx context.Context, result *models.PendingResult) error
	SetResponse(ctx context.Context, id string, response string) error
	MarkDelivered(ctx context.Context, id string) error
	ListUndelivered(ctx context.Context, sessionID string, limit int) ([]*models.PendingResult, error)
}

// CredentialStore persists named secrets as ciphertext. Encryption and
// decryption happen above this layer; the store never sees plaintext.
type CredentialStore interface {
	Put(ctx context.Context, cred *models.Credential) error
	Get(ctx context.Context, name string) (*models.Credential, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*models.Credential, error)
}

// ConfigEntryStore persists per-section configuration overrides that merge
// over the file config at the highest layer.
type ConfigEntryStore interface {
	Set(ctx context.Context, entry *models.ConfigEntry) error
	Get(ctx context.Context, section string) (*models.ConfigEntry, error)
	Delete(ctx context.Context, section string) error
	List(ctx context.Context) ([]*models.ConfigEntry, error)
}

// WebhookDefinitionStore persists webhook trigger definitions and their
// invocation counters.
type WebhookDefinitionStore interface {
	Create(ctx context.Context, def *models.WebhookDefinition) error
	GetByPath(ctx context.Context, pathSuffix string) (*models.WebhookDefinition, error)
	Update(ctx context.Context, def *models.WebhookDefinition) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.WebhookDefinition, error)
	RecordTrigger(ctx context.Context, id string, at time.Time) error
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Agents        AgentStore
	Channels      ChannelConnectionStore
	Users         UserStore
	Pending       PendingResultStore
	Credentials   CredentialStore
	ConfigEntries ConfigEntryStore
	Webhooks      WebhookDefinitionStore
	closer        func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
