package models

import "time"

// TriggerOrigin identifies what produced a TriggerEnvelope.
type TriggerOrigin string

const (
	OriginChat      TriggerOrigin = "chat"
	OriginScheduler TriggerOrigin = "scheduler"
	OriginWebhook   TriggerOrigin = "webhook"
)

// TriggerEnvelope is the uniform request handed to the Agent Runtime by
// every trigger source (WS chat message, cron fire, webhook dispatch).
type TriggerEnvelope struct {
	SessionID     string
	InitialPrompt string
	InitialAgent  string
	Origin        TriggerOrigin
}

// ScheduledTask is a cron-triggered prompt fired into the Agent Runtime.
type ScheduledTask struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CronExpression string    `json:"cron_expression"`
	Prompt         string    `json:"prompt"`
	Enabled        bool      `json:"enabled"`
	Timezone       string    `json:"timezone"`
	LastRunAt      time.Time `json:"last_run_at,omitempty"`
	RunCount       int64     `json:"run_count"`
	SessionID      string    `json:"session_id,omitempty"`
}

// WebhookDefinition describes an HTTP webhook trigger.
type WebhookDefinition struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	PathSuffix      string    `json:"path_suffix"`
	PromptTemplate  string    `json:"prompt_template"`
	Secret          string    `json:"secret,omitempty"`
	Enabled         bool      `json:"enabled"`
	TriggerCount    int64     `json:"trigger_count"`
	LastTriggeredAt time.Time `json:"last_triggered_at,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
}

// PendingResult records the output of an asynchronous (scheduler/webhook)
// trigger so it can be replayed to a reconnecting WebSocket client.
type PendingResult struct {
	ID        string        `json:"id"`
	Origin    TriggerOrigin `json:"origin"`
	SessionID string        `json:"session_id"`
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response,omitempty"`
	Delivered bool          `json:"delivered"`
	CreatedAt time.Time     `json:"created_at"`
}

// Credential is a named secret persisted as ciphertext under the boot key.
type Credential struct {
	Name           string    `json:"name"`
	EncryptedValue []byte    `json:"-"`
	Salt           []byte    `json:"-"`
	CredentialType string    `json:"credential_type,omitempty"`
	Description    string    `json:"description,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ConfigEntry is one section of the DB-layer configuration override.
type ConfigEntry struct {
	Section string         `json:"section"`
	Value   map[string]any `json:"value"`
}
