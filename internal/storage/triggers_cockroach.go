package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/nexus-assist/pkg/models"
)

type cockroachPendingResultStore struct {
	db *sql.DB
}

func (s *cockroachPendingResultStore) Create(ctx context.Context, result *models.PendingResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("pending result is required")
	}
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_results (id, origin, session_id, prompt, response, delivered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, result.ID, string(result.Origin), result.SessionID, result.Prompt, result.Response, result.Delivered, createdAt)
	if err != nil {
		return fmt.Errorf("insert pending result: %w", err)
	}
	return nil
}

func (s *cockroachPendingResultStore) SetResponse(ctx context.Context, id string, response string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pending_results SET response = $1 WHERE id = $2`, response, id)
	if err != nil {
		return fmt.Errorf("update pending result: %w", err)
	}
	return requireRow(res)
}

func (s *cockroachPendingResultStore) MarkDelivered(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pending_results SET delivered = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark pending result delivered: %w", err)
	}
	return requireRow(res)
}

func (s *cockroachPendingResultStore) ListUndelivered(ctx context.Context, sessionID string, limit int) ([]*models.PendingResult, error) {
	query := `
		SELECT id, origin, session_id, prompt, response, delivered, created_at
		FROM pending_results
		WHERE delivered = false
	`
	args := []interface{}{}
	if sessionID != "" {
		query += " AND session_id = $1"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at ASC, id ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending results: %w", err)
	}
	defer rows.Close()

	out := make([]*models.PendingResult, 0)
	for rows.Next() {
		var result models.PendingResult
		var origin string
		if err := rows.Scan(&result.ID, &origin, &result.SessionID, &result.Prompt, &result.Response, &result.Delivered, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending result: %w", err)
		}
		result.Origin = models.TriggerOrigin(origin)
		out = append(out, &result)
	}
	return out, rows.Err()
}

type cockroachCredentialStore struct {
	db *sql.DB
}

func (s *cockroachCredentialStore) Put(ctx context.Context, cred *models.Credential) error {
	if cred == nil || cred.Name == "" {
		return fmt.Errorf("credential name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (name, encrypted_value, salt, credential_type, description, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE
		SET encrypted_value = EXCLUDED.encrypted_value,
			salt = EXCLUDED.salt,
			credential_type = EXCLUDED.credential_type,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
	`, cred.Name, cred.EncryptedValue, cred.Salt, cred.CredentialType, cred.Description, time.Now())
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *cockroachCredentialStore) Get(ctx context.Context, name string) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.QueryRowContext(ctx, `
		SELECT name, encrypted_value, salt, credential_type, description, updated_at
		FROM credentials WHERE name = $1
	`, name).Scan(&cred.Name, &cred.EncryptedValue, &cred.Salt, &cred.CredentialType, &cred.Description, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

func (s *cockroachCredentialStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return requireRow(res)
}

func (s *cockroachCredentialStore) List(ctx context.Context) ([]*models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, encrypted_value, salt, credential_type, description, updated_at
		FROM credentials ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Credential, 0)
	for rows.Next() {
		var cred models.Credential
		if err := rows.Scan(&cred.Name, &cred.EncryptedValue, &cred.Salt, &cred.CredentialType, &cred.Description, &cred.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, &cred)
	}
	return out, rows.Err()
}

type cockroachConfigEntryStore struct {
	db *sql.DB
}

func (s *cockroachConfigEntryStore) Set(ctx context.Context, entry *models.ConfigEntry) error {
	if entry == nil || entry.Section == "" {
		return fmt.Errorf("config section is required")
	}
	value, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("marshal config value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config_entries (section, value)
		VALUES ($1, $2)
		ON CONFLICT (section) DO UPDATE SET value = EXCLUDED.value
	`, entry.Section, value)
	if err != nil {
		return fmt.Errorf("upsert config entry: %w", err)
	}
	return nil
}

func (s *cockroachConfigEntryStore) Get(ctx context.Context, section string) (*models.ConfigEntry, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config_entries WHERE section = $1`, section).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config entry: %w", err)
	}
	entry := &models.ConfigEntry{Section: section}
	if err := json.Unmarshal(raw, &entry.Value); err != nil {
		return nil, fmt.Errorf("unmarshal config value: %w", err)
	}
	return entry, nil
}

func (s *cockroachConfigEntryStore) Delete(ctx context.Context, section string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM config_entries WHERE section = $1`, section)
	if err != nil {
		return fmt.Errorf("delete config entry: %w", err)
	}
	return requireRow(res)
}

func (s *cockroachConfigEntryStore) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT section, value FROM config_entries ORDER BY section ASC`)
	if err != nil {
		return nil, fmt.Errorf("list config entries: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ConfigEntry, 0)
	for rows.Next() {
		var entry models.ConfigEntry
		var raw []byte
		if err := rows.Scan(&entry.Section, &raw); err != nil {
			return nil, fmt.Errorf("scan config entry: %w", err)
		}
		if err := json.Unmarshal(raw, &entry.Value); err != nil {
			return nil, fmt.Errorf("unmarshal config value: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

type cockroachWebhookDefinitionStore struct {
	db *sql.DB
}

func (s *cockroachWebhookDefinitionStore) Create(ctx context.Context, def *models.WebhookDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("webhook definition is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_definitions (id, name, path_suffix, prompt_template, secret, enabled, trigger_count, last_triggered_at, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, def.ID, def.Name, def.PathSuffix, def.PromptTemplate, def.Secret, def.Enabled, def.TriggerCount, nullableTime(def.LastTriggeredAt), def.SessionID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert webhook definition: %w", err)
	}
	return nil
}

func (s *cockroachWebhookDefinitionStore) GetByPath(ctx context.Context, pathSuffix string) (*models.WebhookDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, path_suffix, prompt_template, secret, enabled, trigger_count, last_triggered_at, session_id
		FROM webhook_definitions WHERE path_suffix = $1
	`, pathSuffix)
	return scanWebhookDefinition(row)
}

func (s *cockroachWebhookDefinitionStore) Update(ctx context.Context, def *models.WebhookDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("webhook definition is required")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_definitions
		SET name = $1, path_suffix = $2, prompt_template = $3, secret = $4, enabled = $5, session_id = $6
		WHERE id = $7
	`, def.Name, def.PathSuffix, def.PromptTemplate, def.Secret, def.Enabled, def.SessionID, def.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("update webhook definition: %w", err)
	}
	return requireRow(res)
}

func (s *cockroachWebhookDefinitionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook definition: %w", err)
	}
	return requireRow(res)
}

func (s *cockroachWebhookDefinitionStore) List(ctx context.Context) ([]*models.WebhookDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path_suffix, prompt_template, secret, enabled, trigger_count, last_triggered_at, session_id
		FROM webhook_definitions ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list webhook definitions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.WebhookDefinition, 0)
	for rows.Next() {
		def, err := scanWebhookDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *cockroachWebhookDefinitionStore) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_definitions
		SET trigger_count = trigger_count + 1, last_triggered_at = $1
		WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("record webhook trigger: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhookDefinition(row rowScanner) (*models.WebhookDefinition, error) {
	var def models.WebhookDefinition
	var lastTriggered sql.NullTime
	err := row.Scan(&def.ID, &def.Name, &def.PathSuffix, &def.PromptTemplate, &def.Secret, &def.Enabled, &def.TriggerCount, &lastTriggered, &def.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook definition: %w", err)
	}
	if lastTriggered.Valid {
		def.LastTriggeredAt = lastTriggered.Time
	}
	return &def, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate")
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
