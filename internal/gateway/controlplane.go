// controlplane.go implements the operator control-plane contracts
// (controlplane.GatewayManager, controlplane.ConfigManager) on the Server,
// backing the /admin/api/status and raw-config endpoints.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/controlplane"
)

// GatewayStatus implements controlplane.GatewayManager.
func (s *Server) GatewayStatus(ctx context.Context) (controlplane.GatewayStatus, error) {
	status := controlplane.GatewayStatus{ConfigPath: s.configPath}
	if !s.startTime.IsZero() {
		uptime := time.Since(s.startTime)
		status.UptimeSeconds = int64(uptime.Seconds())
		status.Uptime = uptime.String()
		status.StartTime = s.startTime.Format(time.RFC3339)
	}
	if s.config != nil && s.config.Server.HTTPPort != 0 {
		status.HTTPAddress = fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.HTTPPort)
	}
	return status, nil
}

// ConfigSnapshot implements controlplane.ConfigManager: the raw config file
// plus an integrity hash used for optimistic concurrency on apply.
func (s *Server) ConfigSnapshot(ctx context.Context) (controlplane.ConfigSnapshot, error) {
	if strings.TrimSpace(s.configPath) == "" {
		return controlplane.ConfigSnapshot{}, fmt.Errorf("config path not recorded")
	}
	raw, err := os.ReadFile(s.configPath)
	if err != nil {
		return controlplane.ConfigSnapshot{}, fmt.Errorf("read config: %w", err)
	}
	return controlplane.ConfigSnapshot{
		Path: s.configPath,
		Raw:  string(raw),
		Hash: hashConfig(raw),
	}, nil
}

// ConfigSchema implements controlplane.ConfigManager.
func (s *Server) ConfigSchema(ctx context.Context) ([]byte, error) {
	return config.JSONSchema()
}

// ApplyConfig implements controlplane.ConfigManager: validates the raw YAML
// and writes it to the config file when baseHash still matches the file on
// disk. A running server picks up hot-reloadable sections on the next turn;
// the rest requires a restart.
func (s *Server) ApplyConfig(ctx context.Context, raw string, baseHash string) (*controlplane.ConfigApplyResult, error) {
	if strings.TrimSpace(s.configPath) == "" {
		return nil, fmt.Errorf("config path not recorded")
	}

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(raw), &parsed); err != nil {
		return &controlplane.ConfigApplyResult{
			Applied:  false,
			Warnings: []string{"invalid YAML: " + err.Error()},
		}, nil
	}

	s.configApplyMu.Lock()
	defer s.configApplyMu.Unlock()

	current, err := os.ReadFile(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if baseHash != "" && hashConfig(current) != baseHash {
		return &controlplane.ConfigApplyResult{
			Applied:  false,
			Warnings: []string{"config changed since snapshot; re-fetch and retry"},
		}, nil
	}

	if err := os.WriteFile(s.configPath, []byte(raw), 0o600); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	s.notifyConfigSectionChanged("llm")

	return &controlplane.ConfigApplyResult{
		Applied:         true,
		RestartRequired: true,
	}, nil
}

func hashConfig(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
