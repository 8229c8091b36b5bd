// Package plugins validates the plugin sections of the gateway configuration.
//
// The full out-of-process plugin marketplace (manifest discovery, SDK
// handshake, isolation backends) isn't part of this gateway; commands keep
// calling ValidateConfig as a config sanity check before serve/doctor run.
package plugins

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-assist/internal/config"
)

const pluginIsolationNotImplementedMessage = "plugins.isolation.enabled is set but out-of-process plugin isolation is not implemented"

// ValidateConfig checks the plugins section of the configuration for obvious
// mistakes: an enabled isolation backend (unsupported) or an entry pointing
// at a path that doesn't resolve to a manifest.
func ValidateConfig(cfg *config.Config) error {
	issues := ValidationIssues(cfg)
	if len(issues) > 0 {
		return &config.ConfigValidationError{Issues: issues}
	}
	return nil
}

// ValidationIssues returns plugin validation issues for config validation hooks.
func ValidationIssues(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}

	var issues []string
	if cfg.Plugins.Isolation.Enabled {
		issues = append(issues, pluginIsolationNotImplementedMessage)
	}

	for id, entry := range cfg.Plugins.Entries {
		if entry.Enabled && strings.TrimSpace(entry.Path) == "" {
			issues = append(issues, fmt.Sprintf("plugins.entries.%s is enabled but has no path", id))
		}
	}

	return issues
}
