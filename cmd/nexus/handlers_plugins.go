package main

import (
	"fmt"

	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/doctor"
	"github.com/spf13/cobra"
)

// =============================================================================
// Plugin Command Handlers
// =============================================================================

// runPluginsList handles the plugins list command.
func runPluginsList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(cfg.Plugins.Entries) == 0 {
		fmt.Fprintln(out, "No plugin entries configured.")
		return nil
	}

	fmt.Fprintf(out, "Configured plugins (%d):\n\n", len(cfg.Plugins.Entries))
	for id, entry := range cfg.Plugins.Entries {
		status := "disabled"
		if entry.Enabled {
			status = "enabled"
		}
		fmt.Fprintf(out, "  %s [%s]\n", id, status)
		if entry.Path != "" {
			fmt.Fprintf(out, "    Path: %s\n", entry.Path)
		}
	}

	return nil
}

// runPluginsEnable handles the plugins enable command.
func runPluginsEnable(cmd *cobra.Command, configPath, pluginID string) error {
	raw, err := doctor.LoadRawConfig(configPath)
	if err != nil {
		return err
	}
	setPluginEnabled(raw, pluginID, true)
	if err := doctor.WriteRawConfig(configPath, raw); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enabled plugin: %s\n", pluginID)
	return nil
}

// runPluginsDisable handles the plugins disable command.
func runPluginsDisable(cmd *cobra.Command, configPath, pluginID string) error {
	raw, err := doctor.LoadRawConfig(configPath)
	if err != nil {
		return err
	}
	setPluginEnabled(raw, pluginID, false)
	if err := doctor.WriteRawConfig(configPath, raw); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disabled plugin: %s\n", pluginID)
	return nil
}

// setPluginEnabled toggles a plugins.entries.<id>.enabled value in raw config.
func setPluginEnabled(raw map[string]any, id string, enabled bool) {
	if raw == nil {
		return
	}
	pluginsSection, ok := raw["plugins"].(map[string]any)
	if !ok {
		pluginsSection = map[string]any{}
		raw["plugins"] = pluginsSection
	}
	entries, ok := pluginsSection["entries"].(map[string]any)
	if !ok {
		entries = map[string]any{}
		pluginsSection["entries"] = entries
	}
	entry, ok := entries[id].(map[string]any)
	if !ok {
		entry = map[string]any{}
		entries[id] = entry
	}
	entry["enabled"] = enabled
}
