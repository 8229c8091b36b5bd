// Package main provides the CLI entry point for the Nexus multi-channel AI gateway.
//
// config.go contains profile-path resolution helpers used by CLI commands.
package main

import (
	"os"
	"path/filepath"
	"strings"
)

// workspacePathFromProfile returns a workspace path based on profile name.
func workspacePathFromProfile(profileName string) string {
	home, _ := os.UserHomeDir()
	if strings.TrimSpace(home) == "" {
		home = "."
	}
	return filepath.Join(home, "nexus-"+profileName)
}
