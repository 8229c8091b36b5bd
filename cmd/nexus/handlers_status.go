package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// =============================================================================
// Status Command Helpers
// =============================================================================

// printSystemStatus prints the system status.
func printSystemStatus(ctx context.Context, out io.Writer, jsonOutput bool, configPath, serverAddr, token, apiKey string) error {
	baseURL, err := resolveHTTPBaseURL(configPath, serverAddr)
	if err != nil {
		return err
	}
	client := newAPIClient(baseURL, token, apiKey)

	var status systemStatus
	if err := client.getJSON(ctx, "/api/status", &status); err != nil {
		return err
	}

	if jsonOutput {
		payload := struct {
			Version string       `json:"version"`
			Commit  string       `json:"commit"`
			Build   string       `json:"build"`
			System  systemStatus `json:"system"`
		}{
			Version: version,
			Commit:  commit,
			Build:   date,
			System:  status,
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintln(out, "NEXUS STATUS")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Version: %s (commit: %s)\n", version, commit)
	fmt.Fprintf(out, "Built: %s\n", date)
	fmt.Fprintf(out, "Uptime: %s\n", status.UptimeString)
	fmt.Fprintf(out, "Go: %s | Goroutines: %d | CPU: %d\n", status.GoVersion, status.NumGoroutines, status.NumCPU)
	fmt.Fprintf(out, "Memory: %.2f MB alloc / %.2f MB sys\n", status.MemAllocMB, status.MemSysMB)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Database")
	if status.DatabaseStatus == "" {
		fmt.Fprintln(out, "   Status: unknown")
	} else {
		fmt.Fprintf(out, "   Status: %s\n", status.DatabaseStatus)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Channels")
	if len(status.Channels) == 0 {
		fmt.Fprintln(out, "   No channel adapters reported.")
	} else {
		for _, ch := range status.Channels {
			name := ch.Name
			if name == "" {
				name = ch.Type
			}
			fmt.Fprintf(out, "   %s: %s\n", cases.Title(language.English).String(name), ch.Status)
			if ch.Error != "" {
				fmt.Fprintf(out, "     Error: %s\n", ch.Error)
			}
			if ch.HealthMessage != "" {
				fmt.Fprintf(out, "     Health: %s\n", ch.HealthMessage)
			}
		}
	}
	fmt.Fprintln(out)

	if status.HealthChecks != nil && len(status.HealthChecks.Checks) > 0 {
		fmt.Fprintln(out, "Components")
		for _, check := range status.HealthChecks.Checks {
			fmt.Fprintf(out, "   %s: %s\n", check.Name, check.Status)
			if check.Message != "" {
				fmt.Fprintf(out, "     %s\n", check.Message)
			}
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "LLM Providers")
	fmt.Fprintln(out, "   Not reported by server status API")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Tools")
	fmt.Fprintln(out, "   Not reported by server status API")
	fmt.Fprintln(out)

	return nil
}

// truncate shortens a string to maxLen with ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
