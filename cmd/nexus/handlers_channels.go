package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/provisioning"
	"github.com/haasonsaas/nexus-assist/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// =============================================================================
// Channel Command Helpers
// =============================================================================

// loadConfigForChannels loads the config for channel commands.
func loadConfigForChannels(configPath string) (*config.Config, error) {
	return config.Load(configPath)
}

// printChannelsList prints the list of configured channels.
func printChannelsList(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "Configured Channels")
	fmt.Fprintln(out, "===================")
	fmt.Fprintln(out)

	if cfg.Channels.Telegram.Enabled {
		fmt.Fprintln(out, "Telegram")
		fmt.Fprintln(out, "   Status: Enabled")
		if len(cfg.Channels.Telegram.BotToken) >= 10 {
			fmt.Fprintf(out, "   Bot Token: %s***\n", cfg.Channels.Telegram.BotToken[:10])
		}
		fmt.Fprintln(out)
	}

	if cfg.Channels.Discord.Enabled {
		fmt.Fprintln(out, "Discord")
		fmt.Fprintln(out, "   Status: Enabled")
		fmt.Fprintf(out, "   App ID: %s\n", cfg.Channels.Discord.AppID)
		fmt.Fprintln(out)
	}

	if cfg.Channels.Slack.Enabled {
		fmt.Fprintln(out, "Slack")
		fmt.Fprintln(out, "   Status: Enabled")
		if len(cfg.Channels.Slack.BotToken) >= 10 {
			fmt.Fprintf(out, "   Bot Token: %s***\n", cfg.Channels.Slack.BotToken[:10])
		}
		fmt.Fprintln(out)
	}
}

// printChannelsLogin prints channel login validation results.
func printChannelsLogin(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "Channel login checks:")

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.BotToken == "" {
			fmt.Fprintln(out, "  - Telegram: missing bot_token (use @BotFather)")
		} else {
			fmt.Fprintln(out, "  - Telegram: token set")
		}
	}

	if cfg.Channels.Discord.Enabled {
		if cfg.Channels.Discord.BotToken == "" || cfg.Channels.Discord.AppID == "" {
			fmt.Fprintln(out, "  - Discord: missing bot_token/app_id (create app + bot token)")
		} else {
			fmt.Fprintln(out, "  - Discord: token + app id set")
		}
	}

	if cfg.Channels.Slack.Enabled {
		if cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "" || cfg.Channels.Slack.SigningSecret == "" {
			fmt.Fprintln(out, "  - Slack: missing bot_token/app_token/signing_secret")
		} else {
			fmt.Fprintln(out, "  - Slack: credentials set")
		}
	}

	fmt.Fprintln(out, "Run `nexus channels test <channel>` to send a test message.")
}

// printChannelsStatus prints the channel connection status.
func printChannelsStatus(ctx context.Context, out io.Writer, configPath, serverAddr, token, apiKey string) error {
	baseURL, err := resolveHTTPBaseURL(configPath, serverAddr)
	if err != nil {
		return err
	}
	client := newAPIClient(baseURL, token, apiKey)

	var status systemStatus
	if err := client.getJSON(ctx, "/api/status", &status); err != nil {
		return err
	}

	fmt.Fprintln(out, "Channel Connection Status")
	fmt.Fprintln(out, "========================")
	fmt.Fprintln(out)

	if len(status.Channels) == 0 {
		fmt.Fprintln(out, "No channel adapters reported by server.")
		return nil
	}

	for _, ch := range status.Channels {
		title := ch.Name
		if title == "" {
			title = ch.Type
		}
		fmt.Fprintln(out, cases.Title(language.English).String(title))
		fmt.Fprintf(out, "   Enabled: %t\n", ch.Enabled)
		fmt.Fprintf(out, "   Status: %s\n", ch.Status)
		if ch.Error != "" {
			fmt.Fprintf(out, "   Error: %s\n", ch.Error)
		}
		if ch.LastPing > 0 {
			fmt.Fprintf(out, "   Last Ping: %d\n", ch.LastPing)
		}
		if ch.HealthMessage != "" {
			fmt.Fprintf(out, "   Health: %s\n", ch.HealthMessage)
			if ch.HealthLatencyMs > 0 {
				fmt.Fprintf(out, "   Health Latency: %dms\n", ch.HealthLatencyMs)
			}
			if ch.HealthDegraded {
				fmt.Fprintln(out, "   Health Degraded: true")
			}
		}
		fmt.Fprintln(out)
	}

	return nil
}

// printChannelTest prints the channel test results.
func printChannelTest(ctx context.Context, out io.Writer, configPath, serverAddr, token, apiKey, channel, channelID, message string) error {
	slog.Info("testing channel connectivity", "channel", channel)

	baseURL, err := resolveHTTPBaseURL(configPath, serverAddr)
	if err != nil {
		return err
	}
	client := newAPIClient(baseURL, token, apiKey)

	if strings.TrimSpace(channelID) == "" {
		var status providerStatus
		if err := client.getJSON(ctx, fmt.Sprintf("/api/providers/%s", strings.ToLower(channel)), &status); err != nil {
			return err
		}

		fmt.Fprintf(out, "Channel %s status\n", channel)
		fmt.Fprintln(out, "======================")
		fmt.Fprintf(out, "Enabled: %t\n", status.Enabled)
		fmt.Fprintf(out, "Connected: %t\n", status.Connected)
		if status.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", status.Error)
		}
		if status.HealthMessage != "" {
			fmt.Fprintf(out, "Health: %s\n", status.HealthMessage)
		}
		if status.HealthLatency > 0 {
			fmt.Fprintf(out, "Health Latency: %dms\n", status.HealthLatency)
		}
		if status.HealthDegraded {
			fmt.Fprintln(out, "Health Degraded: true")
		}
		if status.QRAvailable {
			fmt.Fprintf(out, "QR Updated At: %s\n", status.QRUpdatedAt)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Provide --channel-id to send a live test message.")
		return nil
	}

	payload := map[string]string{
		"channel_id": channelID,
	}
	if strings.TrimSpace(message) != "" {
		payload["message"] = message
	}
	var response map[string]any
	if err := client.postJSON(ctx, fmt.Sprintf("/api/providers/%s/test", strings.ToLower(channel)), payload, &response); err != nil {
		return err
	}

	fmt.Fprintf(out, "Sent test message to %s\n", channel)
	fmt.Fprintf(out, "Channel ID: %s\n", channelID)
	if msg, ok := response["message"].(string); ok && msg != "" {
		fmt.Fprintf(out, "Message: %s\n", msg)
	}
	return nil
}

// runChannelsEnable enables a channel in the configuration.
func runChannelsEnable(cmd *cobra.Command, configPath, channel string) error {
	prov := provisioning.NewChannelProvisioner(configPath, nil)
	channelType := models.ChannelType(channel)

	if err := prov.EnableChannel(cmd.Context(), channelType); err != nil {
		return fmt.Errorf("enable channel: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Channel %s enabled\n", channel)
	return nil
}

// runChannelsDisable disables a channel in the configuration.
func runChannelsDisable(cmd *cobra.Command, configPath, channel string) error {
	prov := provisioning.NewChannelProvisioner(configPath, nil)
	channelType := models.ChannelType(channel)

	if err := prov.DisableChannel(cmd.Context(), channelType); err != nil {
		return fmt.Errorf("disable channel: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Channel %s disabled\n", channel)
	return nil
}

// runChannelsValidate validates channel configuration.
func runChannelsValidate(cmd *cobra.Command, configPath, channel string) error {
	prov := provisioning.NewChannelProvisioner(configPath, nil)
	out := cmd.OutOrStdout()

	if channel == "" {
		// Validate all channels
		channels, err := prov.ListChannels(cmd.Context())
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}

		fmt.Fprintln(out, "Channel Validation")
		fmt.Fprintln(out, "==================")
		for _, ch := range channels {
			err := prov.ValidateChannel(cmd.Context(), ch.Type)
			if err != nil {
				fmt.Fprintf(out, "%-12s ✗ %v\n", ch.Type, err)
			} else {
				fmt.Fprintf(out, "%-12s ✓ Valid\n", ch.Type)
			}
		}
	} else {
		// Validate specific channel
		channelType := models.ChannelType(channel)
		if err := prov.ValidateChannel(cmd.Context(), channelType); err != nil {
			return fmt.Errorf("%s: %w", channel, err)
		}
		fmt.Fprintf(out, "%s: Valid\n", channel)
	}

	return nil
}

