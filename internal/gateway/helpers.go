// Package gateway provides the main Nexus gateway server.
//
// helpers.go contains utility functions for session-key derivation, storage
// store initialization, and OAuth provider registration.
package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/nexus-assist/internal/auth"
	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/internal/storage"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// resolveConversationID determines the unique conversation identifier for a message.
func (s *Server) resolveConversationID(msg *models.Message) (string, error) {
	switch msg.Channel {
	case models.ChannelTelegram:
		chatID := ""
		if msg.Metadata != nil {
			if id, ok := msg.Metadata[MetaChatID].(string); ok && id != "" {
				chatID = id
			}
			if chatID == "" {
				chatID = stringifyID(msg.Metadata["chat_id"])
			}
		}
		if chatID == "" && msg.SessionID != "" {
			var id int64
			if _, err := fmt.Sscanf(msg.SessionID, "telegram:%d", &id); err == nil {
				chatID = strconv.FormatInt(id, 10)
			}
		}
		if chatID == "" {
			return "", errors.New("telegram chat id missing")
		}
		threadID := ""
		if msg.Metadata != nil {
			if id, ok := msg.Metadata[MetaThreadID].(string); ok && id != "" {
				threadID = id
			}
			if threadID == "" {
				threadID = stringifyID(msg.Metadata["message_thread_id"])
			}
		}
		if threadID != "" && threadID != "0" {
			return fmt.Sprintf("%s:topic:%s", chatID, threadID), nil
		}
		return chatID, nil
	case models.ChannelSlack:
		channelID := ""
		if msg.Metadata != nil {
			if value, ok := msg.Metadata["slack_channel"].(string); ok {
				channelID = value
			}
		}
		if channelID == "" {
			return "", errors.New("slack channel id missing")
		}
		if !scopeUsesThread(s.config.Session.SlackScope) {
			return channelID, nil
		}
		threadTS := ""
		if msg.Metadata != nil {
			if value, ok := msg.Metadata["slack_thread_ts"].(string); ok {
				threadTS = value
			}
		}
		if threadTS == "" {
			if msg.Metadata != nil {
				if ts, ok := msg.Metadata["slack_ts"].(string); ok && ts != "" {
					threadTS = ts
				}
			}
		}
		if threadTS == "" {
			return channelID, nil
		}
		return fmt.Sprintf("%s:%s", channelID, threadTS), nil
	case models.ChannelDiscord:
		if msg.Metadata != nil {
			if channelID, ok := msg.Metadata["discord_channel_id"].(string); ok && channelID != "" {
				if scopeUsesThread(s.config.Session.DiscordScope) {
					if threadID, ok := msg.Metadata["discord_thread_id"].(string); ok && threadID != "" {
						return threadID, nil
					}
				}
				return channelID, nil
			}
		}
		return "", errors.New("discord channel id missing")
	default:
		return "", fmt.Errorf("unsupported channel %q", msg.Channel)
	}
}

func (s *Server) buildSessionKey(agentID string, msg *models.Message, channelID string) string {
	if msg == nil {
		return sessions.SessionKey(agentID, models.ChannelType(""), channelID)
	}
	if s == nil || s.config == nil {
		return sessions.SessionKey(agentID, msg.Channel, channelID)
	}
	convType := conversationTypeForMessage(msg)
	if convType != "dm" {
		return sessions.SessionKey(agentID, msg.Channel, channelID)
	}

	peerID := ""
	if msg.Metadata != nil {
		if id, ok := msg.Metadata[MetaUserID].(string); ok && id != "" {
			peerID = id
		}
		if peerID == "" {
			if id, ok := msg.Metadata[MetaPeerID].(string); ok && id != "" {
				peerID = id
			}
		}
	}
	if peerID == "" {
		peerID = s.extractPeerID(msg)
	}
	if peerID == "" {
		peerID = channelID
	}

	return sessions.BuildSessionKey(
		agentID,
		msg.Channel,
		peerID,
		false,
		s.config.Session.Scoping.DMScope,
		s.config.Session.Scoping.IdentityLinks,
	)
}

// buildReplyMetadata constructs metadata for an outbound message based on the inbound message.
func (s *Server) buildReplyMetadata(msg *models.Message) map[string]any {
	metadata := make(map[string]any)

	if msg.Metadata == nil {
		return metadata
	}

	switch msg.Channel {
	case models.ChannelTelegram:
		if chatID, ok := msg.Metadata["chat_id"]; ok {
			metadata["chat_id"] = chatID
		}
		if threadID, ok := msg.Metadata["message_thread_id"]; ok {
			metadata["message_thread_id"] = threadID
		} else if threadID, ok := msg.Metadata[MetaThreadID].(string); ok && threadID != "" {
			if id, err := strconv.Atoi(threadID); err == nil {
				metadata["message_thread_id"] = id
			}
		}
		if msg.ChannelID != "" {
			if id, err := strconv.Atoi(msg.ChannelID); err == nil {
				metadata["reply_to_message_id"] = id
			}
		}
	case models.ChannelSlack:
		if channelID, ok := msg.Metadata["slack_channel"].(string); ok {
			metadata["slack_channel"] = channelID
		}
		threadTS := ""
		if ts, ok := msg.Metadata["slack_thread_ts"].(string); ok && ts != "" {
			threadTS = ts
		} else if ts, ok := msg.Metadata["slack_ts"].(string); ok && ts != "" {
			threadTS = ts
		}
		if threadTS != "" {
			metadata["slack_thread_ts"] = threadTS
		}
	case models.ChannelDiscord:
		if threadID, ok := msg.Metadata["discord_thread_id"].(string); ok && threadID != "" {
			metadata["discord_channel_id"] = threadID
		} else if channelID, ok := msg.Metadata["discord_channel_id"].(string); ok {
			metadata["discord_channel_id"] = channelID
		}
	}

	return metadata
}

// scopeUsesThread determines if a channel scope should use thread-level session tracking.
func scopeUsesThread(scope string) bool {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "channel":
		return false
	default:
		return true
	}
}

// initStorageStores initializes the storage store set based on configuration.
func initStorageStores(cfg *config.Config) (storage.StoreSet, error) {
	if cfg == nil || strings.TrimSpace(cfg.Database.URL) == "" {
		return storage.NewMemoryStores(), nil
	}
	dbCfg := storage.DefaultCockroachConfig()
	if cfg.Database.MaxConnections > 0 {
		dbCfg.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		dbCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	stores, err := storage.NewCockroachStoresFromDSN(cfg.Database.URL, dbCfg)
	if err != nil {
		return storage.StoreSet{}, fmt.Errorf("storage database: %w", err)
	}
	return stores, nil
}

// registerOAuthProviders registers OAuth providers with the auth service.
func registerOAuthProviders(service *auth.Service, cfg config.OAuthConfig) {
	if service == nil {
		return
	}
	if strings.TrimSpace(cfg.Google.ClientID) != "" && strings.TrimSpace(cfg.Google.ClientSecret) != "" {
		service.RegisterProvider("google", auth.NewGoogleProvider(auth.OAuthProviderConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		}))
	}
	if strings.TrimSpace(cfg.GitHub.ClientID) != "" && strings.TrimSpace(cfg.GitHub.ClientSecret) != "" {
		service.RegisterProvider("github", auth.NewGitHubProvider(auth.OAuthProviderConfig{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
		}))
	}
}

func isHTTPURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}
