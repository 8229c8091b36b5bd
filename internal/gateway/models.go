package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/models"
)

// startBedrockDiscovery registers discovered Bedrock models with the global
// model catalog on a background goroutine. Discovery failures are logged and
// non-fatal; the built-in catalog entries remain available.
func (s *Server) startBedrockDiscovery(ctx context.Context) {
	if s == nil || !s.config.LLM.Bedrock.Enabled {
		return
	}
	discovery := models.NewBedrockDiscovery(buildBedrockDiscoveryConfig(s.config.LLM.Bedrock, s.logger), s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := discovery.RegisterWithCatalog(ctx, models.DefaultCatalog); err != nil {
			s.logger.Warn("bedrock model discovery failed", "error", err)
			return
		}
		s.logger.Info("bedrock models registered", "count", len(models.ListByProvider(models.ProviderBedrock)))
	}()
}

func buildBedrockDiscoveryConfig(cfg config.BedrockConfig, logger *slog.Logger) models.BedrockDiscoveryConfig {
	out := models.BedrockDiscoveryConfig{
		Enabled:              cfg.Enabled,
		Region:               strings.TrimSpace(cfg.Region),
		ProviderFilter:       cfg.ProviderFilter,
		DefaultContextWindow: cfg.DefaultContextWindow,
		DefaultMaxTokens:     cfg.DefaultMaxTokens,
	}
	if strings.TrimSpace(cfg.RefreshInterval) != "" {
		parsed, err := time.ParseDuration(cfg.RefreshInterval)
		if err != nil {
			if logger != nil {
				logger.Warn("invalid bedrock refresh_interval", "value", cfg.RefreshInterval, "error", err)
			}
		} else {
			out.RefreshInterval = parsed
		}
	}
	return out
}
