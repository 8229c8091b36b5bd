// Package gateway provides the main Nexus gateway server.
//
// server.go contains the core Server struct definition and constructor.
// Related functionality is organized in separate files:
//   - lifecycle.go: server startup, shutdown, and background tasks
//   - processing.go: message processing and broadcast handling
//   - runtime.go: runtime initialization, provider setup, tool registration
//   - helpers.go: utility functions for message handling
//   - http_server.go: HTTP surface (health, metrics, webhooks, WS, sessions, tasks)
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/agent/tape"
	"github.com/haasonsaas/nexus-assist/internal/auth"
	"github.com/haasonsaas/nexus-assist/internal/cache"
	"github.com/haasonsaas/nexus-assist/internal/channels"
	"github.com/haasonsaas/nexus-assist/internal/channels/discord"
	"github.com/haasonsaas/nexus-assist/internal/channels/slack"
	"github.com/haasonsaas/nexus-assist/internal/channels/telegram"
	"github.com/haasonsaas/nexus-assist/internal/config"
	"github.com/haasonsaas/nexus-assist/internal/cron"
	"github.com/haasonsaas/nexus-assist/internal/jobs"
	"github.com/haasonsaas/nexus-assist/internal/memory"
	"github.com/haasonsaas/nexus-assist/internal/observability"
	"github.com/haasonsaas/nexus-assist/internal/orchestrator"
	"github.com/haasonsaas/nexus-assist/internal/security"
	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/internal/skills"
	"github.com/haasonsaas/nexus-assist/internal/storage"
	"github.com/haasonsaas/nexus-assist/internal/tasks"
	"github.com/haasonsaas/nexus-assist/internal/tools/policy"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// Server is the main Nexus gateway server. It speaks plain HTTP and
// WebSocket (see http_server.go and websocket.go), manages channel
// adapters, and coordinates between the agent runtime, session store, and
// various subsystems.
type Server struct {
	config     *config.Config
	configPath string
	channels   *channels.Registry
	logger     *slog.Logger
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	startTime  time.Time

	// startupCancel cancels background discovery goroutines launched during initialization
	startupCancel context.CancelFunc

	handleMessageHook func(context.Context, *models.Message)

	runtimeMu   sync.Mutex
	runtime     *agent.Runtime
	sessions    sessions.Store
	branchStore sessions.BranchStore
	stores      storage.StoreSet

	// agentOrchestrator runs triggers through the configured agent graph;
	// nil when no agent specs are configured.
	agentOrchestrator *orchestrator.Orchestrator

	memoryLogger  *sessions.MemoryLogger
	skillsManager *skills.Manager
	vectorMemory  *memory.Manager

	authService   *auth.Service
	cronScheduler *cron.Scheduler
	taskScheduler *tasks.Scheduler
	taskStore     tasks.Store

	toolPolicyResolver *policy.Resolver
	llmProvider        agent.LLMProvider
	defaultModel       string
	jobStore           jobs.Store
	approvalChecker    *agent.ApprovalChecker
	activeRuns         map[string]activeRun
	activeRunsMu       sync.Mutex

	// sessionLocker coordinates exclusive access to a session's active run,
	// lazily created by ensureSessionLocker: DB-backed when a database is
	// configured, in-memory otherwise.
	sessionLocker sessions.Locker

	broadcastManager *BroadcastManager

	// webhookHooks serves inbound webhook requests (agent wake, custom hooks).
	webhookHooks *WebhookHooks

	// webhookHandlers holds custom webhook handlers registered by name.
	webhookMu       sync.RWMutex
	webhookHandlers map[string]WebhookHandler

	// eventStore and eventRecorder back the observability event timeline.
	eventStore    *observability.MemoryEventStore
	eventRecorder *observability.EventRecorder

	// tracer spans turns and tool calls; nil when tracing is not configured.
	tracer *observability.Tracer

	// traceShutdown flushes and stops the OpenTelemetry tracer on shutdown.
	traceShutdown func(context.Context) error

	// messageSem limits concurrent message processing to prevent unbounded goroutine growth
	messageSem chan struct{}

	// inboundDedupe drops platform redeliveries of already-seen messages.
	inboundDedupe *cache.DedupeCache

	// tapeRecorder wraps the LLM provider when llm.tape_path is set; the
	// tape is flushed to tapePath on shutdown.
	tapeRecorder *tape.Recorder
	tapePath     string

	// normalizer normalizes incoming messages to canonical format
	normalizer *MessageNormalizer

	// streamingRegistry manages streaming behavior per channel
	streamingRegistry *StreamingRegistry

	// sessionEvents fans asynchronous results and chat messages out to the
	// WebSocket subscribers of each session.
	sessionEvents *SessionBroadcasterRegistry

	// memoryHooks auto-captures conversation content and recalls relevant
	// memories into the prompt context, when vector memory is enabled.
	memoryHooks *memory.MemoryHooks

	// credentialCipher encrypts credential-store rows under the boot key.
	// Nil when no credential key is configured.
	credentialCipher *security.CredentialCipher

	// httpServer serves the HTTP API, webhook, and WebSocket surfaces
	httpServer   *http.Server
	httpListener net.Listener

	configApplyMu sync.Mutex

	// singletonLock prevents multiple gateway instances from running
	singletonLock *GatewayLockHandle
}

// NewServer creates a new gateway server with the given configuration and logger.
// If cfg is nil, an empty config is used. If logger is nil, slog.Default() is used.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Create startup context for background discovery goroutines
	startupCtx, startupCancel := context.WithCancel(context.Background())
	startupCancelUsed := false
	defer func() {
		if !startupCancelUsed {
			startupCancel()
		}
	}()

	apiKeys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, entry := range cfg.Auth.APIKeys {
		apiKeys = append(apiKeys, auth.APIKeyConfig{
			Key:    entry.Key,
			UserID: entry.UserID,
			Email:  entry.Email,
			Name:   entry.Name,
		})
	}
	authService := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     apiKeys,
	})

	// Initialize skills manager
	skillsMgr, err := skills.NewManager(&cfg.Skills, cfg.Workspace.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create skills manager: %w", err)
	}
	// Discover skills (non-blocking, errors logged)
	go func() {
		if err := skillsMgr.Discover(startupCtx); err != nil {
			logger.Error("skill discovery failed", "error", err)
			return
		}
		if err := skillsMgr.StartWatching(startupCtx); err != nil {
			logger.Error("skill watcher failed", "error", err)
		}
	}()

	// Initialize vector memory manager (optional, returns nil if not enabled)
	if cfg.VectorMemory.Enabled && cfg.VectorMemory.Pgvector.UseCockroachDB && cfg.VectorMemory.Pgvector.DSN == "" {
		cfg.VectorMemory.Pgvector.DSN = cfg.Database.URL
	}
	vectorMem, err := memory.NewManager(&cfg.VectorMemory)
	if err != nil {
		logger.Warn("vector memory not initialized", "error", err)
	}

	toolPolicyResolver := policy.NewResolver()

	// Create job store (prefer DB when available)
	var jobStore jobs.Store
	if cfg.Database.URL != "" {
		dbJobStore, err := jobs.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
		if err != nil {
			logger.Warn("job store falling back to memory", "error", err)
			jobStore = jobs.NewMemoryStore()
		} else {
			jobStore = dbJobStore
			logger.Info("using database-backed job store")
		}
	} else {
		jobStore = jobs.NewMemoryStore()
	}

	stores, err := initStorageStores(cfg)
	if err != nil {
		return nil, err
	}
	if stores.Users != nil {
		authService.SetUserStore(stores.Users)
	}
	registerOAuthProviders(authService, cfg.Auth.OAuth)

	var cronScheduler *cron.Scheduler
	if cfg.Cron.Enabled {
		cronScheduler, err = cron.NewScheduler(cfg.Cron, cron.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("cron scheduler: %w", err)
		}
	}

	// Initialize task store if tasks are enabled
	var taskStore tasks.Store
	if cfg.Tasks.Enabled && cfg.Database.URL != "" {
		taskStoreCfg := tasks.DefaultCockroachConfig()
		if cfg.Database.MaxConnections > 0 {
			taskStoreCfg.MaxOpenConns = cfg.Database.MaxConnections
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			taskStoreCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		dbTaskStore, err := tasks.NewCockroachStoreFromDSN(cfg.Database.URL, taskStoreCfg)
		if err != nil {
			logger.Warn("task store initialization failed, scheduled tasks disabled", "error", err)
		} else {
			taskStore = dbTaskStore
			logger.Info("scheduled tasks store initialized")
		}
	}

	// Initialize event store for observability timeline
	eventStore := observability.NewMemoryEventStore(10000) // Store up to 10k events
	eventRecorder := observability.NewEventRecorder(eventStore, nil)

	var traceShutdown func(context.Context) error
	var sharedTracer *observability.Tracer
	if cfg.Tracing.Endpoint != "" {
		tracer, shutdown, err := observability.NewTracer(observability.TraceConfig{
			ServiceName:    "nexus-gateway",
			ServiceVersion: cfg.Tracing.ServiceVersion,
			Environment:    cfg.Tracing.Environment,
			Endpoint:       cfg.Tracing.Endpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
		})
		if err != nil {
			logger.Warn("tracer init failed", "error", err)
		} else {
			traceShutdown = shutdown
			sharedTracer = tracer
		}
	}

	startupCancelUsed = true
	server := &Server{
		config:             cfg,
		channels:           channels.NewRegistry(),
		logger:             logger,
		startupCancel:      startupCancel,
		skillsManager:      skillsMgr,
		vectorMemory:       vectorMem,
		stores:             stores,
		authService:        authService,
		cronScheduler:      cronScheduler,
		taskStore:          taskStore,
		toolPolicyResolver: toolPolicyResolver,
		jobStore:           jobStore,
		activeRuns:         make(map[string]activeRun),
		eventStore:         eventStore,
		eventRecorder:      eventRecorder,
		tracer:             sharedTracer,
		traceShutdown:      traceShutdown,
		messageSem:         make(chan struct{}, 100), // Limit concurrent message handlers
		inboundDedupe:      cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: 5 * time.Minute, MaxSize: 10000}),
		normalizer:         NewMessageNormalizer(),
		streamingRegistry:  NewStreamingRegistry(),
		sessionEvents:      NewSessionBroadcasterRegistry(logger),
	}
	server.channels.Register(&apiChannelAdapter{events: server.sessionEvents})
	if vectorMem != nil {
		server.memoryHooks = memory.NewMemoryHooks(vectorMem, cfg.VectorMemory.AutoCapture, cfg.VectorMemory.AutoRecall, logger)
	}
	if key := strings.TrimSpace(cfg.Auth.CredentialKey); key != "" {
		rawKey, err := security.DecodeKey(key)
		if err != nil {
			return nil, fmt.Errorf("invalid credential key: %w", err)
		}
		cipher, err := security.NewCredentialCipher(rawKey)
		if err != nil {
			return nil, fmt.Errorf("credential cipher: %w", err)
		}
		server.credentialCipher = cipher
	}

	if err := server.initWebhookHooks(); err != nil {
		logger.Warn("webhook hooks init failed", "error", err)
	}

	if err := server.registerChannelsFromConfig(); err != nil {
		return nil, err
	}

	return server, nil
}

// Channels returns the channel registry for accessing registered channel adapters.
func (s *Server) Channels() *channels.Registry {
	return s.channels
}

// SetConfigPath records the path the configuration was loaded from, used by
// the gateway singleton lock and HTTP status endpoint.
func (s *Server) SetConfigPath(path string) {
	s.configPath = path
}

// TaskStore returns the task store for scheduled task operations.
func (s *Server) TaskStore() tasks.Store {
	return s.taskStore
}

// Normalizer returns the message normalizer.
func (s *Server) Normalizer() *MessageNormalizer {
	return s.normalizer
}

// StreamingRegistry returns the streaming behavior registry.
func (s *Server) StreamingRegistry() *StreamingRegistry {
	return s.streamingRegistry
}

// registerChannelsFromConfig registers channel adapters based on configuration.
func (s *Server) registerChannelsFromConfig() error {
	cfg := s.config.Channels

	if cfg.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{Token: cfg.Telegram.BotToken})
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		s.channels.Register(adapter)
	}

	if cfg.Slack.Enabled {
		adapter := slack.NewAdapter(slack.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
		})
		s.channels.Register(adapter)
	}

	if cfg.Discord.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{
			Token:  cfg.Discord.BotToken,
			Logger: s.logger,
		})
		if err != nil {
			return fmt.Errorf("discord adapter: %w", err)
		}
		s.channels.Register(adapter)
	}

	return nil
}
