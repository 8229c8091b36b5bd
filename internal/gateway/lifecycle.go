// Package gateway provides the main Nexus gateway server.
//
// lifecycle.go contains server lifecycle management: startup, shutdown, and
// background task management (task scheduler, job pruning).
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus-assist/internal/sessions"
	"github.com/haasonsaas/nexus-assist/internal/tasks"
)

// Start begins serving requests and starts all background services.
// This method blocks until the HTTP server stops or encounters an error.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	stateDir := s.config.Workspace.Path
	if stateDir == "" {
		stateDir = ".nexus"
	}
	lock, err := AcquireGatewayLock(GatewayLockOptions{
		StateDir:      stateDir,
		ConfigPath:    s.configPath,
		AllowMultiple: s.config.Cluster.Enabled && s.config.Cluster.AllowMultipleGateways,
	})
	if err != nil {
		return fmt.Errorf("failed to acquire gateway lock: %w", err)
	}
	s.singletonLock = lock

	// Start channel adapters (Discord, Slack, Telegram trigger ingestion)
	if err := s.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	if s.cronScheduler != nil {
		if err := s.cronScheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start cron scheduler: %w", err)
		}
	}

	if err := s.startTaskScheduler(ctx); err != nil {
		return fmt.Errorf("failed to start task scheduler: %w", err)
	}

	// Populate the model catalog from Bedrock in the background when enabled
	s.startBedrockDiscovery(ctx)

	// Start message processing
	s.startProcessing(ctx)

	// Start job pruning background task
	s.startJobPruning(ctx)

	// Start active runs cleanup background task
	s.startActiveRunsCleanup(ctx)

	return s.startHTTPServer(ctx)
}

// Stop gracefully shuts down the server and all background services.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")

	if s.cancel != nil {
		s.cancel()
	}
	if s.startupCancel != nil {
		s.startupCancel()
	}

	s.stopHTTPServer(ctx)

	if err := s.channels.StopAll(ctx); err != nil {
		s.logger.Error("error stopping channels", "error", err)
	}

	if err := s.waitForProcessing(ctx); err != nil {
		return err
	}

	if closer, ok := s.sessions.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing session store", "error", err)
		}
	}
	if closer, ok := s.sessionLocker.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing session locker", "error", err)
		}
	}

	if s.vectorMemory != nil {
		if err := s.vectorMemory.Close(); err != nil {
			s.logger.Error("error closing vector memory", "error", err)
		}
	}
	if s.cronScheduler != nil {
		if err := s.cronScheduler.Stop(ctx); err != nil {
			s.logger.Error("error stopping cron scheduler", "error", err)
		}
	}
	if s.taskScheduler != nil {
		if err := s.taskScheduler.Stop(ctx); err != nil {
			s.logger.Error("error stopping task scheduler", "error", err)
		}
	}
	if closer, ok := s.taskStore.(tasks.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing task store", "error", err)
		}
	}
	if err := s.stores.Close(); err != nil {
		s.logger.Error("error closing storage stores", "error", err)
	}
	if closer, ok := s.jobStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing job store", "error", err)
		}
	}
	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("error shutting down tracer", "error", err)
		}
	}
	s.saveTape()

	if s.singletonLock != nil {
		if err := s.singletonLock.Release(); err != nil {
			s.logger.Error("error releasing gateway lock", "error", err)
		}
	}

	return nil
}

// startTaskScheduler initializes and starts the task scheduler if enabled.
func (s *Server) startTaskScheduler(ctx context.Context) error {
	if s.taskStore == nil || !s.config.Tasks.Enabled {
		return nil
	}

	runtime, err := s.ensureRuntime(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime for task scheduler: %w", err)
	}

	var agentExecutor tasks.Executor = tasks.NewAgentExecutor(runtime, s.sessions, tasks.AgentExecutorConfig{
		Logger: s.logger.With("component", "task-executor"),
	})
	if s.config.Agents.Enabled() {
		// Cron fires target the root orchestrator when an agent graph is
		// configured.
		agentExecutor = &scheduledTriggerExecutor{server: s}
	}

	var messageExecutor tasks.Executor
	if s.channels != nil {
		messageExecutor = NewMessageExecutor(s.channels, MessageExecutorConfig{
			Sessions: s.sessions,
			Scoping: sessions.ScopeConfig{
				DMScope:       s.config.Session.Scoping.DMScope,
				IdentityLinks: s.config.Session.Scoping.IdentityLinks,
			},
			Logger: func(format string, args ...any) {
				s.logger.Info(fmt.Sprintf(format, args...), "component", "message-executor")
			},
		})
	}

	executor := s.wrapExecutorWithResults(tasks.NewRoutingExecutor(agentExecutor, messageExecutor, s.logger.With("component", "routing-executor")))

	schedulerCfg := tasks.DefaultSchedulerConfig()
	if s.config.Tasks.WorkerID != "" {
		schedulerCfg.WorkerID = s.config.Tasks.WorkerID
	}
	if s.config.Tasks.PollInterval > 0 {
		schedulerCfg.PollInterval = s.config.Tasks.PollInterval
	}
	if s.config.Tasks.AcquireInterval > 0 {
		schedulerCfg.AcquireInterval = s.config.Tasks.AcquireInterval
	}
	if s.config.Tasks.LockDuration > 0 {
		schedulerCfg.LockDuration = s.config.Tasks.LockDuration
	}
	if s.config.Tasks.MaxConcurrency > 0 {
		schedulerCfg.MaxConcurrency = s.config.Tasks.MaxConcurrency
	}
	if s.config.Tasks.CleanupInterval > 0 {
		schedulerCfg.CleanupInterval = s.config.Tasks.CleanupInterval
	}
	if s.config.Tasks.StaleTimeout > 0 {
		schedulerCfg.StaleTimeout = s.config.Tasks.StaleTimeout
	}
	schedulerCfg.Logger = s.logger.With("component", "task-scheduler")

	s.taskScheduler = tasks.NewScheduler(s.taskStore, executor, schedulerCfg)

	if err := s.taskScheduler.Start(ctx); err != nil {
		return fmt.Errorf("task scheduler start: %w", err)
	}

	s.logger.Info("task scheduler started",
		"worker_id", s.taskScheduler.WorkerID(),
		"max_concurrency", schedulerCfg.MaxConcurrency,
	)

	return nil
}

// startJobPruning starts a background goroutine that prunes old jobs.
func (s *Server) startJobPruning(ctx context.Context) {
	if s.jobStore == nil {
		return
	}
	retention := s.config.Tools.Jobs.Retention
	interval := s.config.Tools.Jobs.PruneInterval
	if retention <= 0 || interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := s.jobStore.Prune(ctx, retention)
				if err != nil {
					s.logger.Error("job pruning failed", "error", err)
				} else if pruned > 0 {
					s.logger.Info("pruned old jobs", "count", pruned)
				}
			}
		}
	}()
}

// startActiveRunsCleanup starts a background goroutine that cleans up stale
// active runs, preventing unbounded memory growth from orphaned entries.
func (s *Server) startActiveRunsCleanup(ctx context.Context) {
	const cleanupInterval = 5 * time.Minute

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupStaleActiveRuns()
			}
		}
	}()
}
