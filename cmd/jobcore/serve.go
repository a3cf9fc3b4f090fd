package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"jobcore/internal/api"
	"jobcore/internal/config"
	"jobcore/internal/dispatcher"
	"jobcore/internal/health"
	"jobcore/internal/job"
	"jobcore/internal/observability"
	"jobcore/internal/pipeline"
	"jobcore/internal/runner/docker"
	"jobcore/internal/workflow"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the job and workflow HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	svcCfg := config.LoadServiceConfig()
	slog.SetDefault(observability.NewLogger(os.Stdout, svcCfg.LogFormat, svcCfg.LogLevel))

	// Setup metrics and tracing
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}
	shutdownTracing, err := observability.NewTracerProvider(ctx, svcCfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("Tracer shutdown error", "error", err)
		}
	}()

	// Create callback dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcher.LoadConfigFromEnv(), metrics)
	publisher := dispatcher.NewPublisher(eventDispatcher, svcCfg.CallbackURL, svcCfg.CallbackKey, svcCfg.CallbackEvents)
	if publisher != nil {
		slog.Info("Callbacks enabled", "destination", svcCfg.CallbackURL, "events", svcCfg.CallbackEvents)
	}

	registry := job.NewRegistry()
	checks := map[string]health.ReadinessChecker{"logdir": health.LogDirCheck(svcCfg.LogDir)}

	var runner *docker.Runner
	if svcCfg.DockerEnabled {
		runnerCfg := docker.LoadConfigFromEnv()
		runnerCfg.LogDir = svcCfg.LogDir
		runnerCfg.ResultsDir = svcCfg.ResultsDir
		runner, err = docker.New(runnerCfg)
		if err != nil {
			return err
		}
		runner.Register(registry)
		checks["docker"] = runner
		slog.Info("Docker runner enabled", "taskTypes", registry.Types())
	}

	jobs := job.New(job.Options{
		LogDir:       svcCfg.LogDir,
		PollInterval: svcCfg.PollInterval,
		Registry:     registry,
		Metrics:      metrics,
		Publisher:    publisher,
	})

	pipelines, err := loadPipelines(svcCfg.PipelinesFile, registry, workflow.Config{
		Launcher:  jobs,
		Metrics:   metrics,
		Publisher: publisher,
	})
	if err != nil {
		return err
	}

	healthChecker := health.NewChecker(checks)

	router := api.NewRouter(api.RouterConfig{
		Jobs:          jobs,
		Pipelines:     pipelines,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// No write timeout: job starts and tail streams last as long as the job.
	apiServer := &http.Server{
		Addr:              ":" + svcCfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port, "logDir", svcCfg.LogDir)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: stop the running job so blocked requests can return
	if err := jobs.Cancel(); err == nil {
		slog.Info("Cancelled running job", "jobId", jobs.Current().JobID)
	}

	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain callback dispatcher
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	if runner != nil {
		if err := runner.Close(dispatcherCtx); err != nil {
			slog.Warn("Docker runner shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}

// loadPipelines builds a session per pipeline in path. A missing file
// disables the workflow endpoints.
func loadPipelines(path string, registry *job.Registry, wcfg workflow.Config) (*pipeline.Manager, error) {
	f, err := pipeline.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("No pipelines file, workflows disabled", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := pipeline.NewManager(f, registry, wcfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Pipelines loaded", "path", path, "pipelines", m.Names())
	return m, nil
}
