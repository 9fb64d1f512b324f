// Command certpipe runs the compliance-certificate ingestion service: the
// HTTP API, the Postgres-backed queue workers and the scheduled sweeps, all
// in one process.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/complianceai/certpipe/pkg/api"
	"github.com/complianceai/certpipe/pkg/config"
	"github.com/complianceai/certpipe/pkg/docstore"
	"github.com/complianceai/certpipe/pkg/events"
	"github.com/complianceai/certpipe/pkg/extraction"
	"github.com/complianceai/certpipe/pkg/ingest"
	"github.com/complianceai/certpipe/pkg/observability"
	"github.com/complianceai/certpipe/pkg/ocr"
	"github.com/complianceai/certpipe/pkg/queue"
	"github.com/complianceai/certpipe/pkg/ratelimit"
	"github.com/complianceai/certpipe/pkg/store"
	"github.com/complianceai/certpipe/pkg/textextract"
	"github.com/complianceai/certpipe/pkg/vision"
	"github.com/complianceai/certpipe/pkg/watchdog"
	"github.com/complianceai/certpipe/pkg/webhook"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub the long-running path.
var startServer = runServer

// Run dispatches the subcommand. With no argument it serves.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 1 {
		cmd = args[1]
	}
	switch cmd {
	case "serve":
		return startServer(stderr)
	case "migrate":
		return runMigrate(stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "certpipe "+version)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q (want serve, migrate or version)\n", cmd)
		return 2
	}
}

func runMigrate(stdout, stderr io.Writer) int {
	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(stderr, "DATABASE_URL is required for migrate")
		return 1
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	if err := store.Migrate(context.Background(), db); err != nil {
		fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "migrations applied")
	return 0
}

func runServer(stderr io.Writer) int {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if cfg.DatabaseURL == "" {
		err = serveLite(ctx, cfg, logger)
	} else {
		err = serve(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("server exited", "error", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	stores := store.New(db)

	snap, err := stores.Settings.Snapshot(ctx)
	if err != nil {
		logger.Warn("load factory settings, using defaults", "error", err)
		snap = store.SettingsSnapshot(nil)
	}
	settings := config.ResolveRuntimeSettings(snap)

	telCfg := observability.DefaultConfig()
	telCfg.Enabled = cfg.TelemetryEnabled
	telCfg.OTLPEndpoint = cfg.OTLPEndpoint
	telCfg.ServiceVersion = version
	telemetry, err := observability.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutCtx)
	}()

	docs, err := docstore.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init document store: %w", err)
	}

	prompts, err := vision.LoadPromptRegistry(cfg.PromptCatalogPath)
	if err != nil {
		return fmt.Errorf("load prompt catalogue: %w", err)
	}
	validator, err := extraction.NewValidator()
	if err != nil {
		return fmt.Errorf("compile extraction schemas: %w", err)
	}
	patterns, err := extraction.LoadPatternLibrary(cfg.PatternLibraryPath)
	if err != nil {
		return fmt.Errorf("load pattern library: %w", err)
	}
	orchestrator := extraction.New(
		textextract.New(cfg.AssetsDir, logger),
		ocr.NewClient(cfg.AzureDIEndpoint, cfg.AzureDIKey, logger),
		vision.NewClient(cfg.AnthropicModel, prompts, logger),
		validator, patterns, nil, logger)

	broker := events.NewBroker(logger)
	q := queue.New(db, logger)
	q.Tune(queue.Tunables{
		RetryLimit:         settings.JobRetryLimit,
		RetryDelay:         time.Duration(settings.JobRetryDelaySeconds) * time.Second,
		ArchiveFailedAfter: time.Duration(settings.JobArchiveFailedDays) * 24 * time.Hour,
		DeleteAfter:        time.Duration(settings.JobDeleteAfterDays) * 24 * time.Hour,
	})

	coordinator := ingest.New(ingest.Deps{
		Jobs:        stores.Ingestions,
		Certs:       stores.Certificates,
		Extracts:    stores.Extractions,
		Actions:     stores.Actions,
		Properties:  stores.Properties,
		Rulebook:    stores.Rulebook,
		Events:      stores.Webhooks,
		Docs:        docs,
		Extractor:   orchestrator,
		Publisher:   broker,
		Logger:      logger,
		MaxAttempts: settings.JobRetryLimit,
	})
	deliverer := webhook.NewDeliverer(logger)
	deliveries := webhook.NewWorker(stores.Webhooks, q, deliverer, logger)
	sweeper := watchdog.New(stores.Certificates, stores.Ingestions,
		time.Duration(settings.ProcessingTimeoutMinutes)*time.Minute, logger)

	var limiter ratelimit.Store
	if cfg.RedisAddr != "" {
		redisLimiter := ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		defer func() { _ = redisLimiter.Close() }()
		limiter = redisLimiter
	} else {
		limiter = ratelimit.NewMemoryStore()
	}

	tracked := func(name string, h queue.Handler) queue.Handler {
		return func(ctx context.Context, job *queue.Job) error {
			ctx, done := telemetry.TrackOperation(ctx, name)
			err := h(ctx, job)
			done(err)
			return err
		}
	}
	q.Work(queue.QueueCertificateIngestion, queue.IngestionWorkers,
		tracked("certificate.ingest", coordinator.HandleJob))
	q.Work(queue.QueueWebhookDelivery, queue.DeliveryWorkers,
		tracked("webhook.deliver", deliveries.HandleDelivery))
	q.Work(queue.QueueCertificateWatchdog, 1, sweeper.Handle)
	q.Work(queue.QueueRateLimitCleanup, 1, ratelimit.CleanupHandler(limiter, logger))

	// Reporting refreshes run in the warehouse; these rows just mark the
	// refresh points for it to pick up.
	for _, name := range []string{
		queue.QueueReportingRefresh,
		queue.QueueScheduledReport,
		queue.QueuePatternAnalysis,
		queue.QueueMVRefresh,
	} {
		q.Work(name, 1, func(ctx context.Context, job *queue.Job) error {
			logger.InfoContext(ctx, "refresh point recorded", "queue", job.Queue, "job", job.ID)
			return nil
		})
	}

	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	defer q.Stop()

	if err := watchdog.Register(ctx, q, settings.WatchdogIntervalMinutes); err != nil {
		return fmt.Errorf("schedule watchdog: %w", err)
	}
	schedules := []struct {
		name, queue, spec string
	}{
		{"rate-limit-cleanup", queue.QueueRateLimitCleanup, "*/10 * * * *"},
		{"reporting-refresh", queue.QueueReportingRefresh, "0 * * * *"},
		{"scheduled-report", queue.QueueScheduledReport, "0 7 * * *"},
		{"pattern-analysis", queue.QueuePatternAnalysis, "30 1 * * *"},
		{"mv-refresh", queue.QueueMVRefresh, "15 * * * *"},
	}
	for _, s := range schedules {
		if err := q.Schedule(ctx, s.name, s.queue, s.spec, nil); err != nil {
			return fmt.Errorf("schedule %s: %w", s.name, err)
		}
	}

	go deliveries.Run(ctx)

	server := api.NewServer(api.Deps{
		Jobs:     stores.Ingestions,
		Certs:    stores.Certificates,
		Actions:  stores.Actions,
		Docs:     docs,
		Queue:    q,
		Incoming: stores.Webhooks,
		Enqueue: func(ctx context.Context, jobID string) (string, error) {
			return ingest.Enqueue(ctx, q, jobID)
		},
		ReplayEvent: deliveries.ReplayEvent,
		TriggerWatchdog: func(ctx context.Context) (string, error) {
			return watchdog.TriggerManual(ctx, q)
		},
		Events:       broker,
		RateLimit:    ratelimit.Middleware(limiter, ratelimit.DefaultPolicy, ratelimit.DefaultKey, logger),
		JWTSecret:    cfg.IntegrationJWTSecret,
		AdminKeyHash: cfg.AdminAPIKeyHash,
		Logger:       logger,
	})

	logger.Info("certpipe listening", "port", cfg.Port, "version", version)
	return listenAndServe(ctx, cfg.Port, server.Handler(), logger)
}

// serveLite boots the HTTP surface over a local sqlite file: the inbound
// integration log and settings work, everything queue- or Postgres-backed
// reports unavailable. Useful for local inspection and webhook capture.
func serveLite(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	lite, err := store.OpenLite("certpipe.db")
	if err != nil {
		return fmt.Errorf("open lite store: %w", err)
	}
	defer func() { _ = lite.Close() }()

	docs, err := docstore.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init document store: %w", err)
	}

	server := api.NewServer(api.Deps{
		Jobs:         liteJobs{},
		Certs:        liteCerts{},
		Actions:      liteActions{},
		Docs:         docs,
		Queue:        liteQueue{},
		Incoming:     lite,
		JWTSecret:    cfg.IntegrationJWTSecret,
		AdminKeyHash: cfg.AdminAPIKeyHash,
		Logger:       logger,
	})

	logger.Info("certpipe listening in lite mode", "port", cfg.Port, "version", version)
	return listenAndServe(ctx, cfg.Port, server.Handler(), logger)
}

func listenAndServe(ctx context.Context, port string, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on :%s: %w", port, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
