// Package main is the entry point for the group watcher service.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/groupwatch/internal/auditlog"
	"github.com/onnwee/groupwatch/internal/config"
	"github.com/onnwee/groupwatch/internal/health"
	"github.com/onnwee/groupwatch/internal/jobs"
	"github.com/onnwee/groupwatch/internal/middleware"
	"github.com/onnwee/groupwatch/internal/notify"
	"github.com/onnwee/groupwatch/internal/platform"
	"github.com/onnwee/groupwatch/internal/policy"
	"github.com/onnwee/groupwatch/internal/poller"
	"github.com/onnwee/groupwatch/internal/remediation"
	"github.com/onnwee/groupwatch/internal/security"
	"github.com/onnwee/groupwatch/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	backfillPages := flag.Int("backfill", 0, "fetch N pages of historical audit log before polling (0 disables)")
	flag.Parse()

	if *help {
		fmt.Println("Groupwatch Audit Log Watcher")
		fmt.Println()
		fmt.Println("Usage: watcher [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	// Tracing
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "groupwatch",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporterType,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	// Database. The watcher cannot run without its stores, so any
	// connection failure at startup is fatal.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	cancelPing()

	// Stores
	entries := auditlog.NewPostgresStore(db, logger)
	actions := security.NewPostgresActionStore(db, logger)
	incidents := security.NewPostgresIncidentStore(db, logger)

	// Policy: global defaults come from config, per-group overrides
	// from the database.
	global := policy.GlobalPolicy{
		MonitoringEnabled:  cfg.MonitoringEnabled,
		AutoRemoveRoles:    cfg.AutoRemoveRoles,
		NotifyDiscord:      cfg.NotifyDiscord,
		RequireOwner:       cfg.RequireOwner,
		OwnerUserID:        cfg.OwnerUserID,
		WebhookURL:         cfg.WebhookURL,
		SecurityWebhookURL: cfg.SecurityWebhookURL,
	}
	provider := policy.NewPostgresProvider(db, global, logger)
	resolver := policy.NewResolver(provider)

	// Platform API client
	client, err := platform.NewClient(platform.Config{
		BaseURL:            cfg.PlatformBaseURL,
		AuthToken:          cfg.PlatformAuthToken,
		MinRequestInterval: time.Duration(cfg.PlatformMinInterval) * time.Millisecond,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("failed to create platform client", "error", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Notification and remediation paths
	webhookClient := notify.NewWebhookClient(nil, logger)
	dispatcher := notify.NewDispatcher(resolver, webhookClient, incidents, logger)
	executor := remediation.NewExecutor(client, incidents, cfg.SelfUserID, logger)

	tracker := security.NewTracker(security.TrackerConfig{
		Logger:  logger,
		Metrics: jobMetrics,
	}, actions, incidents, resolver, executor, dispatcher)

	// Poller
	watch := poller.New(poller.Config{
		Interval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		NotifyDelay: time.Second,
		Logger:      logger,
		Metrics:     jobMetrics,
		Snapshot: func(entries []*auditlog.Entry) {
			logger.Info("audit log snapshot loaded", "entries", len(entries), "group_id", cfg.GroupID)
		},
	}, client, entries, dispatcher, tracker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional historical back-fill before the poll loop starts.
	if *backfillPages > 0 {
		logger.Info("starting historical back-fill", "group_id", cfg.GroupID, "max_pages", *backfillPages)
		total, err := watch.FetchHistorical(ctx, cfg.GroupID, *backfillPages, func(pages, cumulative int) {
			logger.Info("back-fill progress", "pages", pages, "entries", cumulative)
		})
		if err != nil {
			logger.Error("historical back-fill failed", "error", err)
			os.Exit(1)
		}
		logger.Info("historical back-fill complete", "entries", total)
	}

	if err := watch.StartPolling(ctx, cfg.GroupID); err != nil {
		logger.Error("failed to start polling", "error", err)
		os.Exit(1)
	}

	// Health and metrics endpoints
	healthHandlers := health.NewHandlers(health.HandlersConfig{
		DBChecker:     health.NewDBChecker(db),
		PollerChecker: health.NewPollerChecker(watch),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := middleware.RequestID(middleware.Logging(logger)(mux))
	if cfg.TracingEnabled {
		handler = middleware.Tracing("groupwatch")(handler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "group_id", cfg.GroupID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...")

	watch.StopPolling()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("watcher stopped")
}
