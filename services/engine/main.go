// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/millyweb/contextengine/pkg/logging"
	"github.com/millyweb/contextengine/services/engine/advisories"
	"github.com/millyweb/contextengine/services/engine/alerts"
	"github.com/millyweb/contextengine/services/engine/archive"
	"github.com/millyweb/contextengine/services/engine/backup"
	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/degradation"
	"github.com/millyweb/contextengine/services/engine/integrity"
	"github.com/millyweb/contextengine/services/engine/kb"
	"github.com/millyweb/contextengine/services/engine/llm"
	"github.com/millyweb/contextengine/services/engine/observability"
	"github.com/millyweb/contextengine/services/engine/retention"
	"github.com/millyweb/contextengine/services/engine/routes"
	"github.com/millyweb/contextengine/services/engine/sessions"
	"github.com/millyweb/contextengine/services/engine/transcripts"
	"github.com/millyweb/contextengine/services/engine/watcher"
	"github.com/millyweb/contextengine/services/engine/worker"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "context-engine-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("context-engine")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// advisoryStores adapts the two advisory stores to the worker's sink.
type advisoryStores struct {
	nudges    *advisories.NudgeStore
	anomalies *advisories.AnomalyStore
}

func (a advisoryStores) AddNudge(n datatypes.Nudge) (bool, error) {
	return a.nudges.Add(n)
}

func (a advisoryStores) AddAnomaly(an datatypes.Anomaly) (bool, error) {
	return a.anomalies.Add(an)
}

// maintenance bundles the idle-loop hooks.
type maintenance struct {
	backups   *backup.Manager
	retention *retention.Runner
}

func (m maintenance) AutoBackup(ctx context.Context) error { return m.backups.AutoBackup(ctx) }
func (m maintenance) RunRetention(ctx context.Context) (map[string]int, error) {
	return m.retention.RunRetention(ctx)
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.SessionsDir, cfg.TranscriptsDir, cfg.BackupsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("cannot create %s: %v", dir, err)
		}
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	settings := config.NewSettingsStore(cfg.SettingsFile, cfg)
	degrade := degradation.NewManager()
	metrics := observability.NewEngineMetrics()
	start := time.Now()

	weaviateClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		log.Fatalf("failed to create weaviate client: %v", err)
	}
	arch := archive.NewStore(weaviateClient, degrade, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := arch.EnsureSchema(ctx); err != nil {
		logger.Warn("archive schema not ready, continuing degraded", "error", err)
	}

	store := sessions.NewStore(cfg.SessionsDir)
	tstore := transcripts.NewStore(cfg.TranscriptsDir)
	nudges := advisories.NewNudgeStore(cfg.NudgesFile)
	anomalies := advisories.NewAnomalyStore(cfg.AnomaliesFile)
	master := kb.NewGateway(cfg, degrade, logger)
	model := llm.NewClient(cfg, settings, degrade, logger, metrics.LLMCallsTotal.Inc)
	checker := integrity.NewChecker(nil)
	notifier := alerts.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID,
		func() bool { return settings.Get().Notifications.TelegramEnabled }, logger)

	var uploader backup.Uploader
	if cfg.GCSBucket != "" {
		gcs, err := backup.NewGCSClient(ctx, cfg.GCSBucket, os.Getenv("BACKUP_GCS_KEY_FILE"))
		if err != nil {
			logger.Warn("object store unavailable, backups stay local", "error", err)
		} else {
			uploader = gcs
		}
	}
	backups := backup.NewManager(cfg, arch, master, uploader, logger)
	sweeper := retention.NewRunner(settings, arch, logger)

	wrk := worker.New(cfg, store, model, arch, master,
		advisoryStores{nudges: nudges, anomalies: anomalies}, notifier, checker, degrade,
		maintenance{backups: backups, retention: sweeper},
		worker.Counters{
			Processed:  metrics.WorkerProcessedTotal.Inc,
			Failed:     metrics.WorkerFailedTotal.Inc,
			Skipped:    metrics.WorkerSkippedTotal.Inc,
			QueueDepth: func(n int) { metrics.WorkerQueueDepth.Set(float64(n)) },
		}, logger)

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("context-engine"))

	deps := routes.Deps{
		Cfg:       cfg,
		Settings:  settings,
		Archive:   arch,
		Master:    master,
		Store:     store,
		TStore:    tstore,
		Extract:   model,
		Compress:  model,
		Model:     model,
		Queue:     wrk,
		Worker:    wrk,
		Nudges:    nudges,
		Anomalies: anomalies,
		Degrade:   degrade,
		Integrity: checker,
		Backups:   backups,
		Retention: sweeper,
		Metrics:   metrics,
		Logger:    logger,
		Start:     start,
	}

	group, ctx := errgroup.WithContext(ctx)

	if settings.Get().Watcher.Enabled && len(cfg.WatchDirs) > 0 {
		watch := watcher.New(cfg, settings, store, wrk, notifier, logger)
		deps.Watcher = watch
		group.Go(func() error { return watch.Run(ctx) })
	}
	if cfg.WatchTranscriptDir != "" {
		drop := watcher.NewDropZone(cfg.WatchTranscriptDir, store, wrk, logger)
		group.Go(func() error { return drop.Run(ctx) })
	}

	routes.SetupRoutes(router, deps)

	group.Go(func() error { return wrk.Run(ctx) })
	group.Go(func() error {
		srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: router}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("context engine listening", "port", cfg.Port, "learning_mode", cfg.LearningMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("engine exited: %v", err)
	}
	logger.Info("context engine stopped")
}
