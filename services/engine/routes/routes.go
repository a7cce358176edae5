// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/advisories"
	"github.com/millyweb/contextengine/services/engine/backup"
	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/degradation"
	"github.com/millyweb/contextengine/services/engine/handlers"
	"github.com/millyweb/contextengine/services/engine/integrity"
	"github.com/millyweb/contextengine/services/engine/middleware"
	"github.com/millyweb/contextengine/services/engine/observability"
	"github.com/millyweb/contextengine/services/engine/retention"
	"github.com/millyweb/contextengine/services/engine/sessions"
	"github.com/millyweb/contextengine/services/engine/transcripts"
)

// Deps bundles everything the HTTP surface talks to. The composition root
// fills it once at startup.
type Deps struct {
	Cfg       *config.Config
	Settings  *config.SettingsStore
	Archive   handlers.Archiver
	Master    handlers.MasterGateway
	Store     *sessions.Store
	TStore    *transcripts.Store
	Extract   handlers.Extractor
	Compress  handlers.Compressor
	Model     handlers.ModelInfo
	Queue     handlers.Queue
	Worker    handlers.WorkerInfo
	Nudges    *advisories.NudgeStore
	Anomalies *advisories.AnomalyStore
	Degrade   *degradation.Manager
	Integrity *integrity.Checker
	Backups   *backup.Manager
	Retention *retention.Runner
	Watcher   handlers.WatcherStats
	Metrics   *observability.EngineMetrics
	Logger    *slog.Logger
	Start     time.Time
}

// SetupRoutes registers the full API surface.
//
// Core Endpoints:
//
//	POST /api/load - Assemble context for a new session
//	POST /api/save - Persist a finished session
//	POST /api/checkpoint - Record a mid-session note
//	POST /api/search - Semantic archive search (GET variant for curl)
//	POST /api/correct - Replace a wrong remembered fact
//
// External Agent Endpoints (API-key gated):
//
//	POST /api/ingest - Accept a session from an external agent
//	POST /api/ingest/raw - Accept raw content for extraction
//	GET  /api/ingest/sources - Source aggregation
//
// Introspection:
//
//	GET /health (also /api/health), /metrics, /api/summary, /api/stats,
//	    /api/worker, /api/nudges, /api/anomalies, /api/degradation,
//	    /api/transcripts, /api/internal/master-context, /api/watcher
//
// Administration:
//
//	/api/bootstrap/*, /api/backup/*, /api/retention*, /api/settings*
func SetupRoutes(router *gin.Engine, d Deps) {
	health := handlers.Health(d.Cfg, d.Store, d.Worker, d.Degrade, d.Start)
	router.GET("/health", health)
	if d.Metrics != nil {
		router.GET("/metrics", handlers.Metrics(d.Metrics, d.Store, d.Archive, d.Master,
			d.Worker, d.Backups, d.Degrade, d.Start))
	}

	api := router.Group("/api")
	{
		api.GET("/health", health)
		api.POST("/load", handlers.Load(d.Cfg, d.Archive, d.Master, d.Store, d.Nudges, d.Degrade, d.Logger))
		api.POST("/save", handlers.Save(d.Store, d.TStore, d.Extract, d.Queue, d.Logger))
		api.POST("/checkpoint", handlers.Checkpoint(d.Store, d.TStore, d.Extract, d.Queue, d.Logger))
		api.POST("/search", handlers.Search(d.Archive, d.Logger))
		api.GET("/search", handlers.SearchGet(d.Archive, d.Logger))
		api.POST("/correct", handlers.Correct(d.Archive, d.Master, d.Logger))

		ingest := api.Group("", middleware.IngestAuth(d.Cfg.IngestAPIKey))
		{
			ingest.POST("/ingest", handlers.Ingest(d.Store, d.Extract, d.Queue, d.Logger))
			ingest.POST("/ingest/raw", handlers.IngestRaw(d.Store, d.Extract, d.Queue, d.Logger))
			ingest.GET("/ingest/sources", handlers.IngestSources(d.Store))
		}

		api.GET("/summary", handlers.Summary(d.Master))
		api.GET("/internal/master-context", handlers.MasterContext(d.Master))
		api.GET("/stats", handlers.Stats(d.Store, d.Archive, d.Worker, d.Model))
		api.GET("/worker", handlers.WorkerStatus(d.Worker))
		api.GET("/degradation", handlers.DegradationStatus(d.Degrade))
		api.GET("/transcripts", handlers.Transcripts(d.TStore))
		api.GET("/watcher", handlers.WatcherStatus(d.Watcher))

		api.GET("/nudges", handlers.Nudges(d.Nudges))
		api.POST("/nudges/dismiss", handlers.DismissNudge(d.Nudges))
		api.GET("/anomalies", handlers.Anomalies(d.Anomalies))
		api.POST("/anomalies/dismiss", handlers.DismissAnomaly(d.Anomalies))

		bootstrap := api.Group("/bootstrap")
		{
			bootstrap.GET("/status", handlers.BootstrapStatus(d.Store, d.Master))
			bootstrap.POST("/reprocess", handlers.Reprocess(d.Store, d.Queue, d.Logger))
			bootstrap.POST("/rebuild-master", handlers.RebuildMaster(d.Cfg, d.Archive, d.Master,
				d.Store, d.Compress, d.Integrity, d.Logger))
			bootstrap.POST("/scaffold", handlers.ScaffoldMaster(d.Master, d.Logger))
		}

		api.POST("/backup/create", handlers.BackupCreate(d.Backups, d.Logger))
		api.GET("/backup/list", handlers.BackupList(d.Backups))
		api.POST("/backup/restore", handlers.BackupRestore(d.Backups, d.Logger))

		api.GET("/retention", handlers.RetentionPolicy(d.Retention))
		api.POST("/retention/run", handlers.RetentionRun(d.Retention, d.Logger))

		api.GET("/settings", handlers.SettingsGet(d.Settings))
		api.POST("/settings", handlers.SettingsUpdate(d.Settings, d.Logger))
		api.POST("/settings/test-llm", handlers.TestLLM(d.Extract))
	}
}
