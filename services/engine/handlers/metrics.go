// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/millyweb/contextengine/services/engine/backup"
	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/degradation"
	"github.com/millyweb/contextengine/services/engine/observability"
	"github.com/millyweb/contextengine/services/engine/sessions"
)

// Metrics refreshes the state-mirroring gauges and serves the Prometheus
// scrape. Counters are bumped at the call sites; only gauges that mirror
// disk or store state are recomputed here.
func Metrics(metrics *observability.EngineMetrics, store *sessions.Store, arch Archiver,
	master MasterGateway, wrk WorkerInfo, backups *backup.Manager,
	degrade *degradation.Manager, start time.Time) gin.HandlerFunc {
	scrape := promhttp.Handler()
	return func(c *gin.Context) {
		metrics.UptimeSeconds.Set(time.Since(start).Seconds())

		total, processed, unprocessed := store.Counts()
		metrics.SessionsTotal.Set(float64(total))
		metrics.SessionsProcessed.Set(float64(processed))
		metrics.SessionsUnprocessed.Set(float64(unprocessed))
		metrics.WorkerQueueDepth.Set(float64(wrk.Stats().QueueDepth))

		for name := range config.Collections {
			if n, err := arch.Count(c.Request.Context(), name); err == nil {
				metrics.CollectionDocuments.WithLabelValues(name).Set(float64(n))
			}
		}

		if latest := backups.Latest(); latest != nil {
			if ts, err := time.Parse(time.RFC3339, latest.Timestamp); err == nil {
				metrics.BackupAgeSeconds.Set(time.Since(ts).Seconds())
			}
			metrics.BackupSizeBytes.Set(float64(latest.TotalSizeBytes))
		}
		if list, err := backups.List(); err == nil {
			metrics.BackupsTotal.Set(float64(len(list)))
		}

		metrics.DegradationLevel.Set(float64(degradation.LevelIndex(degrade.Level())))
		metrics.LearningMode.Set(boolGauge(wrk.LearningMode()))
		metrics.KBAccessible.Set(boolGauge(master.Accessible()))

		scrape.ServeHTTP(c.Writer, c.Request)
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
