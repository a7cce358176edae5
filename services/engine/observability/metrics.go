// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the engine.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the memory
// pipeline. Metrics include:
//   - Session counters (total, processed, unprocessed)
//   - Worker queue depth and outcome counters
//   - Per-collection document gauges
//   - Backup freshness and size
//   - Degradation level and dependency health
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "contextengine"

// EngineMetrics holds all Prometheus metrics for the memory pipeline.
//
// # Description
//
// Provides counters and gauges for the session pipeline, worker, archive,
// backups, and degradation state. Initialize once at startup via
// NewEngineMetrics(); gauges that mirror filesystem or store state are
// refreshed by the metrics handler on scrape.
//
// # Thread Safety
//
// All operations are thread-safe.
type EngineMetrics struct {
	// UptimeSeconds reports seconds since process start.
	UptimeSeconds prometheus.Gauge

	// SessionsTotal / SessionsProcessed / SessionsUnprocessed mirror the
	// session files on disk, refreshed on scrape.
	SessionsTotal       prometheus.Gauge
	SessionsProcessed   prometheus.Gauge
	SessionsUnprocessed prometheus.Gauge

	// WorkerQueueDepth is the number of queued sessions.
	WorkerQueueDepth prometheus.Gauge

	// Worker outcome counters.
	WorkerProcessedTotal prometheus.Counter
	WorkerFailedTotal    prometheus.Counter
	WorkerSkippedTotal   prometheus.Counter

	// CollectionDocuments reports document counts per archive collection.
	// Labels: collection
	CollectionDocuments *prometheus.GaugeVec

	// LLMCallsTotal counts outbound model calls.
	LLMCallsTotal prometheus.Counter

	// Backup freshness gauges, refreshed on scrape.
	BackupAgeSeconds prometheus.Gauge
	BackupSizeBytes  prometheus.Gauge
	BackupsTotal     prometheus.Gauge

	// DegradationLevel is the current operating level (0=full ... 3=offline).
	DegradationLevel prometheus.Gauge

	// WatcherCommitsTotal counts auto-commits made by the file watcher.
	WatcherCommitsTotal prometheus.Counter

	// LearningMode is 1 while the engine is in learning mode.
	LearningMode prometheus.Gauge

	// KBAccessible is 1 while the external knowledge base is reachable.
	KBAccessible prometheus.Gauge
}

// NewEngineMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		UptimeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the engine process started.",
		}),
		SessionsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Total session records on disk.",
		}),
		SessionsProcessed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_processed",
			Help:      "Session records the worker has finished.",
		}),
		SessionsUnprocessed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_unprocessed",
			Help:      "Session records awaiting processing.",
		}),
		WorkerQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "worker_queue_depth",
			Help:      "Sessions currently queued for the worker.",
		}),
		WorkerProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_processed_total",
			Help:      "Sessions processed successfully.",
		}),
		WorkerFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_failed_total",
			Help:      "Sessions that failed processing.",
		}),
		WorkerSkippedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_skipped_total",
			Help:      "Sessions skipped as low significance.",
		}),
		CollectionDocuments: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "collection_documents",
			Help:      "Documents stored per archive collection.",
		}, []string{"collection"}),
		LLMCallsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_calls_total",
			Help:      "Outbound model calls made.",
		}),
		BackupAgeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "backup_age_seconds",
			Help:      "Age of the most recent backup.",
		}),
		BackupSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "backup_size_bytes",
			Help:      "Size of the most recent backup.",
		}),
		BackupsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "backups_total",
			Help:      "Backups currently retained on disk.",
		}),
		DegradationLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "degradation_level",
			Help:      "Current degradation level (0=full, 3=minimal).",
		}),
		WatcherCommitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "watcher_commits_total",
			Help:      "Auto-commits made by the file watcher.",
		}),
		LearningMode: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "learning_mode",
			Help:      "1 while learning mode is active.",
		}),
		KBAccessible: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "kb_accessible",
			Help:      "1 while the external knowledge base is reachable.",
		}),
	}
}
