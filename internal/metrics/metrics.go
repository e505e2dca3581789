// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline: line throughput, parse/store failures, alert production, and
// geolocation cache efficiency. Metrics are registered via promauto and
// exposed on /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	LinesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrison_lines_processed_total",
			Help: "Total log lines read, by source",
		},
		[]string{"source"},
	)

	ObservationsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrison_observations_parsed_total",
			Help: "Total lines that matched a known dialect, by source and event type",
		},
		[]string{"source", "event_type"},
	)

	ParseSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrison_parse_skips_total",
			Help: "Total lines matching no dialect or lacking a stable identity, by source",
		},
		[]string{"source"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrison_store_errors_total",
			Help: "Total failed identity store updates, by source",
		},
		[]string{"source"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrison_alerts_generated_total",
			Help: "Total alerts produced by the store, by alert type",
		},
		[]string{"alert_type"},
	)

	// Store metrics
	UpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "garrison_store_update_duration_seconds",
			Help:    "Duration of identity store update transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Geolocation metrics
	GeoCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "garrison_geo_cache_hits_total",
			Help: "Total geolocation cache hits",
		},
	)

	GeoCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "garrison_geo_cache_misses_total",
			Help: "Total geolocation cache misses",
		},
	)

	GeoLookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "garrison_geo_lookup_errors_total",
			Help: "Total failed geolocation lookups",
		},
	)

	// Notification metrics
	AlertsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "garrison_alerts_published_total",
			Help: "Total alerts handed to the notification channel",
		},
	)

	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrison_notify_failures_total",
			Help: "Total failed alert deliveries, by notifier",
		},
		[]string{"notifier"},
	)
)
