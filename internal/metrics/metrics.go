// Package metrics holds the prometheus collectors for sync and enrichment
// observability. Exposed on the status listener at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncTotal counts sync outcomes per content class. result is one of
	// ok, error, empty_noop, discarded.
	SyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmux_sync_total",
		Help: "Sync attempts by content class and outcome.",
	}, []string{"class", "result"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tvmux_sync_duration_seconds",
		Help:    "Wall time of one source sync, fetch included.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"class"})

	// MatchTotal counts enrichment outcomes. result is matched or unmatched.
	MatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmux_enrich_match_total",
		Help: "Enrichment match attempts by kind and outcome.",
	}, []string{"kind", "result"})

	EnrichActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tvmux_enrich_active_tasks",
		Help: "Enrichment sub-tasks currently running.",
	})

	DatasetDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmux_enrich_dataset_downloads_total",
		Help: "Catalog dataset downloads by outcome (ok, error, cached).",
	}, []string{"result"})
)
