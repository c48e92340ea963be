// Package metrics registers the Prometheus instruments for the guide
// service. Everything lives on the default registry; the HTTP server
// exposes it at /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts completed ingestion runs by outcome:
	// "ok", "not_modified", "retryable", "failed".
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvguide_sync_runs_total",
		Help: "Ingestion runs by outcome.",
	}, []string{"outcome"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "iptvguide_sync_duration_seconds",
		Help:    "Wall time of a full ingestion run.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	ChannelsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptvguide_channels_upserted_total",
		Help: "Channel records written to the schedule store.",
	})

	ProgramsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptvguide_programs_upserted_total",
		Help: "Program records written to the schedule store.",
	})

	// RecordsFiltered counts records dropped by the content safety filter.
	// These are policy drops, not errors.
	RecordsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptvguide_records_filtered_total",
		Help: "Feed records dropped by the content safety denylist.",
	})

	// RecordsSkipped counts malformed feed records (bad timestamps, missing
	// channel attribute, end before start) dropped during parse.
	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptvguide_records_skipped_total",
		Help: "Malformed feed records dropped during parse.",
	})

	ProgramsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptvguide_programs_pruned_total",
		Help: "Expired program records removed after successful syncs.",
	})

	GuideQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptvguide_guide_queries_total",
		Help: "Guide window queries served.",
	})
)
