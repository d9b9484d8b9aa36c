// Package metrics exposes the Prometheus instruments for the run pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_runs_started_total",
		Help: "Runs that entered processing, by provider and mode.",
	}, []string{"provider", "mode"})

	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_runs_completed_total",
		Help: "Runs that reached completed, by provider and mode.",
	}, []string{"provider", "mode"})

	RunsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_runs_failed_total",
		Help: "Runs that reached failed, by provider and mode.",
	}, []string{"provider", "mode"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocr_run_duration_seconds",
		Help:    "End-to-end run processing time.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"provider", "mode"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_provider_requests_total",
		Help: "Outbound OCR provider calls, by provider and outcome.",
	}, []string{"provider", "outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ocr_run_queue_depth",
		Help: "Runs admitted to the queue and not yet finished.",
	})

	PagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_pages_processed_total",
		Help: "Document pages processed, by provider.",
	}, []string{"provider"})
)
