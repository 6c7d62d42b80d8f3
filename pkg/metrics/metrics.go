// Package metrics provides run accounting for Driftcap using Prometheus
// metrics. Counters cover the whole coordinator cycle: entities detected,
// artifacts built, uploads, sweeps, and gate waits.
//
// # Basic Usage
//
//	metrics.EntitiesChanged.WithLabelValues("row_watermark").Inc()
//
//	timer := metrics.NewTimer("build")
//	artifact, err := builder.Build(ctx, key, delta)
//	metrics.BuildDuration.WithLabelValues("row_watermark").Observe(timer.Stop().Seconds())
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts coordinator runs by terminal outcome.
	// Labels: outcome (done/failed)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcap_runs_total",
			Help: "Total number of backup runs by outcome",
		},
		[]string{"outcome"},
	)

	// EntitiesChanged counts entities for which a delta was detected.
	// Labels: strategy
	EntitiesChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcap_entities_changed_total",
			Help: "Total number of entities with detected changes",
		},
		[]string{"strategy"},
	)

	// ArtifactsBuilt counts artifacts that passed validation and digesting.
	// Labels: strategy
	ArtifactsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcap_artifacts_built_total",
			Help: "Total number of artifacts built",
		},
		[]string{"strategy"},
	)

	// Uploads counts per-artifact delivery outcomes after the retry budget.
	// Labels: status (success/failure)
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcap_uploads_total",
			Help: "Total number of artifact uploads by outcome",
		},
		[]string{"status"},
	)

	// SweptArtifacts counts artifacts removed by the retention sweeper.
	// Labels: strategy
	SweptArtifacts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcap_swept_artifacts_total",
			Help: "Total number of artifacts removed by retention sweeps",
		},
		[]string{"strategy"},
	)

	// GateWaitSeconds tracks how long runs waited for resource admission.
	GateWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftcap_gate_wait_seconds",
			Help:    "Seconds spent waiting for resource gate admission",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// BuildDuration tracks artifact build latency per strategy.
	BuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftcap_build_duration_seconds",
			Help:    "Artifact build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"strategy"},
	)

	// WatermarkCommits counts watermark advances per strategy.
	WatermarkCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftcap_watermark_commits_total",
			Help: "Total number of committed watermark advances",
		},
		[]string{"strategy"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
