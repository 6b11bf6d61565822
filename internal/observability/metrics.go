package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Simulation phases timed per generation.
const (
	PhaseHalo   = "halo"
	PhaseStep   = "step"
	PhaseGather = "gather"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firegrid",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "firegrid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "firegrid",
			Subsystem: "sim",
			Name:      "phase_duration_seconds",
			Help:      "Per-generation phase duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"rank", "phase"},
	)
	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firegrid",
			Subsystem: "sim",
			Name:      "generations_total",
			Help:      "Generations completed.",
		},
		[]string{"rank"},
	)
	snapshots = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "firegrid",
			Subsystem: "sim",
			Name:      "snapshots_total",
			Help:      "Full-grid snapshots assembled at the collector.",
		},
	)
	cells = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "firegrid",
			Subsystem: "census",
			Name:      "cells",
			Help:      "Cells per state in the latest snapshot.",
		},
		[]string{"state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, phaseDuration, generations, snapshots, cells)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPhase(rank int, phase string, duration time.Duration) {
	RegisterMetrics()
	phaseDuration.WithLabelValues(strconv.Itoa(rank), phase).Observe(duration.Seconds())
}

func RecordGeneration(rank int) {
	RegisterMetrics()
	generations.WithLabelValues(strconv.Itoa(rank)).Inc()
}

func RecordSnapshot() {
	RegisterMetrics()
	snapshots.Inc()
}

// SetCellCounts publishes the latest census.
func SetCellCounts(trees, fires, empty int) {
	RegisterMetrics()
	cells.WithLabelValues("tree").Set(float64(trees))
	cells.WithLabelValues("fire").Set(float64(fires))
	cells.WithLabelValues("empty").Set(float64(empty))
}
