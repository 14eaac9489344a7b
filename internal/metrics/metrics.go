// Package metrics registers the prometheus collectors shared by the detector
// and dispatcher. HTTP metrics live in the server package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Bridge call metrics
	BridgeCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrbridge_bridge_call_duration_seconds",
			Help:    "Duration of detection calls across the bridge, result retrieval included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"source"}, // source: path, bytes, pixels, image, bitmap
	)

	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrbridge_detections_total",
			Help: "Total number of detection calls by outcome kind",
		},
		[]string{"source", "kind"},
	)

	SymbolsDecoded = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrbridge_symbols_per_detection",
			Help:    "Number of symbols returned by a successful detection",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	ReleaseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrbridge_release_failures_total",
			Help: "Handle releases that reported a non-ok kind",
		},
		[]string{"handle"}, // handle: detector, result
	)

	RecoveredPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrbridge_recovered_panics_total",
			Help: "Panics recovered at the detection call boundary",
		},
	)

	// Dispatcher metrics
	DispatchQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrbridge_dispatch_queued",
			Help: "Asynchronous detections waiting for a worker",
		},
	)

	DispatchRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrbridge_dispatch_running",
			Help: "Asynchronous detections currently occupying a worker",
		},
	)

	DispatchFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrbridge_dispatch_finished_total",
			Help: "Asynchronous work items by final state",
		},
		[]string{"state"}, // state: completed, cancelled
	)
)
