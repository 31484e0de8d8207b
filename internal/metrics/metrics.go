// Package metrics declares the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.9:  0.01,
				0.95: 0.005,
				0.99: 0.001,
			},
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	// EvaluationsTotal counts evaluations by outcome: success, failure,
	// no_verdict, uplink_error.
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guild_evaluations_total",
			Help: "Mission evaluations by outcome",
		},
		[]string{"language", "outcome"},
	)

	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guild_evaluation_duration_seconds",
			Help:    "Time from prompt to parsed verdict",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"language"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guild_batch_sync_runs_total",
			Help: "Batch sync runs by result: complete or the stop reason",
		},
		[]string{"result"},
	)

	AutosaveWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guild_autosave_writes_total",
		Help: "Draft saves written to the store",
	})

	AutosaveCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guild_autosave_coalesced_total",
		Help: "Draft edits folded into a later save",
	})

	// TutorCallsTotal counts provider calls by kind (generate, stream) and
	// result: ok, error, limited.
	TutorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guild_tutor_calls_total",
			Help: "Tutor provider calls",
		},
		[]string{"provider", "kind", "result"},
	)

	TutorBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guild_tutor_breaker_open",
			Help: "1 while a provider's circuit breaker is open",
		},
		[]string{"provider"},
	)

	LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guild_live_clients",
		Help: "Connected dashboard websocket clients",
	})
)
