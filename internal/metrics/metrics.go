package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfa_events_ingested_total",
		Help: "Total number of decision events appended to the event log, labelled by decision.",
	}, []string{"decision"})

	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfa_events_malformed_total",
		Help: "Total number of push messages discarded as malformed.",
	})

	EventLogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfa_event_log_size",
		Help: "Current number of events held in the bounded event log.",
	})

	StreamState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfa_stream_state",
		Help: "Push channel state (0 disconnected, 1 connecting, 2 connected).",
	})

	StreamDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfa_stream_disconnects_total",
		Help: "Total number of push channel disconnects observed while active.",
	})

	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfa_polls_total",
		Help: "Total number of metrics fetches, labelled by status (success, error, skipped, stale).",
	}, []string{"status"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rfa_poll_duration_ms",
		Help:    "Metrics endpoint fetch latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	TimeseriesSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfa_timeseries_size",
		Help: "Current number of points in the timeseries buffer.",
	})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfa_alerts_raised_total",
		Help: "Total number of alerts raised, labelled by severity.",
	}, []string{"severity"})

	AlertsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfa_alerts_active",
		Help: "Current number of live alerts.",
	})

	TimersPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rfa_timers_pending",
		Help: "Scheduled one-shot timers not yet fired or cancelled, labelled by owner.",
	}, []string{"owner"})

	LoopQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfa_loop_queue_utilization_ratio",
		Help: "Current engine loop queue utilization (0–1).",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rfa_http_request_duration_ms",
		Help:    "HTTP API latency in milliseconds, labelled by method and status.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"method", "status"})
)
