package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IHMAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderntides_ihm_api_calls_total",
			Help: "Total IHM tide API calls",
		},
		[]string{"station", "endpoint", "status"},
	)

	IHMAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moderntides_ihm_api_latency_seconds",
			Help:    "IHM API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"station", "endpoint"},
	)

	PredictionsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderntides_predictions_stored_total",
			Help: "Total tide predictions successfully stored",
		},
		[]string{"station"},
	)

	PlotsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderntides_plots_rendered_total",
			Help: "Total plot files rendered",
		},
		[]string{"station", "variant"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderntides_publish_failures_total",
			Help: "Failed plot/state publishes by sink",
		},
		[]string{"sink"},
	)
)
