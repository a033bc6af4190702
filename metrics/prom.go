package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftbin_paste_retrieved_total",
		Help: "no. of pastes retrieved (each one refreshed its TTL)",
	})
	PasteMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftbin_paste_misses_total",
		Help: "no. of lookups for absent or expired pastes",
	})
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftbin_store_errors_total",
			Help: "no. of storage failures by kind",
		},
		[]string{"kind"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftbin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftbin_events_published_total",
			Help: "no. of paste events sent to the broker",
		},
		[]string{"type", "result"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "driftbin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
