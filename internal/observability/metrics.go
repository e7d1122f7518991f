package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "healthup"

var (
	remoteCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "huami",
		Name:      "requests_total",
		Help:      "Requests issued to the Huami cloud, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	remoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "huami",
		Name:      "request_duration_seconds",
		Help:      "Latency of Huami cloud requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	dayResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "days_total",
		Help:      "Day lookups by result: cached, fetched, empty or failed.",
	}, []string{"result"})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "token_refreshes_total",
		Help:      "App token refresh attempts by outcome.",
	}, []string{"outcome"})

	lastBackfillGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "last_backfill_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed range sync.",
	})
)

func init() {
	prometheus.MustRegister(remoteCalls, remoteLatency, dayResults, tokenRefreshes, lastBackfillGauge)
}

// RecordRemoteCall counts one Huami request. outcome is "ok", "auth",
// "no_data", "error" or "decode".
func RecordRemoteCall(endpoint, outcome string, elapsed time.Duration) {
	remoteCalls.WithLabelValues(endpoint, outcome).Inc()
	remoteLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func RecordDay(result string) {
	dayResults.WithLabelValues(result).Inc()
}

func RecordTokenRefresh(outcome string) {
	tokenRefreshes.WithLabelValues(outcome).Inc()
}

func RecordBackfill(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastBackfillGauge.Set(float64(ts.Unix()))
}
