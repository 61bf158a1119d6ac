// ABOUTME: Prometheus collectors for oracle lookups.
// ABOUTME: Tracks request latency and outcome counts on the default registry.

package oracle

import (
	"time"

	"github.com/jfeddern/VulnAgent/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

var lookupDuration *prometheus.HistogramVec
var lookupTotal *prometheus.CounterVec

func recordLookup(outcome types.LookupOutcome, duration time.Duration) {
	status := string(outcome.Status)
	lookupDuration.With(prometheus.Labels{"status": status}).Observe(milliseconds(duration))
	lookupTotal.With(prometheus.Labels{"status": status, "reason": string(outcome.Reason)}).Inc()
}

// milliseconds keeps sub-millisecond precision for the latency histogram
func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func init() {
	lookupDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vulnagent",
		Subsystem: "oracle",
		Name:      "request_duration_milliseconds",
		Help:      "tracks the response times of oracle lookups in milliseconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 15),
	}, []string{"status"})
	prometheus.MustRegister(lookupDuration)

	lookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vulnagent",
		Subsystem: "oracle",
		Name:      "lookups_total",
		Help:      "number of oracle lookups by outcome status and failure reason",
	}, []string{"status", "reason"})
	prometheus.MustRegister(lookupTotal)
}
