package metrics

import (
	"strconv"
	"time"

	"github.com/famgallery/mediagate/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rangeAttempts   *prometheus.CounterVec
	rangeDegraded   prometheus.Counter

	timeSince = time.Since
)

const (
	subsystem = "origin"

	originLabel  = "origin"
	codeLabel    = "code"
	outcomeLabel = "outcome"

	// Range attempt outcomes.
	RangeAccepted = "accepted"
	RangeRetried  = "retried"
	RangeError    = "error"

	requestsTotalName   = "requests_total"
	requestsTotalDesc   = "A counter of requests made to origins by response status code."
	requestDurationName = "request_duration_seconds"
	requestDurationDesc = "A histogram of latencies for requests made to origins, up to the response headers."
	rangeAttemptsName   = "range_attempts_total"
	rangeAttemptsDesc   = "A counter of ranged storage fetch attempts by outcome."
	rangeDegradedName   = "range_degraded_total"
	rangeDegradedDesc   = "A counter of ranged fetches that exhausted all attempts without a Content-Range response."
)

func init() {
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      requestsTotalName,
			Help:      requestsTotalDesc,
		},
		[]string{originLabel, codeLabel},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      requestDurationName,
			Help:      requestDurationDesc,
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{originLabel},
	)

	rangeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      rangeAttemptsName,
			Help:      rangeAttemptsDesc,
		},
		[]string{outcomeLabel},
	)

	rangeDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      rangeDegradedName,
			Help:      rangeDegradedDesc,
		},
	)

	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(rangeAttempts)
	prometheus.MustRegister(rangeDegraded)
}

// Request records a request to origin that started at start. A status code
// of zero means no response was received.
func Request(origin string, code int, start time.Time) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	requestsTotal.WithLabelValues(origin, label).Inc()
	requestDuration.WithLabelValues(origin).Observe(timeSince(start).Seconds())
}

// RangeAttempt counts a single ranged fetch attempt.
func RangeAttempt(outcome string) {
	rangeAttempts.WithLabelValues(outcome).Inc()
}

// RangeDegraded counts a ranged fetch that fell back to a full response.
func RangeDegraded() {
	rangeDegraded.Inc()
}
