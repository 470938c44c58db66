package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/famgallery/mediagate/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec
	rejectedTotal           *prometheus.CounterVec

	timeSince = time.Since
)

const (
	subsystem = "storageproxy"

	methodLabel = "method"
	codeLabel   = "code"
	reasonLabel = "reason"

	// Reasons for rejecting a request before it reaches the bucket.
	RejectReferer     = "referer"
	RejectListBucket  = "list_bucket"
	RejectSignFailure = "sign_failure"

	upstreamRequestsTotalName   = "upstream_requests_total"
	upstreamRequestsTotalDesc   = "A counter of signed requests sent to the bucket endpoint by method and response status code."
	upstreamRequestDurationName = "upstream_request_duration_seconds"
	upstreamRequestDurationDesc = "A histogram of latencies for signed requests sent to the bucket endpoint."
	rejectedTotalName           = "rejected_requests_total"
	rejectedTotalDesc           = "A counter of requests rejected by the storage proxy by reason."
)

func init() {
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      upstreamRequestsTotalName,
			Help:      upstreamRequestsTotalDesc,
		},
		[]string{methodLabel, codeLabel},
	)

	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      upstreamRequestDurationName,
			Help:      upstreamRequestDurationDesc,
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{methodLabel},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      rejectedTotalName,
			Help:      rejectedTotalDesc,
		},
		[]string{reasonLabel},
	)

	prometheus.MustRegister(upstreamRequestsTotal)
	prometheus.MustRegister(upstreamRequestDuration)
	prometheus.MustRegister(rejectedTotal)
}

// Upstream records a request to the bucket endpoint that started at start. A
// status code of zero means no response was received.
func Upstream(method string, code int, start time.Time) {
	method = strings.ToLower(method)
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	upstreamRequestsTotal.WithLabelValues(method, label).Inc()
	upstreamRequestDuration.WithLabelValues(method).Observe(timeSince(start).Seconds())
}

// Rejected counts a request refused for reason.
func Rejected(reason string) {
	rejectedTotal.WithLabelValues(reason).Inc()
}
