package metrics

import (
	"net/http"

	"github.com/famgallery/mediagate/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
)

const (
	subsystem = "http"

	routeLabel = "route"

	requestsTotalName   = "requests_total"
	requestsTotalDesc   = "A counter of HTTP requests served by route, status code and method."
	requestDurationName = "request_duration_seconds"
	requestDurationDesc = "A histogram of latencies for HTTP requests served by route."
	inFlightName        = "in_flight_requests"
	inFlightDesc        = "A gauge of HTTP requests currently being served."
)

func init() {
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      requestsTotalName,
			Help:      requestsTotalDesc,
		},
		[]string{routeLabel, "code", "method"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      requestDurationName,
			Help:      requestDurationDesc,
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{routeLabel},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      inFlightName,
			Help:      inFlightDesc,
		},
	)

	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(inFlight)
}

// InstrumentHandler records request counts, latencies and concurrency for h
// under the given route name.
func InstrumentHandler(route string, h http.Handler) http.Handler {
	labels := prometheus.Labels{routeLabel: route}

	return promhttp.InstrumentHandlerInFlight(inFlight,
		promhttp.InstrumentHandlerDuration(requestDuration.MustCurryWith(labels),
			promhttp.InstrumentHandlerCounter(requestsTotal.MustCurryWith(labels), h),
		),
	)
}
