package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/famgallery/mediagate/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func mockTimeSince(d time.Duration) func() {
	bkp := timeSince
	timeSince = func(_ time.Time) time.Duration { return d }
	return func() { timeSince = bkp }
}

func TestRequest(t *testing.T) {
	restore := mockTimeSince(200 * time.Millisecond)
	defer restore()

	Request("transform", http.StatusOK, time.Now())
	Request("transform", http.StatusOK, time.Now())
	Request("storage", http.StatusNotFound, time.Now())
	Request("storage", 0, time.Now())

	var expected bytes.Buffer
	expected.WriteString(`
# HELP mediagate_origin_requests_total A counter of requests made to origins by response status code.
# TYPE mediagate_origin_requests_total counter
mediagate_origin_requests_total{code="200",origin="transform"} 2
mediagate_origin_requests_total{code="404",origin="storage"} 1
mediagate_origin_requests_total{code="error",origin="storage"} 1
# HELP mediagate_origin_request_duration_seconds A histogram of latencies for requests made to origins, up to the response headers.
# TYPE mediagate_origin_request_duration_seconds histogram
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="0.01"} 0
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="0.025"} 0
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="0.05"} 0
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="0.1"} 0
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="0.25"} 2
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="0.5"} 2
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="1"} 2
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="2.5"} 2
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="5"} 2
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="10"} 2
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="30"} 2
mediagate_origin_request_duration_seconds_bucket{origin="storage",le="+Inf"} 2
mediagate_origin_request_duration_seconds_sum{origin="storage"} 0.4
mediagate_origin_request_duration_seconds_count{origin="storage"} 2
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="0.01"} 0
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="0.025"} 0
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="0.05"} 0
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="0.1"} 0
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="0.25"} 2
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="0.5"} 2
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="1"} 2
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="2.5"} 2
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="5"} 2
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="10"} 2
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="30"} 2
mediagate_origin_request_duration_seconds_bucket{origin="transform",le="+Inf"} 2
mediagate_origin_request_duration_seconds_sum{origin="transform"} 0.4
mediagate_origin_request_duration_seconds_count{origin="transform"} 2
`)
	totalFullName := fmt.Sprintf("%s_%s_%s", metrics.NamespacePrefix, subsystem, requestsTotalName)
	durationFullName := fmt.Sprintf("%s_%s_%s", metrics.NamespacePrefix, subsystem, requestDurationName)

	err := testutil.GatherAndCompare(prometheus.DefaultGatherer, &expected, totalFullName, durationFullName)
	require.NoError(t, err)
}

func TestRange(t *testing.T) {
	RangeAttempt(RangeRetried)
	RangeAttempt(RangeRetried)
	RangeAttempt(RangeAccepted)
	RangeAttempt(RangeError)
	RangeDegraded()

	var expected bytes.Buffer
	expected.WriteString(`
# HELP mediagate_origin_range_attempts_total A counter of ranged storage fetch attempts by outcome.
# TYPE mediagate_origin_range_attempts_total counter
mediagate_origin_range_attempts_total{outcome="accepted"} 1
mediagate_origin_range_attempts_total{outcome="error"} 1
mediagate_origin_range_attempts_total{outcome="retried"} 2
# HELP mediagate_origin_range_degraded_total A counter of ranged fetches that exhausted all attempts without a Content-Range response.
# TYPE mediagate_origin_range_degraded_total counter
mediagate_origin_range_degraded_total 1
`)
	attemptsFullName := fmt.Sprintf("%s_%s_%s", metrics.NamespacePrefix, subsystem, rangeAttemptsName)
	degradedFullName := fmt.Sprintf("%s_%s_%s", metrics.NamespacePrefix, subsystem, rangeDegradedName)

	err := testutil.GatherAndCompare(prometheus.DefaultGatherer, &expected, attemptsFullName, degradedFullName)
	require.NoError(t, err)
}
