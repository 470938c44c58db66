package metrics

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/famgallery/mediagate/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type metricsSuite struct{ suite.Suite }

// Reset counters so that tests do not interact with each other.
func (s *metricsSuite) SetupTest() {
	lookupCounter.Reset()
	writeCounter.Reset()
}

func TestMetrics(t *testing.T) {
	suite.Run(t, new(metricsSuite))
}

func (s *metricsSuite) TestLookup() {
	Lookup(LookupHit)
	Lookup(LookupHit)
	Lookup(LookupMiss)
	Lookup(LookupError)

	var expected bytes.Buffer
	expected.WriteString(`
# HELP mediagate_http_cache_lookups_total A counter of edge cache lookups by result.
# TYPE mediagate_http_cache_lookups_total counter
mediagate_http_cache_lookups_total{result="error"} 1
mediagate_http_cache_lookups_total{result="hit"} 2
mediagate_http_cache_lookups_total{result="miss"} 1
`)
	fullName := fmt.Sprintf("%s_%s_%s", metrics.NamespacePrefix, subsystem, lookupTotalName)

	err := testutil.GatherAndCompare(prometheus.DefaultGatherer, &expected, fullName)
	require.NoError(s.T(), err)
}

func (s *metricsSuite) TestWrite() {
	EntryStored(10)
	Write(WriteDropped)
	Write(WriteFailed)
	Write(WriteFailed)

	var expected bytes.Buffer
	expected.WriteString(`
# HELP mediagate_http_cache_writes_total A counter of edge cache writes by result.
# TYPE mediagate_http_cache_writes_total counter
mediagate_http_cache_writes_total{result="dropped"} 1
mediagate_http_cache_writes_total{result="failed"} 2
mediagate_http_cache_writes_total{result="stored"} 1
`)
	fullName := fmt.Sprintf("%s_%s_%s", metrics.NamespacePrefix, subsystem, writeTotalName)

	err := testutil.GatherAndCompare(prometheus.DefaultGatherer, &expected, fullName)
	require.NoError(s.T(), err)
}
