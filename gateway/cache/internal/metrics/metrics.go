package metrics

import (
	"github.com/famgallery/mediagate/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	lookupCounter *prometheus.CounterVec
	writeCounter  *prometheus.CounterVec
	entryBytes    prometheus.Histogram
)

const (
	subsystem = "http"

	resultLabel = "result"

	// Lookup results.
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"

	// Write results.
	WriteStored  = "stored"
	WriteDropped = "dropped"
	WriteFailed  = "failed"
	WriteSkipped = "skipped"

	lookupTotalName = "cache_lookups_total"
	lookupTotalDesc = "A counter of edge cache lookups by result."
	writeTotalName  = "cache_writes_total"
	writeTotalDesc  = "A counter of edge cache writes by result."
	entryBytesName  = "cache_entry_bytes"
	entryBytesDesc  = "A histogram of the body size of stored cache entries."
)

func init() {
	lookupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      lookupTotalName,
			Help:      lookupTotalDesc,
		},
		[]string{resultLabel},
	)

	writeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      writeTotalName,
			Help:      writeTotalDesc,
		},
		[]string{resultLabel},
	)

	entryBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      entryBytesName,
			Help:      entryBytesDesc,
			// 1KiB to 64MiB
			Buckets: prometheus.ExponentialBuckets(1024, 4, 9),
		},
	)

	prometheus.MustRegister(lookupCounter)
	prometheus.MustRegister(writeCounter)
	prometheus.MustRegister(entryBytes)
}

// Lookup counts a cache lookup with the given result.
func Lookup(result string) {
	lookupCounter.WithLabelValues(result).Inc()
}

// Write counts a cache write with the given result.
func Write(result string) {
	writeCounter.WithLabelValues(result).Inc()
}

// EntryStored records the body size of a stored entry.
func EntryStored(size int) {
	Write(WriteStored)
	entryBytes.Observe(float64(size))
}
