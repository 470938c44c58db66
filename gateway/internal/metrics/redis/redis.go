// Package redis exports Prometheus metrics for the Redis client backing the
// edge cache: connection pool statistics and command latencies.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/famgallery/mediagate/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	// Names for the recorded metrics.
	hitsName             = "pool_stats_hits"
	missesName           = "pool_stats_misses"
	timeoutsName         = "pool_stats_timeouts"
	totalConnsName       = "pool_stats_total_conns"
	idleConnsName        = "pool_stats_idle_conns"
	staleConnsName       = "pool_stats_stale_conns"
	maxConnsName         = "pool_stats_max_conns"
	commandsDurationName = "commands_duration_seconds"
	commandErrorsName    = "commands_errors_total"

	// Descriptions for the recorded metrics.
	hitsDesc             = "The number of times a free connection was found in the pool."
	missesDesc           = "The number of times a free connection was not found in the pool."
	timeoutsDesc         = "The number of times a wait timeout occurred."
	totalConnsDesc       = "The total number of connections in the pool."
	idleConnsDesc        = "The number of idle connections in the pool."
	staleConnsDesc       = "The number of stale connections removed from the pool."
	maxConnsDesc         = "The maximum number of connections in the pool."
	commandsDurationDesc = "A histogram of Redis command latencies."
	commandErrorsDesc    = "A counter of failed Redis commands. Cache misses are not failures."

	subSystem           = "redis"
	defaultInstanceName = "unnamed"

	instanceLabel = "instance"
	commandLabel  = "command"
)

// PoolStatsGetter describes a getter for *redis.PoolStats.
type PoolStatsGetter interface {
	PoolStats() *redis.PoolStats
}

var _ PoolStatsGetter = (*redis.Client)(nil)

// Options represents options to customize the exported metrics.
type Options struct {
	InstanceName string
	MaxConns     int
}

// Option is a functional option to customize defaults.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		InstanceName: defaultInstanceName,
	}
}

func (options *Options) merge(opts ...Option) {
	for _, opt := range opts {
		opt(options)
	}
}

// WithInstanceName sets the name of the Redis instance.
func WithInstanceName(name string) Option {
	return func(options *Options) {
		options.InstanceName = name
	}
}

// WithMaxConns reports n as the size of the connection pool, which
// redis.PoolStats does not expose. Use it to monitor pool saturation.
func WithMaxConns(n int) Option {
	return func(options *Options) {
		options.MaxConns = n
	}
}

// poolStatsCollector is a Prometheus collector for Redis connection pool statuses.
type poolStatsCollector struct {
	client  PoolStatsGetter
	options *Options

	hitsDesc       *prometheus.Desc
	missesDesc     *prometheus.Desc
	timeoutsDesc   *prometheus.Desc
	totalConnsDesc *prometheus.Desc
	idleConnsDesc  *prometheus.Desc
	staleConnsDesc *prometheus.Desc
	maxConnsDesc   *prometheus.Desc
}

// Describe implements prometheus.Collector.
func (c *poolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hitsDesc
	ch <- c.missesDesc
	ch <- c.timeoutsDesc
	ch <- c.totalConnsDesc
	ch <- c.idleConnsDesc
	ch <- c.staleConnsDesc
	ch <- c.maxConnsDesc
}

// Collect implements prometheus.Collector.
func (c *poolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.client.PoolStats()
	ch <- prometheus.MustNewConstMetric(c.hitsDesc, prometheus.GaugeValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.missesDesc, prometheus.GaugeValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.timeoutsDesc, prometheus.GaugeValue, float64(stats.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.totalConnsDesc, prometheus.GaugeValue, float64(stats.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.idleConnsDesc, prometheus.GaugeValue, float64(stats.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.staleConnsDesc, prometheus.GaugeValue, float64(stats.StaleConns))
	ch <- prometheus.MustNewConstMetric(c.maxConnsDesc, prometheus.GaugeValue, float64(c.options.MaxConns))
}

var _ prometheus.Collector = (*poolStatsCollector)(nil)

func newDesc(name, help string, constLabels prometheus.Labels) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(metrics.NamespacePrefix, subSystem, name), help, nil, constLabels)
}

// NewPoolStatsCollector returns a new Redis pool stats collector that implements prometheus.Collector.
func NewPoolStatsCollector(client PoolStatsGetter, opts ...Option) prometheus.Collector {
	options := defaultOptions()
	options.merge(opts...)

	constLabels := prometheus.Labels{instanceLabel: options.InstanceName}

	return &poolStatsCollector{
		options:        options,
		client:         client,
		hitsDesc:       newDesc(hitsName, hitsDesc, constLabels),
		missesDesc:     newDesc(missesName, missesDesc, constLabels),
		timeoutsDesc:   newDesc(timeoutsName, timeoutsDesc, constLabels),
		totalConnsDesc: newDesc(totalConnsName, totalConnsDesc, constLabels),
		idleConnsDesc:  newDesc(idleConnsName, idleConnsDesc, constLabels),
		staleConnsDesc: newDesc(staleConnsName, staleConnsDesc, constLabels),
		maxConnsDesc:   newDesc(maxConnsName, maxConnsDesc, constLabels),
	}
}

var buckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}

// commandHook records the latency and failures of every command, including
// the ones sent in pipelines.
type commandHook struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

func newCommandHook(instance string) *commandHook {
	constLabels := prometheus.Labels{instanceLabel: instance}

	return &commandHook{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metrics.NamespacePrefix,
			Subsystem:   subSystem,
			Name:        commandsDurationName,
			Help:        commandsDurationDesc,
			ConstLabels: constLabels,
			Buckets:     buckets,
		}, []string{commandLabel}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metrics.NamespacePrefix,
			Subsystem:   subSystem,
			Name:        commandErrorsName,
			Help:        commandErrorsDesc,
			ConstLabels: constLabels,
		}, []string{commandLabel}),
	}
}

func (h *commandHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *commandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd, time.Since(start))
		return err
	}
}

func (h *commandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		elapsed := time.Since(start)
		for _, cmd := range cmds {
			h.observe(cmd, elapsed)
		}
		return err
	}
}

func (h *commandHook) observe(cmd redis.Cmder, elapsed time.Duration) {
	name := strings.ToLower(cmd.Name())
	h.duration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
		h.errors.WithLabelValues(name).Inc()
	}
}

// InstrumentClient instruments a Redis client with Prometheus metrics for
// command latencies and connection pool stats, registered with registerer.
func InstrumentClient(registerer prometheus.Registerer, client redis.UniversalClient, opts ...Option) error {
	options := defaultOptions()
	options.merge(opts...)

	hook := newCommandHook(options.InstanceName)
	for _, c := range []prometheus.Collector{
		hook.duration,
		hook.errors,
		NewPoolStatsCollector(client, opts...),
	} {
		if err := registerer.Register(c); err != nil {
			return err
		}
	}
	client.AddHook(hook)

	return nil
}
