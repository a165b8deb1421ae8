package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allaspectsdev/scoutman/internal/cache"
	"github.com/allaspectsdev/scoutman/internal/provider"
)

const namespace = "scoutman"

// Collector tracks live provider and operation metrics. It feeds a private
// Prometheus registry and keeps atomic totals for the dashboard snapshot.
// It implements provider.Observer.
type Collector struct {
	registry *prometheus.Registry

	attempts   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	health     *prometheus.GaugeVec
	operations *prometheus.CounterVec
	opLatency  *prometheus.HistogramVec
	inflight   prometheus.Gauge

	totalOps       int64
	failedOps      int64
	totalAttempts  int64
	failedAttempts int64
	skipped        int64
	activeOps      int64

	cacheStats atomic.Pointer[func() cache.Stats]

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector's counters,
// suitable for JSON serialisation and display on the dashboard.
type Stats struct {
	Uptime           string  `json:"uptime"`
	Operations       int64   `json:"operations"`
	FailedOperations int64   `json:"failed_operations"`
	SuccessRate      float64 `json:"success_rate"`
	Attempts         int64   `json:"attempts"`
	FailedAttempts   int64   `json:"failed_attempts"`
	SkippedAttempts  int64   `json:"skipped_attempts"`
	ActiveOperations int64   `json:"active_operations"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	CacheSize        int     `json:"cache_size"`
}

// NewCollector creates a Collector with its own registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry:  reg,
		startTime: time.Now(),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider calls by outcome and error kind.",
		}, []string{"op", "provider", "outcome", "kind"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of provider calls that were not skipped.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op", "provider"}),
		health: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health",
			Help:      "Provider health after its last call: 0 healthy, 1 degraded, 2 disabled.",
		}, []string{"op", "provider"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Top-level generate and search calls by outcome.",
		}, []string{"op", "mode", "outcome"}),
		opLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "End-to-end duration of generate and search calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations_in_flight",
			Help:      "Generate and search calls currently running.",
		}),
	}

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_cache_hits_total",
		Help:      "Fallback-search cache hits.",
	}, func() float64 { return float64(c.cache().Hits) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_cache_misses_total",
		Help:      "Fallback-search cache misses.",
	}, func() float64 { return float64(c.cache().Misses) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "search_cache_entries",
		Help:      "Live fallback-search cache entries.",
	}, func() float64 { return float64(c.cache().Size) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the collector started.",
	}, func() float64 { return time.Since(c.startTime).Seconds() })

	return c
}

// Observe records a provider attempt.
func (c *Collector) Observe(ev provider.Event) {
	op := string(ev.Op)
	outcome := "success"
	switch {
	case ev.Skipped:
		outcome = "skipped"
		atomic.AddInt64(&c.skipped, 1)
	case !ev.Success:
		outcome = "failure"
		atomic.AddInt64(&c.failedAttempts, 1)
	}
	atomic.AddInt64(&c.totalAttempts, 1)

	c.attempts.WithLabelValues(op, ev.Provider, outcome, string(ev.ErrorKind)).Inc()
	if !ev.Skipped {
		c.latency.WithLabelValues(op, ev.Provider).Observe(ev.Latency.Seconds())
	}
	c.health.WithLabelValues(op, ev.Provider).Set(float64(ev.Health))
}

// RecordOperation records a finished top-level call.
func (c *Collector) RecordOperation(op provider.Operation, mode string, success bool, d time.Duration) {
	atomic.AddInt64(&c.totalOps, 1)
	if !success {
		atomic.AddInt64(&c.failedOps, 1)
	}
	c.operations.WithLabelValues(string(op), mode, strconv.FormatBool(success)).Inc()
	c.opLatency.WithLabelValues(string(op)).Observe(d.Seconds())
}

// IncrementActive marks a call as started.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeOps, 1)
	c.inflight.Inc()
}

// DecrementActive marks a call as finished, successful or not.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeOps, -1)
	c.inflight.Dec()
}

// WatchCache makes fn the source of search cache statistics.
func (c *Collector) WatchCache(fn func() cache.Stats) {
	c.cacheStats.Store(&fn)
}

func (c *Collector) cache() cache.Stats {
	if fn := c.cacheStats.Load(); fn != nil {
		return (*fn)()
	}
	return cache.Stats{}
}

// Registry exposes the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Stats returns a point-in-time snapshot of all metrics.
func (c *Collector) Stats() *Stats {
	ops := atomic.LoadInt64(&c.totalOps)
	failed := atomic.LoadInt64(&c.failedOps)
	cs := c.cache()

	var successRate float64
	if ops > 0 {
		successRate = float64(ops-failed) / float64(ops) * 100
	}
	var hitRate float64
	if lookups := cs.Hits + cs.Misses; lookups > 0 {
		hitRate = float64(cs.Hits) / float64(lookups) * 100
	}

	return &Stats{
		Uptime:           formatDuration(time.Since(c.startTime)),
		Operations:       ops,
		FailedOperations: failed,
		SuccessRate:      successRate,
		Attempts:         atomic.LoadInt64(&c.totalAttempts),
		FailedAttempts:   atomic.LoadInt64(&c.failedAttempts),
		SkippedAttempts:  atomic.LoadInt64(&c.skipped),
		ActiveOperations: atomic.LoadInt64(&c.activeOps),
		CacheHits:        cs.Hits,
		CacheMisses:      cs.Misses,
		CacheHitRate:     hitRate,
		CacheSize:        cs.Size,
	}
}

// formatDuration produces a human-readable duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return joinUnits(days, "d", hours, "h", minutes, "m")
	case hours > 0:
		return joinUnits(hours, "h", minutes, "m")
	default:
		return joinUnits(minutes, "m")
	}
}

// joinUnits builds a compact duration string from value/unit pairs,
// skipping zero components.
func joinUnits(parts ...any) string {
	s := ""
	for i := 0; i+1 < len(parts); i += 2 {
		v := parts[i].(int)
		if v <= 0 {
			continue
		}
		if s != "" {
			s += " "
		}
		s += strconv.Itoa(v) + parts[i+1].(string)
	}
	if s == "" {
		return "0m"
	}
	return s
}
