package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cerrors "github.com/objectfs/cachemgr/pkg/errors"
)

// SizeFunc reports the number of entries per cache. It is polled by the
// collector's update loop.
type SizeFunc func(ctx context.Context) map[string]int

// Collector records cache events as Prometheus metrics and serves them over
// HTTP. It satisfies cache.Observer and types.Recorder.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	requestCounter    *prometheus.CounterVec
	evictionCounter   *prometheus.CounterVec
	expirationCounter *prometheus.CounterVec
	absorbedCounter   *prometheus.CounterVec
	memoDuration      *prometheus.HistogramVec
	cacheEntries      *prometheus.GaugeVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time
	sizes      SizeFunc

	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	Namespace      string        `yaml:"namespace"`
	Subsystem      string        `yaml:"subsystem"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// OperationMetrics tracks timings for one memoized function
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// DefaultConfig returns the configuration used when none is supplied
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Port:           9090,
		Path:           "/metrics",
		Namespace:      "cachemgr",
		UpdateInterval: 30 * time.Second,
	}
}

// NewCollector creates a new metrics collector. A disabled collector accepts
// every call and records nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 30 * time.Second
	}

	logger := slog.Default().With("component", "metrics")
	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		logger:     logger,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the Prometheus registry, or nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetSizeSource installs the function polled for per-cache entry counts
func (c *Collector) SetSizeSource(fn SizeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sizes = fn
}

// Handler returns the HTTP handler serving metrics, health and debug pages
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.config.Enabled {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start starts the metrics server and the update loop. Both stop when ctx
// is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", c.config.Port, err)
	}

	c.mu.Lock()
	c.listener = listener
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()

	go c.updateLoop(ctx)

	c.logger.Info("Metrics server started", "addr", listener.Addr().String(), "path", c.config.Path)
	return nil
}

// Addr returns the address the server listens on, or "" before Start
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordCacheHit records a cache hit
func (c *Collector) RecordCacheHit(cache string) {
	if !c.config.Enabled {
		return
	}
	c.requestCounter.With(prometheus.Labels{"type": "hit", "cache": cache}).Inc()
}

// RecordCacheMiss records a cache miss
func (c *Collector) RecordCacheMiss(cache string) {
	if !c.config.Enabled {
		return
	}
	c.requestCounter.With(prometheus.Labels{"type": "miss", "cache": cache}).Inc()
}

// RecordEviction records an entry removed to make room
func (c *Collector) RecordEviction(cache string) {
	if !c.config.Enabled {
		return
	}
	c.evictionCounter.With(prometheus.Labels{"cache": cache}).Inc()
}

// RecordExpiration records an expired entry purged on access
func (c *Collector) RecordExpiration(cache string) {
	if !c.config.Enabled {
		return
	}
	c.expirationCounter.With(prometheus.Labels{"cache": cache}).Inc()
}

// RecordError records a failure absorbed by a cache backend
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled {
		return
	}
	c.absorbedCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// Record records the duration of one call to a memoized function
func (c *Collector) Record(name string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	c.memoDuration.With(prometheus.Labels{"name": name}).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	op, exists := c.operations[name]
	if !exists {
		op = &OperationMetrics{}
		c.operations[name] = op
	}
	op.Count++
	op.TotalDuration += duration
	op.AvgDuration = time.Duration(int64(op.TotalDuration) / op.Count)
	if duration > op.MaxDuration {
		op.MaxDuration = duration
	}
	op.LastOperation = time.Now()
}

// UpdateCacheEntries sets the entry count gauge for a cache
func (c *Collector) UpdateCacheEntries(cache string, entries int) {
	if !c.config.Enabled {
		return
	}
	c.cacheEntries.With(prometheus.Labels{"cache": cache}).Set(float64(entries))
}

// GetOperations returns a copy of the per-function timings
func (c *Collector) GetOperations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for name, op := range c.operations {
		operations[name] = *op
	}
	return operations
}

// ResetOperations clears the per-function timings. Prometheus series are
// cumulative and are not affected.
func (c *Collector) ResetOperations() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_requests_total",
			Help:      "Total number of cache lookups by result",
		},
		[]string{"type", "cache"},
	)

	c.evictionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted to make room",
		},
		[]string{"cache"},
	)

	c.expirationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_expirations_total",
			Help:      "Total number of expired entries purged on access",
		},
		[]string{"cache"},
	)

	c.absorbedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "absorbed_errors_total",
			Help:      "Total number of backend failures absorbed without surfacing",
		},
		[]string{"operation", "type"},
	)

	c.memoDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "memo_duration_seconds",
			Help:      "Duration of memoized function calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18), // 100µs to ~13s
		},
		[]string{"name"},
	)

	c.cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "cache_entries",
			Help:      "Current number of entries per cache",
		},
		[]string{"cache"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requestCounter,
		c.evictionCounter,
		c.expirationCounter,
		c.absorbedCounter,
		c.memoDuration,
		c.cacheEntries,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// classifyError labels err by its cache error code, falling back to a
// guess from the message for foreign errors
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	if code, ok := cerrors.CodeOf(err); ok {
		return strings.ToLower(string(code))
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "quota"):
		return "quota_exceeded"
	default:
		return "other"
	}
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	c.updateSizes(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.updateSizes(ctx)
		}
	}
}

func (c *Collector) updateSizes(ctx context.Context) {
	c.mu.RLock()
	sizes := c.sizes
	c.mu.RUnlock()
	if sizes == nil {
		return
	}
	for cache, entries := range sizes(ctx) {
		c.UpdateCacheEntries(cache, entries)
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"cachemgr-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, _ *http.Request) {
	operations := c.GetOperations()
	c.mu.RLock()
	lastReset := c.lastReset
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Memoized Operations Summary\n")
	writef("===========================\n\n")
	writef("Uptime: %v\n", time.Since(lastReset).Truncate(time.Second))
	writef("Last Reset: %v\n\n", lastReset.Format(time.RFC3339))

	if len(operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-24s %10s %14s %14s %10s\n",
		"Operation", "Count", "Avg Duration", "Max Duration", "Last Op")
	writef("%-24s %10s %14s %14s %10s\n",
		"---------", "-----", "------------", "------------", "-------")

	for _, name := range names {
		op := operations[name]
		writef("%-24s %10d %14v %14v %10s\n",
			name, op.Count, op.AvgDuration, op.MaxDuration,
			op.LastOperation.Format("15:04:05"))
	}
}
