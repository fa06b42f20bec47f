// Package metrics exposes Prometheus counters for storage traffic,
// thumbnail rendering and cache behavior.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector registers and serves the process metrics. A disabled
// collector is a no-op and safe to call.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	storageOps     *prometheus.CounterVec
	storageErrors  *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	catalogBuilds  *prometheus.CounterVec
	farmsGauge     prometheus.Gauge

	server *http.Server
}

// NewCollector creates a collector and registers its metrics.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   false,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "farmsight",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "farmsight"
	}

	c := &Collector{config: config}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	ns := config.Namespace

	c.storageOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "storage_operations_total",
		Help:      "Storage backend calls by operation and status",
	}, []string{"operation", "status"})

	c.storageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "storage_errors_total",
		Help:      "Storage backend failures by error category",
	}, []string{"category"})

	c.renderDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "render_duration_seconds",
		Help:      "Thumbnail render latency by variant",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"variant"})

	c.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "thumbnail_cache_hits_total",
		Help:      "Thumbnail cache hits",
	})

	c.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "thumbnail_cache_misses_total",
		Help:      "Thumbnail cache misses",
	})

	c.catalogBuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "catalog_builds_total",
		Help:      "Catalog builds by status",
	}, []string{"status"})

	c.farmsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "farms_indexed",
		Help:      "Farms in the current index",
	})

	for _, m := range []prometheus.Collector{
		c.storageOps, c.storageErrors, c.renderDuration,
		c.cacheHits, c.cacheMisses, c.catalogBuilds, c.farmsGauge,
	} {
		if err := c.registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return c, nil
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordStorageOp counts one backend call.
func (c *Collector) RecordStorageOp(operation string, success bool) {
	if !c.config.Enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	c.storageOps.WithLabelValues(operation, status).Inc()
}

// RecordStorageError counts a backend failure by taxonomy category.
func (c *Collector) RecordStorageError(category string) {
	if !c.config.Enabled {
		return
	}
	c.storageErrors.WithLabelValues(category).Inc()
}

// RecordRender observes one thumbnail render.
func (c *Collector) RecordRender(variant string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.renderDuration.WithLabelValues(variant).Observe(duration.Seconds())
}

// RecordCacheHit counts a thumbnail cache hit.
func (c *Collector) RecordCacheHit() {
	if !c.config.Enabled {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss counts a thumbnail cache miss.
func (c *Collector) RecordCacheMiss() {
	if !c.config.Enabled {
		return
	}
	c.cacheMisses.Inc()
}

// RecordCatalogBuild counts one catalog build.
func (c *Collector) RecordCatalogBuild(success bool) {
	if !c.config.Enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	c.catalogBuilds.WithLabelValues(status).Inc()
}

// SetFarmCount records the size of the farm index.
func (c *Collector) SetFarmCount(n int) {
	if !c.config.Enabled {
		return
	}
	c.farmsGauge.Set(float64(n))
}
