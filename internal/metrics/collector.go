package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Collector records namedfs events into its own Prometheus registry and
// implements types.MetricsRecorder. A disabled collector drops everything.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry
	logger   *slog.Logger

	opens           *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	connects        *prometheus.CounterVec
	activeConns     prometheus.Gauge
	discoveries     *prometheus.CounterVec

	mu      sync.RWMutex
	started time.Time
	stats   func() any
	server  *http.Server
}

// NewCollector creates a collector. Nothing is registered when cfg is
// disabled.
func NewCollector(cfg config.MetricsConfig, logger *slog.Logger) (*Collector, error) {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "namedfs"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	c := &Collector{config: cfg, logger: logger.With("component", "metrics"), started: time.Now()}
	if !cfg.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.opens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "opens_total",
		Help:      "Filesystem open requests by scheme and status",
	}, []string{"scheme", "status"})

	c.resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "resolutions_total",
		Help:      "Cluster resolutions by outcome (hit, miss, degraded, error)",
	}, []string{"outcome"})

	c.connectDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "connect_duration_seconds",
		Help:      "Backend connection setup time",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
	}, []string{"family"})

	c.connects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "connects_total",
		Help:      "Backend connection attempts by family and status",
	}, []string{"family", "status"})

	c.activeConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "connections_active",
		Help:      "Pooled backend connections currently open",
	})

	c.discoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "discoveries_total",
		Help:      "Registry store discovery attempts by status",
	}, []string{"status"})
}

func (c *Collector) registerMetrics() error {
	for _, m := range []prometheus.Collector{
		c.opens, c.resolutions, c.connectDuration, c.connects, c.activeConns, c.discoveries,
	} {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the Prometheus registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool { return c.config.Enabled }

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordOpen implements types.MetricsRecorder.
func (c *Collector) RecordOpen(scheme string, success bool) {
	if !c.config.Enabled {
		return
	}
	c.opens.WithLabelValues(scheme, status(success)).Inc()
}

// RecordResolution implements types.MetricsRecorder.
func (c *Collector) RecordResolution(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.resolutions.WithLabelValues(outcome).Inc()
}

// RecordConnect implements types.MetricsRecorder.
func (c *Collector) RecordConnect(family string, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}
	c.connects.WithLabelValues(family, status(success)).Inc()
	c.connectDuration.WithLabelValues(family).Observe(duration.Seconds())
}

// SetActiveConnections implements types.MetricsRecorder.
func (c *Collector) SetActiveConnections(n int) {
	if !c.config.Enabled {
		return
	}
	c.activeConns.Set(float64(n))
}

// RecordDiscovery implements types.MetricsRecorder.
func (c *Collector) RecordDiscovery(success bool) {
	if !c.config.Enabled {
		return
	}
	c.discoveries.WithLabelValues(status(success)).Inc()
}

// SetStatsSource installs the function behind /debug/connections.
func (c *Collector) SetStatsSource(fn func() any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = fn
}

// Handler returns the HTTP routes: the metrics path, /health and
// /debug/connections.
func (c *Collector) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if c.registry != nil {
		r.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	r.Get("/health", c.healthHandler)
	r.Get("/debug/connections", c.statsHandler)
	return r
}

// Start serves Handler on the configured port until ctx is done or Stop is
// called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.mu.Lock()
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	c.logger.Info("Metrics server started", "port", c.config.Port, "path", c.config.Path)
	return nil
}

// Stop shuts the server down.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"service": "namedfs",
		"uptime":  time.Since(c.started).Round(time.Second).String(),
	})
}

func (c *Collector) statsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	fn := c.stats
	c.mu.RUnlock()
	if fn == nil {
		http.Error(w, "no stats source", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fn())
}
