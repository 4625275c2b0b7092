package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/hmr/pkg/hmr"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "hmr").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "hmr",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records runtime and dev server metrics.
type Metrics struct {
	loadsTotal       *prometheus.CounterVec
	loadDuration     prometheus.Histogram
	loadErrors       *prometheus.CounterVec
	updatesTotal     *prometheus.CounterVec
	updateDuration   prometheus.Histogram
	patchedModules   prometheus.Histogram
	generation       prometheus.Gauge
	connectedClients prometheus.Gauge
	framesSent       *prometheus.CounterVec
}

var _ hmr.Interceptor = (*Metrics)(nil)

// NewMetrics registers the metrics with the configured registry. Creating
// two instances against the same registry panics, as promauto does.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		loadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "loads_total",
			Help:        "Total number of module loads",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		loadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "load_duration_seconds",
			Help:        "Module load duration in seconds, dependencies included",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		loadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "load_errors_total",
			Help:        "Total number of failed module loads",
			ConstLabels: config.ConstLabels,
		}, []string{"error_type"}),

		updatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "updates_total",
			Help:        "Total number of update batches by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		updateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "update_duration_seconds",
			Help:        "Update batch duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		patchedModules: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "patched_modules",
			Help:        "Number of modules re-executed per patched update",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		generation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "generation",
			Help:        "Last settled update generation",
			ConstLabels: config.ConstLabels,
		}),

		connectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected_clients",
			Help:        "Number of clients attached to the dev server",
			ConstLabels: config.ConstLabels,
		}),

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_sent_total",
			Help:        "Total frames sent by the dev server",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),
	}
}

// InterceptLoad times a module load.
func (m *Metrics) InterceptLoad(ctx context.Context, id hmr.ModuleID, next hmr.LoadStep) error {
	start := time.Now()
	err := next(ctx)
	m.loadDuration.Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
		m.loadErrors.WithLabelValues(categorizeError(err)).Inc()
	}
	m.loadsTotal.WithLabelValues(status).Inc()
	return err
}

// InterceptUpdate times an update batch and records its outcome.
func (m *Metrics) InterceptUpdate(ctx context.Context, generation uint64, next hmr.UpdateStep) (*hmr.UpdateResult, error) {
	start := time.Now()
	res, err := next(ctx)
	m.updateDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		m.updatesTotal.WithLabelValues("rejected_" + categorizeError(err)).Inc()
		return res, err
	}
	m.updatesTotal.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == hmr.OutcomePatched {
		m.patchedModules.Observe(float64(len(res.Patched)))
	}
	m.generation.Set(float64(res.Generation))
	return res, nil
}

// RecordClientConnect records a client attaching to the dev server.
func (m *Metrics) RecordClientConnect() {
	m.connectedClients.Inc()
}

// RecordClientDisconnect records a client leaving the dev server.
func (m *Metrics) RecordClientDisconnect() {
	m.connectedClients.Dec()
}

// RecordFrame records a frame sent by the dev server.
func (m *Metrics) RecordFrame(frameType string) {
	m.framesSent.WithLabelValues(frameType).Inc()
}

// RecordGeneration records a generation settled outside an interceptor,
// such as on the dev server.
func (m *Metrics) RecordGeneration(generation uint64) {
	m.generation.Set(float64(generation))
}

// categorizeError maps runtime errors to a bounded label set.
func categorizeError(err error) string {
	switch {
	case errors.Is(err, hmr.ErrDecode):
		return "decode"
	case errors.Is(err, hmr.ErrModuleNotFound):
		return "not_found"
	case errors.Is(err, hmr.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, hmr.ErrWouldSuspend):
		return "would_suspend"
	case errors.Is(err, hmr.ErrStaleGeneration):
		return "stale"
	case errors.Is(err, hmr.ErrUpdateInProgress):
		return "in_progress"
	case errors.Is(err, hmr.ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
