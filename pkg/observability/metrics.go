package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/resolve"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string `json:"service_name" yaml:"service_name"`
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// Prometheus configuration
	MetricsPath string `json:"path" yaml:"path"` // HTTP path for metrics endpoint (default: /metrics)
	MetricsAddr string `json:"addr" yaml:"addr"` // Listen address for Start; empty disables the endpoint

	// Metric options
	Namespace        string    `json:"namespace" yaml:"namespace"`                 // Prometheus namespace (default: langrpc)
	Subsystem        string    `json:"subsystem" yaml:"subsystem"`                 // Prometheus subsystem
	HistogramBuckets []float64 `json:"histogram_buckets" yaml:"histogram_buckets"` // Custom histogram buckets for latency

	// Labels to add to all metrics
	ConstLabels prometheus.Labels `json:"const_labels" yaml:"const_labels"`

	// Registry receives the collectors. A private registry is created when
	// nil so several sessions in one process don't collide.
	Registry *prometheus.Registry `json:"-" yaml:"-"`
}

// Metrics records dispatcher and correlator activity in Prometheus.
// It implements dispatch.Hooks and resolve.Observer.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server

	dispatchDuration *prometheus.HistogramVec
	dispatchTotal    *prometheus.CounterVec
	handlersSelected *prometheus.HistogramVec
	handlerFaults    *prometheus.CounterVec
	inFlight         prometheus.Gauge
	resolveRouted    *prometheus.CounterVec
	capabilityDelta  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "langrpc"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.HistogramBuckets == nil {
		// milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	labels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		labels[k] = v
	}
	if config.ServiceName != "" {
		labels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		labels["version"] = config.ServiceVersion
	}
	config.ConstLabels = labels
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	m := &Metrics{config: config, registry: config.Registry}
	m.initializeMetrics()
	if err := m.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initializeMetrics() {
	c := m.config

	m.dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "dispatch_duration_milliseconds",
			Help:        "Duration of dispatched messages in milliseconds",
			Buckets:     c.HistogramBuckets,
			ConstLabels: c.ConstLabels,
		},
		[]string{"method", "status"},
	)

	m.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "dispatch_total",
			Help:        "Total number of dispatched messages",
			ConstLabels: c.ConstLabels,
		},
		[]string{"method", "status"},
	)

	m.handlersSelected = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "handlers_selected",
			Help:        "Number of handlers selected per dispatch",
			Buckets:     []float64{1, 2, 3, 5, 8, 13},
			ConstLabels: c.ConstLabels,
		},
		[]string{"method"},
	)

	m.handlerFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "handler_fault_total",
			Help:        "Total number of handler errors and panics",
			ConstLabels: c.ConstLabels,
		},
		[]string{"method", "kind"},
	)

	m.inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "dispatch_in_flight",
			Help:        "Number of dispatches currently running",
			ConstLabels: c.ConstLabels,
		},
	)

	m.resolveRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "resolve_routed_total",
			Help:        "Resolve requests by routing outcome",
			ConstLabels: c.ConstLabels,
		},
		[]string{"method", "outcome"},
	)

	m.capabilityDelta = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "capability_changes_total",
			Help:        "Capabilities added or removed after initialization",
			ConstLabels: c.ConstLabels,
		},
		[]string{"change"},
	)
}

func (m *Metrics) registerMetrics() error {
	collectors := []prometheus.Collector{
		m.dispatchDuration,
		m.dispatchTotal,
		m.handlersSelected,
		m.handlerFaults,
		m.inFlight,
		m.resolveRouted,
		m.capabilityDelta,
	}
	for _, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// DispatchStarted implements dispatch.Hooks.
func (m *Metrics) DispatchStarted(ctx context.Context, method string, handlers int) context.Context {
	m.inFlight.Inc()
	m.handlersSelected.WithLabelValues(method).Observe(float64(handlers))
	return ctx
}

// DispatchFinished implements dispatch.Hooks.
func (m *Metrics) DispatchFinished(ctx context.Context, method string, err error, elapsed time.Duration) {
	m.inFlight.Dec()
	status := statusOf(err)
	m.dispatchDuration.WithLabelValues(method, status).Observe(float64(elapsed.Milliseconds()))
	m.dispatchTotal.WithLabelValues(method, status).Inc()
}

// HandlerFaulted implements dispatch.Hooks.
func (m *Metrics) HandlerFaulted(ctx context.Context, method string, err error) {
	m.handlerFaults.WithLabelValues(method, statusOf(err)).Inc()
}

// ResolveRouted implements resolve.Observer.
func (m *Metrics) ResolveRouted(method string, outcome resolve.Outcome) {
	m.resolveRouted.WithLabelValues(method, string(outcome)).Inc()
}

// RecordCapabilityChange counts methods registered or unregistered with the
// peer after initialization.
func (m *Metrics) RecordCapabilityChange(added, removed int) {
	m.capabilityDelta.WithLabelValues("added").Add(float64(added))
	m.capabilityDelta.WithLabelValues("removed").Add(float64(removed))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Start serves the metrics endpoint on MetricsAddr. It returns once the
// listener is bound.
func (m *Metrics) Start(ctx context.Context) error {
	if m.config.MetricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", m.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	go func() {
		_ = srv.Serve(ln)
	}()
	return nil
}

// Shutdown stops the metrics endpoint.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.server = nil
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// statusOf labels an outcome: "ok" for success, otherwise the error kind.
func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	if rpcErr, ok := rpcerrors.AsRPCError(err); ok {
		return rpcErr.Kind().String()
	}
	return "error"
}
