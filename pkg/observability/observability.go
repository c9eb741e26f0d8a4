package observability

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/langrpc-go/pkg/dispatch"
	"github.com/ajitpratap0/langrpc-go/pkg/resolve"
)

// Config enables the providers of a session.
type Config struct {
	EnableTracing bool          `json:"enable_tracing" yaml:"enable_tracing"`
	TracingConfig TracingConfig `json:"tracing" yaml:"tracing"`

	EnableMetrics bool          `json:"enable_metrics" yaml:"enable_metrics"`
	MetricsConfig MetricsConfig `json:"metrics" yaml:"metrics"`
}

// Observability bundles the enabled providers.
type Observability struct {
	tracer  *TracingProvider
	metrics *Metrics
}

// New creates the providers enabled in config. With nothing enabled the
// returned hooks do nothing.
func New(config Config) (*Observability, error) {
	o := &Observability{}
	if config.EnableTracing {
		t, err := NewTracingProvider(config.TracingConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracing provider: %w", err)
		}
		o.tracer = t
	}
	if config.EnableMetrics {
		m, err := NewMetrics(config.MetricsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics provider: %w", err)
		}
		o.metrics = m
	}
	return o, nil
}

// Compose bundles already constructed providers. Either may be nil.
func Compose(tracer *TracingProvider, metrics *Metrics) *Observability {
	return &Observability{tracer: tracer, metrics: metrics}
}

// Tracer returns the tracing provider, nil when disabled.
func (o *Observability) Tracer() *TracingProvider {
	return o.tracer
}

// Metrics returns the metrics provider, nil when disabled.
func (o *Observability) Metrics() *Metrics {
	return o.metrics
}

// Hooks returns dispatcher hooks feeding every enabled provider. Tracing
// runs first so metrics see the span context.
func (o *Observability) Hooks() dispatch.Hooks {
	var hs []dispatch.Hooks
	if o.tracer != nil {
		hs = append(hs, o.tracer)
	}
	if o.metrics != nil {
		hs = append(hs, o.metrics)
	}
	return dispatch.MultiHooks(hs...)
}

// Observer returns the resolve observer, nil when metrics are disabled.
func (o *Observability) Observer() resolve.Observer {
	if o.metrics == nil {
		return nil
	}
	return o.metrics
}

// Start starts the metrics endpoint if configured.
func (o *Observability) Start(ctx context.Context) error {
	if o.metrics == nil {
		return nil
	}
	return o.metrics.Start(ctx)
}

// Shutdown flushes spans and stops the metrics endpoint.
func (o *Observability) Shutdown(ctx context.Context) error {
	var err error
	if o.tracer != nil {
		err = o.tracer.Shutdown(ctx)
	}
	if o.metrics != nil {
		if shutdownErr := o.metrics.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}
	return err
}
