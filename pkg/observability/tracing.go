// Package observability exports dispatcher and correlator activity as
// Prometheus metrics and OpenTelemetry spans.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
)

const instrumentationName = "github.com/ajitpratap0/langrpc-go"

const (
	attrMethod   = attribute.Key("rpc.method")
	attrSystem   = attribute.Key("rpc.system")
	attrHandlers = attribute.Key("langrpc.handlers")
	attrKind     = attribute.Key("langrpc.error.kind")
	attrCode     = attribute.Key("rpc.jsonrpc.error_code")
)

// ExporterType selects where spans are sent
type ExporterType string

const (
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
	// ExporterNone records spans without exporting them
	ExporterNone ExporterType = "none"
)

// TracingConfig configures span export for a session.
type TracingConfig struct {
	ServiceName    string `json:"service_name" yaml:"service_name"`
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// System is reported as rpc.system. The server sets it to the schema
	// name when left empty.
	System string `json:"system" yaml:"system"`

	Exporter ExporterType      `json:"exporter" yaml:"exporter"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	Headers  map[string]string `json:"headers" yaml:"headers"`
	Insecure bool              `json:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of dispatches traced; zero means all.
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
	// NeverSample lists chatty methods such as $/progress or
	// textDocument/didChange that are never traced.
	NeverSample []string `json:"never_sample" yaml:"never_sample"`

	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

func (c *TracingConfig) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "langrpc"
	}
	if c.System == "" {
		c.System = "jsonrpc"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Exporter == "" {
		c.Exporter = ExporterNone
	}
}

// TracingProvider turns dispatches into server spans. It implements
// dispatch.Hooks.
type TracingProvider struct {
	system   string
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracingProvider builds an SDK tracer provider from config and installs
// it as the global provider.
func NewTracingProvider(config TracingConfig) (*TracingProvider, error) {
	config.setDefaults()

	exporter, err := newExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", config.Exporter, err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attrSystem.String(config.System),
		)),
		sdktrace.WithSampler(createSampler(config)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.FlushInterval)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return NewTracingProviderFrom(config, tp), nil
}

// NewTracingProviderFrom uses an existing tracer provider. The global
// provider is left alone.
func NewTracingProviderFrom(config TracingConfig, tp *sdktrace.TracerProvider) *TracingProvider {
	config.setDefaults()
	return &TracingProvider{
		system:   config.System,
		tracer:   tp.Tracer(instrumentationName),
		shutdown: tp.Shutdown,
	}
}

func newExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case ExporterNone:
		return nil, nil
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	}
	return nil, fmt.Errorf("unsupported exporter %q", config.Exporter)
}

// DispatchStarted implements dispatch.Hooks.
func (tp *TracingProvider) DispatchStarted(ctx context.Context, method string, handlers int) context.Context {
	ctx, _ = tp.tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attrMethod.String(method),
			attrSystem.String(tp.system),
			attrHandlers.Int(handlers),
		),
	)
	return ctx
}

// DispatchFinished implements dispatch.Hooks.
func (tp *TracingProvider) DispatchFinished(ctx context.Context, method string, err error, elapsed time.Duration) {
	span := trace.SpanFromContext(ctx)
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	if rpcErr, ok := rpcerrors.AsRPCError(err); ok {
		span.SetAttributes(attrKind.String(rpcErr.Kind().String()), attrCode.Int(rpcErr.Code()))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// HandlerFaulted implements dispatch.Hooks.
func (tp *TracingProvider) HandlerFaulted(ctx context.Context, method string, err error) {
	trace.SpanFromContext(ctx).AddEvent("handler.fault", trace.WithAttributes(
		attrMethod.String(method),
		attribute.String("error", err.Error()),
	))
}

// Shutdown flushes pending spans.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	return tp.shutdown(ctx)
}

func createSampler(config TracingConfig) sdktrace.Sampler {
	var base sdktrace.Sampler
	switch {
	case config.SampleRate >= 1:
		base = sdktrace.AlwaysSample()
	case config.SampleRate <= 0:
		base = sdktrace.NeverSample()
	default:
		base = sdktrace.TraceIDRatioBased(config.SampleRate)
	}
	if len(config.NeverSample) == 0 {
		return sdktrace.ParentBased(base)
	}
	ms := &methodSampler{base: base, never: make(map[string]struct{}, len(config.NeverSample))}
	for _, m := range config.NeverSample {
		ms.never[m] = struct{}{}
	}
	return ms
}

// methodSampler drops spans for listed methods and defers to base otherwise.
type methodSampler struct {
	base  sdktrace.Sampler
	never map[string]struct{}
}

func (s *methodSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if _, ok := s.never[p.Name]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop, Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState()}
	}
	return s.base.ShouldSample(p)
}

func (s *methodSampler) Description() string {
	return fmt.Sprintf("MethodSampler{never=%d,base=%s}", len(s.never), s.base.Description())
}
