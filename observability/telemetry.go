package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides tracing and metrics export through OpenTelemetry.
// The concrete exporter is whatever the host process installed as the
// global otel provider; without one, everything here is a no-op.
type Telemetry interface {
	// StartSpan starts a new trace span.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func())

	// RecordDuration records an execution duration in seconds.
	RecordDuration(duration float64, labels map[string]string)

	// CountExecution increments the execution counter.
	CountExecution(labels map[string]string)

	// CountDenial increments the denial counter.
	CountDenial(labels map[string]string)

	// AddActive adjusts the in-flight execution gauge.
	AddActive(delta int64)
}

// SpanOption configures span creation.
type SpanOption func(*spanConfig)

type spanConfig struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// WithAttribute adds an attribute to the span.
func WithAttribute(key string, value interface{}) SpanOption {
	return func(c *spanConfig) {
		switch v := value.(type) {
		case string:
			c.attributes = append(c.attributes, attribute.String(key, v))
		case int:
			c.attributes = append(c.attributes, attribute.Int(key, v))
		case int64:
			c.attributes = append(c.attributes, attribute.Int64(key, v))
		case float64:
			c.attributes = append(c.attributes, attribute.Float64(key, v))
		case bool:
			c.attributes = append(c.attributes, attribute.Bool(key, v))
		}
	}
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// TelemetryConfig configures telemetry.
type TelemetryConfig struct {
	// ServiceName is the service name for tracing.
	ServiceName string

	// ServiceVersion is the service version.
	ServiceVersion string

	// EnableTracing enables distributed tracing.
	EnableTracing bool

	// EnableMetrics enables metrics collection.
	EnableMetrics bool

	// MetricsPrefix is the prefix for all metrics.
	MetricsPrefix string
}

// DefaultTelemetryConfig returns default configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		ServiceName:    "guard",
		ServiceVersion: "1.0.0",
		EnableTracing:  true,
		EnableMetrics:  true,
		MetricsPrefix:  "guard_",
	}
}

type telemetry struct {
	config TelemetryConfig
	tracer trace.Tracer
	meter  metric.Meter

	executionCounter  metric.Int64Counter
	denialCounter     metric.Int64Counter
	executionDuration metric.Float64Histogram
	activeExecutions  metric.Int64UpDownCounter
}

// NewTelemetry creates a new telemetry instance.
func NewTelemetry(config TelemetryConfig) (Telemetry, error) {
	t := &telemetry{
		config: config,
		tracer: otel.Tracer(config.ServiceName),
		meter:  otel.Meter(config.ServiceName),
	}

	var err error

	t.executionCounter, err = t.meter.Int64Counter(
		config.MetricsPrefix+"executions_total",
		metric.WithDescription("Total number of guarded command executions"),
	)
	if err != nil {
		return nil, err
	}

	t.denialCounter, err = t.meter.Int64Counter(
		config.MetricsPrefix+"denials_total",
		metric.WithDescription("Total number of requests refused before spawning"),
	)
	if err != nil {
		return nil, err
	}

	t.executionDuration, err = t.meter.Float64Histogram(
		config.MetricsPrefix+"execution_duration_seconds",
		metric.WithDescription("Duration of guarded command executions"),
	)
	if err != nil {
		return nil, err
	}

	t.activeExecutions, err = t.meter.Int64UpDownCounter(
		config.MetricsPrefix+"active_executions",
		metric.WithDescription("Number of currently running child processes"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// StartSpan implements Telemetry.StartSpan.
func (t *telemetry) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func()) {
	if !t.config.EnableTracing {
		return ctx, func() {}
	}

	cfg := &spanConfig{
		kind: trace.SpanKindInternal,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(cfg.attributes...),
		trace.WithSpanKind(cfg.kind),
	)

	return ctx, func() {
		span.End()
	}
}

// RecordDuration implements Telemetry.RecordDuration.
func (t *telemetry) RecordDuration(duration float64, labels map[string]string) {
	if !t.config.EnableMetrics {
		return
	}
	t.executionDuration.Record(context.Background(), duration,
		metric.WithAttributes(labelsToAttributes(labels)...))
}

// CountExecution implements Telemetry.CountExecution.
func (t *telemetry) CountExecution(labels map[string]string) {
	if !t.config.EnableMetrics {
		return
	}
	t.executionCounter.Add(context.Background(), 1,
		metric.WithAttributes(labelsToAttributes(labels)...))
}

// CountDenial implements Telemetry.CountDenial.
func (t *telemetry) CountDenial(labels map[string]string) {
	if !t.config.EnableMetrics {
		return
	}
	t.denialCounter.Add(context.Background(), 1,
		metric.WithAttributes(labelsToAttributes(labels)...))
}

// AddActive implements Telemetry.AddActive.
func (t *telemetry) AddActive(delta int64) {
	if !t.config.EnableMetrics {
		return
	}
	t.activeExecutions.Add(context.Background(), delta)
}

// labelsToAttributes converts labels to OTEL attributes.
func labelsToAttributes(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// NoopTelemetry returns a no-op telemetry implementation.
func NoopTelemetry() Telemetry {
	return &noopTelemetry{}
}

type noopTelemetry struct{}

func (t *noopTelemetry) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, func()) {
	return ctx, func() {}
}

func (t *noopTelemetry) RecordDuration(duration float64, labels map[string]string) {}
func (t *noopTelemetry) CountExecution(labels map[string]string)                   {}
func (t *noopTelemetry) CountDenial(labels map[string]string)                      {}
func (t *noopTelemetry) AddActive(delta int64)                                     {}
