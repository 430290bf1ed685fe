// Package otel provides OpenTelemetry metrics and tracing integration
// for casgen.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "casgen",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with casgen-specific helpers.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.RWMutex

	// Metric instruments
	jobsSubmitted     metric.Int64Counter
	jobsCompleted     metric.Int64Counter
	jobDuration       metric.Float64Histogram
	patientsGenerated metric.Int64Counter
	queueDepth        metric.Int64UpDownCounter
	httpRequests      metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	// Create exporter based on type
	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	// Create resource with service information
	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	// Create meter provider
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	// Register metric instruments
	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	// Add custom attributes
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.jobsSubmitted, err = m.meter.Int64Counter(
		"casgen.jobs.submitted",
		metric.WithDescription("Count of generation jobs accepted"),
	)
	if err != nil {
		return fmt.Errorf("failed to create jobs submitted counter: %w", err)
	}

	m.jobsCompleted, err = m.meter.Int64Counter(
		"casgen.jobs.completed",
		metric.WithDescription("Count of jobs reaching a terminal status"),
	)
	if err != nil {
		return fmt.Errorf("failed to create jobs completed counter: %w", err)
	}

	m.jobDuration, err = m.meter.Float64Histogram(
		"casgen.jobs.duration",
		metric.WithDescription("Wall time from start to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create job duration histogram: %w", err)
	}

	m.patientsGenerated, err = m.meter.Int64Counter(
		"casgen.patients.generated",
		metric.WithDescription("Count of patients produced by the simulator"),
	)
	if err != nil {
		return fmt.Errorf("failed to create patients counter: %w", err)
	}

	m.queueDepth, err = m.meter.Int64UpDownCounter(
		"casgen.queue.depth",
		metric.WithDescription("Jobs waiting in the worker queue"),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue depth counter: %w", err)
	}

	m.httpRequests, err = m.meter.Int64Counter(
		"casgen.http.requests",
		metric.WithDescription("Count of HTTP requests by route and status"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return nil
}

// JobSubmitted increments the submitted-jobs counter.
func (m *Metrics) JobSubmitted(ctx context.Context) {
	if m.jobsSubmitted == nil {
		return
	}
	m.jobsSubmitted.Add(ctx, 1)
}

// JobCompleted records a terminal transition and its duration.
func (m *Metrics) JobCompleted(ctx context.Context, status string, durationSeconds float64) {
	if m.jobsCompleted == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.jobsCompleted.Add(ctx, 1, attrs)
	if m.jobDuration != nil {
		m.jobDuration.Record(ctx, durationSeconds, attrs)
	}
}

// PatientsGenerated adds to the generated-patients counter.
func (m *Metrics) PatientsGenerated(ctx context.Context, n int64) {
	if m.patientsGenerated == nil || n <= 0 {
		return
	}
	m.patientsGenerated.Add(ctx, n)
}

// QueueDepthAdd moves the queue depth gauge by delta.
func (m *Metrics) QueueDepthAdd(ctx context.Context, delta int64) {
	if m.queueDepth == nil {
		return
	}
	m.queueDepth.Add(ctx, delta)
}

// HTTPRequest counts one served request.
func (m *Metrics) HTTPRequest(ctx context.Context, method, route string, status int) {
	if m.httpRequests == nil {
		return
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
