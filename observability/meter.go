package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/sdtmforge/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config MeterConfig, log *logger.Logger) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	log.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the metric instruments recorded around stage execution.
type Metrics struct {
	stageTotal    metric.Int64Counter
	stageDuration metric.Float64Histogram
	stageActive   metric.Int64UpDownCounter
	domainTotal   metric.Int64Counter
	errorTotal    metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	stageTotal, err := meter.Int64Counter("stage.total",
		metric.WithDescription("Total number of stage executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stage.total counter: %w", err)
	}

	stageDuration, err := meter.Float64Histogram("stage.duration",
		metric.WithDescription("Wall time of stage executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stage.duration histogram: %w", err)
	}

	stageActive, err := meter.Int64UpDownCounter("stage.active",
		metric.WithDescription("Number of currently in-flight stage invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stage.active gauge: %w", err)
	}

	domainTotal, err := meter.Int64Counter("domain.total",
		metric.WithDescription("Per-domain stage outcomes by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating domain.total counter: %w", err)
	}

	errorTotal, err := meter.Int64Counter("error.total",
		metric.WithDescription("Total errors by code and stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating error.total counter: %w", err)
	}

	return &Metrics{
		stageTotal:    stageTotal,
		stageDuration: stageDuration,
		stageActive:   stageActive,
		domainTotal:   domainTotal,
		errorTotal:    errorTotal,
	}, nil
}

// RecordStageStart increments the in-flight invocation count.
func (m *Metrics) RecordStageStart(ctx context.Context) {
	m.stageActive.Add(ctx, 1)
}

// RecordStageEnd records a completed stage invocation.
func (m *Metrics) RecordStageEnd(ctx context.Context, stage, domain, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("domain", domain),
		attribute.String("status", status),
	)
	m.stageActive.Add(ctx, -1)
	m.stageTotal.Add(ctx, 1, attrs)
	m.domainTotal.Add(ctx, 1, attrs)
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("domain", domain),
	))
}

// RecordError records an error by code and stage.
func (m *Metrics) RecordError(ctx context.Context, code, stage string) {
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.String("stage", stage),
	))
}
