package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type OtlpConnConfig struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

type OtlpConfig struct {
	Traces  OtlpConnConfig `json:"traces"`
	Metrics OtlpConnConfig `json:"metrics"`
}

type Config struct {
	Otlp OtlpConfig `json:"otlp"`
}

// Telemetry holds the installed providers so they can be flushed on exit.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

func (t Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.TracerProvider != nil {
		errs = append(errs, t.TracerProvider.Shutdown(ctx))
	}
	if t.MeterProvider != nil {
		errs = append(errs, t.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Setup installs global OTLP trace and metric providers.
func Setup(ctx context.Context, serviceName string, config Config) (Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return Telemetry{}, err
	}

	traceExporter, err := otlpTraceExporter(ctx, config)
	if err != nil {
		return Telemetry{}, fmt.Errorf("trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := otlpMetricExporter(ctx, config)
	if err != nil {
		return Telemetry{}, fmt.Errorf("metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(time.Second*5))),
		sdkmetric.WithResource(r),
	)
	otel.SetMeterProvider(meterProvider)

	return Telemetry{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
	}, nil
}

func otlpTraceExporter(ctx context.Context, c Config) (sdktrace.SpanExporter, error) {
	if c.Otlp.Traces.GrpcEndpoint != "" {
		slog.Info(
			"tracer export initialized",
			"type", "grpc",
			"endpoint", c.Otlp.Traces.GrpcEndpoint,
			"headers", len(c.Otlp.Traces.Headers) > 0,
		)
		return otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(c.Otlp.Traces.GrpcEndpoint),
			otlptracegrpc.WithHeaders(c.Otlp.Traces.Headers),
		)
	}

	slog.Info(
		"tracer export initialized",
		"type", "http",
		"endpoint", c.Otlp.Traces.HttpEndpoint,
		"headers", len(c.Otlp.Traces.Headers) > 0,
	)
	return otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpointURL(c.Otlp.Traces.HttpEndpoint),
		otlptracehttp.WithHeaders(c.Otlp.Traces.Headers),
	)
}

func otlpMetricExporter(ctx context.Context, c Config) (sdkmetric.Exporter, error) {
	if c.Otlp.Metrics.GrpcEndpoint != "" {
		slog.Info(
			"metric exporter initialized",
			"type", "grpc",
			"endpoint", c.Otlp.Metrics.GrpcEndpoint,
			"headers", len(c.Otlp.Metrics.Headers) > 0,
		)
		return otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpointURL(c.Otlp.Metrics.GrpcEndpoint),
			otlpmetricgrpc.WithHeaders(c.Otlp.Metrics.Headers),
		)
	}

	slog.Info(
		"metric exporter initialized",
		"type", "http",
		"endpoint", c.Otlp.Metrics.HttpEndpoint,
		"headers", len(c.Otlp.Metrics.Headers) > 0,
	)
	return otlpmetrichttp.New(
		ctx,
		otlpmetrichttp.WithEndpointURL(c.Otlp.Metrics.HttpEndpoint),
		otlpmetrichttp.WithHeaders(c.Otlp.Metrics.Headers),
	)
}

// OtelAPI forwards every report to an inner API and additionally records
// counts and failures on the global OpenTelemetry meter.
type OtelAPI struct {
	inner    API
	counts   metric.Int64Gauge
	broken   metric.Int64Counter
	warnings metric.Int64Counter
}

func NewOtelAPI(inner API) (OtelAPI, error) {
	meter := otel.Meter("caselist-scout")
	counts, err := meter.Int64Gauge("report.count")
	if err != nil {
		return OtelAPI{}, err
	}
	broken, err := meter.Int64Counter("report.broken")
	if err != nil {
		return OtelAPI{}, err
	}
	warnings, err := meter.Int64Counter("report.warning")
	if err != nil {
		return OtelAPI{}, err
	}
	return OtelAPI{
		inner:    inner,
		counts:   counts,
		broken:   broken,
		warnings: warnings,
	}, nil
}

// reportIdAttribute strips the params off, only the component id is used as
// an attribute so cardinality stays bounded.
func reportIdAttribute(id string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("id", strings.ToLower(id)))
}

func (o OtelAPI) ReportBroken(id string, params ...any) {
	o.broken.Add(context.Background(), 1, reportIdAttribute(id))
	o.inner.ReportBroken(id, params...)
}

func (o OtelAPI) ReportWarning(id string, params ...any) {
	o.warnings.Add(context.Background(), 1, reportIdAttribute(id))
	o.inner.ReportWarning(id, params...)
}

func (o OtelAPI) ReportDebug(msg string, params ...any) {
	o.inner.ReportDebug(msg, params...)
}

func (o OtelAPI) ReportCount(id string, count int64) {
	o.counts.Record(context.Background(), count, reportIdAttribute(id))
	o.inner.ReportCount(id, count)
}
