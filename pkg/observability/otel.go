package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const exporterTimeout = 10 * time.Second

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	// SampleRatio is the share of root traces kept; 0 or above 1 keeps all
	SampleRatio float64
	// Attributes are added to the resource, e.g. canopy.out_dir
	Attributes map[string]string
}

func (c OTelConfig) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func (c OTelConfig) resourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(c.ServiceName),
		semconv.ServiceVersionKey.String(c.ServiceVersion),
	}
	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, c.Attributes[k]))
	}
	return attrs
}

// OTelProviders holds the installed providers until ShutdownOTel
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

// InitOTel installs OTLP/gRPC trace and metric providers as the globals used
// by the compile spans and otelhttp. It returns nil providers when disabled.
func InitOTel(ctx context.Context, cfg OTelConfig, logger *Logger) (*OTelProviders, error) {
	if !cfg.Enabled {
		logger.Debug("OpenTelemetry is disabled")
		return nil, nil
	}
	logger = logger.WithField("endpoint", cfg.Endpoint)

	res, err := resource.New(ctx,
		resource.WithAttributes(cfg.resourceAttributes()...),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var dialOpts []grpc.DialOption
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	dialCtx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	traceExporter, err := otlptracegrpc.New(dialCtx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(dialCtx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(dialOpts...),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	providers := &OTelProviders{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithSampler(cfg.sampler()),
		),
		MeterProvider: metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(10*time.Second))),
		),
	}

	otel.SetTracerProvider(providers.TracerProvider)
	otel.SetMeterProvider(providers.MeterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.WithField("sample_ratio", cfg.SampleRatio).Info("OpenTelemetry initialized")
	return providers, nil
}

// ShutdownOTel flushes and stops both providers, reporting every failure
func ShutdownOTel(ctx context.Context, providers *OTelProviders, logger *Logger) error {
	if providers == nil {
		return nil
	}

	type step struct {
		name string
		fn   func(context.Context) error
	}
	var steps []step
	if providers.TracerProvider != nil {
		steps = append(steps, step{"tracer provider", providers.TracerProvider.Shutdown})
	}
	if providers.MeterProvider != nil {
		steps = append(steps, step{"meter provider", providers.MeterProvider.Shutdown})
	}

	var errs []error
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			logger.WithError(err).WithField("provider", step.name).Error("OpenTelemetry shutdown failed")
			errs = append(errs, fmt.Errorf("%s shutdown: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}
