// Package tracing wires OpenTelemetry spans around custody operations.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/logger"
)

const tracerName = "github.com/angelmondragon/custody-backend"

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Init installs a batching OTLP tracer provider. An empty endpoint keeps the
// global no-op provider.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName string, logg *logger.Logger) (ShutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		if logg != nil {
			logg.Info(ctx, "tracing disabled (no OTLP endpoint configured)")
		}
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "endpoint", cfg.OTLPEndpoint), "tracing enabled")
	}
	return tp.Shutdown, nil
}

// StartSpan starts a new span with the given name and returns the updated context and span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func TenantID(id string) attribute.KeyValue {
	return attribute.String("tenant.id", id)
}

func WalletID(id string) attribute.KeyValue {
	return attribute.String("wallet.id", id)
}

func Amount(amount int64) attribute.KeyValue {
	return attribute.Int64("amount", amount)
}

func EventID(id string) attribute.KeyValue {
	return attribute.String("event.id", id)
}

func Provider(name string) attribute.KeyValue {
	return attribute.String("webhook.provider", name)
}

func SequenceKey(key string) attribute.KeyValue {
	return attribute.String("sequence.key", key)
}
