// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	outboxconfig "github.com/z5labs/outbox/config"
)

type shutdowner interface {
	Shutdown(context.Context) error
}

// Shutdown releases every OTel provider constructed by [InitTelemetry],
// in the order they were built.
type Shutdown func(context.Context) error

func composeShutdown(shutdowners ...shutdowner) Shutdown {
	return func(ctx context.Context) error {
		var errs []error
		for _, s := range shutdowners {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// globalLoggerProvider holds the provider built by [InitTelemetry] so
// [Logger] can bridge slog loggers to it.
var globalLoggerProvider *sdklog.LoggerProvider

// InitTelemetry builds the tracer, meter and logger providers described by
// cfg, installs them as the global OTel providers, and returns a function
// that flushes and releases them on shutdown. When cfg.Trace/Metric/Log's
// OTLP target is empty, the corresponding provider is a no-op (trace,
// metric) or writes to stdout (log), exactly as the source framework's
// bootstrap falls back.
func InitTelemetry(ctx context.Context, cfg outboxconfig.OTel) (Shutdown, error) {
	res, err := detectResource(ctx, cfg.Resource)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to detect resource: %w", err)
	}

	var shutdowners []shutdowner

	tp, err := initTracerProvider(ctx, cfg.Trace, res)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to init tracer provider: %w", err)
	}
	if s, ok := tp.(shutdowner); ok {
		shutdowners = append(shutdowners, s)
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.Baggage{},
		propagation.TraceContext{},
	))

	mp, err := initMeterProvider(ctx, cfg.Metric, res)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to init meter provider: %w", err)
	}
	if s, ok := mp.(shutdowner); ok {
		shutdowners = append(shutdowners, s)
	}
	otel.SetMeterProvider(mp)

	lp, err := initLogProvider(ctx, cfg.Log, res)
	if err != nil {
		return nil, fmt.Errorf("outbox: failed to init logger provider: %w", err)
	}
	shutdowners = append(shutdowners, lp)
	globalLoggerProvider = lp

	return composeShutdown(shutdowners...), nil
}

// Logger returns a slog.Logger bridged to the OTel logger provider built
// by [InitTelemetry]. Call it only after [InitTelemetry] has run.
func Logger(name string) *slog.Logger {
	return otelslog.NewLogger(name, otelslog.WithLoggerProvider(globalLoggerProvider))
}

func detectResource(ctx context.Context, cfg outboxconfig.Resource) (*resource.Resource, error) {
	return resource.Detect(
		ctx,
		resourceDetectorFunc(func(context.Context) (*resource.Resource, error) {
			return resource.Default(), nil
		}),
		resource.StringDetector(semconv.SchemaURL, semconv.ServiceNameKey, func() (string, error) {
			return cfg.ServiceName, nil
		}),
		resource.StringDetector(semconv.SchemaURL, semconv.ServiceVersionKey, func() (string, error) {
			return cfg.ServiceVersion, nil
		}),
	)
}

type resourceDetectorFunc func(context.Context) (*resource.Resource, error)

func (f resourceDetectorFunc) Detect(ctx context.Context) (*resource.Resource, error) { return f(ctx) }

func initTracerProvider(ctx context.Context, cfg outboxconfig.Trace, res *resource.Resource) (trace.TracerProvider, error) {
	if cfg.Exporter.OTLP.Target == "" {
		return tracenoop.NewTracerProvider(), nil
	}

	exp, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(cfg.Exporter.OTLP.Target),
		otlptracegrpc.WithCompressor("gzip"),
	)
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(
		exp,
		sdktrace.WithBatchTimeout(cfg.Processor.Batch.ExportInterval),
	)

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.Sampling.Ratio)),
		sdktrace.WithSpanProcessor(bsp),
	), nil
}

func initMeterProvider(ctx context.Context, cfg outboxconfig.Metric, res *resource.Resource) (metric.MeterProvider, error) {
	if cfg.Exporter.OTLP.Target == "" {
		return metricnoop.NewMeterProvider(), nil
	}

	exp, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Exporter.OTLP.Target),
		otlpmetricgrpc.WithCompressor("gzip"),
	)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(
		exp,
		sdkmetric.WithInterval(cfg.Reader.Periodic.ExportInterval),
	)

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

func initLogProvider(ctx context.Context, cfg outboxconfig.Log, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	processor, err := initLogProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(processor),
	), nil
}

func initLogProcessor(ctx context.Context, cfg outboxconfig.Log) (sdklog.Processor, error) {
	processor, err := newBaseLogProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if len(cfg.Levels) == 0 {
		return processor, nil
	}
	return newFilteringProcessor(processor, cfg.Levels), nil
}

func newBaseLogProcessor(ctx context.Context, cfg outboxconfig.Log) (sdklog.Processor, error) {
	if cfg.Exporter.OTLP.Target == "" {
		exp, err := stdoutlog.New()
		if err != nil {
			return nil, err
		}
		return sdklog.NewSimpleProcessor(exp), nil
	}

	exp, err := otlploggrpc.New(
		ctx,
		otlploggrpc.WithEndpoint(cfg.Exporter.OTLP.Target),
		otlploggrpc.WithCompressor("gzip"),
	)
	if err != nil {
		return nil, err
	}

	return sdklog.NewBatchProcessor(
		exp,
		sdklog.WithExportInterval(cfg.Processor.Batch.ExportInterval),
	), nil
}
