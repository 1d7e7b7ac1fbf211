// Package telemetry はOpenTelemetryによるトレーシングの初期化を提供する。
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName はアプリケーションが発行するスパンのトレーサー名。
const InstrumentationName = "github.com/hitoshi/oauthgate"

// ShutdownFunc は未送信のスパンをフラッシュしてプロバイダーを停止する。
type ShutdownFunc func(context.Context) error

// Setup はトレーシングを初期化する。
// endpointが空の場合はグローバルプロバイダーを登録せず、何もしないShutdownFuncを返す。
func Setup(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// Tracer はグローバルプロバイダーからアプリケーション用のトレーサーを返す。
// Setupが呼ばれていない場合はno-opトレーサーになる。
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
