/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// tracerName scopes every span the console starts itself.
const tracerName = "github.com/friendsincode/stagehand"

// Span attribute keys for console operations.
const (
	AttrRoom       = attribute.Key("stagehand.room")
	AttrFeedKey    = attribute.Key("stagehand.feed.stream_key")
	AttrFeedFile   = attribute.Key("stagehand.feed.local_file")
	AttrFeedZoom   = attribute.Key("stagehand.feed.secondary")
	AttrOutcome    = attribute.Key("stagehand.outcome")
	attrRoomCount  = attribute.Key("stagehand.rooms")
	attrMusicOn    = attribute.Key("stagehand.music.enabled")
	attrScheduleOn = attribute.Key("stagehand.schedule.enabled")
)

// TracerConfig controls OTLP trace export. The console fields end up as
// resource attributes so traces from several consoles can be told apart.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	InstanceID     string
	OTLPEndpoint   string // host:port of the collector
	Enabled        bool
	SampleRate     float64

	Rooms           int
	MusicEnabled    bool
	ScheduleEnabled bool
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracer installs the global tracer provider. When tracing is disabled a
// no-op provider is installed so span helpers stay cheap.
func InitTracer(ctx context.Context, cfg TracerConfig, logger zerolog.Logger) (*TracerProvider, error) {
	if !cfg.Enabled {
		logger.Debug().Msg("tracing disabled")
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return &TracerProvider{}, nil
	}

	logger.Info().
		Str("otlp_endpoint", cfg.OTLPEndpoint).
		Str("instance_id", cfg.InstanceID).
		Float64("sample_rate", cfg.SampleRate).
		Msg("initializing tracing")

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: tp}, nil
}

func resourceAttributes(cfg TracerConfig) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = "stagehand"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attrRoomCount.Int(cfg.Rooms),
		attrMusicOn.Bool(cfg.MusicEnabled),
		attrScheduleOn.Bool(cfg.ScheduleEnabled),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.InstanceID))
	}
	return attrs
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := tp.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// Parent-based so spans started under an incoming request follow its decision.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0.0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// StartRoomSpan starts a span for an operation on one room. An empty room is
// left off the span.
func StartRoomSpan(ctx context.Context, name, room string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if room != "" {
		attrs = append(attrs, AttrRoom.String(room))
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records the outcome and err, if any, and ends the span.
func EndSpan(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(AttrOutcome.String(outcome))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
