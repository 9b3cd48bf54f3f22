package tracing

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/stagefire/internal/strategy"
)

// Attribute keys set on stage spans.
const (
	AttrStageIndex     = attribute.Key("stagefire.stage.index")
	AttrStageKind      = attribute.Key("stagefire.stage.kind")
	AttrStageUsers     = attribute.Key("stagefire.stage.users")
	AttrStageSpawnRate = attribute.Key("stagefire.stage.spawn_rate")
	AttrStageDuration  = attribute.Key("stagefire.stage.duration_s")
)

// Resource attribute keys describing the run.
const (
	AttrRunStrategy = attribute.Key("stagefire.run.strategy")
	AttrRunMode     = attribute.Key("stagefire.run.mode")
	AttrRunTester   = attribute.Key("stagefire.run.tester")
	AttrRunSmoke    = attribute.Key("stagefire.run.smoke_s")
)

// RunAttributes describes a strategy run, or a smoke run when smoke is
// positive, for [WithAttributes]. An empty tester is omitted.
func RunAttributes(descriptor string, mode strategy.Mode, tester string, smoke time.Duration) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if smoke > 0 {
		attrs = append(attrs, AttrRunSmoke.Float64(smoke.Seconds()))
	} else {
		attrs = append(attrs, AttrRunStrategy.String(descriptor), AttrRunMode.String(mode.String()))
	}
	if tester != "" {
		attrs = append(attrs, AttrRunTester.String(tester))
	}
	return attrs
}

// StageSpanName names the span of stage index, e.g. "stage 3 rest".
func StageSpanName(index int, stage strategy.Stage) string {
	return "stage " + strconv.Itoa(index) + " " + stage.Kind.String()
}

// StartStageSpan starts the span covering the measured part of a stage, from
// the moment the target concurrency is reached until the stage advances.
func StartStageSpan(ctx context.Context, tracer trace.Tracer, index int, stage strategy.Stage) (context.Context, trace.Span) {
	return tracer.Start(ctx, StageSpanName(index, stage),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrStageIndex.Int(index),
			AttrStageKind.String(stage.Kind.String()),
			AttrStageUsers.Int(stage.Users),
			AttrStageSpawnRate.Int(stage.SpawnRate),
			AttrStageDuration.Int(stage.Duration),
		),
	)
}

// StartRequestSpan starts a client span for one outgoing request.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, target string) (context.Context, trace.Span) {
	spanName := "HTTP " + method
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("http.request.method", method))
	if target != "" {
		span.SetAttributes(attribute.String("url.full", target))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
