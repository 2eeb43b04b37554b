// Package otel provides an OpenTelemetry emitter for taskcore.
//
// Each Execute or Resume call becomes one span; emitted events become span events and ERROR events
// are recorded as span errors.
//
//	a := agent.New(oracle, store, runner, agent.WithEmitter(otel.New(otel.WithTracerProvider(tp))))
package otel

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/m-mizutani/taskcore"
	otelAPI "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/m-mizutani/taskcore"

type Option func(*emitter)

// WithTracerProvider sets an explicit TracerProvider. The global one is used if not set.
func WithTracerProvider(tp otelTrace.TracerProvider) Option {
	return func(e *emitter) {
		e.tracerProvider = tp
	}
}

type emitter struct {
	tracerProvider otelTrace.TracerProvider
	tracer         otelTrace.Tracer
}

var (
	_ taskcore.Emitter     = (*emitter)(nil)
	_ taskcore.RunObserver = (*emitter)(nil)
)

func New(opts ...Option) taskcore.Emitter {
	e := &emitter{}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracerProvider == nil {
		e.tracerProvider = otelAPI.GetTracerProvider()
	}
	e.tracer = e.tracerProvider.Tracer(tracerName)
	return e
}

func (e *emitter) StartRun(ctx context.Context, sessionID string) context.Context {
	ctx, _ = e.tracer.Start(ctx, "session_run",
		otelTrace.WithSpanKind(otelTrace.SpanKindInternal),
		otelTrace.WithAttributes(sessionIDAttr(sessionID)),
	)
	return ctx
}

func (e *emitter) EndRun(ctx context.Context, err error) {
	span := otelTrace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *emitter) Emit(ctx context.Context, ev *taskcore.Event) {
	span := otelTrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{iterationAttr(ev.Iteration)}
	if len(ev.Payload) > 0 {
		if b, err := json.Marshal(ev.Payload); err == nil {
			attrs = append(attrs, payloadAttr(string(b)))
		}
	}
	evOpts := []otelTrace.EventOption{otelTrace.WithAttributes(attrs...)}
	if !ev.Timestamp.IsZero() {
		evOpts = append(evOpts, otelTrace.WithTimestamp(ev.Timestamp))
	}
	span.AddEvent(string(ev.Kind), evOpts...)

	if ev.Kind == taskcore.EventError {
		msg, _ := ev.Payload["error"].(string)
		span.RecordError(errors.New(msg))
	}
}
