package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with callkit-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include prompts and responses in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFrom creates a tracer backed by the given provider.
func NewTracerFrom(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- LLM Spans ---

// LLMSpanOptions contains options for LLM call spans.
type LLMSpanOptions struct {
	Model     string
	Provider  string
	TokensIn  int
	TokensOut int
	Prompt    string // Only included if debug=true
	Response  string // Only included if debug=true
}

// StartLLMSpan starts a span for an LLM call.
func (t *Tracer) StartLLMSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// EndLLMSpan ends an LLM span with attributes.
func (t *Tracer) EndLLMSpan(span trace.Span, opts LLMSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", opts.Model),
		attribute.String("llm.provider", opts.Provider),
		attribute.Int("llm.tokens.input", opts.TokensIn),
		attribute.Int("llm.tokens.output", opts.TokensOut),
	}
	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Think Spans ---

// ThinkSpanOptions describes a finished think operation.
type ThinkSpanOptions struct {
	Provider string
	STMSize  int
	Input    string // Only included if debug=true
	Response string // Only included if debug=true
}

// StartThinkSpan starts a span covering one agent think.
func (t *Tracer) StartThinkSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "agent.think", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("agent.id", agentID))
	return ctx, span
}

// EndThinkSpan ends a think span with attributes.
func (t *Tracer) EndThinkSpan(span trace.Span, opts ThinkSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("agent.provider", opts.Provider),
		attribute.Int("agent.stm.size", opts.STMSize),
	}
	if t.debug {
		if opts.Input != "" {
			attrs = append(attrs, attribute.String("agent.input", truncate(opts.Input, 2000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("agent.response", truncate(opts.Response, 2000)))
		}
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
