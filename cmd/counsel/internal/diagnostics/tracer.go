// Copyright (C) 2026 Madhan S (github.com/madhans476)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package diagnostics provides tracing and metrics for assistant turns.

The CLI runs one span per turn ("counsel.turn") so that a slow or failed
conversation can be followed from the terminal to the backend. Both
concerns come in two tiers:

  - NoOp: generates valid IDs and counts in memory, no network export.
    This is the default; the CLI works offline.
  - Exporting: OTLP span export (Jaeger and friends) and Prometheus
    metrics, enabled through ~/.counsel/counsel.yaml or the standard
    OTEL_EXPORTER_OTLP_ENDPOINT variable.

# Trace ID Format

Both tracer tiers generate W3C-compatible 32-character hex trace IDs and
16-character hex span IDs, so log correlation works the same whether or
not export is configured.
*/
package diagnostics

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -----------------------------------------------------------------------------
// TurnTracer Interface
// -----------------------------------------------------------------------------

// TurnTracer traces assistant turns.
//
// # Description
//
// Abstracts OpenTelemetry span creation so the CLI can run with no
// collector (NoOpTurnTracer) or with full OTLP export (OTelTurnTracer).
// A turn span is opened when the query is sent and finished when the
// stream reaches a terminal state.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
type TurnTracer interface {
	// StartSpan opens a span for one operation.
	//
	// Returns a context carrying the span and a finish function. Pass
	// nil to finish for success, the terminal error otherwise.
	//
	//	ctx, finish := tracer.StartSpan(ctx, "counsel.turn",
	//	    map[string]string{"conversation_id": convID})
	//	defer finish(err)
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))

	// GetTraceID returns the 32-character hex trace ID from the context,
	// or "" when the context has no span.
	GetTraceID(ctx context.Context) string

	// GetSpanID returns the 16-character hex span ID from the context,
	// or "" when the context has no span.
	GetSpanID(ctx context.Context) string

	// GenerateTraceID creates a new random W3C trace ID.
	GenerateTraceID() string

	// GenerateSpanID creates a new random W3C span ID.
	GenerateSpanID() string

	// Shutdown flushes pending spans. Call before process exit; ctx
	// bounds how long the flush may take.
	Shutdown(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// NoOpTurnTracer Implementation
// -----------------------------------------------------------------------------

// NoOpTurnTracer generates valid IDs without exporting anywhere.
//
// This is the default tier: it needs no collector, no network, and no
// configuration. The IDs it generates still show up in logs, so a turn
// can be correlated across the CLI's own output.
type NoOpTurnTracer struct {
	serviceName string
}

// NewNoOpTurnTracer creates a tracer that never exports.
func NewNoOpTurnTracer(serviceName string) *NoOpTurnTracer {
	if serviceName == "" {
		serviceName = "counsel"
	}
	return &NoOpTurnTracer{
		serviceName: serviceName,
	}
}

// StartSpan stores fresh trace and span IDs in the context. The finish
// function does nothing; there is nothing to export.
func (t *NoOpTurnTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	traceID := t.GenerateTraceID()
	spanID := t.GenerateSpanID()

	ctx = context.WithValue(ctx, noOpTraceIDKey{}, traceID)
	ctx = context.WithValue(ctx, noOpSpanIDKey{}, spanID)

	return ctx, func(err error) {
		// No-op: nothing to export
	}
}

// GetTraceID retrieves the trace ID stored by StartSpan.
func (t *NoOpTurnTracer) GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(noOpTraceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetSpanID retrieves the span ID stored by StartSpan.
func (t *NoOpTurnTracer) GetSpanID(ctx context.Context) string {
	if id, ok := ctx.Value(noOpSpanIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateTraceID creates a random 32-character hex trace ID. Falls back
// to a timestamp-based ID if the entropy source fails.
func (t *NoOpTurnTracer) GenerateTraceID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x%016x", time.Now().UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(bytes)
}

// GenerateSpanID creates a random 16-character hex span ID. Falls back
// to a timestamp-based ID if the entropy source fails.
func (t *NoOpTurnTracer) GenerateSpanID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// Shutdown is a no-op; there is nothing to flush.
func (t *NoOpTurnTracer) Shutdown(ctx context.Context) error {
	return nil
}

// Context keys for the no-op tracer.
type noOpTraceIDKey struct{}
type noOpSpanIDKey struct{}

// -----------------------------------------------------------------------------
// OTelTurnTracer Implementation
// -----------------------------------------------------------------------------

// OTelTurnTracer exports turn spans to an OTLP collector.
//
// Spans carry the conversation ID, request ID, and terminal phase as
// attributes, so a support request quoting a trace ID can be followed
// through Jaeger to the exact turn that failed.
type OTelTurnTracer struct {
	tracer trace.Tracer

	// provider is kept for Shutdown.
	provider *sdktrace.TracerProvider

	serviceName string
}

// OTelTracerConfig configures the OTelTurnTracer.
type OTelTracerConfig struct {
	// ServiceName is the service identifier in traces.
	// Default: "counsel"
	ServiceName string

	// Endpoint is the OTLP collector endpoint.
	// Default: "localhost:4317"
	Endpoint string

	// Insecure disables TLS for the connection.
	// Default: true (for local development)
	Insecure bool
}

// NewOTelTurnTracer creates a tracer that exports spans over OTLP/gRPC.
//
// Requires a collector at the configured endpoint; construction fails if
// the gRPC client cannot be created.
//
//	tracer, err := NewOTelTurnTracer(ctx, OTelTracerConfig{
//	    ServiceName: "counsel",
//	    Endpoint:    "jaeger:4317",
//	    Insecure:    true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
func NewOTelTurnTracer(ctx context.Context, config OTelTracerConfig) (*OTelTurnTracer, error) {
	if config.ServiceName == "" {
		config.ServiceName = "counsel"
	}
	if config.Endpoint == "" {
		config.Endpoint = "localhost:4317"
	}

	var dialOpts []grpc.DialOption
	if config.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(config.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			attribute.String("deployment.environment", getEnvironment()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &OTelTurnTracer{
		tracer:      provider.Tracer(config.ServiceName),
		provider:    provider,
		serviceName: config.ServiceName,
	}, nil
}

// StartSpan creates an exported span with the given attributes. The span
// nests under any parent span already in ctx.
func (t *OTelTurnTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(otelAttrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	finish := func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	return ctx, finish
}

// GetTraceID returns the trace ID of the active span, or "".
func (t *OTelTurnTracer) GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	traceID := span.SpanContext().TraceID()
	if !traceID.IsValid() {
		return ""
	}
	return traceID.String()
}

// GetSpanID returns the span ID of the active span, or "".
func (t *OTelTurnTracer) GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	spanID := span.SpanContext().SpanID()
	if !spanID.IsValid() {
		return ""
	}
	return spanID.String()
}

// GenerateTraceID creates a random 32-character hex trace ID.
func (t *OTelTurnTracer) GenerateTraceID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x%016x", time.Now().UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(bytes)
}

// GenerateSpanID creates a random 16-character hex span ID.
func (t *OTelTurnTracer) GenerateSpanID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// Shutdown flushes pending spans to the collector.
func (t *OTelTurnTracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helper Functions
// -----------------------------------------------------------------------------

// getEnvironment returns the deployment environment for span resources.
// Defaults to "development" when unset.
func getEnvironment() string {
	if env := os.Getenv("COUNSEL_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// NewDefaultTurnTracer creates the appropriate tracer for the environment.
//
// The endpoint argument comes from config; when it is empty the standard
// OTEL_EXPORTER_OTLP_ENDPOINT variable is consulted. With no endpoint at
// all, the NoOp tier is returned and the CLI runs fully offline.
//
//	tracer, err := NewDefaultTurnTracer(ctx, "counsel", cfg.Diagnostics.OTLPEndpoint)
//	if err != nil {
//	    tracer = NewNoOpTurnTracer("counsel")
//	}
func NewDefaultTurnTracer(ctx context.Context, serviceName, endpoint string) (TurnTracer, error) {
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return NewNoOpTurnTracer(serviceName), nil
	}

	return NewOTelTurnTracer(ctx, OTelTracerConfig{
		ServiceName: serviceName,
		Endpoint:    endpoint,
		Insecure:    os.Getenv("OTEL_INSECURE") != "false",
	})
}

// Compile-time interface compliance checks.
var _ TurnTracer = (*NoOpTurnTracer)(nil)
var _ TurnTracer = (*OTelTurnTracer)(nil)
