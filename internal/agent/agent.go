// Package agent wraps an OpenTelemetry tracer provider in the small surface
// the todo harness exercises: entry spans around requests, custom spans,
// a live-adjustable sampling policy and the counters the accounting engine
// reads.
package agent

import (
	"context"
	"math"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pako-23/todo-harness/internal/accounting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultServiceName = "todo-harness"
	MaxSampleRate      = 1000000

	// TraceHeader carries the entry span's traceparent on responses and is
	// accepted on requests in place of traceparent.
	TraceHeader = "X-Trace"

	instrumentationName = "github.com/pako-23/todo-harness/internal/agent"
)

var (
	_ accounting.SpanLookup  = (*Agent)(nil)
	_ accounting.SpanCounter = (*Agent)(nil)
)

type Agent struct {
	serviceName string
	serviceKey  string
	customNames bool
	exporter    sdktrace.SpanExporter
	logger      *zap.Logger

	rate   atomic.Uint64
	mode   atomic.Int32
	insert atomic.Int32

	mu           sync.Mutex
	logging      map[string]bool
	lastSettings map[string]any

	enters        atomic.Uint64
	exits         atomic.Uint64
	tracesSampled atomic.Uint64
	tracesDropped atomic.Uint64

	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func New(options ...Option) (*Agent, error) {
	a := &Agent{
		serviceName:  DefaultServiceName,
		logger:       zap.NewNop(),
		logging:      map[string]bool{},
		lastSettings: map[string]any{},
		propagator:   propagation.TraceContext{},
	}
	a.rate.Store(math.Float64bits(MaxSampleRate))
	a.mode.Store(int32(TraceModeUnset))
	a.insert.Store(int32(InsertSampledOnly))

	for _, option := range options {
		if err := option(a); err != nil {
			return nil, err
		}
	}

	resource := sdkresource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(a.serviceName),
		semconv.ProcessPID(os.Getpid()))

	providerOptions := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(&sampler{agent: a}),
		sdktrace.WithResource(resource),
	}
	if a.exporter != nil {
		providerOptions = append(providerOptions, sdktrace.WithBatcher(a.exporter))
	}

	a.provider = sdktrace.NewTracerProvider(providerOptions...)
	a.tracer = a.provider.Tracer(instrumentationName)

	return a, nil
}

func (a *Agent) ServiceName() string {
	return a.serviceName
}

// Version is the OpenTelemetry SDK version backing the agent.
func (a *Agent) Version() string {
	return otel.Version()
}

// CurrentSpan reports the span carried by ctx.
func (a *Agent) CurrentSpan(ctx context.Context) (accounting.Span, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return accounting.Span{}, false
	}

	return accounting.Span{Sampled: sc.IsSampled()}, true
}

func (a *Agent) EntrySpans() (uint64, uint64) {
	return a.enters.Load(), a.exits.Load()
}

// EntrySpanName names the span of a request. Custom naming reproduces the
// controller/action naming of the reference agent.
func (a *Agent) EntrySpanName(method, route string) string {
	if a.customNames {
		return "todomvc." + method + route
	}

	return method + " " + route
}

// StartEntrySpan continues the trace found in the request headers, if any,
// and opens the span that represents the request. The returned function ends
// it and must be called exactly once.
func (a *Agent) StartEntrySpan(r *http.Request, route string) (context.Context, func(status int)) {
	header := r.Header
	if header.Get("traceparent") == "" && header.Get(TraceHeader) != "" {
		header = header.Clone()
		header.Set("traceparent", header.Get(TraceHeader))
	}

	ctx := a.propagator.Extract(r.Context(), propagation.HeaderCarrier(header))
	ctx, span := a.tracer.Start(ctx, a.EntrySpanName(r.Method, route),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.HTTPRoute(route),
			semconv.URLPath(r.URL.Path)))
	a.enters.Add(1)

	var once sync.Once
	return ctx, func(status int) {
		once.Do(func() {
			span.SetAttributes(semconv.HTTPResponseStatusCode(status))
			span.End()
			a.exits.Add(1)
		})
	}
}

// TraceParent renders the span context of ctx as a W3C traceparent value,
// or "" when ctx carries no span.
func (a *Agent) TraceParent(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	a.propagator.Inject(ctx, carrier)

	return carrier.Get("traceparent")
}

// Inject writes the trace context of ctx into outbound request headers.
func (a *Agent) Inject(ctx context.Context, header http.Header) {
	a.propagator.Inject(ctx, propagation.HeaderCarrier(header))
	if value := header.Get("traceparent"); value != "" {
		header.Set(TraceHeader, value)
	}
}

// Do sends req with client inside a client span whose context is propagated
// in the request headers.
func (a *Agent) Do(client *http.Client, req *http.Request) (*http.Response, error) {
	ctx, span := a.tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLFull(req.URL.String())))
	defer span.End()

	req = req.WithContext(ctx)
	a.Inject(ctx, req.Header)

	res, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(res.StatusCode))

	return res, nil
}

// Instrument runs task inside a span named name.
func (a *Agent) Instrument(ctx context.Context, name string, task func(context.Context) (any, error)) (any, error) {
	ctx, span := a.tracer.Start(ctx, name, trace.WithAttributes(attribute.Bool("custom", true)))
	defer span.End()

	value, err := task(ctx)
	if err != nil {
		span.RecordError(err)
	}

	return value, err
}

// Outcome is the result of an asynchronously instrumented task.
type Outcome struct {
	Value any
	Err   error
}

// InstrumentAsync runs task on its own goroutine inside a span and delivers
// its outcome on the returned channel.
func (a *Agent) InstrumentAsync(ctx context.Context, name string, task func(context.Context) (any, error)) <-chan Outcome {
	ch := make(chan Outcome, 1)

	go func() {
		value, err := a.Instrument(ctx, name, task)
		ch <- Outcome{Value: value, Err: err}
	}()

	return ch
}

func (a *Agent) Shutdown(ctx context.Context) error {
	return a.provider.Shutdown(ctx)
}
