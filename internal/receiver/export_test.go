package receiver_test

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/pako-23/todo-harness/internal/receiver"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gotest.tools/v3/assert"
)

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func startReceiver(t *testing.T, ch chan<- *receiver.Span) string {
	t.Helper()

	recv := receiver.NewOTLPReceiver(
		receiver.WithChannel(ch),
		receiver.WithAddress("127.0.0.1:0"))
	lis, errCh := recv.Start()
	assert.Assert(t, isListening(lis))
	t.Cleanup(func() {
		recv.Stop()
		<-errCh
	})

	return lis.Addr().String()
}

func exportClient(t *testing.T, address string) coltracepb.TraceServiceClient {
	t.Helper()

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	assert.NilError(t, err)
	t.Cleanup(func() { conn.Close() })

	return coltracepb.NewTraceServiceClient(conn)
}

func receive(t *testing.T, ch <-chan *receiver.Span, n int) []*receiver.Span {
	t.Helper()

	spans := make([]*receiver.Span, 0, n)
	for len(spans) < n {
		select {
		case span := <-ch:
			spans = append(spans, span)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of %d spans", len(spans), n)
		}
	}

	return spans
}

func TestExport(t *testing.T) {
	t.Parallel()

	ch := make(chan *receiver.Span)
	client := exportClient(t, startReceiver(t, ch))

	traceID := []byte{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	root := []byte{0, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7}
	child := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	request := &coltracepb.ExportTraceServiceRequest{ResourceSpans: []*tracepb.ResourceSpans{
		{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
				{Key: "host.name", Value: stringValue("box")},
				{Key: string(semconv.ServiceNameKey), Value: stringValue("todo")},
			}},
			ScopeSpans: []*tracepb.ScopeSpans{{Spans: []*tracepb.Span{
				{
					TraceId: traceID, SpanId: root, Name: "GET /api/todos",
					Kind:              tracepb.Span_SPAN_KIND_SERVER,
					StartTimeUnixNano: 100, EndTimeUnixNano: 350,
					Attributes: []*commonpb.KeyValue{
						{Key: "http.route", Value: stringValue("/api/todos")},
						{Key: "http.response.status_code", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: 200}}},
					},
				},
			}}},
		},
		{
			ScopeSpans: []*tracepb.ScopeSpans{{Spans: []*tracepb.Span{
				{
					TraceId: traceID, SpanId: child, ParentSpanId: root, Name: "HTTP GET",
					Kind:              tracepb.Span_SPAN_KIND_CLIENT,
					StartTimeUnixNano: 120, EndTimeUnixNano: 220,
				},
			}}},
		},
	}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := client.Export(context.Background(), request)
		assert.Check(t, err)
		assert.Check(t, res.GetPartialSuccess().GetRejectedSpans() == 0)
	}()

	spans := receive(t, ch, 2)
	<-done

	assert.DeepEqual(t, *spans[0], receiver.Span{
		TraceID:     hex.EncodeToString(traceID),
		SpanID:      hex.EncodeToString(root),
		Parent:      "",
		ServiceName: "todo",
		Name:        "GET /api/todos",
		Kind:        "server",
		StartTime:   100,
		Duration:    250,
		Attributes:  map[string]string{"http.route": "/api/todos", "http.response.status_code": "200"},
	})
	assert.Equal(t, spans[1].ServiceName, "")
	assert.Equal(t, spans[1].Parent, hex.EncodeToString(root))
	assert.Equal(t, spans[1].Kind, "client")
	assert.Equal(t, spans[1].Duration, uint64(100))
}

func TestExportWithoutChannel(t *testing.T) {
	t.Parallel()

	client := exportClient(t, startReceiver(t, nil))
	res, err := client.Export(context.Background(), &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{{TraceId: []byte{1}, SpanId: []byte{2}}},
		}}}},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.PartialSuccess.RejectedSpans, int64(0))
}

func TestExportFromAgent(t *testing.T) {
	t.Parallel()

	ch := make(chan *receiver.Span, 16)
	address := startReceiver(t, ch)

	exporter, err := agent.NewOTLPExporter(context.Background(), address)
	assert.NilError(t, err)
	a, err := agent.New(agent.WithServiceName("todo-e2e"), agent.WithExporter(exporter))
	assert.NilError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/accounting", nil)
	ctx, end := a.StartEntrySpan(r, "/accounting")
	_, err = a.Instrument(ctx, "custom-sync-ls", func(context.Context) (any, error) { return nil, nil })
	assert.NilError(t, err)
	end(http.StatusOK)

	assert.NilError(t, a.Shutdown(context.Background()))

	spans := receive(t, ch, 2)
	byName := map[string]*receiver.Span{}
	for _, span := range spans {
		assert.Equal(t, span.ServiceName, "todo-e2e")
		byName[span.Name] = span
	}

	entry, custom := byName["GET /accounting"], byName["custom-sync-ls"]
	assert.Assert(t, entry != nil && custom != nil)
	assert.Equal(t, entry.Kind, "server")
	assert.Equal(t, entry.Parent, "")
	assert.Equal(t, custom.Parent, entry.SpanID)
	assert.Equal(t, custom.TraceID, entry.TraceID)
	assert.Equal(t, entry.Attributes["http.route"], "/accounting")
}
