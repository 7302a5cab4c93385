package receiver

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
)

func (s *server) Export(
	ctx context.Context, in *coltracepb.ExportTraceServiceRequest,
) (*coltracepb.ExportTraceServiceResponse, error) {
	var rejected int64

	for _, resourceSpans := range in.ResourceSpans {
		serviceName := extractServiceName(resourceSpans)

		for _, scopeSpans := range resourceSpans.ScopeSpans {
			for i, span := range scopeSpans.Spans {
				if s.ch == nil {
					continue
				}

				select {
				case s.ch <- convert(serviceName, span):
				case <-ctx.Done():
					rejected += int64(len(scopeSpans.Spans) - i)
					s.logger.Warn("export cancelled", zap.Error(ctx.Err()), zap.Int64("rejected", rejected))
					return partial(rejected, ctx.Err()), nil
				}
			}
		}
	}

	return partial(0, nil), nil
}

func partial(rejected int64, err error) *coltracepb.ExportTraceServiceResponse {
	res := &coltracepb.ExportTraceServiceResponse{
		PartialSuccess: &coltracepb.ExportTracePartialSuccess{RejectedSpans: rejected},
	}
	if err != nil {
		res.PartialSuccess.ErrorMessage = err.Error()
	}

	return res
}

func convert(serviceName string, span *tracepb.Span) *Span {
	return &Span{
		TraceID:     hex.EncodeToString(span.TraceId),
		SpanID:      hex.EncodeToString(span.SpanId),
		Parent:      hex.EncodeToString(span.ParentSpanId),
		ServiceName: serviceName,
		Name:        span.Name,
		Kind:        kindName(span.Kind),
		StartTime:   span.StartTimeUnixNano,
		Duration:    span.EndTimeUnixNano - span.StartTimeUnixNano,
		Attributes:  attributes(span.Attributes),
	}
}

// kindName turns SPAN_KIND_SERVER into "server".
func kindName(kind tracepb.Span_SpanKind) string {
	return strings.ToLower(strings.TrimPrefix(kind.String(), "SPAN_KIND_"))
}

func attributes(kvs []*commonpb.KeyValue) map[string]string {
	if len(kvs) == 0 {
		return nil
	}

	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = anyValue(kv.Value)
	}

	return m
}

func anyValue(v *commonpb.AnyValue) string {
	switch value := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return value.StringValue
	case *commonpb.AnyValue_BoolValue:
		return fmt.Sprint(value.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return fmt.Sprint(value.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return fmt.Sprint(value.DoubleValue)
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(value.BytesValue)
	default:
		return ""
	}
}

func extractServiceName(spans *tracepb.ResourceSpans) string {
	if spans.Resource == nil || spans.Resource.Attributes == nil {
		return ""
	}

	for _, attribute := range spans.Resource.Attributes {
		if attribute.Key == string(semconv.ServiceNameKey) {
			return attribute.Value.GetStringValue()
		}
	}

	return ""
}
