package agent

import (
	"encoding/binary"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// sampler reads the agent's trace mode and sample rate on every decision so
// settings applied at runtime affect the next trace.
type sampler struct {
	agent *Agent
}

func (s *sampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	parent := trace.SpanContextFromContext(p.ParentContext)
	decision := sdktrace.Drop

	switch {
	case s.agent.TraceMode() == TraceModeNever:
	case parent.IsValid():
		if parent.IsSampled() {
			decision = sdktrace.RecordAndSample
		}
	case sampleTrace(p.TraceID, s.agent.SampleRate()):
		decision = sdktrace.RecordAndSample
	}

	if !parent.IsValid() {
		if decision == sdktrace.RecordAndSample {
			s.agent.tracesSampled.Add(1)
		} else {
			s.agent.tracesDropped.Add(1)
		}
	}

	return sdktrace.SamplingResult{
		Decision:   decision,
		Tracestate: parent.TraceState(),
	}
}

func (s *sampler) Description() string {
	return fmt.Sprintf("HarnessSampler{mode=%s,rate=%v}", s.agent.TraceMode(), s.agent.SampleRate())
}

// sampleTrace makes the same decision for a trace id wherever it is taken.
func sampleTrace(id trace.TraceID, rate float64) bool {
	if rate >= MaxSampleRate {
		return true
	}
	if rate <= 0 {
		return false
	}

	bound := uint64(rate / MaxSampleRate * (1 << 63))
	x := binary.BigEndian.Uint64(id[8:16]) >> 1

	return x < bound
}
