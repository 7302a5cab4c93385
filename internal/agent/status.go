package agent

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Stats struct {
	EntrySpanEnters uint64 `json:"entrySpanEnters"`
	EntrySpanExits  uint64 `json:"entrySpanExits"`
	TracesSampled   uint64 `json:"tracesSampled"`
	TracesDropped   uint64 `json:"tracesDropped"`
}

type Status struct {
	ServiceName     string          `json:"serviceName"`
	ServiceKey      string          `json:"serviceKey"`
	Version         string          `json:"version"`
	ContextProvider string          `json:"contextProvider"`
	SampleRate      float64         `json:"sampleRate"`
	SampleMode      string          `json:"sampleMode"`
	Insert          string          `json:"insert"`
	CustomNames     bool            `json:"customNames"`
	Logging         map[string]bool `json:"logging"`
	LastSettings    map[string]any  `json:"lastSettings"`
	Stats           Stats           `json:"stats"`
}

func (a *Agent) Stats() Stats {
	return Stats{
		EntrySpanEnters: a.enters.Load(),
		EntrySpanExits:  a.exits.Load(),
		TracesSampled:   a.tracesSampled.Load(),
		TracesDropped:   a.tracesDropped.Load(),
	}
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	logging := copyFlags(a.logging)
	lastSettings := make(map[string]any, len(a.lastSettings))
	for k, v := range a.lastSettings {
		lastSettings[k] = v
	}
	a.mu.Unlock()

	serviceKey := a.serviceKey
	if serviceKey == "" {
		serviceKey = "<not present>"
	}

	return Status{
		ServiceName:     a.serviceName,
		ServiceKey:      serviceKey,
		Version:         a.Version(),
		ContextProvider: "context.Context",
		SampleRate:      a.SampleRate(),
		SampleMode:      a.TraceMode().String(),
		Insert:          a.InsertPolicy().String(),
		CustomNames:     a.customNames,
		Logging:         logging,
		LastSettings:    lastSettings,
		Stats:           a.Stats(),
	}
}

// LogFields returns the trace fields to attach to a log line written while
// handling ctx, following the insert policy.
func (a *Agent) LogFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}

	switch a.InsertPolicy() {
	case InsertOff:
		return nil
	case InsertSampledOnly:
		if !sc.IsSampled() {
			return nil
		}
	}

	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
		zap.Bool("sampled", sc.IsSampled()),
	}
}
