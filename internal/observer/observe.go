package observer

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/pako-23/todo-harness/internal/receiver"
	"go.uber.org/zap"
)

type pending struct {
	spans     map[string]*receiver.Span
	firstSeen time.Time
}

func (p *pending) completed() bool {
	for _, details := range p.spans {
		if _, ok := p.spans[details.Parent]; !ok && details.Parent != "" {
			return false
		}
	}

	return true
}

func (p *pending) trace(id string) Trace {
	spans := make([]*receiver.Span, 0, len(p.spans))
	for _, span := range p.spans {
		spans = append(spans, span)
	}

	slices.SortFunc(spans, func(a, b *receiver.Span) int {
		if c := cmp.Compare(a.StartTime, b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.SpanID, b.SpanID)
	})

	return Trace{ID: id, Spans: spans}
}

func (o *Observer) processTraces(traces map[string]*pending) {
	now := o.now()

	for traceID, p := range traces {
		complete := p.completed()
		if !complete && now.Sub(p.firstSeen) < o.TTL {
			continue
		}

		trace := p.trace(traceID)
		for _, sink := range o.sinks {
			if err := sink.Consume(trace, complete); err != nil {
				o.logger.Error("failed to consume trace",
					zap.String("trace_id", traceID),
					zap.Error(err))
			}
		}

		delete(traces, traceID)
	}

	for _, sink := range o.sinks {
		if ticker, ok := sink.(Ticker); ok {
			ticker.Tick(o.Interval)
		}
	}
}

// Observe collects spans from ch until ctx is done. Traces still pending
// when ctx is done are dropped.
func (o *Observer) Observe(ctx context.Context, ch <-chan *receiver.Span) {
	traces := map[string]*pending{}

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.processTraces(traces)

		case span := <-ch:
			p, ok := traces[span.TraceID]
			if !ok {
				p = &pending{spans: map[string]*receiver.Span{}, firstSeen: o.now()}
				traces[span.TraceID] = p
			}

			p.spans[span.SpanID] = span

		case <-ctx.Done():
			o.logger.Debug("observer stopped", zap.Int("pending", len(traces)))
			return
		}
	}
}
