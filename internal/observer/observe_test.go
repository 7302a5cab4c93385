package observer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pako-23/todo-harness/internal/observer"
	"github.com/pako-23/todo-harness/internal/receiver"
	"go.uber.org/zap"
	zapobserver "go.uber.org/zap/zaptest/observer"
	"gotest.tools/v3/assert"
)

var errSink = errors.New("sink failed")

type consumed struct {
	trace    observer.Trace
	complete bool
}

type testSink struct {
	mu     sync.Mutex
	traces []consumed
	fail   bool
}

func (s *testSink) Consume(trace observer.Trace, complete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errSink
	}

	s.traces = append(s.traces, consumed{trace: trace, complete: complete})
	return nil
}

func (s *testSink) consumed() []consumed {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]consumed(nil), s.traces...)
}

func rootAndChild(traceID string) []*receiver.Span {
	return []*receiver.Span{
		{
			TraceID: traceID, SpanID: "span2", Parent: "span1",
			ServiceName: "todo", Name: "custom-sync-ls", Kind: "internal",
			StartTime: 10, Duration: 50,
		},
		{
			TraceID: traceID, SpanID: "span1",
			ServiceName: "todo", Name: "GET /custom", Kind: "server",
			StartTime: 0, Duration: 100,
		},
	}
}

func orphan(traceID string) *receiver.Span {
	return &receiver.Span{
		TraceID: traceID, SpanID: "span3", Parent: "missing",
		ServiceName: "todo", Name: "HTTP POST", Kind: "client",
		StartTime: 20, Duration: 5,
	}
}

func observe(obs *observer.Observer, interval time.Duration, batches ...[]*receiver.Span) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *receiver.Span)

	go func() {
		for _, batch := range batches {
			for _, span := range batch {
				ch <- span
			}

			time.Sleep(interval + interval/2)
		}
		cancel()
	}()

	obs.Observe(ctx, ch)
}

func TestObserveNoTrace(t *testing.T) {
	t.Parallel()

	sink := &testSink{}
	obs := observer.NewObserver(
		observer.WithInterval(time.Second),
		observer.WithSink(sink))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { cancel() }()

	obs.Observe(ctx, make(chan *receiver.Span))
	assert.Equal(t, len(sink.consumed()), 0)
}

func TestObserveBeforeTimeout(t *testing.T) {
	t.Parallel()

	sink := &testSink{}
	obs := observer.NewObserver(
		observer.WithInterval(time.Hour),
		observer.WithSink(sink))
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *receiver.Span)

	go func() {
		for _, span := range rootAndChild("trace1") {
			ch <- span
		}
		cancel()
	}()

	obs.Observe(ctx, ch)
	assert.Equal(t, len(sink.consumed()), 0)
}

func TestObserveCompleteTrace(t *testing.T) {
	t.Parallel()

	sink := &testSink{}
	interval := 50 * time.Millisecond
	obs := observer.NewObserver(
		observer.WithInterval(interval),
		observer.WithSink(sink))

	observe(obs, interval, rootAndChild("trace1"))

	traces := sink.consumed()
	assert.Equal(t, len(traces), 1)
	assert.Assert(t, traces[0].complete)
	assert.Equal(t, traces[0].trace.ID, "trace1")
	assert.Equal(t, len(traces[0].trace.Spans), 2)
	assert.Equal(t, traces[0].trace.Spans[0].SpanID, "span1", "spans are ordered by start time")
}

func TestObserveIncompleteTraceWaits(t *testing.T) {
	t.Parallel()

	sink := &testSink{}
	interval := 50 * time.Millisecond
	obs := observer.NewObserver(
		observer.WithInterval(interval),
		observer.WithTTL(time.Hour),
		observer.WithSink(sink))

	spans := append(rootAndChild("trace1"), orphan("trace2"))
	observe(obs, interval, spans)

	traces := sink.consumed()
	assert.Equal(t, len(traces), 1)
	assert.Equal(t, traces[0].trace.ID, "trace1")
}

func TestObserveIncompleteTraceCompletes(t *testing.T) {
	t.Parallel()

	sink := &testSink{}
	interval := 50 * time.Millisecond
	obs := observer.NewObserver(
		observer.WithInterval(interval),
		observer.WithTTL(time.Hour),
		observer.WithSink(sink))

	child := rootAndChild("trace1")
	observe(obs, interval, child[:1], child[1:])

	traces := sink.consumed()
	assert.Equal(t, len(traces), 1)
	assert.Assert(t, traces[0].complete)
	assert.Equal(t, len(traces[0].trace.Spans), 2)
}

func TestObserveExpiredTrace(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Unix(0, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}

	sink := &testSink{}
	interval := 50 * time.Millisecond
	obs := observer.NewObserver(
		observer.WithInterval(interval),
		observer.WithTTL(time.Second),
		observer.WithClock(clock),
		observer.WithSink(sink))

	observe(obs, interval, []*receiver.Span{orphan("trace2")})

	traces := sink.consumed()
	assert.Equal(t, len(traces), 1)
	assert.Assert(t, !traces[0].complete)
	assert.Equal(t, traces[0].trace.ID, "trace2")
}

func TestObserveSinkFailure(t *testing.T) {
	t.Parallel()

	core, logs := zapobserver.New(zap.ErrorLevel)
	sink := &testSink{fail: true}
	interval := 50 * time.Millisecond
	obs := observer.NewObserver(
		observer.WithInterval(interval),
		observer.WithLogger(zap.New(core)),
		observer.WithSink(sink))

	observe(obs, interval, rootAndChild("trace1"))

	assert.Equal(t, len(sink.consumed()), 0)
	entries := logs.FilterMessage("failed to consume trace").All()
	assert.Equal(t, len(entries), 1)
	assert.Equal(t, entries[0].ContextMap()["trace_id"], "trace1")
}

func TestHumanize(t *testing.T) {
	t.Parallel()

	spans := rootAndChild("trace1")
	trace := observer.Trace{
		ID:    "trace1",
		Spans: []*receiver.Span{spans[1], spans[0], orphan("trace1")},
	}

	lines := observer.Humanize(trace)
	assert.DeepEqual(t, lines, []observer.Line{
		{Task: "trace1", Op: "span1", Layer: "GET /custom", Label: "server", Edges: []string{}},
		{Task: "trace1", Op: "span2", Layer: "custom-sync-ls", Label: "internal", Edges: []string{"span1=GET /custom:server"}},
		{Task: "trace1", Op: "span3", Layer: "HTTP POST", Label: "client", Edges: []string{"missing=?"}},
	})
}

func TestHumanizer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	humanizer := observer.NewHumanizer(&buf)
	spans := rootAndChild("trace1")

	assert.NilError(t, humanizer.Consume(observer.Trace{ID: "trace1", Spans: []*receiver.Span{spans[1], spans[0]}}, true))
	assert.NilError(t, humanizer.Consume(observer.Trace{ID: "trace2", Spans: []*receiver.Span{orphan("trace2")}}, false))
	assert.DeepEqual(t, humanizer.Stats(), observer.HumanizeStats{Traces: 2, Incomplete: 1, Spans: 3})

	decoder := json.NewDecoder(strings.NewReader(buf.String()))
	ops := []string{}
	for decoder.More() {
		var line observer.Line
		assert.NilError(t, decoder.Decode(&line))
		ops = append(ops, line.Op)
	}
	assert.DeepEqual(t, ops, []string{"span1", "span2", "span3"})
	assert.Assert(t, strings.Contains(buf.String(), "\n  \"task\": \"trace1\""))
}

type tickingSink struct {
	testSink
	ticks []time.Duration
}

func (s *tickingSink) Tick(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks = append(s.ticks, interval)
}

func TestObserveSinksAndTicks(t *testing.T) {
	t.Parallel()

	plain := &testSink{}
	ticking := &tickingSink{}
	interval := 50 * time.Millisecond
	obs := observer.NewObserver(
		observer.WithInterval(interval),
		observer.WithSink(plain),
		observer.WithSink(ticking))

	observe(obs, interval, rootAndChild("trace1"))

	assert.Equal(t, len(plain.consumed()), 1)
	assert.Equal(t, len(ticking.consumed()), 1)

	ticking.mu.Lock()
	defer ticking.mu.Unlock()
	assert.Assert(t, len(ticking.ticks) >= 1)
	assert.Equal(t, ticking.ticks[0], interval)
}
