// Package observer groups received spans into traces and hands them to a
// Sink once every parent has arrived, or once the trace has waited too long.
package observer

import (
	"time"

	"github.com/pako-23/todo-harness/internal/receiver"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTTL      = time.Minute
)

// Trace is the set of spans sharing a trace id, ordered by start time.
type Trace struct {
	ID    string
	Spans []*receiver.Span
}

// Sink consumes assembled traces. complete is false when the trace is
// flushed because it outlived the TTL with parents still missing.
type Sink interface {
	Consume(trace Trace, complete bool) error
}

// Ticker is implemented by sinks that keep state per observer tick. Tick
// runs after the traces of the tick were consumed.
type Ticker interface {
	Tick(interval time.Duration)
}

type NullSink struct{}

func (NullSink) Consume(Trace, bool) error { return nil }

type Observer struct {
	Interval time.Duration
	TTL      time.Duration
	sinks    []Sink
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Observer)

func NewObserver(options ...Option) *Observer {
	observer := &Observer{
		Interval: DefaultInterval,
		TTL:      DefaultTTL,
		logger:   zap.NewNop(),
		now:      time.Now,
	}

	for _, opt := range options {
		opt(observer)
	}

	return observer
}

// WithSink adds a sink. Every sink sees every trace.
func WithSink(sink Sink) Option {
	return func(observer *Observer) {
		observer.sinks = append(observer.sinks, sink)
	}
}

func WithInterval(interval time.Duration) Option {
	return func(observer *Observer) {
		observer.Interval = interval
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(observer *Observer) {
		observer.TTL = ttl
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(observer *Observer) {
		observer.logger = logger
	}
}

// WithClock replaces time.Now when deciding whether a trace expired.
func WithClock(now func() time.Time) Option {
	return func(observer *Observer) {
		observer.now = now
	}
}
