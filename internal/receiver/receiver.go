// Package receiver accepts spans over OTLP/gRPC and hands them out one by
// one on a channel.
package receiver

import (
	"net"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
)

const DefaultAddress = ":4317"

// Span is the part of an exported span the collector works with. Ids are
// lowercase hex; Parent is empty for a root span.
type Span struct {
	TraceID     string
	SpanID      string
	Parent      string
	ServiceName string
	Name        string
	Kind        string
	StartTime   uint64
	Duration    uint64
	Attributes  map[string]string
}

type OTLPReceiver struct {
	server  *grpc.Server
	ch      chan<- *Span
	address string
	logger  *zap.Logger
}

type server struct {
	coltracepb.UnimplementedTraceServiceServer
	ch     chan<- *Span
	logger *zap.Logger
}

type Option func(*OTLPReceiver)

func NewOTLPReceiver(options ...Option) *OTLPReceiver {
	receiver := &OTLPReceiver{
		server:  grpc.NewServer(),
		address: DefaultAddress,
		logger:  zap.NewNop(),
	}

	for _, option := range options {
		option(receiver)
	}

	coltracepb.RegisterTraceServiceServer(receiver.server, &server{ch: receiver.ch, logger: receiver.logger})
	return receiver
}

// WithChannel sets where received spans go. Without one spans are accepted
// and dropped.
func WithChannel(ch chan<- *Span) Option {
	return func(receiver *OTLPReceiver) {
		receiver.ch = ch
	}
}

func WithAddress(address string) Option {
	return func(receiver *OTLPReceiver) {
		receiver.address = address
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(receiver *OTLPReceiver) {
		receiver.logger = logger
	}
}

// Start listens on the configured address and serves in the background. The
// returned channel yields the error that ended serving.
func (o *OTLPReceiver) Start() (net.Listener, <-chan error) {
	ch := make(chan error, 1)

	lis, err := net.Listen("tcp", o.address)
	if err != nil {
		ch <- err

		return nil, ch
	}

	o.logger.Info("otlp receiver listening", zap.String("address", lis.Addr().String()))
	go func() {
		ch <- o.server.Serve(lis)
	}()

	return lis, ch
}

func (o *OTLPReceiver) Stop() {
	o.server.Stop()
}
