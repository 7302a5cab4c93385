package metrics

import (
	"context"
	"time"

	"github.com/pako-23/todo-harness/internal/accounting"
	"go.uber.org/zap"
)

// Names of the measurements shipped for accounting snapshots.
const (
	RequestRate   = "todo.requests.rate"
	CPUUserPerTx  = "todo.cpu.user.tx"
	CPUSystemTx   = "todo.cpu.system.tx"
	SpansActive   = "todo.spans.active"
	MemoryRSSName = "todo.memory.rss"
)

// SnapshotMeasurements picks the averages of window out of snapshot. A
// cold snapshot yields nothing.
func SnapshotMeasurements(snapshot accounting.Snapshot, window time.Duration) []Measurement {
	key := accounting.WindowKey(window)

	rate, ok := snapshot.TotalAverages[key]
	if !ok {
		return nil
	}

	return []Measurement{
		{Name: RequestRate, Value: rate},
		{Name: CPUUserPerTx, Value: snapshot.CPUUserPerTx[key]},
		{Name: CPUSystemTx, Value: snapshot.CPUSystemPerTx[key]},
		{Name: SpansActive, Value: snapshot.SpansActive[key]},
	}
}

// Reporter ships accounting snapshots from its own goroutine so a slow
// endpoint never holds up the accounting ticker. Only the latest pending
// snapshot is kept.
type Reporter struct {
	ctx     context.Context
	client  *Client
	window  time.Duration
	logger  *zap.Logger
	pending chan []Measurement
	done    chan struct{}
}

// NewReporter starts a reporter that ships until ctx is done.
func NewReporter(ctx context.Context, client *Client, window time.Duration, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reporter{
		ctx:     ctx,
		client:  client,
		window:  window,
		logger:  logger,
		pending: make(chan []Measurement, 1),
		done:    make(chan struct{}),
	}
	go r.run()

	return r
}

// Display is meant for accounting.WithDisplay. It never blocks.
func (r *Reporter) Display(snapshot accounting.Snapshot) {
	measurements := SnapshotMeasurements(snapshot, r.window)
	if len(measurements) == 0 {
		return
	}

	for {
		select {
		case r.pending <- measurements:
			return
		default:
		}

		select {
		case <-r.pending:
			r.logger.Debug("dropping stale accounting snapshot")
		default:
		}
	}
}

// Done is closed once the reporter has stopped shipping.
func (r *Reporter) Done() <-chan struct{} {
	return r.done
}

func (r *Reporter) run() {
	defer close(r.done)

	for {
		select {
		case <-r.ctx.Done():
			return
		case measurements := <-r.pending:
			r.ship(measurements)
		}
	}
}

func (r *Reporter) ship(measurements []Measurement) {
	res, err := r.client.Send(r.ctx, measurements, nil)
	if err != nil {
		r.logger.Warn("shipping accounting failed", zap.Error(err))
		return
	}
	if res.StatusCode >= 300 {
		r.logger.Warn("accounting measurements rejected",
			zap.Int("status", res.StatusCode),
			zap.String("body", res.Body))
	}
}
