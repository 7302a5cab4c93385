// Package loadgen drives paced traffic against a todo server.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/pako-23/todo-harness/internal/todo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrInvalidCount    = errors.New("transactions per interval must be positive")
)

type Config struct {
	Action string
	// Target is the base URL of the todo server.
	Target      string
	Interval    time.Duration
	PerInterval int
	Delay       time.Duration
	// Delete removes every existing todo before traffic starts.
	Delete bool
	// Limit stops the run after that many executions; zero runs until the
	// context is done.
	Limit int
}

type Generator struct {
	cfg    Config
	action Action
	client *http.Client
	logger *zap.Logger
	out    io.Writer
	start  time.Time
}

type Option func(*Generator)

func WithHTTPClient(client *http.Client) Option {
	return func(g *Generator) {
		g.client = client
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithOutput sets where stats lines are written.
func WithOutput(out io.Writer) Option {
	return func(g *Generator) {
		g.out = out
	}
}

func New(cfg Config, options ...Option) (*Generator, error) {
	factory, ok := actions[cfg.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q, expected one of %s", ErrUnknownAction, cfg.Action, strings.Join(Actions(), ", "))
	}
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.PerInterval <= 0 {
		return nil, ErrInvalidCount
	}
	cfg.Target = strings.TrimRight(cfg.Target, "/")

	g := &Generator{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: zap.NewNop(),
		out:    os.Stdout,
	}
	for _, option := range options {
		option(g)
	}
	g.action = factory(g)

	return g, nil
}

// Run paces executions of the action at PerInterval per Interval until ctx
// is done or Limit is reached, then waits for those in flight.
func (g *Generator) Run(ctx context.Context) error {
	if g.cfg.Delete {
		n, err := g.Purge(ctx)
		if err != nil {
			return err
		}
		g.logger.Info("deleted existing todos", zap.Int("count", n))
	}

	g.start = time.Now()
	limiter := rate.NewLimiter(rate.Every(g.cfg.Interval/time.Duration(g.cfg.PerInterval)), 1)

	var eg errgroup.Group
	for executed := 0; g.cfg.Limit == 0 || executed < g.cfg.Limit; executed++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		eg.Go(func() error {
			if err := g.action.Execute(ctx); err != nil && ctx.Err() == nil {
				g.logger.Warn("action failed", zap.String("action", g.cfg.Action), zap.Error(err))
			}
			g.report()
			return nil
		})
	}

	return eg.Wait()
}

func (g *Generator) report() {
	elapsed := time.Since(g.start)
	fmt.Fprintf(g.out, "et: %.0f %s\n", elapsed.Seconds(), g.action.StatsLine(elapsed))
}

func (g *Generator) StatsLine() string {
	return g.action.StatsLine(time.Since(g.start))
}

// Purge deletes every todo on the server and reports how many went.
func (g *Generator) Purge(ctx context.Context) (int, error) {
	body, _, err := g.send(ctx, http.MethodGet, "/api/todos", nil)
	if err != nil {
		return 0, fmt.Errorf("listing todos: %w", err)
	}

	var todos []todo.Todo
	if err := json.Unmarshal(body, &todos); err != nil {
		return 0, fmt.Errorf("listing todos: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for _, t := range todos {
		id := t.ID
		eg.Go(func() error {
			_, _, err := g.send(ctx, http.MethodDelete, "/api/todos/"+id, nil)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, fmt.Errorf("deleting todos: %w", err)
	}

	return len(todos), nil
}

// randomDelay is uniform over the pacing interval.
func (g *Generator) randomDelay() time.Duration {
	return time.Duration(rand.Int64N(int64(g.cfg.Interval) + 1))
}

func (g *Generator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send issues one request and reports the body and whether the server
// sampled it, as told by the trace header of the response.
func (g *Generator) send(ctx context.Context, method, path string, payload any) ([]byte, bool, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, false, err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.Target+path, body)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer res.Body.Close()

	received, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, false, err
	}
	if res.StatusCode >= 400 {
		return nil, false, fmt.Errorf("%s %s: status %d", method, path, res.StatusCode)
	}

	return received, strings.HasSuffix(res.Header.Get(agent.TraceHeader), "01"), nil
}
