package requests

import (
	"context"

	"github.com/pako-23/todo-harness/internal/agent"
)

func init() {
	Register("custom-sync", func(deps Deps) (Request, error) {
		if deps.Agent == nil {
			return nil, errMissing("agent")
		}
		return &CustomSync{agent: deps.Agent}, nil
	})
	Register("custom-async", func(deps Deps) (Request, error) {
		if deps.Agent == nil {
			return nil, errMissing("agent")
		}
		return &CustomAsync{agent: deps.Agent}, nil
	})
}

type Task func(context.Context) (any, error)

// Instrumenter runs a task inside a custom span.
type Instrumenter interface {
	Request
	Instrument(ctx context.Context, name string, task Task) (any, error)
}

type CustomSync struct {
	agent *agent.Agent
}

func (*CustomSync) Describe() string {
	return "custom instrument a sync function"
}

func (c *CustomSync) Instrument(ctx context.Context, name string, task Task) (any, error) {
	return c.agent.Instrument(ctx, name, task)
}

type CustomAsync struct {
	agent *agent.Agent
}

func (*CustomAsync) Describe() string {
	return "custom instrument an async function"
}

// Instrument runs task on its own goroutine and waits for its completion or
// for ctx to be done.
func (c *CustomAsync) Instrument(ctx context.Context, name string, task Task) (any, error) {
	select {
	case outcome := <-c.agent.InstrumentAsync(ctx, name, task):
		return outcome.Value, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
