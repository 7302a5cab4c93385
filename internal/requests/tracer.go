package requests

import (
	"errors"
	"fmt"

	"github.com/pako-23/todo-harness/internal/agent"
)

func init() {
	Register("tracer", func(deps Deps) (Request, error) {
		if deps.Agent == nil {
			return nil, errMissing("agent")
		}
		return &Tracer{agent: deps.Agent}, nil
	})
}

var ErrUnknownTracerValue = errors.New("invalid tracer value")

// Tracer exposes the tracer internals.
type Tracer struct {
	agent *agent.Agent
}

func (*Tracer) Describe() string {
	return "get tracer internal information"
}

func (t *Tracer) Get(what string) (any, error) {
	switch what {
	case "settings":
		return t.agent.Status(), nil
	case "stats":
		return t.agent.Stats(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTracerValue, what)
	}
}
