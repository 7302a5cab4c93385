// Package requests holds the request types the todo server exposes besides
// the todo API. Each type registers a factory at init and is built lazily,
// once, the first time it is looked up.
package requests

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pako-23/todo-harness/internal/accounting"
	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/pako-23/todo-harness/internal/todo"
	"go.uber.org/zap"
)

var ErrUnknownRequest = errors.New("unknown request type")

// Deps are handed to every factory.
type Deps struct {
	Agent      *agent.Agent
	Accounting *accounting.Accounting
	Store      todo.Store
	Logger     *zap.Logger
}

type Request interface {
	Describe() string
}

type Factory func(Deps) (Request, error)

var factories = map[string]Factory{}

// Register makes a request type available to every registry. It panics on
// duplicate names.
func Register(name string, factory Factory) {
	if _, ok := factories[name]; ok {
		panic(fmt.Sprintf("requests: %q registered twice", name))
	}
	factories[name] = factory
}

type Registry struct {
	deps Deps

	mu     sync.Mutex
	loaded map[string]Request
}

func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Registry{deps: deps, loaded: map[string]Request{}}
}

// Get builds the named request on first use and returns the same instance
// afterwards.
func (r *Registry) Get(name string) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req, ok := r.loaded[name]; ok {
		return req, nil
	}

	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, name)
	}

	req, err := factory(r.deps)
	if err != nil {
		return nil, fmt.Errorf("building request %q: %w", name, err)
	}
	r.loaded[name] = req
	r.deps.Logger.Debug("request type loaded", zap.String("name", name))

	return req, nil
}

// Lookup fetches the named request as its concrete type.
func Lookup[T Request](r *Registry, name string) (T, error) {
	var zero T

	req, err := r.Get(name)
	if err != nil {
		return zero, err
	}

	typed, ok := req.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is a %T", ErrUnknownRequest, name, req)
	}

	return typed, nil
}

func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Catalogue describes every registered request type.
func (r *Registry) Catalogue() (map[string]string, error) {
	catalogue := make(map[string]string, len(factories))
	for _, name := range Names() {
		req, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		catalogue[name] = req.Describe()
	}

	return catalogue, nil
}
