// Package server serves the todo API and the harness endpoints around it on
// one of several routers.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pako-23/todo-harness/internal/accounting"
	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/pako-23/todo-harness/internal/metrics"
	"github.com/pako-23/todo-harness/internal/requests"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const DefaultDownstream = "http://localhost:8881"

var (
	ErrMissingDependency = errors.New("missing server dependency")
	ErrInvalidLogMode    = errors.New("invalid request log mode")
)

// LogMode selects which requests are logged.
type LogMode int

const (
	LogNone LogMode = iota
	LogErrors
	LogAll
)

func (m LogMode) String() string {
	switch m {
	case LogNone:
		return "none"
	case LogErrors:
		return "errors"
	case LogAll:
		return "all"
	default:
		return "unknown"
	}
}

func ParseLogMode(s string) (LogMode, error) {
	switch strings.ToLower(s) {
	case "none", "off":
		return LogNone, nil
	case "errors", "error":
		return LogErrors, nil
	case "all":
		return LogAll, nil
	default:
		return LogNone, fmt.Errorf("%w %q, expected all, errors or none", ErrInvalidLogMode, s)
	}
}

// logs reports whether a response with status is logged in mode m. 512 is
// what the load generator asks for to mark its own traffic.
func (m LogMode) logs(status int) bool {
	switch m {
	case LogAll:
		return true
	case LogErrors:
		return status >= 400 && status != 512
	default:
		return false
	}
}

type Server struct {
	framework  string
	agent      *agent.Agent
	accounting *accounting.Accounting
	registry   *requests.Registry
	logger     *zap.Logger
	logMode    LogMode
	downstream string
	listDir    string
	client     *http.Client
	metrics    http.Handler
}

type Option func(*Server)

func WithFramework(name string) Option {
	return func(s *Server) {
		s.framework = name
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithLogMode(mode LogMode) Option {
	return func(s *Server) {
		s.logMode = mode
	}
}

// WithDownstream sets the base URL /downstream posts to.
func WithDownstream(url string) Option {
	return func(s *Server) {
		s.downstream = strings.TrimRight(url, "/")
	}
}

// WithListDirectory sets the directory listed by the custom ls tasks.
func WithListDirectory(dir string) Option {
	return func(s *Server) {
		s.listDir = dir
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) {
		s.client = client
	}
}

func New(a *agent.Agent, acc *accounting.Accounting, registry *requests.Registry, options ...Option) (*Server, error) {
	if a == nil || acc == nil || registry == nil {
		return nil, ErrMissingDependency
	}

	s := &Server{
		framework:  DefaultFramework,
		agent:      a,
		accounting: acc,
		registry:   registry,
		logger:     zap.NewNop(),
		logMode:    LogErrors,
		downstream: DefaultDownstream,
		listDir:    ".",
		client:     &http.Client{Timeout: 30 * time.Second},
	}

	for _, option := range options {
		option(s)
	}

	if !HasFramework(s.framework) {
		return nil, fmt.Errorf("%w %q", ErrUnknownFramework, s.framework)
	}

	promRegistry, err := metrics.NewRegistry(acc)
	if err != nil {
		return nil, err
	}
	s.metrics = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})

	return s, nil
}

// Handler returns the routes mounted on the configured framework.
func (s *Server) Handler() http.Handler {
	build := frameworks[s.framework]

	routes := s.routes()
	for i := range routes {
		routes[i].Handler = s.instrument(routes[i].Pattern, routes[i].Handler)
	}

	return build(routes, s.instrument("*", s.notFound))
}
