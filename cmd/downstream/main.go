package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/pako-23/todo-harness/internal/logging"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// counter answers the /downstream/{url} requests of the todo server.
type counter struct {
	mu     sync.Mutex
	counts map[string]int
	logger *zap.Logger
}

func newCounter(logger *zap.Logger) *counter {
	return &counter{counts: map[string]int{}, logger: logger}
}

func (c *counter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if r.Method != http.MethodPost {
		fmt.Fprint(w, "What's up?")
		return
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.counts[body.URL]++
	n := c.counts[body.URL]
	c.mu.Unlock()

	c.logger.Debug("downstream request",
		zap.String("url", body.URL),
		zap.Int("count", n),
		zap.String("traceparent", r.Header.Get("traceparent")))

	fmt.Fprintf(w, "Times %q has been requested: %d", body.URL, n)
}

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	address := fs.StringP("listen", "l", "localhost:8881", "host:port to listen on")
	verbosity := fs.String("verbosity", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Level: *verbosity})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              *address,
		Handler:           handlers.RecoveryHandler()(newCounter(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("downstream listening", zap.String("address", *address))
		httpErr <- server.ListenAndServe()
	}()

	select {
	case err := <-httpErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("downstream failed", zap.Error(err))
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}
}
