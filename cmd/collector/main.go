package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pako-23/todo-harness/internal/logging"
	"github.com/pako-23/todo-harness/internal/observer"
	"github.com/pako-23/todo-harness/internal/receiver"
	"github.com/pako-23/todo-harness/internal/topology"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	otlpAddress := fs.StringP("address", "a", receiver.DefaultAddress, "host:port to accept OTLP/gRPC spans on")
	statsAddress := fs.StringP("listen", "l", ":8080", "host:port serving collector statistics")
	interval := fs.DurationP("interval", "i", observer.DefaultInterval, "how often assembled traces are printed")
	ttl := fs.Duration("ttl", observer.DefaultTTL, "how long an incomplete trace waits for missing spans")
	alpha := fs.Float64("alpha", topology.DefaultAlpha, "smoothing factor of the topology ingress rates")
	verbosity := fs.String("verbosity", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	// stdout carries the humanized traces, logs go to stderr.
	level, err := logging.ParseLevel(*verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.NewJSONLogger(os.Stderr, level)
	defer logger.Sync()

	var wg sync.WaitGroup

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := make(chan *receiver.Span)
	recv := receiver.NewOTLPReceiver(
		receiver.WithChannel(ch),
		receiver.WithAddress(*otlpAddress),
		receiver.WithLogger(logger.Named("receiver")))

	humanizer := observer.NewHumanizer(os.Stdout)
	graph, err := topology.NewGraph(*alpha)
	if err != nil {
		logger.Fatal("invalid topology configuration", zap.Error(err))
	}

	httpErr := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(humanizer.Stats())
	})
	mux.HandleFunc("GET /topology", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
		io.WriteString(w, graph.DOT())
	})
	mux.HandleFunc("GET /topology/rates", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"incoming": graph.IncomingRates(),
			"service":  graph.ServiceRates(),
		})
	})
	server := &http.Server{
		Addr:              *statsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	_, recvErr := recv.Start()
	logger.Info("collector started",
		zap.String("otlp", *otlpAddress),
		zap.String("stats", *statsAddress))

	wg.Add(2)
	go func() {
		defer wg.Done()
		obs := observer.NewObserver(
			observer.WithSink(humanizer),
			observer.WithSink(graph),
			observer.WithInterval(*interval),
			observer.WithTTL(*ttl),
			observer.WithLogger(logger.Named("observer")))
		obs.Observe(ctx, ch)
	}()
	go func() {
		defer wg.Done()
		httpErr <- server.ListenAndServe()
	}()

	select {
	case err := <-recvErr:
		if err != nil {
			logger.Fatal("receiver failed", zap.Error(err))
		}

	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("stats server failed", zap.Error(err))
		}

	case <-ctx.Done():
		recv.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}

	wg.Wait()
	logger.Info("collector stopped", zap.Any("stats", humanizer.Stats()))
}
