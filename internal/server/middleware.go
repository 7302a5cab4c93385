package server

import (
	"net/http"
	"time"

	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/pako-23/todo-harness/internal/logging"
	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument wraps every request in an entry span, counts it and logs it
// according to the log mode.
func (s *Server) instrument(route string, next HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params Params) {
		start := time.Now()

		ctx, end := s.agent.StartEntrySpan(r, route)
		s.accounting.Count(ctx)

		if traceParent := s.agent.TraceParent(ctx); traceParent != "" {
			w.Header().Set(agent.TraceHeader, traceParent)
		}

		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				end(http.StatusInternalServerError)
				logging.WithTrace(ctx, s.logger, s.agent).Error("handler panicked",
					zap.String("route", route),
					zap.Any("panic", p))
				panic(p)
			}
		}()

		next(rec, r.WithContext(ctx), params)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		end(rec.status)

		if s.logMode.logs(rec.status) {
			logging.WithTrace(ctx, s.logger, s.agent).Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)))
		}
	}
}
