package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/pako-23/todo-harness/internal/requests"
	"github.com/pako-23/todo-harness/internal/todo"
	"go.uber.org/zap"
)

type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Debug("writing response failed", zap.Error(err))
	}
}

func (s *Server) writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorBody{Status: status, Message: err.Error()})
}

func (s *Server) getAccounting(w http.ResponseWriter, _ *http.Request, _ Params) {
	acc, err := requests.Lookup[*requests.Accounting](s.registry, "accounting")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, acc.Get())
}

func (s *Server) getTracer(w http.ResponseWriter, _ *http.Request, params Params) {
	tracer, err := requests.Lookup[*requests.Tracer](s.registry, "tracer")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	value, err := tracer.Get(params["what"])
	if errors.Is(err, requests.ErrUnknownTracerValue) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

// getCatalogue lists every request type with its description.
func (s *Server) getCatalogue(w http.ResponseWriter, _ *http.Request, _ Params) {
	catalogue, err := s.registry.Catalogue()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, catalogue)
}

func (s *Server) todoAPI(w http.ResponseWriter) (*requests.TodoAPI, bool) {
	api, err := requests.Lookup[*requests.TodoAPI](s.registry, "todo-api")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}

	return api, true
}

func (s *Server) todoError(w http.ResponseWriter, err error) {
	if errors.Is(err, todo.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) getAllTodos(w http.ResponseWriter, r *http.Request, _ Params) {
	api, ok := s.todoAPI(w)
	if !ok {
		return
	}

	todos, err := api.GetAll(r.Context())
	if err != nil {
		s.todoError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, todos)
}

type todoBody struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func decodeTodo(r *http.Request) (todoBody, error) {
	var body todoBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("invalid todo: %w", err)
	}

	return body, nil
}

func (s *Server) createTodo(w http.ResponseWriter, r *http.Request, _ Params) {
	api, ok := s.todoAPI(w)
	if !ok {
		return
	}

	body, err := decodeTodo(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := api.Create(r.Context(), body.Title, false)
	if err != nil {
		s.todoError(w, err)
		return
	}
	todos, err := api.GetAll(r.Context())
	if err != nil {
		s.todoError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		Todo  todo.Todo   `json:"todo"`
		Todos []todo.Todo `json:"todos"`
	}{created, todos})
}

func (s *Server) updateTodo(w http.ResponseWriter, r *http.Request, params Params) {
	api, ok := s.todoAPI(w)
	if !ok {
		return
	}

	body, err := decodeTodo(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := api.Update(r.Context(), params["id"], body.Title, body.Completed)
	if err != nil {
		s.todoError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTodo(w http.ResponseWriter, r *http.Request, params Params) {
	api, ok := s.todoAPI(w)
	if !ok {
		return
	}

	if _, err := api.Delete(r.Context(), params["id"]); err != nil {
		s.todoError(w, err)
		return
	}
	todos, err := api.GetAll(r.Context())
	if err != nil {
		s.todoError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, todos)
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request, _ Params) {
	config, err := requests.Lookup[*requests.Config](s.registry, "config")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, config.Get())
}

func (s *Server) putConfig(w http.ResponseWriter, _ *http.Request, params Params) {
	config, err := requests.Lookup[*requests.Config](s.registry, "config")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	result, err := config.Set(params["setting"], params["value"])
	switch {
	case errors.Is(err, agent.ErrUnknownSetting):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, agent.ErrInvalidValue):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) getMemory(w http.ResponseWriter, _ *http.Request, params Params) {
	memory, err := requests.Lookup[*requests.Memory](s.registry, "memory")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	value, err := memory.Get(params["what"])
	switch {
	case errors.Is(err, requests.ErrUnknownMeasure):
		s.writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, value)
	}
}

func (s *Server) delay(w http.ResponseWriter, r *http.Request, params Params) {
	delay, err := requests.Lookup[*requests.Delay](s.registry, "delay")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// A value that is not a number waits for nothing.
	ms, _ := strconv.ParseInt(params["ms"], 10, 64)

	result, err := delay.Milliseconds(r.Context(), ms)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) errorCode(w http.ResponseWriter, _ *http.Request, params Params) {
	code, err := strconv.Atoi(params["code"])
	if err != nil || code < 100 || code > 599 {
		code = http.StatusUnprocessableEntity
	}

	s.writeText(w, code, fmt.Sprintf("received %q set status %d\n", params["code"], code))
}

// customTask is one unit of custom instrumented work. Tasks producing text
// are returned as text, the others as JSON.
type customTask struct {
	run  requests.Task
	text bool
}

func (s *Server) customTasks() map[string]map[string]customTask {
	ls := customTask{text: true, run: func(ctx context.Context) (any, error) {
		out, err := exec.CommandContext(ctx, "ls", "-lR", s.listDir).Output()
		if err != nil {
			return nil, err
		}
		return string(out), nil
	}}
	delay := func(ms int64) customTask {
		return customTask{run: func(ctx context.Context) (any, error) {
			d, err := requests.Lookup[*requests.Delay](s.registry, "delay")
			if err != nil {
				return nil, err
			}
			return d.Milliseconds(ctx, ms)
		}}
	}

	return map[string]map[string]customTask{
		"sync":  {"ls": ls},
		"async": {"ls": ls, "delay": delay(250)},
	}
}

func (s *Server) custom(w http.ResponseWriter, r *http.Request, params Params) {
	how, what := params["how"], params["what"]
	tasks := s.customTasks()

	task, ok := tasks[how][what]
	if !ok {
		catalogue := map[string][]string{}
		for how, whats := range tasks {
			for what := range whats {
				catalogue[how] = append(catalogue[how], what)
			}
			sort.Strings(catalogue[how])
		}
		s.writeJSON(w, http.StatusNotFound, catalogue)
		return
	}

	instrumenter, err := requests.Lookup[requests.Instrumenter](s.registry, "custom-"+how)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	value, err := instrumenter.Instrument(r.Context(), fmt.Sprintf("custom-%s-%s", how, what), task.run)
	if err != nil {
		s.logger.Warn("custom task failed", zap.String("how", how), zap.String("what", what), zap.Error(err))
		w.WriteHeader(http.StatusTeapot)
		return
	}

	if task.text {
		s.writeText(w, http.StatusOK, fmt.Sprint(value))
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

func (s *Server) downstreamRequest(w http.ResponseWriter, r *http.Request, params Params) {
	path := "/" + params["url"]

	body, err := json.Marshal(map[string]string{"url": path})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.downstream+path, bytes.NewReader(body))
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.agent.Do(s.client, req)
	if err != nil {
		s.logger.Warn("downstream request failed", zap.String("url", req.URL.String()), zap.Error(err))
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	defer res.Body.Close()

	received, err := io.ReadAll(res.Body)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeText(w, http.StatusOK, string(received))
}

func (s *Server) chain(w http.ResponseWriter, r *http.Request, _ Params) {
	target := r.URL.Query().Get("target")
	if target == "" {
		s.writeText(w, http.StatusOK, "this is the end!\n")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	res, err := s.agent.Do(s.client, req)
	if err != nil {
		s.logger.Warn("chained request failed", zap.String("target", target), zap.Error(err))
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	defer res.Body.Close()

	received, err := io.ReadAll(res.Body)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	headers := make(map[string]string, len(res.Header))
	for name := range res.Header {
		headers[strings.ToLower(name)] = res.Header.Get(name)
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeText(w, http.StatusOK, fmt.Sprintf("--- response from %s ---\nheaders: %s\nbody: %s\n", target, encoded, received))
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request, _ Params) {
	s.metrics.ServeHTTP(w, r)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request, _ Params) {
	accept := r.Header.Get("Accept")
	if accept == "" || strings.Contains(accept, "json") || strings.Contains(accept, "*/*") {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "page not found"})
		return
	}
	s.writeText(w, http.StatusNotFound, "page not found\n")
}
