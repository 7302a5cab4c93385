package server

import (
	"net/http"
)

func (s *Server) routes() []Route {
	return []Route{
		{Method: http.MethodGet, Pattern: "/accounting", Handler: s.getAccounting},
		{Method: http.MethodGet, Pattern: "/tracer/{what}", Handler: s.getTracer},
		{Method: http.MethodGet, Pattern: "/requests", Handler: s.getCatalogue},

		{Method: http.MethodGet, Pattern: "/api/todos", Handler: s.getAllTodos},
		{Method: http.MethodPost, Pattern: "/api/todos", Handler: s.createTodo},
		{Method: http.MethodPut, Pattern: "/api/todos/{id}", Handler: s.updateTodo},
		{Method: http.MethodDelete, Pattern: "/api/todos/{id}", Handler: s.deleteTodo},

		{Method: http.MethodGet, Pattern: "/config", Handler: s.getConfig},
		{Method: http.MethodPut, Pattern: "/config/{setting}/{value}", Handler: s.putConfig},

		{Method: http.MethodGet, Pattern: "/memory", Handler: s.getMemory},
		{Method: http.MethodGet, Pattern: "/memory/{what}", Handler: s.getMemory},
		{Method: http.MethodGet, Pattern: "/delay/{ms}", Handler: s.delay},
		{Method: http.MethodGet, Pattern: "/error/{code}", Handler: s.errorCode},

		{Method: http.MethodGet, Pattern: "/custom", Handler: s.custom},
		{Method: http.MethodGet, Pattern: "/custom/{how}", Handler: s.custom},
		{Method: http.MethodGet, Pattern: "/custom/{how}/{what}", Handler: s.custom},

		{Method: http.MethodGet, Pattern: "/downstream/{url}", Handler: s.downstreamRequest},
		{Method: http.MethodGet, Pattern: "/chain", Handler: s.chain},

		{Method: http.MethodGet, Pattern: "/metrics", Handler: s.serveMetrics},
	}
}
