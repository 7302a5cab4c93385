package server

import (
	"errors"
	"net/http"
	"regexp"
	"sort"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const DefaultFramework = "mux"

var ErrUnknownFramework = errors.New("unknown framework")

// Params are the path parameters of a matched route.
type Params map[string]string

type HandlerFunc func(w http.ResponseWriter, r *http.Request, params Params)

// Route patterns use {name} for path parameters.
type Route struct {
	Method  string
	Pattern string
	Handler HandlerFunc
}

// Framework mounts routes, sending anything unmatched to notFound.
type Framework func(routes []Route, notFound HandlerFunc) http.Handler

var frameworks = map[string]Framework{
	"mux": newMuxRouter,
	"std": newStdRouter,
}

func Frameworks() []string {
	names := make([]string, 0, len(frameworks))
	for name := range frameworks {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func HasFramework(name string) bool {
	_, ok := frameworks[name]
	return ok
}

func newMuxRouter(routes []Route, notFound HandlerFunc) http.Handler {
	router := mux.NewRouter()

	for _, route := range routes {
		handler := route.Handler
		router.HandleFunc(route.Pattern, func(w http.ResponseWriter, r *http.Request) {
			handler(w, r, mux.Vars(r))
		}).Methods(route.Method)
	}

	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notFound(w, r, Params{})
	})
	router.NotFoundHandler = fallback
	router.MethodNotAllowedHandler = fallback

	CORSHeaders := handlers.AllowedHeaders([]string{"Content-Type", "User-Agent", "X-Trace", "Traceparent"})
	CORSOrigins := handlers.AllowedOrigins([]string{"*"})
	CORSMethods := handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete})
	CORSExposed := handlers.ExposedHeaders([]string{"X-Trace"})

	return handlers.CORS(CORSHeaders, CORSOrigins, CORSMethods, CORSExposed)(handlers.CompressHandler(router))
}

var paramPattern = regexp.MustCompile(`\{(\w+)\}`)

func newStdRouter(routes []Route, notFound HandlerFunc) http.Handler {
	mux := http.NewServeMux()

	for _, route := range routes {
		handler := route.Handler
		names := []string{}
		for _, match := range paramPattern.FindAllStringSubmatch(route.Pattern, -1) {
			names = append(names, match[1])
		}

		mux.HandleFunc(route.Method+" "+route.Pattern, func(w http.ResponseWriter, r *http.Request) {
			params := make(Params, len(names))
			for _, name := range names {
				params[name] = r.PathValue(name)
			}
			handler(w, r, params)
		})
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		notFound(w, r, Params{})
	})

	return mux
}
