package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/proxy"
)

// Prefix is the path prefix of the management endpoints.
const Prefix = "/__admin"

// maxBodySize bounds request bodies accepted by the API.
const maxBodySize = 1 << 20

// BreakerReporter exposes upstream circuit breaker states.
type BreakerReporter interface {
	Breakers() []proxy.BreakerState
}

// API is the admin HTTP API.
type API struct {
	resolver *engine.Resolver
	source   engine.TableSource
	breakers BreakerReporter
	metrics  http.Handler
	version  string
	started  time.Time
	log      *slog.Logger
	router   *mux.Router
}

// Option configures an API.
type Option func(*API)

// WithSource enables POST /__admin/reload.
func WithSource(src engine.TableSource) Option {
	return func(a *API) { a.source = src }
}

// WithBreakers adds breaker states to GET /__admin/cache.
func WithBreakers(b BreakerReporter) Option {
	return func(a *API) { a.breakers = b }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithLogger sets the API logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *API) {
		if log != nil {
			a.log = log
		}
	}
}

// New creates the API for resolver.
func New(resolver *engine.Resolver, opts ...Option) *API {
	a := &API{
		resolver: resolver,
		started:  time.Now(),
		log:      logging.Nop(),
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.registerRoutes()
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Uptime returns the seconds since the API was created.
func (a *API) Uptime() int64 {
	return int64(time.Since(a.started).Seconds())
}

func (a *API) registerRoutes() {
	api := a.router.PathPrefix(Prefix).Subrouter()
	api.Use(a.loggingMiddleware)

	api.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/rules", a.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id}", a.handleGetRule).Methods(http.MethodGet)
	api.HandleFunc("/reload", a.handleReload).Methods(http.MethodPost)
	api.HandleFunc("/cache", a.handleGetCache).Methods(http.MethodGet)
	api.HandleFunc("/cache", a.handleClearCache).Methods(http.MethodDelete)
	api.HandleFunc("/explain", a.handleExplain).Methods(http.MethodPost)

	if a.metrics != nil {
		a.router.Handle("/metrics", a.metrics).Methods(http.MethodGet)
	}

	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	// Subrouters resolve their own mismatches, so both need the handlers.
	for _, r := range []*mux.Router{a.router, api} {
		r.NotFoundHandler = notFound
		r.MethodNotAllowedHandler = notAllowed
	}
}

func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
