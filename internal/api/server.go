// Package api provides the HTTP surface of the alerting service: alert
// listing, the manual re-evaluation hook, dispatch stats, health, and
// Prometheus metrics. The pipeline itself is tick-driven; nothing here sits
// on the critical path of evaluation or dispatch.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agroalert/internal/types"
)

// defaultRequestTimeout is the soft deadline applied to request contexts. The
// manual full-tick evaluation is the slowest endpoint and bounds this value.
const defaultRequestTimeout = 60 * time.Second

// EvaluationTrigger is the scheduler hook the API exposes. An empty userID
// requests a full evaluation pass.
type EvaluationTrigger interface {
	TriggerEvaluationNow(ctx context.Context, userID string) error
}

// HealthInfo describes the wiring selected at startup, reported verbatim by
// the health endpoint.
type HealthInfo struct {
	Environment    string `json:"environment"`
	StoreBackend   string `json:"store_backend"`
	ChannelAdapter string `json:"channel_adapter"`
	ForecastSource string `json:"forecast_source"`
}

// Server encapsulates the HTTP dependencies, allowing injection in tests.
type Server struct {
	store     types.AlertStore
	directory types.UserDirectory
	trigger   EvaluationTrigger
	health    HealthInfo
	logger    *slog.Logger
	gatherer  prometheus.Gatherer

	router *chi.Mux
}

// ServerConfig holds the dependencies for creating a Server.
type ServerConfig struct {
	Store     types.AlertStore
	Directory types.UserDirectory
	Trigger   EvaluationTrigger
	Health    HealthInfo
	Logger    *slog.Logger
	// Gatherer serves /metrics; defaults to the prometheus default gatherer.
	Gatherer prometheus.Gatherer
}

// NewServer validates dependencies, builds the router, and mounts all routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("alert store must not be nil")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("user directory must not be nil")
	}
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("evaluation trigger must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		store:     cfg.Store,
		directory: cfg.Directory,
		trigger:   cfg.Trigger,
		health:    cfg.Health,
		logger:    logger,
		gatherer:  gatherer,
		router:    chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// mountRoutes registers the middleware chain and all endpoints. Ordering:
// Recoverer outermost, then request deadline, correlation ID, logging.
func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(contextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.logger))

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/users/{userID}/alerts", s.handleListAlerts)
		r.Post("/evaluations", s.handleTriggerEvaluation)
		r.Get("/stats", s.handleStats)
	})

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// contextTimeoutMiddleware sets a deadline on the request context.
func contextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
