// Package server exposes the rental application pipeline over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/cache"
	"github.com/leaseflow/coreengine/coreengine/compliance"
	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/extract"
	"github.com/leaseflow/coreengine/coreengine/memory"
	"github.com/leaseflow/coreengine/coreengine/observability"
	"github.com/leaseflow/coreengine/coreengine/rag"
	"github.com/leaseflow/coreengine/coreengine/runtime"
	"github.com/leaseflow/coreengine/coreengine/storage"
)

// Server wires the HTTP surface to the pipeline and its components.
type Server struct {
	cfg       *config.CoreConfig
	store     *storage.Store
	cache     *cache.TTLCache
	memory    *memory.Store
	engine    *rag.Engine
	evaluator *compliance.Evaluator
	runner    *runtime.Runner
	extractor *extract.Registry
	bus       commbus.CommBus
}

// New creates a server over the assembled components.
func New(
	cfg *config.CoreConfig,
	store *storage.Store,
	profileCache *cache.TTLCache,
	mem *memory.Store,
	engine *rag.Engine,
	evaluator *compliance.Evaluator,
	runner *runtime.Runner,
	extractor *extract.Registry,
	bus commbus.CommBus,
) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		cache:     profileCache,
		memory:    mem,
		engine:    engine,
		evaluator: evaluator,
		runner:    runner,
		extractor: extractor,
		bus:       bus,
	}
	if bus != nil {
		if err := bus.RegisterHandler("InvalidateCache", profileCache.CommandHandler()); err != nil {
			log.Warn().Err(err).Msg("cache_handler_register_failed")
		}
		if err := bus.RegisterHandler("HealthCheckRequest", s.healthHandler()); err != nil {
			log.Warn().Err(err).Msg("health_handler_register_failed")
		}
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/applications", func(r chi.Router) {
		r.Get("/", s.handleListApplications)
		r.Post("/", s.handleSubmitApplication)
	})
	r.Get("/profiles/{email}", s.handleGetProfile)
	r.Post("/compliance/check", s.handleComplianceCheck)
	r.Post("/rag/query", s.handleRAGQuery)
	r.Get("/memory/status", s.handleMemoryStatus)
	r.Get("/pipeline/status", s.handlePipelineStatus)
	r.Get("/db/status", s.handleDBStatus)
	r.Post("/db/seed", s.handleDBSeed)

	return r
}

// ListenAndServe serves the API on the configured address.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("http_listening")
	return srv.ListenAndServe()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		recordHTTP(route, r.Method, ww.Status(), int(time.Since(start).Milliseconds()))
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("response_encode_failed")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"status":  "error",
		"message": message,
	})
}

func recordHTTP(route, method string, status, durationMS int) {
	observability.RecordHTTPRequest(route, method, strconv.Itoa(status), durationMS)
}
