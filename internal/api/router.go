// Package api exposes the adjudication engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/store"
)

// Adjudicator is the engine surface the handlers need.
type Adjudicator interface {
	AdjudicateClaim(ctx context.Context, claim model.Claim) (model.ClaimResult, error)
	GetAccumulator(ctx context.Context, memberID, benefitCode string, period model.PeriodKey) (model.AccumulatorRecord, error)
	GetResult(ctx context.Context, claimLineID string) (*model.AdjudicationResult, error)
	Reverse(ctx context.Context, claimLineID, reason string) (*accumulator.Entry, error)
}

// Backend is the store surface the handlers need.
type Backend interface {
	Ping(ctx context.Context) error
	ListResults(ctx context.Context, filter store.ResultFilter) ([]model.AdjudicationResult, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Options configures the server.
type Options struct {
	AllowedOrigins []string
	// MaxConcurrentClaims bounds claims adjudicated at once; further
	// requests wait for a slot.
	MaxConcurrentClaims int64
	RequestTimeout      time.Duration
}

// Server routes HTTP requests to the engine.
type Server struct {
	opts     Options
	router   chi.Router
	handlers *Handlers
}

// NewServer creates a Server with middleware and routes installed.
func NewServer(engine Adjudicator, backend Backend, opts Options) *Server {
	if opts.MaxConcurrentClaims <= 0 {
		opts.MaxConcurrentClaims = 16
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		opts:   opts,
		router: chi.NewRouter(),
		handlers: &Handlers{
			engine:  engine,
			backend: backend,
			claims:  semaphore.NewWeighted(opts.MaxConcurrentClaims),
		},
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.opts.RequestTimeout))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.Health)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/claims/adjudicate", s.handlers.AdjudicateClaim)

		r.Get("/accumulators/{member}/{code}/{period}", s.handlers.GetAccumulator)

		r.Route("/claim-lines/{id}", func(r chi.Router) {
			r.Get("/result", s.handlers.GetResult)
			r.Post("/reversal", s.handlers.Reverse)
		})

		r.Get("/results", s.handlers.ListResults)
	})
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}
