// Package server exposes execution and grading over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/labrunner/internal/config"
	"github.com/michaelbrown/labrunner/internal/events"
	"github.com/michaelbrown/labrunner/internal/exercise"
	"github.com/michaelbrown/labrunner/internal/hints"
	"github.com/michaelbrown/labrunner/internal/limiter"
	"github.com/michaelbrown/labrunner/internal/storage"
	"github.com/michaelbrown/labrunner/internal/submission"
)

// Deps are the collaborators a Server needs. Publisher, Hinter and Limiter
// are optional.
type Deps struct {
	Coordinator *submission.Coordinator
	Catalog     *exercise.Catalog
	Store       storage.Store
	Publisher   events.Publisher
	Hinter      *hints.Hinter
	Limiter     *limiter.RateLimiter
	Logger      zerolog.Logger
}

// Server is the HTTP server for the labrunner API.
type Server struct {
	cfg      config.ServerConfig
	auth     config.AuthConfig
	deps     Deps
	attempts *AttemptGate
	log      zerolog.Logger
	router   chi.Router
	http     *http.Server
}

// New creates a new Server.
func New(cfg config.ServerConfig, auth config.AuthConfig, deps Deps) *Server {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	s := &Server{
		cfg:      cfg,
		auth:     auth,
		deps:     deps,
		attempts: NewAttemptGate(),
		log:      deps.Logger.With().Str("component", "server").Logger(),
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(identity(s.auth))

		// WebSocket (no JSON content-type)
		r.With(s.rateLimit()).Get("/exercises/{id}/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)
			if s.cfg.MaxBodyBytes > 0 {
				r.Use(middleware.RequestSize(s.cfg.MaxBodyBytes))
			}

			r.With(s.rateLimit()).Post("/execute", s.handleExecute)

			r.Get("/exercises", s.handleListExercises)
			r.Get("/exercises/{id}", s.handleGetExercise)
			r.With(s.rateLimit()).Post("/exercises/{id}/submit", s.handleSubmit)

			r.Get("/submissions", s.handleListSubmissions)
			r.Get("/submissions/{id}", s.handleGetSubmission)
		})
	})
}

// rateLimit throttles per caller; a nil limiter lets everything through.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.deps.Limiter.Middleware(func(r *http.Request) string {
		return UserID(r.Context())
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		// Websocket connections reset their own write deadline per message.
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("labrunner server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")
	if s.http == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
