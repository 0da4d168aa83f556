package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/portsched/internal/config"
	"github.com/me/portsched/internal/scheduler"
	"github.com/me/portsched/internal/store"
)

// Snapshotter exposes the state of a running scheduler. Implementations take
// the snapshot on the scheduler's own loop goroutine.
type Snapshotter interface {
	Snapshot(ctx context.Context) (scheduler.Snapshot, error)
}

// Server is the port scheduler introspection API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	store     store.Store
	live      Snapshotter

	// streamInterval is how often /live/stream pushes a snapshot.
	streamInterval time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithSnapshotter attaches a running scheduler to the /live endpoints.
func WithSnapshotter(sn Snapshotter) Option {
	return func(s *Server) {
		s.live = sn
	}
}

// WithStreamInterval overrides the /live/stream push interval.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		s.streamInterval = d
	}
}

// New creates a new Server with all routes registered.
// st may be nil when only the live endpoints are wanted.
func New(cfg config.ServerConfig, st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger.With("component", "server"),
		config:         cfg,
		startTime:      time.Now(),
		store:          st,
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		// Stored runs
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/grants", s.handleListGrants)
			})
		})

		// Running scheduler
		r.Route("/live", func(r chi.Router) {
			r.Get("/", s.handleLive)
			r.Get("/stream", s.handleLiveStream)
		})
	})
}
