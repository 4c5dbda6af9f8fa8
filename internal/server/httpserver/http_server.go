// Package httpserver wires the streamrec control API onto a chi router and
// runs it on a pre-bound listener.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	derrors "git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/logfields"
	handlers "git.home.luguber.info/inful/streamrec/internal/server/handlers"
	smw "git.home.luguber.info/inful/streamrec/internal/server/middleware"
)

// Options configures the HTTP server.
type Options struct {
	Listen string
	APIKey string

	// Optional: Prometheus scrape handler mounted at MetricsPath.
	MetricsHandler http.Handler
	MetricsPath    string
}

// Server manages the control API endpoint.
type Server struct {
	opts         Options
	errorAdapter *derrors.HTTPErrorAdapter
	router       chi.Router
	srv          *http.Server
	addr         net.Addr
}

// New constructs the router. deps are handed to the API handlers unchanged.
func New(opts Options, deps handlers.Deps) *Server {
	s := &Server{
		opts:         opts,
		errorAdapter: derrors.NewHTTPErrorAdapter(slog.Default()),
	}
	s.router = s.routes(
		handlers.NewAPIHandlers(deps, s.errorAdapter),
		handlers.NewMonitoringHandlers(time.Now()),
	)
	return s
}

func (s *Server) routes(api *handlers.APIHandlers, mon *handlers.MonitoringHandlers) chi.Router {
	r := chi.NewRouter()
	r.Use(smw.Chain(slog.Default(), s.errorAdapter))
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.errorAdapter.WriteErrorResponse(w, req, derrors.NotFoundError("no such endpoint").
			WithContext("path", req.URL.Path).
			Build())
	})

	r.Get("/healthz", mon.HandleHealthz)
	if s.opts.MetricsHandler != nil {
		path := s.opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.opts.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(smw.APIKey(s.opts.APIKey, s.errorAdapter))

		r.Get("/recording", api.HandleRecording)
		r.Post("/recording/start", api.HandleStart)
		r.Post("/recording/stop", api.HandleStop)
		r.Get("/health", api.HandleHealth)
		r.Post("/reconcile", api.HandleReconcile)
		r.Get("/scheduler", api.HandleScheduler)
		r.Post("/scheduler/tick", api.HandleTick)
		r.Get("/activity", api.HandleActivity)
		r.Get("/change", api.HandleChange)
		r.Get("/changes", api.HandleChanges)
	})
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() net.Addr { return s.addr }

// Start binds the listen address and serves in the background. Bind errors
// are returned immediately.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.opts.Listen)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryNetwork, "http startup failed").
			WithContext("listen", s.opts.Listen).
			Build()
	}
	s.addr = ln.Addr()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Stop and start can run for the full confirmation and termination budget.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control API server error", logfields.Error(err))
		}
	}()
	slog.Info("Control API listening", slog.String("addr", s.addr.String()))
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("control API shutdown: %w", err)
	}
	return nil
}
