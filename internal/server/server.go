// Package server exposes the engine and the case store over HTTP, streaming
// run events to displays with server-sent events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/CodeRushOJ/croj-runner/internal/engine"
	"github.com/CodeRushOJ/croj-runner/internal/options"
	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
	"github.com/CodeRushOJ/croj-runner/internal/store"
	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// Config wires the server to the engine.
type Config struct {
	Manager  *engine.Manager
	Store    *store.Store
	Options  *options.Options
	Registry *sandbox.Registry
	Hub      *Hub
	Logger   *slog.Logger

	// HostTempDir receives source code posted inline with a run.
	HostTempDir string
	// Heartbeat is the SSE keep-alive period; 0 disables it.
	Heartbeat time.Duration
}

// Server handles HTTP requests for one Manager.
type Server struct {
	cfg Config
	log *slog.Logger
}

// New creates a server. Hub is required; it should be the engine's sink.
func New(cfg Config) *Server {
	if cfg.HostTempDir == "" {
		cfg.HostTempDir = sandbox.DefaultHostTempDir
	}
	if cfg.Options == nil {
		cfg.Options = options.New()
	}
	return &Server{cfg: cfg, log: util.OrDefault(cfg.Logger).With("component", "server")}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(cors.AllowAll().Handler)

	mux.Get("/health", s.health)
	mux.Get("/events", s.streamEvents)

	mux.Route("/runs", func(r chi.Router) {
		r.Post("/", s.startRun)
		r.Get("/current", s.currentRun)
		r.Delete("/current", s.haltRun)
		r.Post("/current/skip", s.skipCase)
		r.Post("/current/reset-ack", s.resetAck)
	})

	mux.Route("/sets", func(r chi.Router) {
		r.Get("/", s.listSets)
		r.Post("/", s.addSet)
		r.Delete("/{name}", s.removeSet)
		r.Patch("/{name}", s.renameSet)
		r.Get("/{name}/export", s.exportSet)
		r.Put("/{name}/import", s.importSet)
		r.Put("/{name}/checker", s.setChecker)
		r.Get("/{name}/cases", s.listCases)
		r.Post("/{name}/cases", s.insertCase)
		r.Delete("/{name}/cases/{index}", s.removeCase)
		r.Put("/{name}/cases/{index}/enabled", s.setEnabled)
		r.Post("/{name}/swap", s.swapCases)
	})

	mux.Route("/options", func(r chi.Router) {
		r.Get("/", s.getOptions)
		r.Put("/{category}/{key}", s.setOption)
	})

	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down,
// halting any active run.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.cfg.Manager != nil {
		if err := s.cfg.Manager.HaltAndWait(shutdownCtx); err != nil {
			s.log.Warn("run did not finalize", "err", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.cfg.Manager.State().String(),
	})
}
