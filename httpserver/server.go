package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"github.com/kacy/pwned-proxy/common"
	"github.com/kacy/pwned-proxy/metrics"
)

// HTTPServerConfig configures the API and metrics listeners.
type HTTPServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long the server stays up but not ready before
	// shutting down, so load balancers can stop routing to it.
	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server serves lookups plus the health, drain and debug endpoints.
type Server struct {
	cfg       *HTTPServerConfig
	isReady   atomic.Bool
	drainedAt atomic.Time
	log       *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handler    *Handler
}

// New creates a Server and registers its metrics as the lookup observer.
func New(cfg *HTTPServerConfig, lookup Lookup) (*Server, error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	lookup.SetObserver(metricsSrv)

	s := &Server{
		cfg:        cfg,
		log:        cfg.Log,
		metricsSrv: metricsSrv,
		handler:    NewHandler(lookup, cfg.Log),
	}
	s.isReady.Store(true)
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.httpLogger)

	mux.Get("/pwned", s.handler.HandleLookup)
	mux.Post("/pwned", s.handler.HandleLookup)

	mux.Get("/livez", s.handleLivenessCheck)
	mux.Get("/readyz", s.handleReadinessCheck)
	mux.Get("/drain", s.handleDrain)
	mux.Get("/undrain", s.handleUndrain)

	if s.cfg.EnablePprof {
		s.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

func (s *Server) handleLivenessCheck(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

func (s *Server) handleReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if !s.isReady.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func (s *Server) handleDrain(w http.ResponseWriter, _ *http.Request) {
	if !s.setReady(false) {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}
	writeStatus(w, http.StatusOK, "draining")
}

func (s *Server) handleUndrain(w http.ResponseWriter, _ *http.Request) {
	if !s.setReady(true) {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

// setReady reports whether the readiness state changed.
func (s *Server) setReady(ready bool) bool {
	if s.isReady.Swap(ready) == ready {
		return false
	}
	if ready {
		s.log.Info("Server marked as ready")
	} else {
		s.drainedAt.Store(time.Now())
		s.log.Info("Server marked as not ready")
	}
	return true
}

// waitForDrain blocks until DrainDuration has passed since the server
// was marked not ready.
func (s *Server) waitForDrain() {
	remaining := s.cfg.DrainDuration - time.Since(s.drainedAt.Load())
	if remaining <= 0 {
		return
	}
	s.log.Info("Waiting for drain period", "remaining", remaining)
	time.Sleep(remaining)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"status":"` + status + `"}`))
}

// RunInBackground starts the API and, if configured, metrics listeners.
func (s *Server) RunInBackground() {
	if s.cfg.MetricsAddr != "" {
		go s.serve("metrics", s.cfg.MetricsAddr, s.metricsSrv.ListenAndServe)
	}
	go s.serve("HTTP", s.cfg.ListenAddr, s.srv.ListenAndServe)
}

func (s *Server) serve(name, addr string, listen func() error) {
	s.log.Info("Starting "+name+" server", "listenAddress", addr)
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error(name+" server failed", "err", err)
	}
}

// Shutdown marks the server not ready, waits out the drain period and then
// stops both listeners gracefully.
func (s *Server) Shutdown() {
	s.setReady(false)
	s.waitForDrain()

	s.stop("HTTP", s.srv.Shutdown)
	if s.cfg.MetricsAddr != "" {
		s.stop("metrics", s.metricsSrv.Shutdown)
	}
}

func (s *Server) stop(name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		s.log.Error("Graceful "+name+" server shutdown failed", "err", err)
		return
	}
	s.log.Info(name + " server gracefully stopped")
}
