package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/caevv/smartmover/internal/config"
	"github.com/caevv/smartmover/internal/runner"
	"github.com/caevv/smartmover/internal/store"
)

// Runner is the single-flight execution path.
type Runner interface {
	Run(ctx context.Context, opts runner.RunOptions) runner.RunResult
	Status() runner.Status
	LogEvent(level, msg string) error
}

// Scheduler exposes the cron job state.
type Scheduler interface {
	UpdateSchedule()
	NextRunTime() *time.Time
	IsEnabled() bool
	Expression() string
	Timezone() string
}

// Settings gives access to the settings file and the run log.
type Settings interface {
	Load() (config.Settings, error)
	Update(fn func(*config.Settings)) (config.Settings, error)
	ReadLogs(lines int, level string) (string, error)
	ClearLogs() error
	LogFile() string
}

// Deps are the collaborators the API is served from.
type Deps struct {
	Runner    Runner
	Scheduler Scheduler
	Settings  Settings
	History   store.Store
}

// Server represents the HTTP API of the mover daemon.
type Server struct {
	addr   string
	deps   Deps
	logger *slog.Logger

	srv       *http.Server
	router    *http.ServeMux
	startTime time.Time

	mu      sync.RWMutex
	started bool
	runCtx  context.Context

	// background runs started by POST /api/run
	runs sync.WaitGroup
}

// New creates a new Server instance
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:      addr,
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
		router:    http.NewServeMux(),
		runCtx:    context.Background(),
	}

	s.registerRoutes()

	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(securityHeaders(s.router))
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	s.router.HandleFunc("GET /api/health", s.handleHealth)
	s.router.HandleFunc("GET /api/status", s.handleStatus)
	s.router.HandleFunc("POST /api/run", s.handleRun)
	s.router.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.router.HandleFunc("GET /api/history", s.handleListHistory)
	s.router.HandleFunc("DELETE /api/history", s.handleClearHistory)
	s.router.HandleFunc("GET /api/logs", s.handleGetLogs)
	s.router.HandleFunc("DELETE /api/logs", s.handleClearLogs)
	s.router.HandleFunc("GET /api/logs/download", s.handleDownloadLogs)
	s.router.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.router.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
	s.router.HandleFunc("GET /api/disk", s.handleDisk)
	s.router.HandleFunc("GET /api/cache-contents", s.handleCacheContents)
}

// Start serves until ctx is canceled, then shuts down. Runs started over
// the API are bound to ctx.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.runCtx = ctx
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server", "reason", ctx.Err())
		return s.Stop(context.Background())
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.srv == nil {
		return nil
	}

	s.logger.Info("stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during shutdown", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}

	s.started = false
	s.logger.Info("HTTP server stopped")
	return nil
}

// Wait blocks until every run started over the API has returned.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) backgroundContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCtx
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// securityHeaders sets the hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Uptime returns the server uptime as a string
func (s *Server) Uptime() string {
	duration := time.Since(s.startTime)
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
