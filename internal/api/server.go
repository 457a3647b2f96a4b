package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/backup"
	"github.com/mattjoyce/satchel/internal/journal"
)

// BackupService is the operation surface served over HTTP.
type BackupService interface {
	Create(ctx context.Context, opts backup.CreateOptions) (backup.CreateResult, error)
	Restore(ctx context.Context, opts backup.RestoreOptions) (backup.RestoreResult, error)
	List(withInfo, humanReadable bool) ([]archive.Archive, error)
	Info(name string, withDetails, humanReadable bool) (archive.Archive, error)
	Delete(ctx context.Context, name string) error
	Verify(ctx context.Context, name string) (backup.VerifyResult, error)
	History(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	service   BackupService
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, service BackupService, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		service:   service,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// Backups and restores run inside the request.
		WriteTimeout: 4 * time.Hour,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/backups", s.handleList)
		r.Post("/backups", s.handleCreate)
		r.Get("/backups/{name}", s.handleInfo)
		r.Delete("/backups/{name}", s.handleDelete)
		r.Post("/backups/{name}/restore", s.handleRestore)
		r.Get("/backups/{name}/verify", s.handleVerify)
		r.Get("/history", s.handleHistory)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
