/**
 * HTTP control surface for the card scanner
 *
 * Exposes scan sessions (create, start/stop auto-capture, manual capture,
 * resolve, finalize), single-shot recognition of an uploaded frame and
 * fuzzy name suggestions.
 */

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	scanerrors "github.com/Epetaway/mtg-proxy-generator/internal/errors"
	"github.com/Epetaway/mtg-proxy-generator/internal/logging"
	"github.com/Epetaway/mtg-proxy-generator/internal/scanner"
)

// maxSuggestLimit caps /api/suggest results
const maxSuggestLimit = 50

// maxUploadBytes caps uploaded frames
const maxUploadBytes = 16 << 20

// NameIndex is the fuzzy index as seen by the API
type NameIndex interface {
	EnsureReady(ctx context.Context) error
	Suggest(query string, limit int) []string
	Ready() bool
	Size() int
}

// Checker reports the health of a dependency
type Checker func(ctx context.Context) error

// Config wires a Server
type Config struct {
	Manager      *scanner.Manager
	Names        NameIndex
	SuggestLimit int
	Checks       map[string]Checker
	Logger       *logging.Logger
}

// Server is the gin HTTP server
type Server struct {
	cfg    Config
	logger *logging.Logger
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the router
func NewServer(cfg Config) *Server {
	if cfg.SuggestLimit < 1 {
		cfg.SuggestLimit = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("api")
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.MaxMultipartMemory = maxUploadBytes

	s := &Server{cfg: cfg, logger: cfg.Logger, engine: engine}
	engine.Use(s.requestLogger())
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	api := s.engine.Group("/api")
	api.POST("/recognize", s.recognizeHandler)
	api.GET("/suggest", s.suggestHandler)

	sessions := api.Group("/sessions")
	sessions.POST("", s.createSessionHandler)
	sessions.GET("/:id", s.getSessionHandler)
	sessions.POST("/:id/start", s.startSessionHandler)
	sessions.POST("/:id/stop", s.stopSessionHandler)
	sessions.POST("/:id/capture", s.captureHandler)
	sessions.POST("/:id/resolve", s.resolveHandler)
	sessions.POST("/:id/finalize", s.finalizeHandler)
	sessions.DELETE("/:id", s.deleteSessionHandler)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Start listens on addr in the background
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	case <-time.After(100 * time.Millisecond):
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// statusFor maps errors onto HTTP statuses
func statusFor(err error) int {
	if errors.Is(err, scanner.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	switch scanerrors.CodeOf(err) {
	case scanerrors.ErrorInvalidConfig:
		return http.StatusBadRequest
	case scanerrors.ErrorCameraUnavailable:
		return http.StatusServiceUnavailable
	case scanerrors.ErrorDeviceBusy:
		return http.StatusConflict
	case scanerrors.ErrorIndexBuildFailed:
		return http.StatusFailedDependency
	case scanerrors.ErrorOCRTimeout:
		return http.StatusGatewayTimeout
	case scanerrors.ErrorOCRFailed:
		return http.StatusUnprocessableEntity
	case scanerrors.ErrorCatalogLookupFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "status", status, "error", err)
	}

	var se *scanerrors.ScanError
	if errors.As(err, &se) {
		body := se.ToMap()
		body["error"] = se.Message
		c.JSON(status, body)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
