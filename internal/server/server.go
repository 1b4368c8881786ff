// Package server exposes the document API over HTTP (gin) and health over gRPC.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/export"
	"github.com/joseph-ayodele/cv-screener/internal/ingest"
	"github.com/joseph-ayodele/cv-screener/internal/llm"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker func(ctx context.Context) error

type Config struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	// ListLimit caps GET /v1/documents when no limit is given.
	ListLimit int
}

// Deps are the collaborators behind the API. Scorer and Health may be nil.
type Deps struct {
	Ingest ingest.Submitter
	Jobs   repository.DocumentJobRepository
	Export *export.Service
	Scorer llm.Scorer
	Health HealthChecker
}

type Server struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = constants.MaxUploadBytes
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 50
	}
	return &Server{deps: deps, cfg: cfg, logger: logger}
}

// Router builds the gin engine. Call gin.SetMode before it to silence debug output.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	cors := DefaultCORSConfig()
	if len(s.cfg.AllowedOrigins) > 0 {
		cors.AllowedOrigins = s.cfg.AllowedOrigins
	}
	r.Use(RequestID(s.logger), Recovery(s.logger), AccessLog(), CORS(cors))

	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1")
	v1.POST("/documents", s.uploadDocument)
	v1.GET("/documents", s.listDocuments)
	v1.GET("/documents/export", s.exportDocuments)
	v1.GET("/documents/:id", s.getDocument)
	v1.POST("/analyses", s.analyze)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func (s *Server) healthz(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			s.logger.Warn("http.healthz.failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
