package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/ffmpeg"
	"github.com/keagan/panelreel/internal/timeline"
	"github.com/keagan/panelreel/internal/video"
	"github.com/rs/zerolog"
)

// Renderer produces an MP4 for a request.
type Renderer interface {
	Render(ctx context.Context, req video.Request, cb video.Callbacks) ([]byte, error)
}

// Config holds HTTP server options.
type Config struct {
	Addr        string
	MaxUploadMB int
	Settings    clips.VideoSettings
	Encoding    ffmpeg.Encoding
}

// Server exposes rendering over HTTP.
type Server struct {
	logger   zerolog.Logger
	config   Config
	renderer Renderer
	builder  *timeline.Builder
	http     *http.Server
}

// New creates a server. renderer may be nil, in which case render requests
// are rejected and planning still works.
func New(logger zerolog.Logger, cfg Config, renderer Renderer) *Server {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 200
	}
	s := &Server{
		logger:   logger.With().Str("component", "server").Logger(),
		config:   cfg,
		renderer: renderer,
		builder:  timeline.NewBuilder(logger),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router constructs a gin engine with registered routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.MaxMultipartMemory = int64(s.config.MaxUploadMB) << 20

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/voices", s.handleVoices)
	api.GET("/presets", s.handlePresets)
	api.POST("/plan", s.limitBody(), s.handlePlan)
	api.POST("/render", s.limitBody(), s.handleRender)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info().Msg("shutting down http server")
	return s.http.Shutdown(shutdownCtx)
}

// limitBody caps request bodies at MaxUploadMB. Reads past the cap fail with
// *http.MaxBytesError.
func (s *Server) limitBody() gin.HandlerFunc {
	limit := int64(s.config.MaxUploadMB) << 20
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			s.fail(c, http.StatusRequestEntityTooLarge, "too_large", fmt.Errorf("request body exceeds %d MB", s.config.MaxUploadMB))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
