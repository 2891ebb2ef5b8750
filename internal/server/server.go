// Package server provides the HTTP server for ProdukScan.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/classify"
	"github.com/ayusman/produkscan/internal/logger"
	"github.com/ayusman/produkscan/internal/metrics"
	"github.com/ayusman/produkscan/internal/server/api"
	"github.com/ayusman/produkscan/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Classifier api.Classifier
	Store      *store.Store
	Metrics    *metrics.Metrics
}

// Server represents the HTTP server for the ProdukScan application.
type Server struct {
	config Config
	engine *gin.Engine
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), requestLogger(config.Metrics))

	s := &Server{
		config: config,
		engine: engine,
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.engine.Group("/api")
	r.GET("/health", s.handleHealth)
	r.GET("/labels", s.handleLabels)

	if s.config.Classifier != nil {
		r.POST("/classify", api.NewClassifyHandler(s.config.Classifier).Classify)
		r.GET("/live", NewLiveHandler(s.config.Classifier, s.config.Metrics).Serve)
	}

	if s.config.Store != nil {
		detections := api.NewDetectionHandler(s.config.Store)
		r.GET("/detections", detections.List)
		r.GET("/detections/:id", detections.Get)
		r.DELETE("/detections/:id", detections.Delete)
	}

	if s.config.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.config.Metrics.Handler()))
	}

	if s.config.StaticDir != "" {
		s.engine.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.config.StaticDir))))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

func (s *Server) handleLabels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"labels": classify.Labels()})
}

// requestLogger logs every request and counts it by route.
func requestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if m != nil {
			m.ObserveRequest(c.Request.Method, route, status)
		}
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
