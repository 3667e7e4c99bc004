// Package api exposes the intake and diagnosis pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/middleware"
	"github.com/symptom-intake-server/internal/setup"
)

// Server represents the HTTP server
type Server struct {
	app    *setup.App
	router *gin.Engine
	server *http.Server
	hub    *ProgressHub
	logger *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(app *setup.App) *Server {
	cfg := app.Config

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(app.Logger))
	router.Use(middleware.Recovery(app.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(middleware.RequestDeadline(cfg.Server.RequestTimeout))

	hub := NewProgressHub(app.Logger)
	app.Observe(hub.Publish)

	server := &Server{
		app:    app,
		router: router,
		hub:    hub,
		logger: app.Logger,
	}
	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.app.Config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/stats", s.handleStats)
		v1.GET("/progress", s.hub.Serve)

		v1.POST("/intake/steps", s.handleIntakeSteps)
		v1.POST("/analyze", s.handleAnalyze)

		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)
		v1.PUT("/sessions/:id/answers/:key", s.handleRecordAnswer)
		v1.POST("/sessions/:id/analyze", s.handleAnalyzeSession)

		v1.GET("/reports", s.handleListReports)
		v1.GET("/reports/export", s.handleExportReports)
		v1.POST("/reports/import", s.handleImportReports)
		v1.GET("/reports/:id", s.handleGetReport)
		v1.GET("/reports/:id/markdown", s.handleReportMarkdown)
		v1.DELETE("/reports/:id", s.handleDeleteReport)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
