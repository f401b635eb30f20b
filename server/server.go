package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailtracker/config"
	"mailtracker/metrics"
	"mailtracker/tracker"
)

type Server struct {
	router  *gin.Engine
	config  *config.Config
	tracker *tracker.Tracker
	history *tracker.History
	logger  *zap.Logger
	server  *http.Server
	now     func() time.Time
}

func NewServer(cfg *config.Config, history *tracker.History, logger *zap.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(recovery(logger), requestLogger(logger), metrics.Middleware(), corsMiddleware())

	s := &Server{
		router:  router,
		config:  cfg,
		tracker: tracker.NewTracker(cfg, history, logger),
		history: history,
		logger:  logger,
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	// Pixel fetches from mail clients
	s.router.GET("/track/:id", s.trackEmailOpen)

	// Status polled by the sender's client
	s.router.GET("/api/tracking/:id", s.getTrackingInfo)
	s.router.OPTIONS("/api/tracking/:id", s.preflight)

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) trackEmailOpen(c *gin.Context) {
	s.tracker.TrackEmailOpen(c.Writer, c.Request, c.Param("id"))
}

func (s *Server) getTrackingInfo(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Access-Control-Allow-Origin", "*")
	c.JSON(http.StatusOK, s.tracker.GetTrackingStatus(c.Param("id")))
}

func (s *Server) preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Run serves until ctx is cancelled, sweeping the access history alongside,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.history.Run(sweepCtx, s.config.Tracking.SweepInterval, s.config.Tracking.HistoryTTL, s.logger)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("env", s.config.App.Env),
			zap.Duration("debounce_window", s.config.Tracking.DebounceWindow),
			zap.Duration("history_ttl", s.config.Tracking.HistoryTTL))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server exited properly")
	return nil
}
