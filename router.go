package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HavartiBard/chiffon-sub001/pkg/config"
	"github.com/HavartiBard/chiffon-sub001/pkg/event"
	"github.com/HavartiBard/chiffon-sub001/pkg/handler"
	"github.com/HavartiBard/chiffon-sub001/pkg/orchestrator"
	"github.com/HavartiBard/chiffon-sub001/pkg/service"
	"github.com/HavartiBard/chiffon-sub001/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

type Server struct {
	ginEngine *gin.Engine
	logger    *slog.Logger
	cfg       *config.AppConfig
	store     *service.SessionStore
	sweeper   *cron.Cron
	port      int
}

func NewServer(cfg *config.AppConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost dev origins.
	// Note: if you don't need cookies/credentials, keep Allow-Credentials off.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				// Reject unknown origins.
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		logger:    utils.GetLogger(),
		cfg:       cfg,
	}

	server.SetupRoutes()

	return server
}

func (s *Server) SetupRoutes() {
	logger := s.logger

	orchClient := orchestrator.NewClient(orchestrator.Config{
		BaseURL:     s.cfg.OrchestratorURL(),
		MaxAttempts: s.cfg.MaxAttempts(),
		Timeout:     s.cfg.RequestTimeout(),
		Logger:      logger,
	})

	s.store = service.NewSessionStore(logger)
	eventManager := event.NewManager(logger)
	dashboardService := service.NewDashboardService(s.store, orchClient, eventManager, logger)

	dashboardHandler := handler.NewDashboardHandler(dashboardService, logger)
	wsHandler := event.NewWSHandler(eventManager, logger)

	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Realtime connection route
	s.ginEngine.GET("/ws", wsHandler.Handle)

	// Dashboard API group
	apiGroup := s.ginEngine.Group("/api/dashboard")
	dashboardHandler.RegisterRoutes(apiGroup)
}

// Start runs the HTTP server and the periodic session-eviction sweep until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Read port from environment variable CHIFFON_PORT, falling back to the
	// config file value if unset or invalid.
	port := s.cfg.Port()
	if v := os.Getenv("CHIFFON_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			port = p
		} else {
			s.logger.Warn("Invalid CHIFFON_PORT value, falling back to config", "value", v)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), port)
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = port
	}

	// Periodic eviction sweep. The sweeper shares the store's own locking, so
	// a sweep never races an in-flight session mutation.
	ttl := s.cfg.SessionTTL()
	s.sweeper = cron.New()
	_, err = s.sweeper.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepInterval()), func() {
		s.store.EvictExpired(ttl)
	})
	if err != nil {
		return fmt.Errorf("schedule eviction sweep: %w", err)
	}
	s.sweeper.Start()

	s.logger.Info("dashboard server listening", "addr", addr, "orchestrator", s.cfg.OrchestratorURL())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		sweepCtx := s.sweeper.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-sweepCtx.Done()
		return nil
	case err := <-errChan:
		s.sweeper.Stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
