// Package api wires the gin engine and the HTTP server for wearsync.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/wearsync/internal/api/handlers/integration"
	"github.com/router-for-me/wearsync/internal/buildinfo"
	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/logging"
	"github.com/router-for-me/wearsync/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server owns the gin engine and the listening HTTP server.
type Server struct {
	mu      sync.Mutex
	engine  *gin.Engine
	server  *http.Server
	handler *integration.Handler
	addr    string
}

// NewServer builds the engine and mounts every route.
func NewServer(cfg *config.Config, handler *integration.Handler) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": buildinfo.Version, "commit": buildinfo.Commit})
	})
	promHandler := metrics.Handler()
	engine.GET("/metrics", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		promHandler.ServeHTTP(c.Writer, c.Request)
	})
	handler.Register(engine)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return &Server{
		engine:  engine,
		handler: handler,
		addr:    addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Start listens until Stop is called. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	log.Infof("API server listening on %s", s.addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: listen on %s: %w", s.addr, err)
	}
	return nil
}

// Stop gracefully shuts the server down, bounded by shutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("api server: shutdown: %w", err)
	}
	log.Infof("API server stopped on %s", s.addr)
	return nil
}

// UpdateConfig applies the settings the HTTP layer can change live.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.handler.SetMaxBodyBytes(cfg.Webhook.MaxBodyBytes)
}
