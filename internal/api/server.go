// Package api is the HTTP front-end a messaging bot talks to.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"torrentsready/internal/config"
	"torrentsready/internal/trd"
)

// maxTorrentFileSize bounds uploaded .torrent files.
const maxTorrentFileSize = 10 << 20

// Server routes front-end requests to trd.Service.
type Server struct {
	service *trd.Service
	hub     *Hub
	metrics http.Handler
	logger  trd.Logger
	cfg     config.APIConfig
	router  *gin.Engine
}

// NewServer builds the router. metrics may be nil to skip /metrics.
func NewServer(cfg config.APIConfig, service *trd.Service, hub *Hub, metrics http.Handler, logger trd.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		service: service,
		hub:     hub,
		metrics: metrics,
		logger:  trd.WithComponent(logger, "api"),
		cfg:     cfg,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := r.Group("/api")
	api.POST("/users", s.startInteraction)

	user := api.Group("/users/:mid", s.messengerID)
	user.GET("/torrents", s.listTorrents)
	user.POST("/torrents", s.submit)
	user.DELETE("/torrents/:tid", s.removeTorrent)
	user.GET("/torrents/:tid/files", s.page)
	user.POST("/torrents/:tid/toggle/:index", s.toggle)
	user.POST("/torrents/:tid/select-all", s.selectAll)
	user.POST("/torrents/:tid/unselect-all", s.unselectAll)
	user.POST("/torrents/:tid/done", s.finalize)
	user.POST("/consent", s.consent)
	if s.hub != nil {
		user.GET("/events", s.events)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	return nil
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
