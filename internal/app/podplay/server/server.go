// Package server exposes the ingestion endpoint GET /api/podcast over a feed.Source.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-pkgz/lgr"
	"podplay/internal/app/podplay/feed"
	"podplay/internal/app/podplay/podcast"
)

// Server of podcast feed
type Server struct {
	router *gin.Engine
	source feed.Source
	ttl    time.Duration
	log    lgr.L
	now    func() time.Time

	mu      sync.Mutex
	cached  *podcast.Feed
	fetched time.Time
}

// New makes Server, ttl <= 0 disables caching
func New(source feed.Source, ttl time.Duration, l lgr.L) *Server {
	if l == nil {
		l = lgr.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	s := &Server{router: router, source: source, ttl: ttl, log: l, now: time.Now}
	router.Use(gin.Recovery(), s.logRequests)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/podcast", s.getPodcast)
	}
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Handler for tests and embedding
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Logf("[WARN] graceful shutdown error, %v", err)
		}
	}()

	s.log.Logf("[INFO] listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) getPodcast(c *gin.Context) {
	f, err := s.load(c.Request.Context())
	if err != nil {
		s.log.Logf("[ERROR] error fetching podcast feed, %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch podcast feed"})
		return
	}
	c.JSON(http.StatusOK, f)
}

// load returns cached feed while fresh
func (s *Server) load(ctx context.Context) (*podcast.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.ttl > 0 && s.now().Sub(s.fetched) < s.ttl {
		return s.cached, nil
	}

	f, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.cached, s.fetched = f, s.now()
	return f, nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Logf("[DEBUG] %s %s -> %d (%dB) in %s", c.Request.Method, c.Request.URL.Path,
		c.Writer.Status(), c.Writer.Size(), time.Since(start))
}
