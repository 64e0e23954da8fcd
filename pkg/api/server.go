package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sidewallet-engine/pkg/analyzer"
	"github.com/sidewallet-engine/pkg/config"
	"github.com/sidewallet-engine/pkg/ingest"
	"github.com/sidewallet-engine/pkg/store"
)

// Server exposes the engine over HTTP. The side-wallet computation is the
// single logical inbound operation; ingest and lookup endpoints exist for
// operators.
type Server struct {
	cfg      *config.Config
	store    store.EventStore
	engine   *analyzer.Engine
	pipeline *ingest.Pipeline
	router   *gin.Engine
}

func NewServer(cfg *config.Config, st store.EventStore, engine *analyzer.Engine, pipeline *ingest.Pipeline) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, store: st, engine: engine, pipeline: pipeline, router: gin.New()}
	s.router.Use(gin.Recovery(), requestLogger())

	s.router.GET("/healthz", s.handleHealth)
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/side-wallets", s.handleSideWallets)
		v1.POST("/ingest", s.handleIngest)
		v1.GET("/wallets/:address/neighbors", s.handleNeighbors)
		v1.GET("/stats", s.handleStats)
	}
	return s
}

func (s *Server) Run(port int) error {
	log.Info().Int("port", port).Msg("api listening")
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// requestLogger tags every request with a UUID and logs the outcome.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := uuid.NewString()
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		start := time.Now()
		c.Next()
		log.Info().
			Str("req", reqID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

type sideWalletsRequest struct {
	Address string `json:"address" binding:"required"`
	analyzer.Options
}

func (s *Server) handleSideWallets(c *gin.Context) {
	var req sideWalletsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.engine.ComputeSideWallets(c.Request.Context(), req.Address, req.Options)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type ingestRequest struct {
	Address string `json:"address" binding:"required"`
	Limit   int    `json:"limit"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.Deadline())
	defer cancel()
	stats, err := s.pipeline.IngestWallet(ctx, req.Address, req.Limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleNeighbors(c *gin.Context) {
	address := c.Param("address")
	dir := store.Direction(c.DefaultQuery("direction", string(store.DirectionBoth)))
	limit := 50
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	neighbors, err := s.store.GetNeighbors(c.Request.Context(), address, dir, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if neighbors == nil {
		neighbors = []store.Neighbor{}
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "neighbors": neighbors})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, analyzer.ErrInvalidAddress), errors.Is(err, config.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "deadline exceeded"})
	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
