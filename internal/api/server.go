package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/silencecat2007/pokepark-kanto/internal/api/middleware"
	"github.com/silencecat2007/pokepark-kanto/internal/catalog"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

// Server 是快照的只读 HTTP 接口。
type Server struct {
	store  SnapshotStore
	logger *slog.Logger
	router *gin.Engine
}

// NewServer 初始化路由。
func NewServer(store SnapshotStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{store: store, logger: logger, router: r}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/items", s.handleItems)
	api.GET("/sold", s.handleSold)
}

func (s *Server) handleHealthz(c *gin.Context) {
	snap, err := s.store.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "snapshot unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "updated_at": snap.GeneratedAt, "count": snap.TotalCount})
}

// loadSnapshot 读取快照，失败时写入错误响应并返回 false。
func (s *Server) loadSnapshot(c *gin.Context) (model.Snapshot, bool) {
	snap, err := s.store.Load(c.Request.Context())
	switch {
	case err == nil:
		return snap, true
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
	default:
		s.logger.Error("load snapshot failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load snapshot failed"})
	}
	return model.Snapshot{}, false
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap, ok := s.loadSnapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleItems 支持 status 与 number 两个过滤参数。
func (s *Server) handleItems(c *gin.Context) {
	var status model.SoldStatus
	if v := c.Query("status"); v != "" {
		status = model.SoldStatus(v)
		switch status {
		case model.StatusSold, model.StatusActive, model.StatusUnknown:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be sold, active or unknown"})
			return
		}
	}
	number := 0
	if v := c.Query("number"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < catalog.MinNumber || n > catalog.MaxNumber {
			c.JSON(http.StatusBadRequest, gin.H{"error": "number must be between 1 and 151"})
			return
		}
		number = n
	}

	snap, ok := s.loadSnapshot(c)
	if !ok {
		return
	}
	items := make([]model.Record, 0, len(snap.Records))
	for _, r := range snap.Records {
		if status != "" && r.SoldStatus != status {
			continue
		}
		if number != 0 && r.CatalogNumber != number {
			continue
		}
		items = append(items, r)
	}
	c.JSON(http.StatusOK, gin.H{"updated_at": snap.GeneratedAt, "count": len(items), "items": items})
}

func (s *Server) handleSold(c *gin.Context) {
	snap, ok := s.loadSnapshot(c)
	if !ok {
		return
	}
	items := snap.ConfirmedSold()
	c.JSON(http.StatusOK, gin.H{"updated_at": snap.GeneratedAt, "count": len(items), "items": items})
}
