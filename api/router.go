// Package api serves the detection HTTP and websocket endpoints.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"FoodDetServer/history"
	"FoodDetServer/logger"
	"FoodDetServer/monitor"
	"FoodDetServer/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
	wsReadLimit        = 20 * 1024 * 1024
)

type Options struct {
	UploadDir    string
	AnnotatedDir string
	// History is optional; without it the history endpoints answer 503.
	History *history.Store
}

type Server struct {
	svc      *service.Service
	opts     Options
	upgrader websocket.Upgrader
}

func New(svc *service.Service, opts Options) *Server {
	return &Server{
		svc:  svc,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	r.POST("/api/predict", s.predict)
	r.GET("/api/health", s.health)
	r.GET("/api/classes", s.classes)
	r.GET("/api/detections/recent", s.recent)
	r.GET("/api/detections/stats", s.stats)
	r.GET("/ws/detect", s.wsDetect)
	return r
}

// HTTPServer wraps Router in a server bound to port.
func (s *Server) HTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		monitor.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		logger.Log().Info("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()))
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func (s *Server) health(c *gin.Context) {
	h := s.svc.Handle()
	degraded := make([]string, 0)
	for _, te := range h.Degraded() {
		degraded = append(degraded, te.Error())
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"model_loaded":     h.Detector() != nil,
		"model_provenance": h.Provenance(),
		"model_source":     h.Source(),
		"degraded_tiers":   degraded,
		"class_names":      []string(s.svc.Classes()),
	})
}

func (s *Server) classes(c *gin.Context) {
	classes := s.svc.Classes()
	c.JSON(http.StatusOK, gin.H{
		"classes":       []string(classes),
		"total_classes": len(classes),
	})
}

func (s *Server) recent(c *gin.Context) {
	if s.opts.History == nil {
		fail(c, http.StatusServiceUnavailable, "History is disabled")
		return
	}
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	inferences, err := s.opts.History.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.Log().Error("read history", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "inferences": inferences})
}

func (s *Server) stats(c *gin.Context) {
	if s.opts.History == nil {
		fail(c, http.StatusServiceUnavailable, "History is disabled")
		return
	}
	ctx := c.Request.Context()
	total, err := s.opts.History.Count(ctx)
	if err != nil {
		logger.Log().Error("count history", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	totals, err := s.opts.History.ClassTotals(ctx)
	if err != nil {
		logger.Log().Error("aggregate history", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"total_inferences": total,
		"class_totals":     totals,
	})
}
