// Package api 提供只读 HTTP 状态接口：健康检查、盘口、成交与指标。
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schwab-bookmap/internal/core/store"
)

// 查询参数上限
const (
	defaultLevels = 10
	maxLevels     = 1000
	defaultLimit  = 10
	maxLimit      = 1000
)

// MetricsFunc 返回当前指标快照（由 main 组装）
type MetricsFunc func() any

// Server HTTP 状态服务
type Server struct {
	// store 盘口状态
	store *store.Store
	// session 会话 ID
	session string
	// startedAt 启动时间
	startedAt time.Time
	// metrics 指标来源，可为空
	metrics MetricsFunc
	// logger 日志记录器
	logger *zap.Logger
	// engine gin 路由
	engine *gin.Engine
	// srv 底层 HTTP 服务
	srv *http.Server
}

// NewServer 创建状态服务
// 参数 addr: 监听地址，如 :8080
// 参数 st: 盘口状态
// 参数 session: 会话 ID
// 参数 metrics: 指标来源
func NewServer(addr string, st *store.Store, session string, metrics MetricsFunc, logger *zap.Logger) *Server {
	s := &Server{
		store:     st,
		session:   session,
		startedAt: time.Now(),
		metrics:   metrics,
		logger:    logger.Named("api"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", s.healthz)
	v1 := r.Group("/v1")
	v1.GET("/book/:symbol", s.getBook)
	v1.GET("/trades/:symbol", s.getTrades)
	v1.GET("/metrics", s.getMetrics)

	s.engine = r
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler 返回路由（测试用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 后台启动监听
// 监听失败记录 error 日志，不影响行情主流程
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP 状态接口启动", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP 状态接口异常退出", zap.Error(err))
		}
	}()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("关闭 HTTP 服务失败: %w", err)
	}
	return nil
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"session":    s.session,
		"started_at": s.startedAt,
		"uptime_sec": int64(time.Since(s.startedAt).Seconds()),
		"symbols":    s.store.Symbols(),
	})
}

func (s *Server) getBook(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))
	levels, err := intQuery(c, "levels", defaultLevels, maxLevels)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, ok := s.store.Snapshot(symbol, levels, 0)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol", "symbol": symbol})
		return
	}
	snap.Trades = nil
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getTrades(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))
	limit, err := intQuery(c, "limit", defaultLimit, maxLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, ok := s.store.BestQuote(symbol); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol", "symbol": symbol})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"trades": s.store.Trades(symbol, limit),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.metrics())
}

// accessLog 以 debug 级别记录请求
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP 请求",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)))
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// intQuery 解析正整数查询参数，缺省取默认值
func intQuery(c *gin.Context, name string, def, max int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > max {
		return 0, fmt.Errorf("%s 必须是 1-%d 之间的整数", name, max)
	}
	return v, nil
}
