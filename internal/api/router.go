package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/word-duel/internal/config"
	"github.com/wfunc/word-duel/internal/errors"
	"github.com/wfunc/word-duel/internal/game"
	"github.com/wfunc/word-duel/internal/logger"
	"github.com/wfunc/word-duel/internal/middleware"
	ws "github.com/wfunc/word-duel/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SnapshotReader 只读会话查询，由 game.Registry 实现
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, sessionID string) (*game.Snapshot, error)
	ActiveSessions() int
}

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	sessions       SnapshotReader
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器，db 为空时健康检查不探测数据库
func NewRouter(db *gorm.DB, sessions SnapshotReader, hub *ws.Hub, wsCfg config.WebSocketConfig, auth *middleware.AuthMiddleware, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}

	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(recovery())
	engine.Use(requestLogger())

	router := &Router{
		engine:         engine,
		db:             db,
		sessions:       sessions,
		wsHandler:      NewWebSocketHandler(hub, wsCfg, log),
		authMiddleware: auth,
		log:            log,
	}

	// 设置路由
	router.setupRoutes(wsCfg.Path)

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes(wsPath string) {
	if wsPath == "" {
		wsPath = "/ws"
	}

	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	v1.Use(r.authMiddleware.RequireAuth())
	{
		v1.GET("/sessions/:id", r.getSession)
	}

	// WebSocket路由，浏览器通过 ?token= 传递令牌
	r.engine.GET(wsPath, r.authMiddleware.RequireAuth(), r.wsHandler.GameWebSocket)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    errors.ErrNotFound,
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "unhealthy",
				"message": "数据库连接失败",
			})
			return
		}

		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "unhealthy",
				"message": "数据库ping失败",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"message":         "服务运行正常",
		"active_sessions": r.sessions.ActiveSessions(),
		"online_clients":  r.wsHandler.OnlineCount(),
	})
}

// getSession 读取会话公开快照（不含当前词）
func (r *Router) getSession(c *gin.Context) {
	snap, err := r.sessions.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func respondError(c *gin.Context, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrUnknown)
	}
	// 调用栈只写日志，不返回给客户端
	public := *appErr
	public.Stack = nil
	c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(&public, c.GetHeader("X-Request-ID")))
}

// requestLogger 访问日志
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}

// recovery 捕获 panic 并写入错误日志
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.LogPanic(rec, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    errors.ErrUnknown,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// Handler 返回 http.Handler，供 http.Server 使用
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
