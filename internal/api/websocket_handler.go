package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/word-duel/internal/config"
	"github.com/wfunc/word-duel/internal/middleware"
	ws "github.com/wfunc/word-duel/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub       *ws.Hub
	upgrader  *websocket.Upgrader
	clientCfg ws.ClientConfig
	logger    *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, cfg config.WebSocketConfig, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		upgrader:  ws.NewUpgrader(cfg),
		clientCfg: ws.ClientConfigFrom(cfg),
		logger:    logger,
	}
}

// GameWebSocket 游戏WebSocket连接，身份由认证中间件写入上下文
func (h *WebSocketHandler) GameWebSocket(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		// RequireAuth 之后不应出现
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	// 请求返回后连接仍然存活，不能继承请求的取消信号
	if err := ws.ServeWS(context.WithoutCancel(c.Request.Context()), h.hub, h.upgrader, h.clientCfg, c.Writer, c.Request, userID); err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("user_id", userID),
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		return
	}

	h.logger.Info("WebSocket连接建立",
		zap.String("user_id", userID),
		zap.String("ip", c.ClientIP()))
}

// OnlineCount 在线连接数
func (h *WebSocketHandler) OnlineCount() int {
	return h.hub.GetOnlineCount()
}
