package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/word-duel/internal/config"
	"github.com/wfunc/word-duel/internal/errors"
	"go.uber.org/zap"
)

// ClientConfig 连接参数
type ClientConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBufferSize int
}

// DefaultClientConfig 默认连接参数
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBufferSize: 256,
	}
}

// ClientConfigFrom 从配置文件生成连接参数，未设置的项取默认值
func ClientConfigFrom(cfg config.WebSocketConfig) ClientConfig {
	out := DefaultClientConfig()
	if cfg.WriteTimeout > 0 {
		out.WriteWait = cfg.WriteTimeout
	}
	if cfg.PongTimeout > 0 {
		out.PongWait = cfg.PongTimeout
	}
	if cfg.PingInterval > 0 && cfg.PingInterval < out.PongWait {
		out.PingPeriod = cfg.PingInterval
	} else {
		// ping发送周期必须小于pongWait
		out.PingPeriod = (out.PongWait * 9) / 10
	}
	if cfg.MaxMessageSize > 0 {
		out.MaxMessageSize = cfg.MaxMessageSize
	}
	if cfg.SendBufferSize > 0 {
		out.SendBufferSize = cfg.SendBufferSize
	}
	return out
}

// NewUpgrader 创建 WebSocket 升级器
func NewUpgrader(cfg config.WebSocketConfig) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.EnableCompression,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Client WebSocket客户端
type Client struct {
	ID     string // 客户端ID
	UserID string // 身份边界传入的用户ID

	hub  *Hub
	conn *websocket.Conn
	cfg  ClientConfig

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	sessionID string
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, userID string, cfg ClientConfig) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		hub:    hub,
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBufferSize),
	}
}

// ServeWS 升级连接并启动读写循环
func ServeWS(ctx context.Context, hub *Hub, upgrader *websocket.Upgrader, cfg ClientConfig, w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(hub, conn, userID, cfg)
	hub.Register(client)

	go client.WritePump()
	go client.ReadPump(ctx)
	return nil
}

// Session 当前关注的会话
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSession(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

// trySend 非阻塞写入发送队列
func (c *Client) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New(errors.ErrWebSocketClosed, c.ID)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New(errors.ErrWebSocketSend, "发送缓冲区已满")
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump 读取消息
func (c *Client) ReadPump(ctx context.Context) {
	// 连接由 WritePump 在发完剩余消息后关闭
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			return
		}

		if !c.handleMessage(ctx, message) {
			return
		}
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// Hub关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// 每条消息单独一帧，客户端按帧解析 JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息，返回 false 时断开连接
func (c *Client) handleMessage(ctx context.Context, data []byte) bool {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Warn("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		c.sendError("", "", errors.New(errors.ErrMessageFormat))
		return false
	}
	if msg.Type == "" {
		c.sendError("", msg.SessionID, errors.New(errors.ErrMessageFormat, "消息类型不能为空"))
		return false
	}

	if c.hub.handler == nil {
		c.sendError(msg.Type, msg.SessionID, errors.New(errors.ErrMessageFormat, "不支持的消息类型: "+msg.Type))
		return true
	}
	c.hub.handler.HandleClientMessage(ctx, c, &msg)
	return true
}

// sendError 发送错误消息
func (c *Client) sendError(request, sessionID string, err error) {
	data := errorData{Request: request, Code: errors.GetCode(err), Message: err.Error()}
	if appErr, ok := errors.As(err); ok {
		data.Message = appErr.Message
		data.Details = appErr.Details
	}
	c.SendMessage(MessageTypeError, sessionID, data)
}

// SendMessage 发送消息给客户端
func (c *Client) SendMessage(msgType, sessionID string, data interface{}) bool {
	msg, err := newMessage(msgType, sessionID, data)
	if err != nil {
		c.hub.logger.Error("序列化消息失败",
			zap.String("client_id", c.ID),
			zap.String("type", msgType),
			zap.Error(err))
		return false
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	if err := c.trySend(raw); err != nil {
		c.hub.logger.Warn("客户端消息未送达",
			zap.String("client_id", c.ID),
			zap.String("type", msgType),
			zap.Error(err))
		return false
	}
	return true
}
