package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/word-duel/internal/game"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心，同时作为会话事件的广播器
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 会话ID到订阅客户端的映射
	sessions map[string]map[string]*Client
	subMu    sync.RWMutex

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	handler *Handler
	logger  *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// 入站消息类型
const (
	MessageTypeCreateSession  = "create_session"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeJoinTeam       = "join_team"
	MessageTypeLeaveSession   = "leave_session"
	MessageTypeStartGame      = "start_game"
	MessageTypeSubmitGuess    = "submit_guess"
	MessageTypeProcessRevival = "process_revival"
	MessageTypeGetSnapshot    = "get_snapshot"
	MessageTypePing           = "ping"
)

// 出站消息类型
const (
	MessageTypeConnected = "connected"
	MessageTypeEvent     = "event"
	MessageTypeSnapshot  = "snapshot"
	MessageTypeAck       = "ack"
	MessageTypeError     = "error"
	MessageTypePong      = "pong"
)

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		sessions:   make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetHandler 设置入站消息处理器
func (h *Hub) SetHandler(handler *Handler) {
	h.handler = handler
}

// Run 运行Hub，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID))

	// 发送连接成功消息
	client.SendMessage(MessageTypeConnected, "", map[string]string{
		"client_id": client.ID,
		"user_id":   client.UserID,
	})
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	h.clientsMu.Unlock()

	h.unsubscribe(client)
	client.closeSend()

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID))
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.clientsMu.Unlock()

	h.subMu.Lock()
	h.sessions = make(map[string]map[string]*Client)
	h.subMu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}

// Subscribe 让客户端关注某个会话，一个客户端同时只关注一个会话
func (h *Hub) Subscribe(client *Client, sessionID string) {
	if client.Session() == sessionID {
		return
	}
	h.unsubscribe(client)

	h.subMu.Lock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[string]*Client)
		h.sessions[sessionID] = subs
	}
	subs[client.ID] = client
	h.subMu.Unlock()

	client.setSession(sessionID)
	h.logger.Debug("客户端订阅会话",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
}

func (h *Hub) unsubscribe(client *Client) {
	sessionID := client.Session()
	if sessionID == "" {
		return
	}
	h.subMu.Lock()
	if subs, ok := h.sessions[sessionID]; ok {
		delete(subs, client.ID)
		if len(subs) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.subMu.Unlock()
	client.setSession("")
}

// Publish 实现 game.Broadcaster。发送不阻塞，缓冲区满的客户端丢弃本条消息
func (h *Hub) Publish(ev game.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("序列化事件失败",
			zap.String("session_id", ev.SessionID),
			zap.String("event", string(ev.Kind)),
			zap.Error(err))
		return
	}
	msg, err := json.Marshal(&Message{
		Type:      MessageTypeEvent,
		SessionID: ev.SessionID,
		Data:      data,
		Timestamp: ev.OccurredAt.Unix(),
	})
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, client := range h.sessions[ev.SessionID] {
		if err := client.trySend(msg); err != nil {
			h.logger.Warn("会话事件未送达",
				zap.String("client_id", client.ID),
				zap.String("session_id", ev.SessionID),
				zap.Uint64("seq", ev.Seq),
				zap.Error(err))
		}
	}
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// SubscriberCount 会话的订阅客户端数
func (h *Hub) SubscriberCount(sessionID string) int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.sessions[sessionID])
}

// Register 注册客户端，Hub 已停止时直接关闭客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.closeSend()
	}
}

func newMessage(msgType, sessionID string, data interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: time.Now().Unix(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}
