package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wfunc/word-duel/internal/errors"
	"github.com/wfunc/word-duel/internal/game"
	"github.com/wfunc/word-duel/internal/logger"
	"go.uber.org/zap"
)

// SessionService 会话操作接口，由 game.Registry 实现
type SessionService interface {
	CreateSession(ctx context.Context, creatorID string, cfg game.SessionConfig) (*game.Snapshot, error)
	JoinTeam(ctx context.Context, sessionID, userID, teamID string) (*game.Snapshot, error)
	LeaveSession(ctx context.Context, sessionID, userID string) (*game.Snapshot, error)
	StartGame(ctx context.Context, sessionID, requesterID string) (*game.Snapshot, error)
	SubmitGuess(ctx context.Context, sessionID, userID, word string) (*game.Guess, error)
	ProcessRevival(ctx context.Context, sessionID, teamID string) (*game.Snapshot, error)
	GetSnapshot(ctx context.Context, sessionID string) (*game.Snapshot, error)
}

// Handler 入站消息处理器
type Handler struct {
	hub      *Hub
	sessions SessionService
	logger   *zap.Logger
}

// NewHandler 创建处理器并挂到 Hub 上
func NewHandler(hub *Hub, sessions SessionService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{hub: hub, sessions: sessions, logger: log}
	hub.SetHandler(h)
	return h
}

type errorData struct {
	Request string           `json:"request,omitempty"`
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details string           `json:"details,omitempty"`
}

type ackData struct {
	Request  string         `json:"request"`
	Snapshot *game.Snapshot `json:"snapshot,omitempty"`
	Guess    *game.Guess    `json:"guess,omitempty"`
}

type createSessionRequest struct {
	Language            string  `json:"language"`
	TurnTimeLimitSec    int     `json:"turn_time_limit_sec"`
	LivesPerPlayer      int     `json:"lives_per_player"`
	RoundsToWin         int     `json:"rounds_to_win"`
	TeamCount           int     `json:"team_count"`
	MaxTeamSize         int     `json:"max_team_size"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

func (r createSessionRequest) config() game.SessionConfig {
	return game.SessionConfig{
		Language:            r.Language,
		TurnTimeLimit:       time.Duration(r.TurnTimeLimitSec) * time.Second,
		LivesPerPlayer:      r.LivesPerPlayer,
		RoundsToWin:         r.RoundsToWin,
		TeamCount:           r.TeamCount,
		MaxTeamSize:         r.MaxTeamSize,
		SimilarityThreshold: r.SimilarityThreshold,
	}
}

type teamRequest struct {
	TeamID string `json:"team_id"`
}

type guessRequest struct {
	Word string `json:"word"`
}

// HandleClientMessage 处理客户端消息
func (h *Handler) HandleClientMessage(ctx context.Context, c *Client, msg *Message) {
	logger.LogWebSocketMessage("receive", msg.Type, msg.SessionID)

	if msg.Type == MessageTypePing {
		c.SendMessage(MessageTypePong, msg.SessionID, nil)
		return
	}

	var err error
	switch msg.Type {
	case MessageTypeCreateSession:
		err = h.handleCreateSession(ctx, c, msg)
	case MessageTypeSubscribe:
		err = h.handleSubscribe(ctx, c, msg)
	case MessageTypeJoinTeam:
		err = h.handleJoinTeam(ctx, c, msg)
	case MessageTypeLeaveSession:
		err = h.ackSnapshot(c, msg, func(sessionID string) (*game.Snapshot, error) {
			return h.sessions.LeaveSession(ctx, sessionID, c.UserID)
		})
	case MessageTypeStartGame:
		err = h.ackSnapshot(c, msg, func(sessionID string) (*game.Snapshot, error) {
			return h.sessions.StartGame(ctx, sessionID, c.UserID)
		})
	case MessageTypeSubmitGuess:
		err = h.handleSubmitGuess(ctx, c, msg)
	case MessageTypeProcessRevival:
		err = h.handleProcessRevival(ctx, c, msg)
	case MessageTypeGetSnapshot:
		err = h.handleGetSnapshot(ctx, c, msg)
	default:
		err = errors.New(errors.ErrMessageFormat, "不支持的消息类型: "+msg.Type)
	}

	if err != nil {
		h.logger.Debug("处理WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.String("user_id", c.UserID),
			zap.String("type", msg.Type),
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
		c.sendError(msg.Type, msg.SessionID, err)
	}
}

func (h *Handler) handleCreateSession(ctx context.Context, c *Client, msg *Message) error {
	var req createSessionRequest
	if err := decodeData(msg, &req); err != nil {
		return err
	}
	snap, err := h.sessions.CreateSession(ctx, c.UserID, req.config())
	if err != nil {
		return err
	}
	// 创建者自动关注新会话，后续事件按 seq 去重
	h.hub.Subscribe(c, snap.Session.ID)
	h.ack(c, snap.Session.ID, ackData{Request: msg.Type, Snapshot: snap})
	return nil
}

// handleSubscribe 先订阅再取快照，快照之后到达的事件 seq 更大
func (h *Handler) handleSubscribe(ctx context.Context, c *Client, msg *Message) error {
	if err := requireSession(msg); err != nil {
		return err
	}
	prev := c.Session()
	h.hub.Subscribe(c, msg.SessionID)
	snap, err := h.sessions.GetSnapshot(ctx, msg.SessionID)
	if err != nil {
		h.restoreSubscription(c, prev)
		return err
	}
	c.SendMessage(MessageTypeSnapshot, msg.SessionID, snap)
	logger.LogWebSocketMessage("send", MessageTypeSnapshot, msg.SessionID)
	return nil
}

func (h *Handler) handleJoinTeam(ctx context.Context, c *Client, msg *Message) error {
	if err := requireSession(msg); err != nil {
		return err
	}
	var req teamRequest
	if err := decodeData(msg, &req); err != nil {
		return err
	}
	prev := c.Session()
	h.hub.Subscribe(c, msg.SessionID)
	snap, err := h.sessions.JoinTeam(ctx, msg.SessionID, c.UserID, req.TeamID)
	if err != nil {
		h.restoreSubscription(c, prev)
		return err
	}
	h.ack(c, msg.SessionID, ackData{Request: msg.Type, Snapshot: snap})
	return nil
}

func (h *Handler) handleSubmitGuess(ctx context.Context, c *Client, msg *Message) error {
	if err := requireSession(msg); err != nil {
		return err
	}
	var req guessRequest
	if err := decodeData(msg, &req); err != nil {
		return err
	}
	g, err := h.sessions.SubmitGuess(ctx, msg.SessionID, c.UserID, req.Word)
	if err != nil {
		return err
	}
	h.ack(c, msg.SessionID, ackData{Request: msg.Type, Guess: g})
	return nil
}

func (h *Handler) handleProcessRevival(ctx context.Context, c *Client, msg *Message) error {
	var req teamRequest
	if err := decodeData(msg, &req); err != nil {
		return err
	}
	return h.ackSnapshot(c, msg, func(sessionID string) (*game.Snapshot, error) {
		snap, err := h.sessions.GetSnapshot(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := authorizeRevival(&snap.Session, c.UserID, req.TeamID); err != nil {
			return nil, err
		}
		return h.sessions.ProcessRevival(ctx, sessionID, req.TeamID)
	})
}

// authorizeRevival 只有该队仍在会话中的成员可以申请复活。队伍不存在时交给注册表报错
func authorizeRevival(s *game.Session, userID, teamID string) error {
	team, ok := s.Team(teamID)
	if !ok {
		return nil
	}
	for _, m := range team.Members {
		if m.UserID == userID && !m.Left {
			return nil
		}
	}
	if m, ok := s.Member(userID); ok && !m.Left {
		return errors.New(errors.ErrPermissionDenied, "只能为本队申请复活")
	}
	return errors.New(errors.ErrNotInSession, userID)
}

func (h *Handler) handleGetSnapshot(ctx context.Context, c *Client, msg *Message) error {
	if err := requireSession(msg); err != nil {
		return err
	}
	snap, err := h.sessions.GetSnapshot(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	c.SendMessage(MessageTypeSnapshot, msg.SessionID, snap)
	logger.LogWebSocketMessage("send", MessageTypeSnapshot, msg.SessionID)
	return nil
}

func (h *Handler) ackSnapshot(c *Client, msg *Message, fn func(sessionID string) (*game.Snapshot, error)) error {
	if err := requireSession(msg); err != nil {
		return err
	}
	snap, err := fn(msg.SessionID)
	if err != nil {
		return err
	}
	h.ack(c, msg.SessionID, ackData{Request: msg.Type, Snapshot: snap})
	return nil
}

// restoreSubscription 操作失败时恢复到之前关注的会话
func (h *Handler) restoreSubscription(c *Client, prev string) {
	if prev == "" {
		h.hub.unsubscribe(c)
		return
	}
	h.hub.Subscribe(c, prev)
}

func (h *Handler) ack(c *Client, sessionID string, data ackData) {
	c.SendMessage(MessageTypeAck, sessionID, data)
	logger.LogWebSocketMessage("send", MessageTypeAck, sessionID)
}

func requireSession(msg *Message) error {
	if msg.SessionID == "" {
		return errors.New(errors.ErrInvalidParam, "session_id 不能为空")
	}
	return nil
}

func decodeData(msg *Message, v interface{}) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat, "data 字段格式错误")
	}
	return nil
}
