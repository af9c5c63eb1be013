package game

import (
	"time"
)

// EventKind 事件类型
type EventKind string

const (
	EventSessionCreated       EventKind = "session_created"
	EventPlayerJoined         EventKind = "player_joined"
	EventPlayerLeft           EventKind = "player_left"
	EventGameStarted          EventKind = "game_started"
	EventWordGuessSubmitted   EventKind = "word_guess_submitted"
	EventTurnTimedOut         EventKind = "turn_timed_out"
	EventRoundCompleted       EventKind = "round_completed"
	EventTeamRevivalProcessed EventKind = "team_revival_processed"
	EventGameEnded            EventKind = "game_ended"
)

// Event 会话状态变化事件，Seq 在同一会话内单调递增
type Event struct {
	SessionID  string      `json:"session_id"`
	Seq        uint64      `json:"seq"`
	Kind       EventKind   `json:"kind"`
	Payload    interface{} `json:"payload"`
	State      Session     `json:"state"` // 已隐藏当前词
	OccurredAt time.Time   `json:"occurred_at"`
}

// Broadcaster 事件分发接口，由实时通道实现
type Broadcaster interface {
	Publish(event Event)
}

// BroadcasterFunc 函数适配器
type BroadcasterFunc func(event Event)

// Publish 实现 Broadcaster
func (f BroadcasterFunc) Publish(event Event) {
	f(event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(Event) {}

// SessionCreatedPayload 会话创建
type SessionCreatedPayload struct {
	Config    SessionConfig `json:"config"`
	CreatedBy string        `json:"created_by"`
	TeamIDs   []string      `json:"team_ids"`
}

// PlayerJoinedPayload 玩家加入
type PlayerJoinedPayload struct {
	UserID   string `json:"user_id"`
	TeamID   string `json:"team_id"`
	Rejoined bool   `json:"rejoined"`
}

// PlayerLeftPayload 玩家离开
type PlayerLeftPayload struct {
	UserID  string `json:"user_id"`
	TeamID  string `json:"team_id"`
	WasTurn bool   `json:"was_turn"`
}

// GameStartedPayload 对局开始
type GameStartedPayload struct {
	Round             int       `json:"round"`
	FirstTurnPlayerID string    `json:"first_turn_player_id"`
	TurnDeadline      time.Time `json:"turn_deadline"`
}

// WordGuessSubmittedPayload 猜词结果
type WordGuessSubmittedPayload struct {
	Guess             Guess `json:"guess"`
	MistakesRemaining int   `json:"mistakes_remaining"`
}

// TurnTimedOutPayload 回合超时
type TurnTimedOutPayload struct {
	UserID            string `json:"user_id"`
	TeamID            string `json:"team_id"`
	Round             int    `json:"round"`
	MistakesRemaining int    `json:"mistakes_remaining"`
}

// RoundCompletedPayload 回合结束
type RoundCompletedPayload struct {
	Result  RoundResult `json:"result"`
	Guesses []Guess     `json:"guesses"`
}

// TeamRevivalProcessedPayload 队伍复活
type TeamRevivalProcessedPayload struct {
	TeamID  string   `json:"team_id"`
	Lives   int      `json:"lives"`
	Revived []string `json:"revived"`
}

// GameEndedPayload 对局结束
type GameEndedPayload struct {
	Status        SessionStatus `json:"status"`
	WinningTeamID *string       `json:"winning_team_id"`
	Reason        string        `json:"reason"`
}
