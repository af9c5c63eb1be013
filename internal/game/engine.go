package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/word-duel/internal/errors"
	"go.uber.org/zap"
)

var teamPalette = []string{"#E74C3C", "#3498DB", "#2ECC71", "#F39C12", "#9B59B6", "#1ABC9C"}

// GuessRequest 一次待评分的猜词，由 BeginGuess 生成，评分完成后交给 CompleteGuess
type GuessRequest struct {
	TicketID  string    `json:"ticket_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Round     int       `json:"round"`
	Target    string    `json:"-"`
	Guess     string    `json:"guess"`
	Language  string    `json:"language"`
	Deadline  time.Time `json:"deadline"`
}

// guessTicket 当前回合正在评分的猜词
type guessTicket struct {
	id       string
	round    int
	userID   string
	deadline time.Time
	word     string
}

// Engine 单个会话的状态机。自身不加锁，调用方（Registry）负责同一会话的串行访问
type Engine struct {
	session  Session
	seq      uint64
	pending  []Event
	inflight *guessTicket

	words  WordSource
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithClock 注入时钟
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger 注入日志器
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIDGenerator 注入ID生成器
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

func newEngine(words WordSource, opts []EngineOption) *Engine {
	e := &Engine{
		words:  words,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngine 创建处于组队状态的新会话
func NewEngine(sessionID, creatorID string, cfg SessionConfig, words WordSource, opts ...EngineOption) (*Engine, error) {
	if sessionID == "" {
		return nil, errors.New(errors.ErrInvalidParam, "会话ID不能为空")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if words == nil || !words.Supports(cfg.Language) {
		return nil, errors.Newf(errors.ErrInvalidConfig, "语言 %s 没有词库", cfg.Language)
	}

	e := newEngine(words, opts)
	now := e.now()

	teams := make([]Team, cfg.TeamCount)
	teamIDs := make([]string, cfg.TeamCount)
	for i := range teams {
		teams[i] = Team{
			ID:      fmt.Sprintf("team-%d", i+1),
			Name:    fmt.Sprintf("Team %d", i+1),
			Color:   teamPalette[i%len(teamPalette)],
			Members: []Member{},
			Cursor:  -1,
		}
		teamIDs[i] = teams[i].ID
	}

	e.session = Session{
		ID:           sessionID,
		Config:       cfg,
		Status:       StatusForming,
		CurrentRound: 1,
		Teams:        teams,
		History:      []RoundResult{},
		Guesses:      []Guess{},
		LastTurnTeam: cfg.TeamCount - 1,
		CreatedBy:    creatorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	e.emit(EventSessionCreated, SessionCreatedPayload{
		Config:    cfg,
		CreatedBy: creatorID,
		TeamIDs:   teamIDs,
	})

	return e, nil
}

// RestoreEngine 从快照重建引擎，序号从快照继续
func RestoreEngine(snap *Snapshot, words WordSource, opts ...EngineOption) (*Engine, error) {
	if snap == nil {
		return nil, errors.New(errors.ErrSnapshotCorrupt, "快照为空")
	}
	if err := snap.validate(); err != nil {
		return nil, err
	}
	e := newEngine(words, opts)
	e.session = snap.Session.Clone()
	e.seq = snap.Seq
	return e, nil
}

// ID 会话ID
func (e *Engine) ID() string {
	return e.session.ID
}

// Status 会话状态
func (e *Engine) Status() SessionStatus {
	return e.session.Status
}

// Snapshot 当前完整快照（包含当前词）
func (e *Engine) Snapshot() *Snapshot {
	return &Snapshot{
		Version: snapshotVersion,
		Seq:     e.seq,
		Session: e.session.Clone(),
		SavedAt: e.now(),
	}
}

// DrainEvents 取出自上次调用以来产生的事件，事件携带本次操作完成后的公开状态
func (e *Engine) DrainEvents() []Event {
	events := e.pending
	e.pending = nil
	if len(events) == 0 {
		return nil
	}
	state := e.publicState()
	for i := range events {
		events[i].State = state
	}
	return events
}

func (e *Engine) publicState() Session {
	state := e.session.Clone()
	state.CurrentWord = ""
	state.UsedWords = nil
	return state
}

// ClockDeadline 计时器应当等待的截止时间
func (e *Engine) ClockDeadline() (time.Time, bool) {
	s := &e.session
	if s.Status != StatusActive || s.TurnDeadline.IsZero() {
		return time.Time{}, false
	}
	return s.TurnDeadline, true
}

// JoinTeam 加入队伍，只允许在组队阶段或回合间歇进行
func (e *Engine) JoinTeam(userID, teamID string) error {
	s := &e.session
	if userID == "" {
		return errors.New(errors.ErrInvalidParam, "用户ID不能为空")
	}
	if s.Status.Terminal() {
		return errors.New(errors.ErrSessionTerminal, string(s.Status))
	}
	if s.Status == StatusActive && s.Phase != PhaseIntermission {
		return errors.New(errors.ErrRoundInProgress)
	}

	ti := s.teamIndex(teamID)
	if ti < 0 {
		return errors.New(errors.ErrTeamNotFound, teamID)
	}

	if cti, cmi, ok := s.findMember(userID); ok {
		m := &s.Teams[cti].Members[cmi]
		if cti != ti || !m.Left {
			return errors.Newf(errors.ErrAlreadyInSession, "用户 %s 已在 %s", userID, s.Teams[cti].ID)
		}
		if e.teamFull(ti) {
			return errors.New(errors.ErrTeamFull, teamID)
		}
		// 离开后重新回到原队伍，保留剩余生命
		m.Left = false
		m.Active = m.MistakesRemaining > 0
		e.emit(EventPlayerJoined, PlayerJoinedPayload{UserID: userID, TeamID: teamID, Rejoined: true})
		e.resumeIfPossible()
		return nil
	}

	if e.teamFull(ti) {
		return errors.New(errors.ErrTeamFull, teamID)
	}

	team := &s.Teams[ti]
	team.Members = append(team.Members, Member{
		UserID:            userID,
		MistakesRemaining: s.Config.LivesPerPlayer,
		Active:            true,
		JoinOrder:         s.NextJoinOrder,
		JoinedAt:          e.now(),
	})
	s.NextJoinOrder++

	e.emit(EventPlayerJoined, PlayerJoinedPayload{UserID: userID, TeamID: teamID})
	e.resumeIfPossible()
	return nil
}

func (e *Engine) teamFull(ti int) bool {
	limit := e.session.Config.MaxTeamSize
	return limit > 0 && e.session.Teams[ti].PresentCount() >= limit
}

// LeaveSession 离开会话；轮到自己时立即移交回合
func (e *Engine) LeaveSession(userID string) error {
	s := &e.session
	if s.Status.Terminal() {
		return errors.New(errors.ErrSessionTerminal, string(s.Status))
	}

	ti, mi, ok := s.findMember(userID)
	if !ok || s.Teams[ti].Members[mi].Left {
		return errors.New(errors.ErrNotInSession, userID)
	}
	team := &s.Teams[ti]

	if s.Status == StatusForming {
		// 组队阶段直接让出位置
		team.Members = append(team.Members[:mi], team.Members[mi+1:]...)
		e.emit(EventPlayerLeft, PlayerLeftPayload{UserID: userID, TeamID: team.ID})
		if s.presentMembers() == 0 {
			e.abandon("所有玩家已离开")
		}
		return nil
	}

	wasTurn := s.Phase == PhasePlaying && s.CurrentTurnPlayerID == userID
	m := &team.Members[mi]
	m.Left = true
	m.Active = false

	e.emit(EventPlayerLeft, PlayerLeftPayload{UserID: userID, TeamID: team.ID, WasTurn: wasTurn})

	if s.presentMembers() == 0 {
		e.abandon("所有玩家已离开")
		return nil
	}
	if wasTurn {
		e.inflight = nil
		e.passTurn(ti)
	}
	return nil
}

// StartGame 开始对局，要求每支队伍至少有一名活跃成员
func (e *Engine) StartGame(ctx context.Context, requesterID string) error {
	s := &e.session
	if s.Status.Terminal() {
		return errors.New(errors.ErrSessionTerminal, string(s.Status))
	}
	if s.Status == StatusActive {
		return errors.New(errors.ErrInvalidState, "对局已开始")
	}
	if m, ok := s.Member(requesterID); !ok || m.Left {
		return errors.New(errors.ErrNotInSession, requesterID)
	}
	for i := range s.Teams {
		if s.Teams[i].ActiveCount() == 0 {
			return errors.Newf(errors.ErrNotEnoughPlayers, "%s 没有成员", s.Teams[i].ID)
		}
	}

	word, err := e.words.NextWord(ctx, s.Config.Language, s.UsedWords)
	if err != nil {
		return err
	}

	ref, _ := firstTurn(s)
	s.Status = StatusActive
	s.CurrentWord = word
	s.UsedWords = append(s.UsedWords, word)
	e.setTurn(ref)

	e.emit(EventGameStarted, GameStartedPayload{
		Round:             s.CurrentRound,
		FirstTurnPlayerID: s.CurrentTurnPlayerID,
		TurnDeadline:      s.TurnDeadline,
	})
	return nil
}

// BeginGuess 校验猜词并登记为当前回合的评分中请求
func (e *Engine) BeginGuess(userID, word string) (*GuessRequest, error) {
	s := &e.session
	if s.Status.Terminal() {
		return nil, errors.New(errors.ErrSessionTerminal, string(s.Status))
	}
	if s.Status != StatusActive || s.Phase != PhasePlaying || s.CurrentTurnPlayerID != userID {
		return nil, errors.New(errors.ErrNotYourTurn)
	}
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, errors.New(errors.ErrInvalidParam, "猜词不能为空")
	}
	if !e.now().Before(s.TurnDeadline) {
		return nil, errors.New(errors.ErrStaleTurn, "回合已超时")
	}
	if e.inflight != nil {
		return nil, errors.New(errors.ErrGuessInProgress)
	}

	t := &guessTicket{
		id:       e.newID(),
		round:    s.CurrentRound,
		userID:   userID,
		deadline: s.TurnDeadline,
		word:     word,
	}
	e.inflight = t

	return &GuessRequest{
		TicketID:  t.id,
		SessionID: s.ID,
		UserID:    userID,
		Round:     t.round,
		Target:    s.CurrentWord,
		Guess:     word,
		Language:  s.Config.Language,
		Deadline:  t.deadline,
	}, nil
}

// CompleteGuess 记录评分结果。回合在评分期间已变化或已超时则返回 ErrStaleTurn 且不修改状态
func (e *Engine) CompleteGuess(ticketID string, result ScoreResult) (*Guess, error) {
	s := &e.session
	t := e.inflight
	if t == nil || t.id != ticketID {
		return nil, errors.New(errors.ErrStaleTurn)
	}
	e.inflight = nil

	if s.Status != StatusActive || s.Phase != PhasePlaying || s.CurrentRound != t.round ||
		s.CurrentTurnPlayerID != t.userID || !s.TurnDeadline.Equal(t.deadline) {
		return nil, errors.New(errors.ErrStaleTurn)
	}
	now := e.now()
	if !now.Before(t.deadline) {
		return nil, errors.New(errors.ErrStaleTurn, "评分完成时回合已超时")
	}

	ti, mi, _ := s.findMember(t.userID)
	team := &s.Teams[ti]
	m := &team.Members[mi]

	g := Guess{
		ID:          e.newID(),
		Word:        t.word,
		UserID:      t.userID,
		TeamID:      team.ID,
		Round:       t.round,
		SubmittedAt: now,
		IsCorrect:   result.Score >= s.Config.SimilarityThreshold,
		Score:       result.Score,
		Fallback:    result.Fallback,
	}
	if result.OracleScore != nil {
		v := *result.OracleScore
		g.OracleScore = &v
	}
	if !g.IsCorrect {
		g.RejectionReason = ReasonBelowThreshold
		e.loseLife(m)
	}
	s.Guesses = append(s.Guesses, g)

	e.emit(EventWordGuessSubmitted, WordGuessSubmittedPayload{Guess: g, MistakesRemaining: m.MistakesRemaining})

	if g.IsCorrect {
		team.RoundsWon++
		winner := team.ID
		e.closeRound(&winner, "猜中目标词")
	} else {
		e.passTurn(ti)
	}

	out := g
	return &out, nil
}

// TurnTimeout 计时器到期。截止时间与当前不符（过期的计时器）时忽略并返回 false
func (e *Engine) TurnTimeout(deadline time.Time) bool {
	s := &e.session
	if s.Status != StatusActive || s.TurnDeadline.IsZero() || !s.TurnDeadline.Equal(deadline) {
		return false
	}

	switch s.Phase {
	case PhaseIntermission:
		e.complete(nil, "复活等待超时")
		return true
	case PhasePlaying:
		e.inflight = nil
		ti, mi, ok := s.findMember(s.CurrentTurnPlayerID)
		if !ok {
			return false
		}
		team := &s.Teams[ti]
		m := &team.Members[mi]
		e.loseLife(m)

		e.emit(EventTurnTimedOut, TurnTimedOutPayload{
			UserID:            m.UserID,
			TeamID:            team.ID,
			Round:             s.CurrentRound,
			MistakesRemaining: m.MistakesRemaining,
		})
		e.passTurn(ti)
		return true
	default:
		return false
	}
}

// ProcessRevival 复活整支被淘汰的队伍，每场比赛每队一次
func (e *Engine) ProcessRevival(teamID string) error {
	s := &e.session
	if s.Status.Terminal() {
		return errors.New(errors.ErrSessionTerminal, string(s.Status))
	}
	if s.Status != StatusActive {
		return errors.New(errors.ErrInvalidState, "对局未开始")
	}
	ti := s.teamIndex(teamID)
	if ti < 0 {
		return errors.New(errors.ErrTeamNotFound, teamID)
	}
	team := &s.Teams[ti]
	if team.RevivalUsed {
		return errors.New(errors.ErrRevivalAlreadyUsed, teamID)
	}
	if !team.Eliminated() {
		return errors.New(errors.ErrTeamNotEliminated, teamID)
	}
	if team.PresentCount() == 0 {
		return errors.New(errors.ErrTeamEmpty, teamID)
	}

	revived := make([]string, 0, len(team.Members))
	for i := range team.Members {
		m := &team.Members[i]
		if m.Left {
			continue
		}
		m.MistakesRemaining = s.Config.LivesPerPlayer
		m.Active = true
		revived = append(revived, m.UserID)
	}
	team.RevivalUsed = true

	e.emit(EventTeamRevivalProcessed, TeamRevivalProcessedPayload{
		TeamID:  team.ID,
		Lives:   s.Config.LivesPerPlayer,
		Revived: revived,
	})
	e.resumeIfPossible()
	return nil
}

// ForceEnd 运营强制结束
func (e *Engine) ForceEnd(reason string) error {
	if e.session.Status.Terminal() {
		return errors.New(errors.ErrSessionTerminal, string(e.session.Status))
	}
	if reason == "" {
		reason = "强制结束"
	}
	e.abandon(reason)
	return nil
}

func (e *Engine) loseLife(m *Member) {
	if m.MistakesRemaining > 0 {
		m.MistakesRemaining--
	}
	if m.MistakesRemaining == 0 {
		m.Active = false
	}
}

// setTurn 把回合交给指定成员并重置截止时间
func (e *Engine) setTurn(ref turnRef) {
	s := &e.session
	team := &s.Teams[ref.team]
	m := &team.Members[ref.member]
	now := e.now()

	s.Phase = PhasePlaying
	s.CurrentTurnPlayerID = m.UserID
	team.Cursor = m.JoinOrder
	s.LastTurnTeam = ref.team
	s.TurnStartedAt = now
	s.TurnDeadline = now.Add(s.Config.TurnTimeLimit)
	e.inflight = nil
}

// passTurn 出题人失去回合后轮转；没有任何活跃成员时本回合无人胜出
func (e *Engine) passTurn(fromTeam int) {
	if ref, ok := nextTurn(&e.session, fromTeam); ok {
		e.setTurn(ref)
		return
	}
	e.closeRound(nil, "所有队伍均被淘汰")
}

// resumeIfPossible 间歇阶段出现活跃成员后恢复对局
func (e *Engine) resumeIfPossible() {
	s := &e.session
	if s.Status != StatusActive || s.Phase != PhaseIntermission || s.activeMembers() == 0 {
		return
	}
	if ref, ok := nextTurn(s, s.LastTurnTeam); ok {
		e.setTurn(ref)
		e.logger.Info("回合间歇结束，恢复对局",
			zap.String("session_id", s.ID),
			zap.String("turn_player_id", s.CurrentTurnPlayerID))
	}
}

// closeRound 结束当前回合。winner 为空表示无人胜出
func (e *Engine) closeRound(winner *string, note string) {
	s := &e.session
	now := e.now()
	e.recordRound(winner, note)

	if winner != nil {
		if team, ok := s.Team(*winner); ok && team.RoundsWon >= s.Config.RoundsToWin {
			e.complete(winner, "达到获胜回合数")
			return
		}
	} else if !e.anyRevivable() {
		e.complete(nil, "所有队伍均被淘汰且无法复活")
		return
	}

	s.CurrentRound++
	e.nextWord()

	if winner != nil {
		if ref, ok := nextTurn(s, s.teamIndex(*winner)); ok {
			e.setTurn(ref)
			return
		}
	}

	// 无人胜出，等待复活或新成员加入
	s.Phase = PhaseIntermission
	s.CurrentTurnPlayerID = ""
	s.TurnStartedAt = now
	s.TurnDeadline = now.Add(s.Config.TurnTimeLimit)
}

// recordRound 写入当前回合结果并发出回合结束事件
func (e *Engine) recordRound(winner *string, note string) {
	s := &e.session
	result := RoundResult{
		Round:       s.CurrentRound,
		Word:        s.CurrentWord,
		CompletedAt: e.now(),
		Note:        note,
	}
	if winner != nil {
		id := *winner
		result.WinningTeamID = &id
	}
	s.History = append(s.History, result)
	guesses := s.Guesses
	s.Guesses = []Guess{}
	e.inflight = nil

	e.emit(EventRoundCompleted, RoundCompletedPayload{Result: result, Guesses: guesses})
}

func (e *Engine) anyRevivable() bool {
	for i := range e.session.Teams {
		if e.session.Teams[i].canRevive() {
			return true
		}
	}
	return false
}

func (e *Engine) nextWord() {
	s := &e.session
	word, err := e.words.NextWord(context.Background(), s.Config.Language, s.UsedWords)
	if err != nil {
		// 词库不可用时沿用当前词
		e.logger.Warn("获取新词失败，沿用当前词",
			zap.String("session_id", s.ID),
			zap.Error(err))
		return
	}
	s.CurrentWord = word
	s.UsedWords = append(s.UsedWords, word)
}

func (e *Engine) clearTurn() {
	s := &e.session
	s.Phase = PhaseNone
	s.CurrentTurnPlayerID = ""
	s.TurnDeadline = time.Time{}
	e.inflight = nil
}

func (e *Engine) complete(winner *string, reason string) {
	s := &e.session
	e.closeIntermission(reason)
	e.clearTurn()
	s.Status = StatusCompleted
	s.EndReason = reason
	if winner != nil {
		id := *winner
		s.WinningTeamID = &id
	}
	e.emit(EventGameEnded, GameEndedPayload{Status: s.Status, WinningTeamID: s.WinningTeamID, Reason: reason})
}

func (e *Engine) abandon(reason string) {
	s := &e.session
	e.closeIntermission(reason)
	e.clearTurn()
	s.Status = StatusAbandoned
	s.EndReason = reason
	e.emit(EventGameEnded, GameEndedPayload{Status: s.Status, Reason: reason})
}

// closeIntermission 间歇阶段已进入下一回合，结束对局前补记该回合无人胜出
func (e *Engine) closeIntermission(reason string) {
	if e.session.Status == StatusActive && e.session.Phase == PhaseIntermission {
		e.recordRound(nil, reason)
	}
}

// emit 记录一次已提交的状态变化
func (e *Engine) emit(kind EventKind, payload interface{}) {
	s := &e.session
	now := e.now()
	s.UpdatedAt = now
	e.seq++

	e.pending = append(e.pending, Event{
		SessionID:  s.ID,
		Seq:        e.seq,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: now,
	})

	e.logger.Info("会话状态变更",
		zap.String("session_id", s.ID),
		zap.String("event", string(kind)),
		zap.Uint64("seq", e.seq),
		zap.Int("round", s.CurrentRound),
		zap.String("status", string(s.Status)))
}
