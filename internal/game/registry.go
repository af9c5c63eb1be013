package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/word-duel/internal/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/wfunc/word-duel/internal/game"

// RegistryConfig 注册表配置
type RegistryConfig struct {
	Defaults     SessionConfig
	SnapshotTTL  time.Duration
	WriteTimeout time.Duration
	IdleGrace    time.Duration
	MaxSessions  int
}

// Registry 进程内会话注册表。同一会话的操作通过会话锁串行执行，不同会话互不影响
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
	group    singleflight.Group
	closed   bool

	store       SnapshotStore
	broadcaster Broadcaster
	scorer      *Scorer
	words       WordSource
	recovery    *RecoveryManager

	cfg    RegistryConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// liveSession 内存中的会话
type liveSession struct {
	mu           sync.Mutex
	engine       *Engine
	clock        *TurnClock
	lastActivity time.Time
	retired      bool
}

// RegistryOption 注册表选项
type RegistryOption func(*Registry)

// WithRegistryLogger 注入日志器
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryClock 注入时钟（引擎与计时器共用）
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTracer 注入链路追踪器
func WithTracer(tracer trace.Tracer) RegistryOption {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithSessionIDGenerator 注入会话ID生成器
func WithSessionIDGenerator(newID func() string) RegistryOption {
	return func(r *Registry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// NewRegistry 创建会话注册表
func NewRegistry(cfg RegistryConfig, store SnapshotStore, words WordSource, scorer *Scorer, broadcaster Broadcaster, opts ...RegistryOption) *Registry {
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	if scorer == nil {
		scorer = NewScorer(nil, 0, 0, nil)
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 24 * time.Hour
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}

	r := &Registry{
		sessions:    make(map[string]*liveSession),
		store:       store,
		broadcaster: broadcaster,
		scorer:      scorer,
		words:       words,
		cfg:         cfg,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.recovery = NewRecoveryManager(r.logger, store, words)
	return r
}

func (r *Registry) engineOptions() []EngineOption {
	return []EngineOption{WithClock(r.now), WithLogger(r.logger)}
}

func (r *Registry) newLive(e *Engine) *liveSession {
	id := e.ID()
	ls := &liveSession{engine: e, lastActivity: r.now()}
	ls.clock = NewTurnClock(func(deadline time.Time) {
		r.handleTurnTimeout(id, deadline)
	}, r.now)
	return ls
}

func (r *Registry) startSpan(ctx context.Context, op, sessionID string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "registry."+op, trace.WithAttributes(attribute.String("session.id", sessionID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateSession 创建新会话，未填写的配置项取默认值
func (r *Registry) CreateSession(ctx context.Context, creatorID string, cfg SessionConfig) (snap *Snapshot, err error) {
	id := r.newID()
	ctx, span := r.startSpan(ctx, "create_session", id)
	defer func() { endSpan(span, err) }()

	if creatorID == "" {
		return nil, errors.New(errors.ErrInvalidParam, "创建者不能为空")
	}

	engine, err := NewEngine(id, creatorID, cfg.WithDefaults(r.cfg.Defaults), r.words, r.engineOptions()...)
	if err != nil {
		return nil, err
	}

	// 入表前先持有会话锁，保证创建事件先于任何操作发布
	ls := r.newLive(engine)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New(errors.ErrInvalidState, "注册表已关闭")
	}
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, errors.Newf(errors.ErrCapacityExceeded, "最多 %d 个会话", r.cfg.MaxSessions)
	}
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, errors.New(errors.ErrAlreadyExists, id)
	}
	r.sessions[id] = ls
	r.mu.Unlock()

	r.commit(ctx, ls)

	r.logger.Info("创建会话",
		zap.String("session_id", id),
		zap.String("creator_id", creatorID),
		zap.String("language", engine.session.Config.Language))
	return engine.Snapshot().Public(), nil
}

// JoinTeam 加入队伍
func (r *Registry) JoinTeam(ctx context.Context, sessionID, userID, teamID string) (*Snapshot, error) {
	return r.mutate(ctx, "join_team", sessionID, func(e *Engine) error {
		return e.JoinTeam(userID, teamID)
	})
}

// LeaveSession 离开会话
func (r *Registry) LeaveSession(ctx context.Context, sessionID, userID string) (*Snapshot, error) {
	return r.mutate(ctx, "leave_session", sessionID, func(e *Engine) error {
		return e.LeaveSession(userID)
	})
}

// StartGame 开始对局
func (r *Registry) StartGame(ctx context.Context, sessionID, requesterID string) (*Snapshot, error) {
	return r.mutate(ctx, "start_game", sessionID, func(e *Engine) error {
		return e.StartGame(ctx, requesterID)
	})
}

// ProcessRevival 复活队伍
func (r *Registry) ProcessRevival(ctx context.Context, sessionID, teamID string) (*Snapshot, error) {
	return r.mutate(ctx, "process_revival", sessionID, func(e *Engine) error {
		return e.ProcessRevival(teamID)
	})
}

// ForceEnd 强制结束会话
func (r *Registry) ForceEnd(ctx context.Context, sessionID, reason string) (*Snapshot, error) {
	return r.mutate(ctx, "force_end", sessionID, func(e *Engine) error {
		return e.ForceEnd(reason)
	})
}

// SubmitGuess 提交猜词。评分在会话锁之外进行，期间其他操作不受阻塞
func (r *Registry) SubmitGuess(ctx context.Context, sessionID, userID, word string) (*Guess, error) {
	var req *GuessRequest
	err := r.withSession(ctx, "begin_guess", sessionID, func(e *Engine) error {
		var err error
		req, err = e.BeginGuess(userID, word)
		return err
	})
	if err != nil {
		return nil, err
	}

	scoreCtx, span := r.startSpan(ctx, "score_guess", sessionID)
	result := r.scorer.Score(scoreCtx, req)
	span.SetAttributes(
		attribute.Float64("guess.score", result.Score),
		attribute.Bool("guess.fallback", result.Fallback))
	span.End()

	var guess *Guess
	err = r.withSession(ctx, "complete_guess", sessionID, func(e *Engine) error {
		var err error
		guess, err = e.CompleteGuess(req.TicketID, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return guess, nil
}

// GetSnapshot 读取会话的公开快照
func (r *Registry) GetSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	var snap *Snapshot
	err := r.withSession(ctx, "get_snapshot", sessionID, func(e *Engine) error {
		snap = e.Snapshot().Public()
		return nil
	})
	return snap, err
}

func (r *Registry) mutate(ctx context.Context, op, sessionID string, fn func(*Engine) error) (*Snapshot, error) {
	var snap *Snapshot
	err := r.withSession(ctx, op, sessionID, func(e *Engine) error {
		if err := fn(e); err != nil {
			return err
		}
		snap = e.Snapshot().Public()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// withSession 在会话锁内执行操作，成功的状态变更会写入存储、同步计时器并发布事件
func (r *Registry) withSession(ctx context.Context, op, sessionID string, fn func(*Engine) error) (err error) {
	ctx, span := r.startSpan(ctx, op, sessionID)
	defer func() { endSpan(span, err) }()

	for {
		ls, err := r.lookup(ctx, sessionID)
		if err != nil {
			return err
		}

		ls.mu.Lock()
		if ls.retired {
			// 已被清理，重新查找或恢复
			ls.mu.Unlock()
			continue
		}
		err = fn(ls.engine)
		r.commit(ctx, ls)
		ls.mu.Unlock()
		return err
	}
}

// commit 处理引擎产生的事件，调用方持有会话锁
func (r *Registry) commit(ctx context.Context, ls *liveSession) {
	ls.lastActivity = r.now()
	events := ls.engine.DrainEvents()
	if len(events) == 0 {
		return
	}

	r.persist(ctx, ls.engine)
	r.syncClock(ls)
	for _, ev := range events {
		r.broadcaster.Publish(ev)
	}
}

// persist 写入快照。失败只记录日志，内存状态仍然有效
func (r *Registry) persist(ctx context.Context, e *Engine) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()

	snap := e.Snapshot()
	if err := r.store.SaveSnapshot(ctx, e.ID(), snap, r.cfg.SnapshotTTL); err != nil {
		r.logger.Error("保存会话快照失败",
			zap.String("session_id", e.ID()),
			zap.Uint64("seq", snap.Seq),
			zap.Error(err))
	}
}

func (r *Registry) syncClock(ls *liveSession) {
	if deadline, ok := ls.engine.ClockDeadline(); ok {
		ls.clock.Arm(deadline)
		return
	}
	ls.clock.Stop()
}

// lookup 查找内存中的会话，不存在时从存储恢复；同一会话的并发恢复只执行一次
func (r *Registry) lookup(ctx context.Context, sessionID string) (*liveSession, error) {
	r.mu.RLock()
	ls, ok := r.sessions[sessionID]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return ls, nil
	}
	if closed {
		return nil, errors.New(errors.ErrInvalidState, "注册表已关闭")
	}
	if r.store == nil {
		return nil, errors.New(errors.ErrSessionNotFound, sessionID)
	}

	v, err, _ := r.group.Do(sessionID, func() (interface{}, error) {
		return r.hydrate(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*liveSession), nil
}

func (r *Registry) hydrate(ctx context.Context, sessionID string) (*liveSession, error) {
	r.mu.RLock()
	if ls, ok := r.sessions[sessionID]; ok {
		r.mu.RUnlock()
		return ls, nil
	}
	r.mu.RUnlock()

	rec, err := r.recovery.RecoverSession(ctx, sessionID, r.engineOptions()...)
	if err != nil {
		return nil, err
	}
	ls := r.newLive(rec.Engine)

	ls.mu.Lock()
	defer ls.mu.Unlock()

	r.mu.Lock()
	if existing, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, errors.Newf(errors.ErrCapacityExceeded, "最多 %d 个会话", r.cfg.MaxSessions)
	}
	r.sessions[sessionID] = ls
	r.mu.Unlock()

	if rec.ReArm {
		r.syncClock(ls)
	}
	return ls, nil
}

// handleTurnTimeout 计时器回调，只处理仍在内存中的会话
func (r *Registry) handleTurnTimeout(sessionID string, deadline time.Time) {
	r.mu.RLock()
	ls, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	ctx, span := r.startSpan(context.Background(), "turn_timeout", sessionID)
	defer span.End()

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.retired {
		return
	}
	if !ls.engine.TurnTimeout(deadline) {
		r.logger.Debug("忽略过期的回合计时",
			zap.String("session_id", sessionID),
			zap.Time("deadline", deadline))
		return
	}
	r.commit(ctx, ls)
}

// CleanupIdle 移除已结束且空闲超过宽限期的会话，存储中保留最终快照
func (r *Registry) CleanupIdle(ctx context.Context) int {
	r.mu.RLock()
	candidates := make(map[string]*liveSession, len(r.sessions))
	for id, ls := range r.sessions {
		candidates[id] = ls
	}
	r.mu.RUnlock()

	now := r.now()
	removed := 0
	for id, ls := range candidates {
		ls.mu.Lock()
		idle := now.Sub(ls.lastActivity)
		if ls.retired || !ls.engine.Status().Terminal() || idle < r.cfg.IdleGrace {
			ls.mu.Unlock()
			continue
		}

		ls.retired = true
		ls.clock.Stop()
		r.mu.Lock()
		if r.sessions[id] == ls {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		ls.mu.Unlock()

		removed++
		r.logger.Info("清理已结束会话",
			zap.String("session_id", id),
			zap.Duration("idle", idle))
	}
	return removed
}

// StartCleanupTask 启动清理任务
func (r *Registry) StartCleanupTask(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("停止会话清理任务")
				return
			case <-ticker.C:
				r.CleanupIdle(ctx)
			}
		}
	}()
}

// ActiveSessions 内存中的会话数
func (r *Registry) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown 停止所有计时器并写入最终快照，之后注册表不再接受操作
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*liveSession, 0, len(r.sessions))
	for _, ls := range r.sessions {
		sessions = append(sessions, ls)
	}
	r.sessions = make(map[string]*liveSession)
	r.mu.Unlock()

	for _, ls := range sessions {
		ls.mu.Lock()
		ls.retired = true
		ls.clock.Stop()
		r.persist(ctx, ls.engine)
		ls.mu.Unlock()
	}
	r.logger.Info("会话注册表已关闭", zap.Int("sessions", len(sessions)))
}
