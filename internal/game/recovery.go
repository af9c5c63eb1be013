package game

import (
	"context"

	"github.com/wfunc/word-duel/internal/errors"
	"go.uber.org/zap"
)

// RecoveryManager 会话恢复管理器，从快照重建引擎并按状态决定恢复策略
type RecoveryManager struct {
	logger *zap.Logger
	store  SnapshotStore
	words  WordSource
}

// RecoveredSession 恢复结果
type RecoveredSession struct {
	Engine *Engine
	// ReArm 为真时调用方需要按引擎的截止时间重新布置计时器
	ReArm bool
}

// NewRecoveryManager 创建恢复管理器
func NewRecoveryManager(logger *zap.Logger, store SnapshotStore, words WordSource) *RecoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryManager{
		logger: logger,
		store:  store,
		words:  words,
	}
}

// RecoverSession 从存储加载快照并重建会话
func (rm *RecoveryManager) RecoverSession(ctx context.Context, sessionID string, opts ...EngineOption) (*RecoveredSession, error) {
	snap, err := rm.store.LoadSnapshot(ctx, sessionID)
	if err != nil {
		if IsSnapshotNotFound(err) {
			return nil, errors.New(errors.ErrSessionNotFound, sessionID)
		}
		return nil, err
	}

	engine, err := RestoreEngine(snap, rm.words, opts...)
	if err != nil {
		rm.logger.Error("快照无法恢复",
			zap.String("session_id", sessionID),
			zap.Uint64("seq", snap.Seq),
			zap.Error(err))
		return nil, err
	}

	strategy := rm.getRecoveryStrategy(engine.session.Status)
	out, err := strategy(engine)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSnapshotCorrupt, "执行恢复策略失败")
	}

	rm.logger.Info("会话恢复成功",
		zap.String("session_id", sessionID),
		zap.String("status", string(engine.session.Status)),
		zap.String("phase", string(engine.session.Phase)),
		zap.Uint64("seq", snap.Seq))
	return out, nil
}

func (rm *RecoveryManager) getRecoveryStrategy(status SessionStatus) func(*Engine) (*RecoveredSession, error) {
	strategies := map[SessionStatus]func(*Engine) (*RecoveredSession, error){
		StatusForming:   rm.recoverForming,
		StatusActive:    rm.recoverActive,
		StatusCompleted: rm.recoverTerminal,
		StatusAbandoned: rm.recoverTerminal,
	}
	if strategy, ok := strategies[status]; ok {
		return strategy
	}
	return rm.recoverUnknown
}

// recoverForming 组队阶段无需计时
func (rm *RecoveryManager) recoverForming(e *Engine) (*RecoveredSession, error) {
	return &RecoveredSession{Engine: e}, nil
}

// recoverActive 对局中按持久化的截止时间重新计时，已过期的截止时间会立即触发
func (rm *RecoveryManager) recoverActive(e *Engine) (*RecoveredSession, error) {
	deadline, ok := e.ClockDeadline()
	if !ok {
		return nil, errors.New(errors.ErrSnapshotCorrupt, "对局中缺少截止时间")
	}
	if !e.now().Before(deadline) {
		rm.logger.Info("恢复时回合已超时，立即处理",
			zap.String("session_id", e.ID()),
			zap.Time("deadline", deadline))
	}
	return &RecoveredSession{Engine: e, ReArm: true}, nil
}

// recoverTerminal 已结束的会话只读
func (rm *RecoveryManager) recoverTerminal(e *Engine) (*RecoveredSession, error) {
	return &RecoveredSession{Engine: e}, nil
}

func (rm *RecoveryManager) recoverUnknown(e *Engine) (*RecoveredSession, error) {
	return nil, errors.Newf(errors.ErrSnapshotCorrupt, "未知会话状态 %s", e.session.Status)
}
