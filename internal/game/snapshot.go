package game

import (
	"encoding/json"
	"time"

	"github.com/wfunc/word-duel/internal/errors"
)

// snapshotVersion 快照格式版本
const snapshotVersion = 1

// Snapshot 会话完整快照，足以在不重放猜词的情况下重建引擎
type Snapshot struct {
	Version int       `json:"version"`
	Seq     uint64    `json:"seq"`
	Session Session   `json:"session"`
	SavedAt time.Time `json:"saved_at"`
}

// Public 返回隐藏当前词的副本，用于下发给客户端
func (s *Snapshot) Public() *Snapshot {
	c := &Snapshot{
		Version: s.Version,
		Seq:     s.Seq,
		Session: s.Session.Clone(),
		SavedAt: s.SavedAt,
	}
	c.Session.CurrentWord = ""
	c.Session.UsedWords = nil
	return c
}

// EncodeSnapshot 序列化快照
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSnapshotStore, "序列化快照失败")
	}
	return data, nil
}

// DecodeSnapshot 反序列化并校验快照
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.ErrSnapshotCorrupt, "反序列化快照失败")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Snapshot) validate() error {
	if s.Version != snapshotVersion {
		return errors.Newf(errors.ErrSnapshotCorrupt, "不支持的快照版本 %d", s.Version)
	}
	sess := &s.Session
	if sess.ID == "" {
		return errors.New(errors.ErrSnapshotCorrupt, "缺少会话ID")
	}
	switch sess.Status {
	case StatusForming, StatusActive, StatusCompleted, StatusAbandoned:
	default:
		return errors.Newf(errors.ErrSnapshotCorrupt, "未知的会话状态 %q", sess.Status)
	}
	if sess.CurrentRound < 1 {
		return errors.Newf(errors.ErrSnapshotCorrupt, "无效的回合号 %d", sess.CurrentRound)
	}
	if len(sess.Teams) != sess.Config.TeamCount {
		return errors.Newf(errors.ErrSnapshotCorrupt, "队伍数量 %d 与配置 %d 不一致", len(sess.Teams), sess.Config.TeamCount)
	}
	if sess.Status == StatusActive && sess.Phase == PhasePlaying {
		if _, ok := sess.Member(sess.CurrentTurnPlayerID); !ok {
			return errors.Newf(errors.ErrSnapshotCorrupt, "当前出题人 %q 不在会话中", sess.CurrentTurnPlayerID)
		}
	}
	return nil
}
