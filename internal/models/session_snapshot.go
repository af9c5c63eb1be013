package models

import (
	"time"
)

// SessionSnapshot 会话快照模型（每个会话一行，保存序列化后的完整状态）
type SessionSnapshot struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	Status    string    `gorm:"size:20;index;not null" json:"status"`
	Round     int       `gorm:"not null;default:1" json:"round"`
	Seq       uint64    `gorm:"not null;default:0" json:"seq"`
	Data      string    `gorm:"type:text" json:"data"` // JSON格式的快照数据
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SessionSnapshot) TableName() string {
	return "session_snapshots"
}

// Expired 判断快照是否已过期
func (s *SessionSnapshot) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
