package repository

import (
	"context"
	"time"

	"github.com/wfunc/word-duel/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepository 会话快照仓储接口
type SnapshotRepository interface {
	BaseRepository
	Upsert(ctx context.Context, snapshot *models.SessionSnapshot) error
	FindBySessionID(ctx context.Context, sessionID string, now time.Time) (*models.SessionSnapshot, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
}

// snapshotRepo 会话快照仓储实现
type snapshotRepo struct {
	*BaseRepo
}

// NewSnapshotRepository 创建会话快照仓储
func NewSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &snapshotRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Upsert 按会话ID写入快照，已存在则覆盖（后写者胜出）
func (r *snapshotRepo) Upsert(ctx context.Context, snapshot *models.SessionSnapshot) error {
	snapshot.ExpiresAt = snapshot.ExpiresAt.UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "round", "seq", "data", "expires_at", "updated_at"}),
		}).
		Create(snapshot).Error
}

// FindBySessionID 查找未过期的快照，不存在或已过期返回 gorm.ErrRecordNotFound
func (r *snapshotRepo) FindBySessionID(ctx context.Context, sessionID string, now time.Time) (*models.SessionSnapshot, error) {
	var snapshot models.SessionSnapshot
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND expires_at > ?", sessionID, now.UTC()).
		First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Delete 删除会话快照
func (r *snapshotRepo) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.SessionSnapshot{}).Error
}

// DeleteExpired 清理过期快照
func (r *snapshotRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&models.SessionSnapshot{})
	return result.RowsAffected, result.Error
}

// CountByStatus 统计指定状态的快照数量
func (r *snapshotRepo) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SessionSnapshot{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
