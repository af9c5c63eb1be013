package game

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/wfunc/word-duel/internal/errors"
	"github.com/wfunc/word-duel/internal/models"
	"github.com/wfunc/word-duel/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SnapshotStore 会话快照存储，按会话键写入，后写者胜出，带滑动过期时间
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID string, snap *Snapshot, ttl time.Duration) error
	LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
}

// IsSnapshotNotFound 判断是否为快照不存在
func IsSnapshotNotFound(err error) bool {
	return errors.Is(err, errors.ErrSnapshotNotFound)
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemorySnapshotStore 内存快照存储（单进程部署与测试）
type MemorySnapshotStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemorySnapshotStore 创建内存快照存储
func NewMemorySnapshotStore(now func() time.Time) *MemorySnapshotStore {
	if now == nil {
		now = time.Now
	}
	return &MemorySnapshotStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// SaveSnapshot 保存快照，存储序列化后的副本
func (m *MemorySnapshotStore) SaveSnapshot(ctx context.Context, sessionID string, snap *Snapshot, ttl time.Duration) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = memoryEntry{data: data, expiresAt: m.now().Add(ttl)}
	return nil
}

// LoadSnapshot 读取未过期的快照
func (m *MemorySnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	m.mu.RLock()
	entry, ok := m.entries[sessionID]
	m.mu.RUnlock()

	if !ok || !entry.expiresAt.After(m.now()) {
		return nil, errors.New(errors.ErrSnapshotNotFound, sessionID)
	}
	return DecodeSnapshot(entry.data)
}

// DeleteSnapshot 删除快照
func (m *MemorySnapshotStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

// PurgeExpired 清理过期快照
func (m *MemorySnapshotStore) PurgeExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for id, entry := range m.entries {
		if !entry.expiresAt.After(now) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// DatabaseSnapshotStore 数据库快照存储
type DatabaseSnapshotStore struct {
	repo repository.SnapshotRepository
	now  func() time.Time
}

// NewDatabaseSnapshotStore 创建数据库快照存储
func NewDatabaseSnapshotStore(db *gorm.DB, now func() time.Time) *DatabaseSnapshotStore {
	if now == nil {
		now = time.Now
	}
	return &DatabaseSnapshotStore{
		repo: repository.NewSnapshotRepository(db),
		now:  now,
	}
}

// SaveSnapshot 写入快照，每次写入都会顺延过期时间
func (d *DatabaseSnapshotStore) SaveSnapshot(ctx context.Context, sessionID string, snap *Snapshot, ttl time.Duration) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	row := &models.SessionSnapshot{
		SessionID: sessionID,
		Status:    string(snap.Session.Status),
		Round:     snap.Session.CurrentRound,
		Seq:       snap.Seq,
		Data:      string(data),
		ExpiresAt: d.now().Add(ttl),
	}
	if err := d.repo.Upsert(ctx, row); err != nil {
		return errors.Wrap(err, errors.ErrSnapshotStore, sessionID)
	}
	return nil
}

// LoadSnapshot 读取未过期的快照
func (d *DatabaseSnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	row, err := d.repo.FindBySessionID(ctx, sessionID, d.now())
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.ErrSnapshotNotFound, sessionID)
		}
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, sessionID)
	}
	return DecodeSnapshot([]byte(row.Data))
}

// DeleteSnapshot 删除快照
func (d *DatabaseSnapshotStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if err := d.repo.Delete(ctx, sessionID); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseDelete, sessionID)
	}
	return nil
}

// PurgeExpired 清理过期快照
func (d *DatabaseSnapshotStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := d.repo.DeleteExpired(ctx, d.now())
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrDatabaseDelete, "清理过期快照失败")
	}
	return n, nil
}

// CacheSnapshotStore 内存缓存 + 持久存储
type CacheSnapshotStore struct {
	cache    SnapshotStore
	storage  SnapshotStore
	cacheTTL time.Duration
}

// NewCacheSnapshotStore 创建带缓存的快照存储
func NewCacheSnapshotStore(cache, storage SnapshotStore, cacheTTL time.Duration) *CacheSnapshotStore {
	return &CacheSnapshotStore{
		cache:    cache,
		storage:  storage,
		cacheTTL: cacheTTL,
	}
}

func (c *CacheSnapshotStore) ttl(ttl time.Duration) time.Duration {
	if c.cacheTTL > 0 && c.cacheTTL < ttl {
		return c.cacheTTL
	}
	return ttl
}

// SaveSnapshot 先写缓存再写存储，存储失败时返回错误
func (c *CacheSnapshotStore) SaveSnapshot(ctx context.Context, sessionID string, snap *Snapshot, ttl time.Duration) error {
	_ = c.cache.SaveSnapshot(ctx, sessionID, snap, c.ttl(ttl))
	return c.storage.SaveSnapshot(ctx, sessionID, snap, ttl)
}

// LoadSnapshot 优先从缓存读取
func (c *CacheSnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	if snap, err := c.cache.LoadSnapshot(ctx, sessionID); err == nil {
		return snap, nil
	}

	snap, err := c.storage.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	_ = c.cache.SaveSnapshot(ctx, sessionID, snap, c.cacheTTL)
	return snap, nil
}

// DeleteSnapshot 同时删除缓存和存储
func (c *CacheSnapshotStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	_ = c.cache.DeleteSnapshot(ctx, sessionID)
	return c.storage.DeleteSnapshot(ctx, sessionID)
}

// PurgeExpired 清理两层中的过期快照
func (c *CacheSnapshotStore) PurgeExpired(ctx context.Context) (int64, error) {
	if p, ok := c.cache.(expiringStore); ok {
		_, _ = p.PurgeExpired(ctx)
	}
	if p, ok := c.storage.(expiringStore); ok {
		return p.PurgeExpired(ctx)
	}
	return 0, nil
}

type expiringStore interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StartPurgeTask 定期清理过期快照
func StartPurgeTask(ctx context.Context, store SnapshotStore, interval time.Duration, logger *zap.Logger) {
	p, ok := store.(expiringStore)
	if !ok || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("停止快照清理任务")
				return
			case <-ticker.C:
				n, err := p.PurgeExpired(ctx)
				if err != nil {
					logger.Error("清理过期快照失败", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("清理过期快照", zap.Int64("count", n))
				}
			}
		}
	}()
}
