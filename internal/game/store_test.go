package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/word-duel/internal/errors"
	"github.com/wfunc/word-duel/internal/repository"
	"gorm.io/gorm"
)

type expiringSnapshotStore interface {
	SnapshotStore
	PurgeExpired(ctx context.Context) (int64, error)
}

// SnapshotStoreTestSuite 对所有快照存储实现执行相同的用例
type SnapshotStoreTestSuite struct {
	suite.Suite
	clock *fakeClock
	db    *gorm.DB
	build func(s *SnapshotStoreTestSuite) expiringSnapshotStore
	store expiringSnapshotStore
}

func (s *SnapshotStoreTestSuite) SetupTest() {
	s.clock = newFakeClock()
	s.db = repository.SetupTestDB()
	s.store = s.build(s)
}

func (s *SnapshotStoreTestSuite) TearDownTest() {
	repository.CleanupTestDB(s.db)
}

func (s *SnapshotStoreTestSuite) snapshot(id string) *Snapshot {
	e, err := NewEngine(id, "alice", testConfig(), testWords(), WithClock(s.clock.Now))
	s.Require().NoError(err)
	s.Require().NoError(e.JoinTeam("alice", "team-1"))
	s.Require().NoError(e.JoinTeam("bob", "team-2"))
	s.Require().NoError(e.StartGame(context.Background(), "alice"))
	return e.Snapshot()
}

func (s *SnapshotStoreTestSuite) TestSaveLoad() {
	ctx := context.Background()
	snap := s.snapshot("sess-a")

	s.Require().NoError(s.store.SaveSnapshot(ctx, "sess-a", snap, time.Hour))
	got, err := s.store.LoadSnapshot(ctx, "sess-a")
	s.Require().NoError(err)
	s.Equal(snap.Seq, got.Seq)
	s.Equal(snap.Session.CurrentWord, got.Session.CurrentWord)
	s.Equal("alice", got.Session.CurrentTurnPlayerID)
	s.True(snap.Session.TurnDeadline.Equal(got.Session.TurnDeadline))

	_, err = s.store.LoadSnapshot(ctx, "missing")
	s.True(IsSnapshotNotFound(err), "got %v", err)
}

func (s *SnapshotStoreTestSuite) TestLastWriterWins() {
	ctx := context.Background()
	snap := s.snapshot("sess-b")
	s.Require().NoError(s.store.SaveSnapshot(ctx, "sess-b", snap, time.Hour))

	snap.Seq += 10
	snap.Session.Status = StatusAbandoned
	s.Require().NoError(s.store.SaveSnapshot(ctx, "sess-b", snap, time.Hour))

	got, err := s.store.LoadSnapshot(ctx, "sess-b")
	s.Require().NoError(err)
	s.Equal(snap.Seq, got.Seq)
	s.Equal(StatusAbandoned, got.Session.Status)
}

func (s *SnapshotStoreTestSuite) TestSlidingExpiration() {
	ctx := context.Background()
	snap := s.snapshot("sess-c")
	s.Require().NoError(s.store.SaveSnapshot(ctx, "sess-c", snap, time.Minute))

	s.clock.Advance(50 * time.Second)
	s.Require().NoError(s.store.SaveSnapshot(ctx, "sess-c", snap, time.Minute))
	s.clock.Advance(50 * time.Second)
	_, err := s.store.LoadSnapshot(ctx, "sess-c")
	s.NoError(err)

	s.clock.Advance(time.Minute)
	_, err = s.store.LoadSnapshot(ctx, "sess-c")
	s.True(IsSnapshotNotFound(err))

	n, err := s.store.PurgeExpired(ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(n, int64(1))
}

func (s *SnapshotStoreTestSuite) TestDelete() {
	ctx := context.Background()
	snap := s.snapshot("sess-d")
	s.Require().NoError(s.store.SaveSnapshot(ctx, "sess-d", snap, time.Hour))
	s.Require().NoError(s.store.DeleteSnapshot(ctx, "sess-d"))

	_, err := s.store.LoadSnapshot(ctx, "sess-d")
	s.True(IsSnapshotNotFound(err))
	s.NoError(s.store.DeleteSnapshot(ctx, "sess-d"))
}

func TestMemorySnapshotStore(t *testing.T) {
	suite.Run(t, &SnapshotStoreTestSuite{build: func(s *SnapshotStoreTestSuite) expiringSnapshotStore {
		return NewMemorySnapshotStore(s.clock.Now)
	}})
}

func TestDatabaseSnapshotStore(t *testing.T) {
	suite.Run(t, &SnapshotStoreTestSuite{build: func(s *SnapshotStoreTestSuite) expiringSnapshotStore {
		return NewDatabaseSnapshotStore(s.db, s.clock.Now)
	}})
}

func TestCacheSnapshotStore(t *testing.T) {
	suite.Run(t, &SnapshotStoreTestSuite{build: func(s *SnapshotStoreTestSuite) expiringSnapshotStore {
		return NewCacheSnapshotStore(
			NewMemorySnapshotStore(s.clock.Now),
			NewDatabaseSnapshotStore(s.db, s.clock.Now),
			10*time.Minute)
	}})
}

func TestCacheSnapshotStore_RepopulatesFromStorage(t *testing.T) {
	db := repository.SetupTestDB()
	defer repository.CleanupTestDB(db)
	clock := newFakeClock()
	ctx := context.Background()

	storage := NewDatabaseSnapshotStore(db, clock.Now)
	cache := NewMemorySnapshotStore(clock.Now)
	store := NewCacheSnapshotStore(cache, storage, time.Minute)

	e, err := NewEngine("sess-x", "alice", testConfig(), testWords(), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, storage.SaveSnapshot(ctx, "sess-x", e.Snapshot(), time.Hour))

	_, err = cache.LoadSnapshot(ctx, "sess-x")
	assert.True(t, IsSnapshotNotFound(err))

	got, err := store.LoadSnapshot(ctx, "sess-x")
	require.NoError(t, err)
	assert.Equal(t, "sess-x", got.Session.ID)

	_, err = cache.LoadSnapshot(ctx, "sess-x")
	assert.NoError(t, err)
}

func TestDatabaseSnapshotStore_CorruptRow(t *testing.T) {
	db := repository.SetupTestDB()
	defer repository.CleanupTestDB(db)
	clock := newFakeClock()
	ctx := context.Background()

	store := NewDatabaseSnapshotStore(db, clock.Now)
	require.NoError(t, store.SaveSnapshot(ctx, "sess-y", &Snapshot{
		Version: snapshotVersion,
		Session: Session{ID: "sess-y", Status: StatusForming, CurrentRound: 1},
	}, time.Hour))

	require.NoError(t, db.Exec("UPDATE session_snapshots SET data = ? WHERE session_id = ?", "{broken", "sess-y").Error)
	_, err := store.LoadSnapshot(ctx, "sess-y")
	assert.True(t, errors.Is(err, errors.ErrSnapshotCorrupt))
}

func TestDatabaseSnapshotStore_QueryFailure(t *testing.T) {
	db := repository.SetupTestDB()
	store := NewDatabaseSnapshotStore(db, nil)
	repository.CleanupTestDB(db)

	_, err := store.LoadSnapshot(context.Background(), "sess-z")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDatabaseQuery))
	assert.True(t, errors.IsRetryable(err))
}
