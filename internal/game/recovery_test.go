package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/word-duel/internal/errors"
	"go.uber.org/zap"
)

func TestRecoveryManager_Strategies(t *testing.T) {
	clock := newFakeClock()
	store := NewMemorySnapshotStore(clock.Now)
	rm := NewRecoveryManager(zap.NewNop(), store, testWords())
	ctx := context.Background()

	forming := newTestEngine(t, testConfig(), clock)
	forming.session.ID = "forming"
	require.NoError(t, store.SaveSnapshot(ctx, "forming", forming.Snapshot(), time.Hour))

	active := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})
	active.session.ID = "active"
	require.NoError(t, store.SaveSnapshot(ctx, "active", active.Snapshot(), time.Hour))

	ended := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})
	require.NoError(t, ended.ForceEnd("测试"))
	ended.session.ID = "ended"
	require.NoError(t, store.SaveSnapshot(ctx, "ended", ended.Snapshot(), time.Hour))

	tests := []struct {
		id     string
		status SessionStatus
		rearm  bool
	}{
		{"forming", StatusForming, false},
		{"active", StatusActive, true},
		{"ended", StatusAbandoned, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec, err := rm.RecoverSession(ctx, tt.id, WithClock(clock.Now))
			require.NoError(t, err)
			assert.Equal(t, tt.status, rec.Engine.Status())
			assert.Equal(t, tt.rearm, rec.ReArm)
			assert.Equal(t, tt.id, rec.Engine.ID())
		})
	}
}

func TestRecoveryManager_Missing(t *testing.T) {
	rm := NewRecoveryManager(nil, NewMemorySnapshotStore(nil), testWords())
	_, err := rm.RecoverSession(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))
}

func TestRecoveryManager_ActiveWithoutDeadline(t *testing.T) {
	clock := newFakeClock()
	store := NewMemorySnapshotStore(clock.Now)
	e := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})
	snap := e.Snapshot()
	snap.Session.TurnDeadline = time.Time{}
	require.NoError(t, store.SaveSnapshot(context.Background(), "sess-1", snap, time.Hour))

	rm := NewRecoveryManager(zap.NewNop(), store, testWords())
	_, err := rm.RecoverSession(context.Background(), "sess-1")
	assert.True(t, errors.Is(err, errors.ErrSnapshotCorrupt))
}
