package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() SessionConfig {
	return SessionConfig{
		Language:            "en",
		TurnTimeLimit:       30 * time.Second,
		LivesPerPlayer:      3,
		RoundsToWin:         2,
		TeamCount:           2,
		SimilarityThreshold: 0.8,
	}
}

func testWords() *StaticWordSource {
	return NewStaticWordSource(map[string][]string{
		"en": {"apple", "river", "mountain", "garden", "candle", "bridge"},
		"es": {"manzana", "río"},
	}, 7)
}

func newTestEngine(t *testing.T, cfg SessionConfig, clock *fakeClock) *Engine {
	t.Helper()
	e, err := NewEngine("sess-1", "alice", cfg, testWords(), WithClock(clock.Now))
	require.NoError(t, err)
	e.DrainEvents()
	return e
}

// startedEngine 创建并开始一场对局，成员按交替顺序加入
func startedEngine(t *testing.T, cfg SessionConfig, clock *fakeClock, team1, team2 []string) *Engine {
	t.Helper()
	e := newTestEngine(t, cfg, clock)
	for i := 0; i < len(team1) || i < len(team2); i++ {
		if i < len(team1) {
			require.NoError(t, e.JoinTeam(team1[i], "team-1"))
		}
		if i < len(team2) {
			require.NoError(t, e.JoinTeam(team2[i], "team-2"))
		}
	}
	require.NoError(t, e.StartGame(context.Background(), team1[0]))
	e.DrainEvents()
	return e
}

// guess 以给定分数完成一次猜词
func guess(t *testing.T, e *Engine, userID, word string, score float64) *Guess {
	t.Helper()
	req, err := e.BeginGuess(userID, word)
	require.NoError(t, err)
	g, err := e.CompleteGuess(req.TicketID, ScoreResult{Score: score})
	require.NoError(t, err)
	return g
}

// timeout 让当前回合超时
func timeout(t *testing.T, e *Engine, clock *fakeClock) {
	t.Helper()
	clock.Advance(time.Second)
	require.True(t, e.TurnTimeout(e.session.TurnDeadline))
}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}
