package game

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/word-duel/internal/errors"
)

func TestNewEngine_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *SessionConfig)
	}{
		{"zero turn limit", func(c *SessionConfig) { c.TurnTimeLimit = 0 }},
		{"no lives", func(c *SessionConfig) { c.LivesPerPlayer = 0 }},
		{"no rounds", func(c *SessionConfig) { c.RoundsToWin = 0 }},
		{"single team", func(c *SessionConfig) { c.TeamCount = 1 }},
		{"threshold above one", func(c *SessionConfig) { c.SimilarityThreshold = 1.5 }},
		{"bad language", func(c *SessionConfig) { c.Language = "not a tag!" }},
		{"language without words", func(c *SessionConfig) { c.Language = "fr" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			_, err := NewEngine("s", "alice", cfg, testWords())
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestNewEngine_Forming(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.TeamCount = 3
	cfg.Language = "EN"

	e, err := NewEngine("sess-1", "alice", cfg, testWords(), WithClock(clock.Now))
	require.NoError(t, err)

	s := e.session
	assert.Equal(t, StatusForming, s.Status)
	assert.Equal(t, "en", s.Config.Language)
	assert.Equal(t, 1, s.CurrentRound)
	require.Len(t, s.Teams, 3)
	assert.Equal(t, "team-1", s.Teams[0].ID)
	assert.Equal(t, "Team 3", s.Teams[2].Name)
	assert.Empty(t, s.CurrentTurnPlayerID)

	events := e.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventSessionCreated, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Seq)
}

func TestJoinTeam_Rules(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxTeamSize = 1
	e := newTestEngine(t, cfg, clock)

	require.NoError(t, e.JoinTeam("alice", "team-1"))
	assert.True(t, errors.Is(e.JoinTeam("alice", "team-2"), errors.ErrAlreadyInSession))
	assert.True(t, errors.Is(e.JoinTeam("alice", "team-1"), errors.ErrAlreadyInSession))
	assert.True(t, errors.Is(e.JoinTeam("bob", "team-1"), errors.ErrTeamFull))
	assert.True(t, errors.Is(e.JoinTeam("bob", "team-9"), errors.ErrTeamNotFound))
	assert.True(t, errors.Is(e.JoinTeam("", "team-2"), errors.ErrInvalidParam))
	require.NoError(t, e.JoinTeam("bob", "team-2"))

	alice, _ := e.session.Member("alice")
	bob, _ := e.session.Member("bob")
	assert.Equal(t, 0, alice.JoinOrder)
	assert.Equal(t, 1, bob.JoinOrder)
	assert.Equal(t, 3, bob.MistakesRemaining)
	assert.True(t, bob.Active)

	// 被拒绝的操作不产生事件
	events := e.DrainEvents()
	assert.Equal(t, []EventKind{EventPlayerJoined, EventPlayerJoined}, eventKinds(events))

	require.NoError(t, e.StartGame(context.Background(), "alice"))
	assert.True(t, errors.Is(e.JoinTeam("carol", "team-2"), errors.ErrRoundInProgress))
}

func TestStartGame_Rules(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, testConfig(), clock)
	ctx := context.Background()

	require.NoError(t, e.JoinTeam("alice", "team-1"))
	assert.True(t, errors.Is(e.StartGame(ctx, "alice"), errors.ErrNotEnoughPlayers))

	require.NoError(t, e.JoinTeam("bob", "team-2"))
	assert.True(t, errors.Is(e.StartGame(ctx, "mallory"), errors.ErrNotInSession))
	e.DrainEvents()

	require.NoError(t, e.StartGame(ctx, "bob"))
	s := e.session
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.Equal(t, "alice", s.CurrentTurnPlayerID)
	assert.NotEmpty(t, s.CurrentWord)
	assert.Equal(t, clock.Now().Add(30*time.Second), s.TurnDeadline)

	deadline, ok := e.ClockDeadline()
	assert.True(t, ok)
	assert.Equal(t, s.TurnDeadline, deadline)

	events := e.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventGameStarted, events[0].Kind)
	assert.Empty(t, events[0].State.CurrentWord)

	assert.True(t, errors.Is(e.StartGame(ctx, "alice"), errors.ErrInvalidState))
}

// 场景A：首轮猜中即获胜
func TestScenario_CorrectFirstGuessWinsMatch(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.LivesPerPlayer = 1
	cfg.RoundsToWin = 1
	e := startedEngine(t, cfg, clock, []string{"alice"}, []string{"bob"})

	req, err := e.BeginGuess("alice", e.session.CurrentWord)
	require.NoError(t, err)
	result := NewScorer(nil, 0, 0, nil).Score(context.Background(), req)
	assert.True(t, result.Exact)

	g, err := e.CompleteGuess(req.TicketID, result)
	require.NoError(t, err)
	assert.True(t, g.IsCorrect)
	assert.Equal(t, 1.0, g.Score)

	s := e.session
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.WinningTeamID)
	assert.Equal(t, "team-1", *s.WinningTeamID)
	require.Len(t, s.History, 1)
	require.NotNil(t, s.History[0].WinningTeamID)
	assert.Equal(t, "team-1", *s.History[0].WinningTeamID)
	assert.Empty(t, s.CurrentTurnPlayerID)
	_, armed := e.ClockDeadline()
	assert.False(t, armed)

	events := e.DrainEvents()
	assert.Equal(t, []EventKind{EventWordGuessSubmitted, EventRoundCompleted, EventGameEnded}, eventKinds(events))
	for i, ev := range events {
		assert.Equal(t, events[0].Seq+uint64(i), ev.Seq)
		assert.Equal(t, StatusCompleted, ev.State.Status)
		assert.Empty(t, ev.State.CurrentWord)
	}
	completed := events[1].Payload.(RoundCompletedPayload)
	require.Len(t, completed.Guesses, 1)
	assert.Equal(t, "alice", completed.Guesses[0].UserID)
}

// 场景B：双方先后超时，本回合无人胜出
func TestScenario_BothTeamsEliminatedNoWinner(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.LivesPerPlayer = 1
	e := startedEngine(t, cfg, clock, []string{"alice"}, []string{"bob"})

	timeout(t, e, clock)
	alice, _ := e.session.Member("alice")
	assert.False(t, alice.Active)
	assert.Equal(t, 0, alice.MistakesRemaining)
	team1, _ := e.session.Team("team-1")
	assert.True(t, team1.Eliminated())
	assert.Equal(t, "bob", e.session.CurrentTurnPlayerID)

	timeout(t, e, clock)
	s := e.session
	require.Len(t, s.History, 1)
	assert.Nil(t, s.History[0].WinningTeamID)
	assert.Equal(t, 2, s.CurrentRound)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, PhaseIntermission, s.Phase)
	assert.Empty(t, s.CurrentTurnPlayerID)
	_, armed := e.ClockDeadline()
	assert.True(t, armed)

	events := e.DrainEvents()
	assert.Equal(t, []EventKind{EventTurnTimedOut, EventTurnTimedOut, EventRoundCompleted}, eventKinds(events))
}

func TestIntermission_ExpiresWithoutWinner(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.LivesPerPlayer = 1
	e := startedEngine(t, cfg, clock, []string{"alice"}, []string{"bob"})
	timeout(t, e, clock)
	timeout(t, e, clock)
	require.Equal(t, PhaseIntermission, e.session.Phase)

	e.DrainEvents()

	timeout(t, e, clock)
	s := e.session
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Nil(t, s.WinningTeamID)
	assert.Equal(t, PhaseNone, s.Phase)

	// 间歇阶段所在的回合也要有结果
	assert.Equal(t, 2, s.CurrentRound)
	require.Len(t, s.History, 2)
	assert.Equal(t, 2, s.History[1].Round)
	assert.Nil(t, s.History[1].WinningTeamID)
	assert.Equal(t, s.CurrentWord, s.History[1].Word)

	events := e.DrainEvents()
	assert.Equal(t, []EventKind{EventRoundCompleted, EventGameEnded}, eventKinds(events))
}

func TestIntermission_EveryoneLeavesRecordsRound(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.LivesPerPlayer = 1
	e := startedEngine(t, cfg, clock, []string{"alice"}, []string{"bob"})
	timeout(t, e, clock)
	timeout(t, e, clock)
	require.Equal(t, PhaseIntermission, e.session.Phase)

	require.NoError(t, e.LeaveSession("alice"))
	require.NoError(t, e.LeaveSession("bob"))

	s := e.session
	assert.Equal(t, StatusAbandoned, s.Status)
	require.Len(t, s.History, 2)
	assert.Equal(t, s.CurrentRound, s.History[1].Round)
	assert.Nil(t, s.History[1].WinningTeamID)
}

func TestIntermission_NoRevivalLeftCompletes(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.LivesPerPlayer = 1
	e := startedEngine(t, cfg, clock, []string{"alice"}, []string{"bob"})

	timeout(t, e, clock) // alice 出局
	require.NoError(t, e.ProcessRevival("team-1"))
	assert.Equal(t, "bob", e.session.CurrentTurnPlayerID)
	timeout(t, e, clock) // bob 出局
	assert.Equal(t, "alice", e.session.CurrentTurnPlayerID)
	require.NoError(t, e.ProcessRevival("team-2"))
	timeout(t, e, clock) // alice 再次出局
	timeout(t, e, clock) // bob 再次出局，无人可复活

	s := e.session
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Nil(t, s.WinningTeamID)
	require.Len(t, s.History, 1)
	assert.Nil(t, s.History[0].WinningTeamID)
	assert.Equal(t, 1, s.CurrentRound)
}

// 场景C：评分走回退路径且低于阈值，仍然记录猜词
func TestScenario_FallbackScoreRecorded(t *testing.T) {
	clock := newFakeClock()
	e := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})

	req, err := e.BeginGuess("alice", "zzz")
	require.NoError(t, err)
	g, err := e.CompleteGuess(req.TicketID, ScoreResult{Score: 0.25, Fallback: true})
	require.NoError(t, err)

	assert.False(t, g.IsCorrect)
	assert.True(t, g.Fallback)
	assert.Nil(t, g.OracleScore)
	assert.Equal(t, 0.25, g.Score)
	assert.Equal(t, ReasonBelowThreshold, g.RejectionReason)
	require.Len(t, e.session.Guesses, 1)
	alice, _ := e.session.Member("alice")
	assert.Equal(t, 2, alice.MistakesRemaining)
	assert.Equal(t, "bob", e.session.CurrentTurnPlayerID)
}

// 场景D：复活只能成功一次
func TestScenario_RevivalExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.LivesPerPlayer = 1
	e := startedEngine(t, cfg, clock, []string{"alice", "carol"}, []string{"bob"})

	assert.True(t, errors.Is(e.ProcessRevival("team-1"), errors.ErrTeamNotEliminated))

	timeout(t, e, clock) // alice
	timeout(t, e, clock) // bob -> 队伍2 淘汰
	assert.Equal(t, "carol", e.session.CurrentTurnPlayerID)
	timeout(t, e, clock) // carol -> 全员出局，进入间歇
	require.Equal(t, PhaseIntermission, e.session.Phase)
	e.DrainEvents()

	require.NoError(t, e.ProcessRevival("team-1"))
	team1, _ := e.session.Team("team-1")
	assert.True(t, team1.RevivalUsed)
	for _, m := range team1.Members {
		assert.True(t, m.Active)
		assert.Equal(t, 1, m.MistakesRemaining)
	}
	assert.Equal(t, PhasePlaying, e.session.Phase)
	assert.NotEmpty(t, e.session.CurrentTurnPlayerID)

	events := e.DrainEvents()
	require.Len(t, events, 1)
	payload := events[0].Payload.(TeamRevivalProcessedPayload)
	assert.ElementsMatch(t, []string{"alice", "carol"}, payload.Revived)

	assert.True(t, errors.Is(e.ProcessRevival("team-1"), errors.ErrRevivalAlreadyUsed))
	assert.True(t, errors.Is(e.ProcessRevival("team-7"), errors.ErrTeamNotFound))
	assert.Empty(t, e.DrainEvents())
}

func TestRotation_AlternatesTeamsAndSkipsInactive(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	e := startedEngine(t, cfg, clock, []string{"a1", "a2"}, []string{"b1", "b2"})

	order := []string{e.session.CurrentTurnPlayerID}
	for i := 0; i < 4; i++ {
		guess(t, e, e.session.CurrentTurnPlayerID, "wrong", 0)
		clock.Advance(time.Second)
		order = append(order, e.session.CurrentTurnPlayerID)
	}
	assert.Equal(t, []string{"a1", "b1", "a2", "b2", "a1"}, order)

	// 单人生命耗尽后被跳过
	clock2 := newFakeClock()
	cfg.LivesPerPlayer = 1
	e = startedEngine(t, cfg, clock2, []string{"a1", "a2"}, []string{"b1", "b2"})
	timeout(t, e, clock2) // a1
	assert.Equal(t, "b1", e.session.CurrentTurnPlayerID)
	timeout(t, e, clock2) // b1
	assert.Equal(t, "a2", e.session.CurrentTurnPlayerID)
	timeout(t, e, clock2) // a2 -> 队伍1 淘汰
	assert.Equal(t, "b2", e.session.CurrentTurnPlayerID)
	guess(t, e, "b2", "wrong", 0.1)
	assert.NotEqual(t, "b2", e.session.CurrentTurnPlayerID)
}

func TestRotation_ContinuesAfterWinner(t *testing.T) {
	clock := newFakeClock()
	e := startedEngine(t, testConfig(), clock, []string{"a1", "a2"}, []string{"b1", "b2"})
	firstWord := e.session.CurrentWord

	g := guess(t, e, "a1", firstWord, 1)
	assert.True(t, g.IsCorrect)

	s := e.session
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, 2, s.CurrentRound)
	assert.Equal(t, 1, s.Teams[0].RoundsWon)
	assert.Equal(t, "b1", s.CurrentTurnPlayerID)
	assert.NotEqual(t, firstWord, s.CurrentWord)
	assert.Empty(t, s.Guesses)
	require.Len(t, s.History, 1)
	assert.Equal(t, firstWord, s.History[0].Word)

	clock.Advance(time.Second)
	guess(t, e, "b1", "wrong", 0)
	assert.Equal(t, "a2", e.session.CurrentTurnPlayerID)
	clock.Advance(time.Second)
	guess(t, e, "a2", e.session.CurrentWord, 1)
	assert.Equal(t, StatusCompleted, e.session.Status)
	require.NotNil(t, e.session.WinningTeamID)
	assert.Equal(t, "team-1", *e.session.WinningTeamID)
}

func TestTurnTimeout_StaleDeadlineIgnored(t *testing.T) {
	clock := newFakeClock()
	e := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})
	stale := e.session.TurnDeadline

	clock.Advance(time.Second)
	guess(t, e, "alice", "wrong", 0)
	e.DrainEvents()
	before := e.Snapshot()

	assert.False(t, e.TurnTimeout(stale))
	assert.False(t, e.TurnTimeout(time.Time{}))
	assert.Empty(t, e.DrainEvents())

	after := e.Snapshot()
	assert.Equal(t, before.Seq, after.Seq)
	assert.Equal(t, before.Session, after.Session)
}

func TestGuess_TwoPhaseRaces(t *testing.T) {
	clock := newFakeClock()
	e := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})

	_, err := e.BeginGuess("bob", "word")
	assert.True(t, errors.Is(err, errors.ErrNotYourTurn))
	_, err = e.BeginGuess("alice", "   ")
	assert.True(t, errors.Is(err, errors.ErrInvalidParam))

	req, err := e.BeginGuess("alice", "word")
	require.NoError(t, err)
	assert.Equal(t, e.session.CurrentWord, req.Target)
	_, err = e.BeginGuess("alice", "other")
	assert.True(t, errors.Is(err, errors.ErrGuessInProgress))

	// 评分期间回合超时，评分结果作废
	require.True(t, e.TurnTimeout(e.session.TurnDeadline))
	e.DrainEvents()
	before := e.Snapshot()
	_, err = e.CompleteGuess(req.TicketID, ScoreResult{Score: 1})
	assert.True(t, errors.Is(err, errors.ErrStaleTurn))
	assert.Equal(t, before.Session, e.Snapshot().Session)
	assert.Empty(t, e.DrainEvents())

	// 评分完成时已过截止时间
	clock.Advance(time.Second)
	req, err = e.BeginGuess("bob", "word")
	require.NoError(t, err)
	clock.Advance(31 * time.Second)
	_, err = e.CompleteGuess(req.TicketID, ScoreResult{Score: 1})
	assert.True(t, errors.Is(err, errors.ErrStaleTurn))
	assert.Equal(t, 0, e.session.Teams[1].RoundsWon)

	_, err = e.BeginGuess("bob", "word")
	assert.True(t, errors.Is(err, errors.ErrStaleTurn))
	assert.True(t, e.TurnTimeout(e.session.TurnDeadline))
}

func TestLeaveSession(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.LivesPerPlayer = 1

	t.Run("forming frees seat", func(t *testing.T) {
		e := newTestEngine(t, cfg, clock)
		require.NoError(t, e.JoinTeam("alice", "team-1"))
		require.NoError(t, e.JoinTeam("bob", "team-2"))
		require.NoError(t, e.LeaveSession("alice"))
		_, ok := e.session.Member("alice")
		assert.False(t, ok)
		require.NoError(t, e.JoinTeam("alice", "team-2"))
		assert.True(t, errors.Is(e.LeaveSession("mallory"), errors.ErrNotInSession))
	})

	t.Run("turn holder leaves and rejoins between rounds", func(t *testing.T) {
		e := startedEngine(t, cfg, clock, []string{"alice"}, []string{"bob"})
		require.NoError(t, e.LeaveSession("alice"))
		assert.Equal(t, "bob", e.session.CurrentTurnPlayerID)

		events := e.DrainEvents()
		require.Len(t, events, 1)
		assert.True(t, events[0].Payload.(PlayerLeftPayload).WasTurn)
		assert.True(t, errors.Is(e.LeaveSession("alice"), errors.ErrNotInSession))

		timeout(t, e, clock)
		require.Equal(t, PhaseIntermission, e.session.Phase)
		assert.True(t, errors.Is(e.ProcessRevival("team-1"), errors.ErrTeamEmpty))

		assert.True(t, errors.Is(e.JoinTeam("alice", "team-2"), errors.ErrAlreadyInSession))
		require.NoError(t, e.JoinTeam("alice", "team-1"))
		alice, _ := e.session.Member("alice")
		assert.True(t, alice.Active)
		assert.Equal(t, PhasePlaying, e.session.Phase)
		assert.Equal(t, "alice", e.session.CurrentTurnPlayerID)
	})

	t.Run("everyone leaves abandons", func(t *testing.T) {
		e := startedEngine(t, cfg, clock, []string{"alice"}, []string{"bob"})
		require.NoError(t, e.LeaveSession("bob"))
		require.NoError(t, e.LeaveSession("alice"))
		assert.Equal(t, StatusAbandoned, e.session.Status)
		assert.Empty(t, e.session.CurrentTurnPlayerID)
		_, armed := e.ClockDeadline()
		assert.False(t, armed)
	})
}

func TestTerminalSessionRejectsEverything(t *testing.T) {
	clock := newFakeClock()
	e := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})
	require.NoError(t, e.ForceEnd(""))
	assert.Equal(t, StatusAbandoned, e.session.Status)
	assert.Equal(t, "强制结束", e.session.EndReason)
	e.DrainEvents()
	before := e.Snapshot()

	ctx := context.Background()
	assert.True(t, errors.Is(e.JoinTeam("carol", "team-1"), errors.ErrSessionTerminal))
	assert.True(t, errors.Is(e.LeaveSession("alice"), errors.ErrSessionTerminal))
	assert.True(t, errors.Is(e.StartGame(ctx, "alice"), errors.ErrSessionTerminal))
	assert.True(t, errors.Is(e.ProcessRevival("team-1"), errors.ErrSessionTerminal))
	assert.True(t, errors.Is(e.ForceEnd("again"), errors.ErrSessionTerminal))
	_, err := e.BeginGuess("alice", "apple")
	assert.True(t, errors.Is(err, errors.ErrSessionTerminal))
	assert.True(t, errors.IsTerminal(err))
	assert.False(t, e.TurnTimeout(before.Session.TurnDeadline))

	assert.Empty(t, e.DrainEvents())
	assert.Equal(t, before.Session, e.Snapshot().Session)
}

func TestRestoreEngine_ContinuesSequence(t *testing.T) {
	clock := newFakeClock()
	e := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})
	guess(t, e, "alice", "wrong", 0)
	e.DrainEvents()

	data, err := EncodeSnapshot(e.Snapshot())
	require.NoError(t, err)
	snap, err := DecodeSnapshot(data)
	require.NoError(t, err)

	restored, err := RestoreEngine(snap, testWords(), WithClock(clock.Now))
	require.NoError(t, err)
	assert.Equal(t, e.session.CurrentWord, restored.session.CurrentWord)
	assert.Equal(t, "bob", restored.session.CurrentTurnPlayerID)
	assert.True(t, e.session.TurnDeadline.Equal(restored.session.TurnDeadline))

	clock.Advance(time.Second)
	guess(t, restored, "bob", "wrong", 0)
	events := restored.DrainEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, snap.Seq+1, events[0].Seq)

	_, err = DecodeSnapshot([]byte("{"))
	assert.True(t, errors.Is(err, errors.ErrSnapshotCorrupt))
	_, err = DecodeSnapshot([]byte(`{"version":9}`))
	assert.True(t, errors.Is(err, errors.ErrSnapshotCorrupt))
}

func TestSnapshotPublicHidesWord(t *testing.T) {
	clock := newFakeClock()
	e := startedEngine(t, testConfig(), clock, []string{"alice"}, []string{"bob"})

	full := e.Snapshot()
	pub := full.Public()
	assert.NotEmpty(t, full.Session.CurrentWord)
	assert.Empty(t, pub.Session.CurrentWord)
	assert.Empty(t, pub.Session.UsedWords)
	assert.Equal(t, full.Seq, pub.Seq)

	// 副本互不影响
	pub.Session.Teams[0].Members[0].MistakesRemaining = 0
	assert.Equal(t, 3, e.session.Teams[0].Members[0].MistakesRemaining)
}

// 随机操作序列下的不变量
func TestEngine_RandomActionInvariants(t *testing.T) {
	rnd := rand.New(rand.NewPCG(42, 1024))
	users := []string{"u1", "u2", "u3", "u4", "u5"}

	for run := 0; run < 30; run++ {
		clock := newFakeClock()
		cfg := testConfig()
		cfg.LivesPerPlayer = 1 + rnd.IntN(2)
		cfg.RoundsToWin = 1 + rnd.IntN(3)
		e := newTestEngine(t, cfg, clock)
		for i, u := range users[:4] {
			require.NoError(t, e.JoinTeam(u, []string{"team-1", "team-2"}[i%2]))
		}
		require.NoError(t, e.StartGame(context.Background(), "u1"))
		e.DrainEvents()

		lastSeq := e.seq
		lastRound := e.session.CurrentRound
		lastWon := []int{0, 0}
		var terminal *Snapshot

		for step := 0; step < 60; step++ {
			clock.Advance(time.Duration(1+rnd.IntN(5)) * time.Second)
			s := &e.session
			switch rnd.IntN(6) {
			case 0, 1:
				if req, err := e.BeginGuess(s.CurrentTurnPlayerID, "w"); err == nil {
					_, _ = e.CompleteGuess(req.TicketID, ScoreResult{Score: rnd.Float64()})
				}
			case 2:
				_ = e.TurnTimeout(s.TurnDeadline)
			case 3:
				_ = e.ProcessRevival([]string{"team-1", "team-2"}[rnd.IntN(2)])
			case 4:
				_ = e.JoinTeam(users[rnd.IntN(len(users))], []string{"team-1", "team-2"}[rnd.IntN(2)])
			case 5:
				if rnd.IntN(4) == 0 {
					_ = e.LeaveSession(users[rnd.IntN(len(users))])
				}
			}

			for _, ev := range e.DrainEvents() {
				require.Greater(t, ev.Seq, lastSeq)
				lastSeq = ev.Seq
			}

			s = &e.session
			require.GreaterOrEqual(t, s.CurrentRound, lastRound)
			lastRound = s.CurrentRound
			for i := range s.Teams {
				require.GreaterOrEqual(t, s.Teams[i].RoundsWon, lastWon[i])
				lastWon[i] = s.Teams[i].RoundsWon
			}

			if s.Status == StatusActive && s.Phase == PhasePlaying {
				m, ok := s.Member(s.CurrentTurnPlayerID)
				require.True(t, ok)
				require.True(t, m.Active, "turn holder must be active")
			} else {
				require.Empty(t, s.CurrentTurnPlayerID)
			}

			if s.Status.Terminal() {
				if terminal == nil {
					terminal = e.Snapshot()
				} else {
					require.Equal(t, terminal.Session, e.Snapshot().Session)
				}
			}
		}
	}
}
