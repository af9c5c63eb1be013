package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/word-duel/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Game.TurnTimeLimit)
	assert.Equal(t, 3, cfg.Game.LivesPerPlayer)
	assert.Equal(t, 2, cfg.Game.TeamCount)
	assert.InDelta(t, 0.8, cfg.Game.SimilarityThreshold, 1e-9)
	assert.NotEmpty(t, cfg.Game.Words["en"])
	assert.Equal(t, "cache", cfg.Store.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Store.SnapshotTTL)
	assert.Equal(t, 1, cfg.Oracle.Retries)
	assert.Equal(t, 5*time.Minute, cfg.Registry.IdleGrace)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
game:
  turn_time_limit: 45s
  lives_per_player: 2
  words:
    fr: [maison, soleil]
store:
  backend: memory
`)
	t.Setenv("WORD_DUEL_GAME_ROUNDS_TO_WIN", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Game.TurnTimeLimit)
	assert.Equal(t, 2, cfg.Game.LivesPerPlayer)
	assert.Equal(t, 5, cfg.Game.RoundsToWin)
	assert.Equal(t, []string{"maison", "soleil"}, cfg.Game.Words["fr"])
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestValidateRejectsImpossibleValues(t *testing.T) {
	cases := map[string]string{
		"turn limit": "game:\n  turn_time_limit: 0s\n",
		"lives":      "game:\n  lives_per_player: 0\n",
		"rounds":     "game:\n  rounds_to_win: 0\n",
		"teams":      "game:\n  team_count: 1\n",
		"threshold":  "game:\n  similarity_threshold: 1.5\n",
		"backend":    "store:\n  backend: redis\n",
		"oracle url": "oracle:\n  enabled: true\n  url: \"\"\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "WORD_DUEL_DOTENV_TEST_KEY"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-dotenv\n"), 0o644))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv(key))

	// 文件不存在时不报错
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, LoadDotEnv(""))
}

func TestLoadErrorCodes(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigLoad))

	_, err = Load(writeConfig(t, "game:\n  lives_per_player: many\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigParse))
}
