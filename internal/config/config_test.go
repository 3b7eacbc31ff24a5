package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	clearEnv(t, "HOST", "PORT", "ENABLE_CORS", "MM_SKILL_TOLERANCE", "ROOM_PAUSE_TIMEOUT")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.EnableCORS)
	assert.Equal(t, 200, cfg.Matchmaker.SkillTolerance)
	assert.Equal(t, 30*time.Second, cfg.Room.PauseTimeout)
}

func TestLoadHonorsEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9001")
	t.Setenv("MM_SKILL_TOLERANCE", "75")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, 75, cfg.Matchmaker.SkillTolerance)
}

func TestScoreLimitForModeByMode(t *testing.T) {
	assert.Equal(t, 3, ScoreLimitForMode(ModeCasual))
	assert.Equal(t, 5, ScoreLimitForMode(ModeRanked))
	assert.Equal(t, 0, ScoreLimitForMode(ModeTournament))
}

func TestTimeLimitForModeByMode(t *testing.T) {
	assert.Equal(t, 300*time.Second, TimeLimitForMode(ModeCasual))
	assert.Equal(t, 600*time.Second, TimeLimitForMode(ModeRanked))
	assert.Equal(t, 900*time.Second, TimeLimitForMode(ModeTournament))
}
