package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	c := Load()
	assert.Equal(t, 8787, c.Port)
	assert.Equal(t, "5m", c.PaperTF)
	assert.Equal(t, "smart", c.PaperFactor)
	assert.Equal(t, "mini", c.PaperFactorMCX)
	assert.Equal(t, 30*time.Second, c.PaperCooldown)
	assert.Equal(t, 1500*time.Millisecond, c.PaperCycle)
	assert.Equal(t, "paper", c.TradeMode)
	assert.False(t, c.EnableLiveTrading)
	assert.Equal(t, 2, c.MinConfirmation)
	assert.InDelta(t, 0.5, c.MinRR, 1e-9)
}

func TestLoad_JackpotDefaultsDeriveFromMinThresholds(t *testing.T) {
	t.Setenv("MIN_CONFIRMATION", "5")
	t.Setenv("MIN_RR", "3.0")
	c := Load()
	assert.Equal(t, 5, c.JackpotMinConfirmation)
	assert.InDelta(t, 3.0, c.JackpotMinRR, 1e-9)
}

func TestLoad_JackpotDefaultsFloorWhenMinThresholdsAreLow(t *testing.T) {
	t.Setenv("MIN_CONFIRMATION", "1")
	t.Setenv("MIN_RR", "0.1")
	c := Load()
	assert.Equal(t, 3, c.JackpotMinConfirmation)
	assert.InDelta(t, 2.2, c.JackpotMinRR, 1e-9)
}

func TestLoad_PaperCycleClampsBelowFloor(t *testing.T) {
	t.Setenv("PAPER_CYCLE_MS", "100")
	c := Load()
	assert.Equal(t, 500*time.Millisecond, c.PaperCycle)
}

func TestLoad_EnvOverridesString(t *testing.T) {
	t.Setenv("PAPER_TF", "1m")
	t.Setenv("JACKPOT_ONLY", "true")
	c := Load()
	assert.Equal(t, "1m", c.PaperTF)
	assert.True(t, c.JackpotOnly)
}

func TestLoad_InvalidIntEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	c := Load()
	assert.Equal(t, 8787, c.Port)
}
