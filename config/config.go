// Package config loads the engine's environment-variable configuration
// surface, applying the documented defaults.
package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"b5engine/logger"
)

// Config holds every tunable named by the external interface.
type Config struct {
	Port int

	PaperTF        string
	PaperFactor    string
	PaperFactorMCX string

	PaperCooldown time.Duration
	PaperCycle    time.Duration

	TradeMode         string
	EnableLiveTrading bool

	TrendOnly bool

	MinConfirmation int
	MinRR           float64

	JackpotOnly            bool
	JackpotTouchLookback   time.Duration
	JackpotMinConfirmation int
	JackpotMinRR           float64

	MinVolumeAccel     float64
	MinProbabilityScore int
	MaxSpikePointsMult  float64

	MaxOrdersPerDay    int
	MaxOpenPositions   int
	MaxMarginUsedPct   float64

	SnapshotPath      string
	FirstCloseDBPath  string
	PaperTradeDBPath  string
	ExportDir         string
}

// Load reads .env (best-effort, a missing file is not an error) and
// then the process environment, applying defaults for anything unset.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debugf("no .env file loaded: %v", err)
	}

	minConfirmation := getEnvInt("MIN_CONFIRMATION", 2)
	minRR := getEnvFloat("MIN_RR", 0.5)

	c := &Config{
		Port: getEnvInt("PORT", 8787),

		PaperTF:        getEnvString("PAPER_TF", "5m"),
		PaperFactor:    getEnvString("PAPER_FACTOR", "smart"),
		PaperFactorMCX: getEnvString("PAPER_FACTOR_MCX", "mini"),

		PaperCooldown: time.Duration(getEnvInt("PAPER_COOLDOWN_SEC", 30)) * time.Second,
		PaperCycle:    clampDuration(getEnvInt("PAPER_CYCLE_MS", 1500), 500) * time.Millisecond,

		TradeMode:         getEnvString("TRADE_MODE", "paper"),
		EnableLiveTrading: getEnvBool("ENABLE_LIVE_TRADING", false),

		TrendOnly: getEnvBool("TREND_ONLY", true),

		MinConfirmation: minConfirmation,
		MinRR:           minRR,

		JackpotOnly:          getEnvBool("JACKPOT_ONLY", false),
		JackpotTouchLookback: time.Duration(getEnvInt("JACKPOT_TOUCH_LOOKBACK_SEC", 1800)) * time.Second,

		MinVolumeAccel:      getEnvFloat("MIN_VOLUME_ACCEL", 1.15),
		MinProbabilityScore: getEnvInt("MIN_PROBABILITY_SCORE", 35),
		MaxSpikePointsMult:  getEnvFloat("MAX_SPIKE_POINTS_MULT", 2.5),

		MaxOrdersPerDay:  getEnvInt("MAX_ORDERS_PER_DAY", 2000),
		MaxOpenPositions: getEnvInt("MAX_OPEN_POSITIONS", 100),
		MaxMarginUsedPct: getEnvFloat("MAX_MARGIN_USED_PCT", 80),

		SnapshotPath:     getEnvString("SNAPSHOT_PATH", "./data/snapshot.json"),
		FirstCloseDBPath: getEnvString("FIRSTCLOSE_DB_PATH", "./data/firstclose.db"),
		PaperTradeDBPath: getEnvString("PAPERTRADE_DB_PATH", "./data/papertrade.db"),
		ExportDir:        getEnvString("EXPORT_DIR", "./exports"),
	}

	c.JackpotMinConfirmation = getEnvInt("JACKPOT_MIN_CONFIRMATION", maxInt(minConfirmation, 3))
	c.JackpotMinRR = getEnvFloat("JACKPOT_MIN_RR", math.Max(minRR, 2.2))

	return c
}

func clampDuration(ms, min int) time.Duration {
	if ms < min {
		return time.Duration(min)
	}
	return time.Duration(ms)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func getEnvString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getEnvInt(name string, def int) int {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		logger.Warnf("invalid int env %s=%q, using default %d", name, v, def)
	}
	return def
}

func getEnvFloat(name string, def float64) float64 {
	if v, ok := os.LookupEnv(name); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
		logger.Warnf("invalid float env %s=%q, using default %v", name, v, def)
	}
	return def
}

func getEnvBool(name string, def bool) bool {
	if v, ok := os.LookupEnv(name); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
		logger.Warnf("invalid bool env %s=%q, using default %v", name, v, def)
	}
	return def
}
