package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Betting HTTP API
	HTTPHost string
	HTTPPort int

	// Leaderboard websocket stream (0 disables)
	FanoutPort int

	// Sessions
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Admission
	AdmissionConfigPath string // optional YAML overrides, see LoadAdmissionLimits

	// Stake journal (empty disables)
	JournalPath string

	// How long shutdown waits for in-flight work to drain.
	ShutdownDrain time.Duration

	// Telemetry
	LogLevel string

	// Ops alerts (empty disables)
	DiscordWebhookURL string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPHost: envStr("HTTP_HOST", "0.0.0.0"),
		HTTPPort: envInt("HTTP_PORT", 8001),

		FanoutPort: envInt("FANOUT_PORT", 8002),

		SessionTTL:           time.Duration(envInt("SESSION_TTL_SEC", 600)) * time.Second,
		SessionSweepInterval: time.Duration(envInt("SESSION_SWEEP_SEC", 60)) * time.Second,

		AdmissionConfigPath: envStr("ADMISSION_CONFIG_PATH", ""),

		JournalPath: envStr("JOURNAL_PATH", "data/stake_journal.db"),

		ShutdownDrain: time.Duration(envInt("SHUTDOWN_DRAIN_SEC", 60)) * time.Second,

		LogLevel: envStr("LOG_LEVEL", "info"),

		DiscordWebhookURL: envStr("DISCORD_WEBHOOK_URL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
