package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admission.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAdmissionLimits_EmptyPathUsesDefaults(t *testing.T) {
	limits, err := LoadAdmissionLimits("")
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), limits.CoreWorkers)
	assert.Equal(t, 2*runtime.NumCPU(), limits.MaxWorkers)
	assert.Equal(t, 5000, limits.QueueCapacity)
	assert.Equal(t, 60*time.Second, limits.IdleTimeout())
}

func TestLoadAdmissionLimits_Overrides(t *testing.T) {
	path := writeYAML(t, "core_workers: 3\nmax_workers: 5\nqueue_capacity: 10\nidle_timeout_sec: 2\n")

	limits, err := LoadAdmissionLimits(path)
	require.NoError(t, err)
	assert.Equal(t, AdmissionLimits{CoreWorkers: 3, MaxWorkers: 5, QueueCapacity: 10, IdleTimeoutSec: 2}, limits)
}

func TestLoadAdmissionLimits_PartialOverride(t *testing.T) {
	core := runtime.NumCPU() * 4
	path := writeYAML(t, fmt.Sprintf("core_workers: %d\n", core))

	limits, err := LoadAdmissionLimits(path)
	require.NoError(t, err)
	assert.Equal(t, core, limits.CoreWorkers)
	assert.Equal(t, core*2, limits.MaxWorkers, "max follows a raised core")
	assert.Equal(t, 5000, limits.QueueCapacity)
}

func TestLoadAdmissionLimits_Errors(t *testing.T) {
	_, err := LoadAdmissionLimits(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadAdmissionLimits(writeYAML(t, "core_workers: [1, 2\n"))
	assert.Error(t, err)

	_, err = LoadAdmissionLimits(writeYAML(t, "core_workers: 8\nmax_workers: 4\n"))
	assert.ErrorContains(t, err, "below core_workers")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("SESSION_TTL_SEC", "30")
	t.Setenv("SHUTDOWN_DRAIN_SEC", "not-a-number")
	t.Setenv("JOURNAL_PATH", "/tmp/j.db")

	cfg := Load()
	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.SessionTTL)
	assert.Equal(t, 60*time.Second, cfg.ShutdownDrain, "bad values fall back")
	assert.Equal(t, "/tmp/j.db", cfg.JournalPath)
}
