package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrettyHandler_LevelsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo)
	t.Cleanup(func() { InitWriter(&bytes.Buffer{}, slog.LevelInfo) })

	Debugf("hidden %d", 1)
	Infof("started %s", "ok")
	Warnf("slow")
	L().With("bet", 7).Error("boom", "customer", 1001)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], "] started ok"), lines[0])
	assert.Contains(t, lines[1], "] WARN: slow")
	assert.True(t, strings.HasSuffix(lines[2], "ERROR: boom  bet=7  customer=1001"), lines[2])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
}

func TestLatencyTracker_KeepsRecentSamples(t *testing.T) {
	lt := NewLatencyTracker(4)
	assert.Zero(t, lt.P50())

	for _, ms := range []int{100, 100, 100, 100, 1, 2, 3, 4} {
		lt.Record(time.Duration(ms) * time.Millisecond)
	}
	assert.Equal(t, 2*time.Millisecond, lt.P50())
	assert.Equal(t, 3*time.Millisecond, lt.P99())
}

func TestCounterAndGauge(t *testing.T) {
	var c Counter
	c.Inc()
	c.Add(4)
	assert.Equal(t, int64(5), c.Value())

	var g Gauge
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	assert.Equal(t, int64(2), g.Value())
}
