package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWriter_PrefixesCompleteLines(t *testing.T) {
	var out bytes.Buffer
	w := NewLineWriter(&out)
	w.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	_, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, "line=1 time=2024-05-01T10:00:00Z first\n", out.String())

	_, err = w.Write([]byte("ond\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "line=2 time=2024-05-01T10:00:00Z second", lines[1])
	assert.Equal(t, "line=3 time=2024-05-01T10:00:00Z tail", lines[2])
}

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("batch", "b1").WithGroup("queue")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	logger.Debug("queue dispatch", "id", "x")
	logger.Warn("queue error", "id", "y")

	assert.Contains(t, debugBuf.String(), "queue dispatch")
	assert.Contains(t, debugBuf.String(), "queue error")
	assert.Contains(t, debugBuf.String(), "batch=b1")
	assert.Contains(t, debugBuf.String(), "queue.id=x")
	assert.NotContains(t, warnBuf.String(), "queue dispatch")
	assert.Contains(t, warnBuf.String(), "queue.id=y")
}

func TestNew_WritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "photoqueue.log")

	logger, closer, err := New(Options{Level: slog.LevelInfo, Console: &console, File: logFile})
	require.NoError(t, err)

	logger.Info("queue start", "items", 3)
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "queue start")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "line=1")
	assert.Contains(t, string(data), `msg="queue start" items=3`)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
