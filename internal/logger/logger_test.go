package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer and restores the
// previous settings when the test ends.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	origOutput, origColor := output, useColor
	mu.Unlock()
	origLevel := currentLevel.Load()
	origFormat := currentFormat.Load()

	InitWithWriter(buf, "", "", false)
	t.Cleanup(func() {
		mu.Lock()
		output, useColor = origOutput, origColor
		mu.Unlock()
		currentLevel.Store(origLevel)
		currentFormat.Store(origFormat)
		reconfigure()
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{"DEBUG", []string{"debug message", "info message", "warn message", "error message"}, nil},
		{"INFO", []string{"info message", "warn message", "error message"}, []string{"debug message"}},
		{"warn", []string{"warn message", "error message"}, []string{"debug message", "info message"}},
		{"ERROR", []string{"error message"}, []string{"debug message", "info message", "warn message"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := captureOutput(t)
			require.NoError(t, SetLevel(tt.level))

			Debug("debug message")
			Info("info message")
			Warn("warn message")
			Error("error message")

			out := buf.String()
			for _, s := range tt.visible {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.hidden {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestInvalidSettings(t *testing.T) {
	captureOutput(t)
	require.NoError(t, SetLevel("INFO"))

	assert.Error(t, SetLevel("LOUD"))
	assert.Equal(t, int32(LevelInfo), currentLevel.Load(), "invalid level is ignored")
	assert.Error(t, SetFormat("xml"))
	assert.Error(t, Init(Config{Level: "verbose"}))
}

func TestTextFormat(t *testing.T) {
	buf := captureOutput(t)
	require.NoError(t, SetFormat("text"))

	Info("scan finished", KeyPath, "/usr/lib/a b.so", "scanned", 3, KeyDuration, 1500*time.Millisecond)

	line := buf.String()
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[INFO\] scan finished`, line)
	assert.Contains(t, line, `path="/usr/lib/a b.so"`)
	assert.Contains(t, line, "scanned=3")
	assert.Contains(t, line, "duration=1.5s")
	assert.NotContains(t, line, "\033[")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	require.NoError(t, SetFormat("json"))

	Warn("worker killed", KeyPid, 42)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "worker killed", rec["msg"])
	assert.Equal(t, float64(42), rec["pid"])
}

func TestContextFields(t *testing.T) {
	buf := captureOutput(t)
	require.NoError(t, SetFormat("text"))

	ctx := WithContext(context.Background(), &LogContext{Session: "abc", Command: "scan"})
	InfoCtx(ctx, "starting", KeyRoot, "/opt")

	line := buf.String()
	assert.Contains(t, line, "session=abc command=scan root=/opt")

	buf.Reset()
	InfoCtx(context.Background(), "no context")
	assert.NotContains(t, buf.String(), "session=")
	assert.Nil(t, FromContext(context.Background()))
}

func TestWithAndGroups(t *testing.T) {
	buf := captureOutput(t)
	require.NoError(t, SetFormat("text"))

	l := With(KeySession, "s1").WithGroup("job")
	l.Info("resolved", "tag", 7, slog.Group("result", "outcome", "placeholder"))
	l.Error("failed", "error", errors.New("broken pipe"))

	out := buf.String()
	assert.Contains(t, out, "session=s1 job.tag=7 job.result.outcome=placeholder")
	assert.Contains(t, out, `job.error="broken pipe"`)
}

func TestColorOutput(t *testing.T) {
	buf := new(bytes.Buffer)
	h := NewColorTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}, true)
	slog.New(h).Debug("hello", "k", "v")

	assert.Contains(t, buf.String(), colorGray+"DEBUG"+colorReset)
	assert.Contains(t, buf.String(), colorCyan+"k"+colorReset+"=v")
}

func TestInitFileOutput(t *testing.T) {
	captureOutput(t)
	path := filepath.Join(t.TempDir(), "plugscan.log")

	require.NoError(t, Init(Config{Level: "DEBUG", Format: "text", Output: path}))
	t.Cleanup(func() { _ = Init(Config{Output: "stderr"}) })
	Debug("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.NotContains(t, string(data), "\033[", "files are never colored")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}
