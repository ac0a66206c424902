package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/decoystation/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		level, err := parseLevel(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, level, tt.input)
	}

	for _, bad := range []string{"invalid", "trace", ""} {
		_, err := parseLevel(bad)
		assert.Error(t, err, bad)
	}
}

func TestInitStdoutOnly(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	closer, err := Init(config.LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}

func TestJSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	h, _, err := newHandler(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger := slog.New(h)

	logger.Info("dropped")
	logger.Warn("forward to tun failed", "shard", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "forward to tun failed", rec["msg"])
	assert.Equal(t, float64(3), rec["shard"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	h, _, err := newHandler(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)

	slog.New(h).Debug("decode fault", "shard", 0)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), `msg="decode fault"`)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.log")
	cfg := config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{
			Enabled:  true,
			Path:     path,
			Rotation: config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1},
		}},
	}

	var stdout bytes.Buffer
	h, closer, err := newHandler(cfg, &stdout)
	require.NoError(t, err)
	slog.New(h).Info("tag registered")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tag registered")
	assert.Contains(t, stdout.String(), "tag registered")
}

func TestInitErrors(t *testing.T) {
	_, err := Init(config.LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, err = Init(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)

	_, err = Init(config.LogConfig{
		Level: "info", Format: "json",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
	})
	assert.Error(t, err)
}
