package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
decoy-station:
  station:
    workers: 4
    private_key_path: /tmp/station.key
    decoy_ranges:
      - 192.122.190.0/24
      - 2001:db8:1::/64
  capture:
    interface: eth1
    fanout_id: 7
    ring_buffer_mb: 128
  flow:
    pending_timeout: 10s
    tagged_timeout: 2m
    max_pending: 100000
  tun:
    name: dd0
    mtu: 1500
  notify:
    type: kafka
    options:
      brokers: [k1:9092, k2:9092]
      topic: regs
  stats:
    interval: 5s
  log:
    level: DEBUG
    format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Station.Workers)
	assert.Equal(t, "/tmp/station.key", cfg.Station.PrivateKeyPath)
	assert.Equal(t, []string{"192.122.190.0/24", "2001:db8:1::/64"}, cfg.Station.DecoyRanges)

	assert.Equal(t, "eth1", cfg.Capture.Interface)
	assert.Equal(t, uint16(7), cfg.Capture.FanoutID)
	assert.Equal(t, 128, cfg.Capture.RingBufferMB)
	assert.True(t, cfg.Capture.Fanout)
	assert.Equal(t, 65535, cfg.Capture.SnapLen)

	assert.Equal(t, 10*time.Second, cfg.Flow.PendingTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Flow.TaggedTimeout)
	assert.Equal(t, time.Second, cfg.Flow.SweepInterval)
	assert.Equal(t, 100000, cfg.Flow.MaxPending)

	assert.Equal(t, "dd0", cfg.TUN.Name)
	assert.Equal(t, 1500, cfg.TUN.MTU)

	assert.Equal(t, "kafka", cfg.Notify.Type)
	assert.Equal(t, "regs", cfg.Notify.Options["topic"])

	assert.Equal(t, 5*time.Second, cfg.Stats.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, runtime.NumCPU(), cfg.Station.Workers)
	assert.Equal(t, []string{"192.122.190.0/24"}, cfg.Station.DecoyRanges)
	assert.Equal(t, 30*time.Second, cfg.Flow.PendingTimeout)
	assert.Equal(t, 300*time.Second, cfg.Flow.TaggedTimeout)
	assert.Equal(t, "tun0", cfg.TUN.Name)
	assert.Equal(t, "nats", cfg.Notify.Type)
	assert.Equal(t, time.Second, cfg.Stats.Interval)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9091", cfg.Metrics.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 100, cfg.Log.Outputs.File.Rotation.MaxSizeMB)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DECOY_STATION_LOG_LEVEL", "warn")
	t.Setenv("DECOY_STATION_TUN_NAME", "envtun")
	t.Setenv("DECOY_STATION_FLOW_TAGGED_TIMEOUT", "45s")

	path := writeConfig(t, `
decoy-station:
  tun:
    name: filetun
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "envtun", cfg.TUN.Name)
	assert.Equal(t, 45*time.Second, cfg.Flow.TaggedTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"log level", "log:\n    level: loud", "invalid log level"},
		{"log format", "log:\n    format: xml", "invalid log format"},
		{"workers", "station:\n    workers: -1", "station.workers"},
		{"range", "station:\n    decoy_ranges: [not-a-prefix]", "station.decoy_ranges"},
		{"empty key path", "station:\n    private_key_path: \"\"", "private_key_path"},
		{"timeout", "flow:\n    pending_timeout: 0s", "flow.pending_timeout"},
		{"notify", "notify:\n    type: zmq", "unsupported notify.type"},
		{"tun", "tun:\n    mtu: -5", "tun.mtu"},
		{"snap", "capture:\n    snap_len: 0", "capture.snap_len"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "decoy-station:\n  "+tt.content+"\n")
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateFileOutputNeedsPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Log.Outputs.File.Enabled = true
	cfg.Log.Outputs.File.Path = ""
	assert.ErrorContains(t, cfg.ValidateAndApplyDefaults(), "log.outputs.file.path")
}
