// Package config handles station configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level station configuration.
// Maps to the `decoy-station:` root key in YAML.
type GlobalConfig struct {
	Station StationConfig `mapstructure:"station" yaml:"station"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Flow    FlowConfig    `mapstructure:"flow" yaml:"flow"`
	TUN     TUNConfig     `mapstructure:"tun" yaml:"tun"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Stats   StatsConfig   `mapstructure:"stats" yaml:"stats"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ─── Station ───

// StationConfig holds the identity of the station and its shard count.
type StationConfig struct {
	Workers        int      `mapstructure:"workers" yaml:"workers"` // 0 = one per CPU
	PrivateKeyPath string   `mapstructure:"private_key_path" yaml:"private_key_path"`
	DecoyRanges    []string `mapstructure:"decoy_ranges" yaml:"decoy_ranges"`
}

// ─── Capture ───

// CaptureConfig configures the AF_PACKET ingress. Each worker opens its own
// handle in the same fanout group.
type CaptureConfig struct {
	Interface    string `mapstructure:"interface" yaml:"interface"`
	Fanout       bool   `mapstructure:"fanout" yaml:"fanout"`
	FanoutID     uint16 `mapstructure:"fanout_id" yaml:"fanout_id"`
	SnapLen      int    `mapstructure:"snap_len" yaml:"snap_len"`
	RingBufferMB int    `mapstructure:"ring_buffer_mb" yaml:"ring_buffer_mb"` // per worker
	BPFFilter    string `mapstructure:"bpf_filter" yaml:"bpf_filter"`
}

// ─── Flow tracking ───

// FlowConfig configures each shard's flow tables.
type FlowConfig struct {
	PendingTimeout time.Duration `mapstructure:"pending_timeout" yaml:"pending_timeout"`
	TaggedTimeout  time.Duration `mapstructure:"tagged_timeout" yaml:"tagged_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	MaxPending     int           `mapstructure:"max_pending" yaml:"max_pending"` // per shard, 0 = unbounded
}

// ─── Forwarding ───

// TUNConfig names the virtual interface tagged traffic is re-injected on.
type TUNConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	MTU  int    `mapstructure:"mtu" yaml:"mtu"` // 0 = leave as is
}

// ─── Notification ───

// NotifyConfig selects the registration backend. Options are backend
// specific and decoded by the backend itself.
type NotifyConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"` // nats | kafka | discard
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Stats & Metrics ───

// StatsConfig controls the periodic stats line.
type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// rootKey is the YAML root wrapper and, upper-cased, the env prefix.
const rootKey = "decoy-station"

// configRoot is the top-level wrapper matching the YAML structure `decoy-station: ...`.
type configRoot struct {
	Station GlobalConfig `mapstructure:"decoy-station"`
}

// Load loads configuration from file. An empty path loads defaults only.
// Env vars override file values with the DECOY_STATION_ prefix
// (e.g. DECOY_STATION_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// key "decoy-station.log.level" -> env "DECOY_STATION_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Station

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func key(k string) string { return rootKey + "." + k }

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Station defaults
	v.SetDefault(key("station.workers"), 0)
	v.SetDefault(key("station.private_key_path"), "/etc/decoy-station/station.key")
	v.SetDefault(key("station.decoy_ranges"), []string{"192.122.190.0/24"})

	// Capture defaults
	v.SetDefault(key("capture.interface"), "")
	v.SetDefault(key("capture.fanout"), true)
	v.SetDefault(key("capture.fanout_id"), 42)
	v.SetDefault(key("capture.snap_len"), 65535)
	v.SetDefault(key("capture.ring_buffer_mb"), 64)
	v.SetDefault(key("capture.bpf_filter"), "tcp dst port 443")

	// Flow defaults
	v.SetDefault(key("flow.pending_timeout"), "30s")
	v.SetDefault(key("flow.tagged_timeout"), "300s")
	v.SetDefault(key("flow.sweep_interval"), "1s")
	v.SetDefault(key("flow.max_pending"), 0)

	// TUN defaults
	v.SetDefault(key("tun.name"), "tun0")
	v.SetDefault(key("tun.mtu"), 0)

	// Notify defaults
	v.SetDefault(key("notify.type"), "nats")

	// Stats & metrics defaults
	v.SetDefault(key("stats.interval"), "1s")
	v.SetDefault(key("metrics.enabled"), true)
	v.SetDefault(key("metrics.listen"), ":9091")
	v.SetDefault(key("metrics.path"), "/metrics")

	// Log defaults
	v.SetDefault(key("log.level"), "info")
	v.SetDefault(key("log.format"), "json")
	v.SetDefault(key("log.outputs.file.enabled"), false)
	v.SetDefault(key("log.outputs.file.path"), "/var/log/decoy-station/decoy-station.log")
	v.SetDefault(key("log.outputs.file.rotation.max_size_mb"), 100)
	v.SetDefault(key("log.outputs.file.rotation.max_age_days"), 30)
	v.SetDefault(key("log.outputs.file.rotation.max_backups"), 5)
	v.SetDefault(key("log.outputs.file.rotation.compress"), true)
}

var notifyTypes = map[string]bool{"nats": true, "kafka": true, "discard": true}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("log.outputs.file.path is required when file output is enabled")
	}

	// ── Station ──
	if cfg.Station.Workers < 0 {
		return fmt.Errorf("station.workers must be >= 0, got %d", cfg.Station.Workers)
	}
	if cfg.Station.Workers == 0 {
		cfg.Station.Workers = runtime.NumCPU()
	}
	if cfg.Station.PrivateKeyPath == "" {
		return fmt.Errorf("station.private_key_path is required")
	}
	if len(cfg.Station.DecoyRanges) == 0 {
		return fmt.Errorf("station.decoy_ranges must name at least one prefix")
	}
	for _, r := range cfg.Station.DecoyRanges {
		if _, err := netip.ParsePrefix(strings.TrimSpace(r)); err != nil {
			return fmt.Errorf("station.decoy_ranges: %w", err)
		}
	}

	// ── Capture ──
	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("capture.snap_len must be > 0, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Capture.RingBufferMB <= 0 {
		return fmt.Errorf("capture.ring_buffer_mb must be > 0, got %d", cfg.Capture.RingBufferMB)
	}

	// ── Flow ──
	for name, d := range map[string]time.Duration{
		"flow.pending_timeout": cfg.Flow.PendingTimeout,
		"flow.tagged_timeout":  cfg.Flow.TaggedTimeout,
		"flow.sweep_interval":  cfg.Flow.SweepInterval,
		"stats.interval":       cfg.Stats.Interval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if cfg.Flow.MaxPending < 0 {
		return fmt.Errorf("flow.max_pending must be >= 0, got %d", cfg.Flow.MaxPending)
	}

	// ── TUN ──
	if cfg.TUN.Name == "" {
		return fmt.Errorf("tun.name is required")
	}
	if cfg.TUN.MTU < 0 {
		return fmt.Errorf("tun.mtu must be >= 0, got %d", cfg.TUN.MTU)
	}

	// ── Notify ──
	cfg.Notify.Type = strings.ToLower(cfg.Notify.Type)
	if !notifyTypes[cfg.Notify.Type] {
		return fmt.Errorf("unsupported notify.type: %s (must be nats/kafka/discard)", cfg.Notify.Type)
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	return nil
}
