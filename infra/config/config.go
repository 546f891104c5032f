// Package config loads warden's configuration through viper: defaults,
// an optional YAML file, and WARDEN_* environment overrides.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Config is the complete warden configuration.
type Config struct {
	Reclaim   ReclaimConfig   `mapstructure:"reclaim"`
	Mask      MaskConfig      `mapstructure:"mask"`
	Arena     ArenaConfig     `mapstructure:"arena"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ReclaimConfig controls the epoch reclaimer's rotation loop.
type ReclaimConfig struct {
	// MinRotate is the sleep between automatic rotations.
	MinRotate time.Duration `mapstructure:"min_rotate"`
	// MaxRotate bounds how long a manual-mode loop parks before re-checking.
	MaxRotate time.Duration `mapstructure:"max_rotate"`
	// Manual starts the reclaimer in manual-only mode.
	Manual bool `mapstructure:"manual"`
}

type MaskConfig struct {
	// LimitBits caps mask growth; 0 means unbounded.
	LimitBits uint64 `mapstructure:"limit_bits"`
}

type ArenaConfig struct {
	// Allocator is "heap" or "mmap".
	Allocator string `mapstructure:"allocator"`
}

type JournalConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

type BroadcastConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Driver is "sarama" or "kafka-go".
	Driver   string        `mapstructure:"driver"`
	Brokers  []string      `mapstructure:"brokers"`
	Topic    string        `mapstructure:"topic"`
	Interval time.Duration `mapstructure:"interval"`
}

type SnapshotConfig struct {
	Dir string `mapstructure:"dir"`
	// Interval between dumps; 0 disables the job.
	Interval time.Duration `mapstructure:"interval"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	// Addr serves /metrics; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Reclaim: ReclaimConfig{
			MinRotate: 10 * time.Millisecond,
			MaxRotate: time.Second,
		},
		Arena:   ArenaConfig{Allocator: "heap"},
		Journal: JournalConfig{Enabled: true, Dir: "./warden_journal"},
		Broadcast: BroadcastConfig{
			Driver:   "sarama",
			Brokers:  []string{"localhost:9092"},
			Topic:    "warden.lifecycle",
			Interval: 250 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{Dir: "./warden_snapshot"},
		GRPC:     GRPCConfig{Addr: ":50051"},
		Metrics:  MetricsConfig{Addr: ":9090"},
		Log:      LogConfig{Level: "info"},
	}
}

// SetDefaults registers Default with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("reclaim.min_rotate", d.Reclaim.MinRotate)
	v.SetDefault("reclaim.max_rotate", d.Reclaim.MaxRotate)
	v.SetDefault("reclaim.manual", d.Reclaim.Manual)

	v.SetDefault("mask.limit_bits", d.Mask.LimitBits)
	v.SetDefault("arena.allocator", d.Arena.Allocator)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.dir", d.Journal.Dir)
	v.SetDefault("journal.in_memory", d.Journal.InMemory)

	v.SetDefault("broadcast.enabled", d.Broadcast.Enabled)
	v.SetDefault("broadcast.driver", d.Broadcast.Driver)
	v.SetDefault("broadcast.brokers", d.Broadcast.Brokers)
	v.SetDefault("broadcast.topic", d.Broadcast.Topic)
	v.SetDefault("broadcast.interval", d.Broadcast.Interval)

	v.SetDefault("snapshot.dir", d.Snapshot.Dir)
	v.SetDefault("snapshot.interval", d.Snapshot.Interval)

	v.SetDefault("grpc.addr", d.GRPC.Addr)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("log.level", d.Log.Level)
}

// NewViper returns a viper instance with defaults, env binding, and the
// optional config file at path.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

var (
	validAllocators = []string{"heap", "mmap"}
	validDrivers    = []string{"sarama", "kafka-go"}
	validLevels     = []string{"debug", "info", "warn", "error"}
)

// Validate reports every invalid setting.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Reclaim.MinRotate <= 0 {
		add("reclaim.min_rotate", c.Reclaim.MinRotate, "must be positive")
	}
	if c.Reclaim.MaxRotate < c.Reclaim.MinRotate {
		add("reclaim.max_rotate", c.Reclaim.MaxRotate, "must be at least reclaim.min_rotate")
	}
	if c.Mask.LimitBits%64 != 0 {
		add("mask.limit_bits", c.Mask.LimitBits, "must be a multiple of 64")
	}
	if !slices.Contains(validAllocators, c.Arena.Allocator) {
		add("arena.allocator", c.Arena.Allocator, "must be one of "+strings.Join(validAllocators, ", "))
	}
	if c.Journal.Enabled && !c.Journal.InMemory && c.Journal.Dir == "" {
		add("journal.dir", c.Journal.Dir, "required unless journal.in_memory is set")
	}
	if c.Broadcast.Enabled {
		if !c.Journal.Enabled {
			add("broadcast.enabled", true, "requires journal.enabled")
		}
		if !slices.Contains(validDrivers, c.Broadcast.Driver) {
			add("broadcast.driver", c.Broadcast.Driver, "must be one of "+strings.Join(validDrivers, ", "))
		}
		if len(c.Broadcast.Brokers) == 0 {
			add("broadcast.brokers", c.Broadcast.Brokers, "at least one broker required")
		}
		if c.Broadcast.Topic == "" {
			add("broadcast.topic", c.Broadcast.Topic, "required")
		}
		if c.Broadcast.Interval <= 0 {
			add("broadcast.interval", c.Broadcast.Interval, "must be positive")
		}
	}
	if c.Snapshot.Interval < 0 {
		add("snapshot.interval", c.Snapshot.Interval, "must not be negative")
	}
	if c.Snapshot.Interval > 0 && c.Snapshot.Dir == "" {
		add("snapshot.dir", c.Snapshot.Dir, "required when snapshot.interval is set")
	}
	if c.GRPC.Addr == "" {
		add("grpc.addr", c.GRPC.Addr, "required")
	}
	if !slices.Contains(validLevels, strings.ToLower(c.Log.Level)) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(validLevels, ", "))
	}
	return errs
}
