// Package config loads kernel configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level kernel configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// ListenAddr is the HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`

	// MoneyTargetCents is the money-delta HIGH threshold.
	MoneyTargetCents int64 `yaml:"money_target_cents"`

	// MaxCommitAttempts bounds the optimistic-concurrency retry loop.
	MaxCommitAttempts int `yaml:"max_commit_attempts"`

	Scheduler Scheduler `yaml:"scheduler"`
}

// Scheduler holds governance cadence timing.
type Scheduler struct {
	Interval Duration `yaml:"interval"`
	DayStart string   `yaml:"day_start"`
	DayEnd   string   `yaml:"day_end"`
}

// Duration decodes YAML duration strings like "15m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DBPath:            "deltakernel.db",
		ListenAddr:        "127.0.0.1:3001",
		MoneyTargetCents:  10_000,
		MaxCommitAttempts: 2,
		Scheduler: Scheduler{
			Interval: Duration(15 * time.Minute),
			DayStart: "04:30",
			DayEnd:   "21:30",
		},
	}
}

// Load reads a YAML config file, filling unset fields from Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.MaxCommitAttempts < 1 {
		return fmt.Errorf("max_commit_attempts must be at least 1")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	for _, hm := range []string{c.Scheduler.DayStart, c.Scheduler.DayEnd} {
		if _, err := time.Parse("15:04", hm); err != nil {
			return fmt.Errorf("invalid boundary time %q", hm)
		}
	}
	return nil
}
