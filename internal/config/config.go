// Package config reads ~/.duet/config.toml and overlays DUET_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents the global ~/.duet/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session" env:"DUET_SESSION"`
	MetricsAddr    string   `toml:"metrics_addr" env:"DUET_METRICS_ADDR"`
	Backend        Backend  `toml:"backend"`
	Realtime       Realtime `toml:"realtime"`
	Chat           Chat     `toml:"chat"`
}

// Backend locates the hosted platform.
type Backend struct {
	URL         string `toml:"url" env:"DUET_BACKEND_URL"`
	AnonKey     string `toml:"anon_key" env:"DUET_ANON_KEY"`
	AccessToken string `toml:"access_token" env:"DUET_ACCESS_TOKEN"`
}

// Realtime tunes the socket and the reconnection policy.
type Realtime struct {
	MaxAttempts       int      `toml:"max_attempts" env:"DUET_REALTIME_MAX_ATTEMPTS"`
	BaseDelay         Duration `toml:"base_delay" env:"DUET_REALTIME_BASE_DELAY"`
	HeartbeatInterval Duration `toml:"heartbeat_interval" env:"DUET_REALTIME_HEARTBEAT_INTERVAL"`
	JoinTimeout       Duration `toml:"join_timeout" env:"DUET_REALTIME_JOIN_TIMEOUT"`
}

// Chat tunes conversations.
type Chat struct {
	PageSize     int      `toml:"page_size" env:"DUET_CHAT_PAGE_SIZE"`
	TypingIdle   Duration `toml:"typing_idle" env:"DUET_CHAT_TYPING_IDLE"`
	TypingExpiry Duration `toml:"typing_expiry" env:"DUET_CHAT_TYPING_EXPIRY"`
}

// Duration is a time.Duration written as "2s" in TOML and the environment.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Realtime: Realtime{
			MaxAttempts:       3,
			BaseDelay:         Duration{time.Second},
			HeartbeatInterval: Duration{25 * time.Second},
			JoinTimeout:       Duration{10 * time.Second},
		},
		Chat: Chat{
			PageSize:     20,
			TypingIdle:   Duration{2 * time.Second},
			TypingExpiry: Duration{3 * time.Second},
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve is Load with a missing file treated as empty, followed by the
// environment overlay and validation.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Realtime.MaxAttempts < 0 {
		return fmt.Errorf("realtime.max_attempts must be >= 0, got %d", c.Realtime.MaxAttempts)
	}
	if c.Realtime.BaseDelay.Duration <= 0 {
		return fmt.Errorf("realtime.base_delay must be positive")
	}
	if c.Chat.PageSize <= 0 {
		return fmt.Errorf("chat.page_size must be positive, got %d", c.Chat.PageSize)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
