package config

import "time"

// Config is the root configuration for the Questlock engine daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Remote    RemoteConfig    `yaml:"remote"`
	Session   SessionConfig   `yaml:"session"`
	Sync      SyncConfig      `yaml:"sync"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Basic-auth credentials protecting /metrics.
	MetricsUser string `yaml:"metrics_user"`
	MetricsPass string `yaml:"metrics_pass"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig seeds the signed-in user. Both fields empty means the
// device runs local-only and never syncs.
type SessionConfig struct {
	UserID string `yaml:"user_id"`
	Token  string `yaml:"token"`
}

type SyncConfig struct {
	PullWindowDays int           `yaml:"pull_window_days"`
	FanOut         int           `yaml:"fan_out"`
	Debounce       time.Duration `yaml:"debounce"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8710,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Path:          "~/.config/questlock/questlock.db",
			RetentionDays: 30,
		},
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			PullWindowDays: 90,
			FanOut:         4,
			Debounce:       2 * time.Second,
			RunTimeout:     time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}
