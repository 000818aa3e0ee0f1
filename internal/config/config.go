// Package config provides configuration management for the wearsync server.
// It handles loading and parsing YAML configuration files and exposes structured
// access to the OAuth provider settings, webhook ingestion tuning, alert thresholds
// and the optional Redis ledger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort                = 8317
	DefaultSessionTTL          = 15 * time.Minute
	DefaultSessionSweep        = 15 * time.Minute
	DefaultTokenTimeout        = 15 * time.Second
	DefaultReplayWindow        = 300 * time.Second
	DefaultMaxAttempts         = 3
	DefaultPollInterval        = time.Second
	DefaultMaxBodyBytes  int64 = 5 << 20
	DefaultStatsRetention      = 24 * time.Hour
	DefaultStressThreshold     = 80
	DefaultSleepMinimumHours   = 5.0
	DefaultEnergyThreshold     = 20
)

// Config is the root configuration loaded from config.yaml.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Host is the interface the HTTP server binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the HTTP listen port.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to rotating files under the log directory instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the total size of the log directory. <= 0 disables the cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// DataDir holds tokens, the queue spool, dead-letter logs and the local record store.
	DataDir string `yaml:"data-dir" json:"data-dir"`

	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Webhook  WebhookConfig  `yaml:"webhook" json:"webhook"`
	Alerts   AlertConfig    `yaml:"alerts" json:"alerts"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
}

// WebhookConfig tunes the push ingestion pipeline.
type WebhookConfig struct {
	// Secret is the HMAC shared secret. Empty enables relaxed mode (no verification).
	Secret string `yaml:"secret" json:"-"`

	// ReplayWindowSeconds bounds |now - timestamp| for signed pushes.
	ReplayWindowSeconds int `yaml:"replay-window-seconds" json:"replay-window-seconds"`

	// MaxAttempts is the per-item attempt ceiling before dead-lettering.
	MaxAttempts int `yaml:"max-attempts" json:"max-attempts"`

	// PollIntervalMillis is how often the processor checks for pending work.
	PollIntervalMillis int `yaml:"poll-interval-ms" json:"poll-interval-ms"`

	// Workers is the number of items the processor handles concurrently per tick.
	Workers int `yaml:"workers" json:"workers"`

	// MaxBodyBytes limits the decoded webhook body size.
	MaxBodyBytes int64 `yaml:"max-body-bytes" json:"max-body-bytes"`

	// StatsRetentionHours bounds how far back the stats endpoint can look.
	StatsRetentionHours int `yaml:"stats-retention-hours" json:"stats-retention-hours"`
}

// AlertConfig holds the real-time alert thresholds.
type AlertConfig struct {
	StressThreshold   int     `yaml:"stress-threshold" json:"stress-threshold"`
	SleepMinimumHours float64 `yaml:"sleep-minimum-hours" json:"sleep-minimum-hours"`
	EnergyThreshold   int     `yaml:"energy-threshold" json:"energy-threshold"`

	// NotifyURL optionally receives alerts as JSON POSTs in addition to the log notifier.
	NotifyURL string `yaml:"notify-url" json:"notify-url"`
}

// RedisConfig enables the shared used-code ledger when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`

	// UsedCodeTTLHours expires ledger keys. 0 keeps them forever.
	UsedCodeTTLHours int `yaml:"used-code-ttl-hours" json:"used-code-ttl-hours"`
}

// LoadConfig reads and parses the YAML configuration file at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration file. When optional is true a missing
// or empty file yields a defaulted configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			cfg.Sanitize()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			if optional {
				empty := &Config{}
				empty.Sanitize()
				empty.applyEnv()
				return empty, nil
			}
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.Sanitize()
	cfg.applyEnv()
	return &cfg, nil
}

// Sanitize trims string fields and fills defaults for unset values.
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.ProxyURL = strings.TrimSpace(cfg.ProxyURL)
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	cfg.Provider.sanitize()

	w := &cfg.Webhook
	w.Secret = strings.TrimSpace(w.Secret)
	if w.ReplayWindowSeconds <= 0 {
		w.ReplayWindowSeconds = int(DefaultReplayWindow / time.Second)
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = DefaultMaxAttempts
	}
	if w.PollIntervalMillis <= 0 {
		w.PollIntervalMillis = int(DefaultPollInterval / time.Millisecond)
	}
	if w.Workers <= 0 {
		w.Workers = 1
	}
	if w.MaxBodyBytes <= 0 {
		w.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if w.StatsRetentionHours <= 0 {
		w.StatsRetentionHours = int(DefaultStatsRetention / time.Hour)
	}

	a := &cfg.Alerts
	a.NotifyURL = strings.TrimSpace(a.NotifyURL)
	if a.StressThreshold <= 0 {
		a.StressThreshold = DefaultStressThreshold
	}
	if a.SleepMinimumHours <= 0 {
		a.SleepMinimumHours = DefaultSleepMinimumHours
	}
	if a.EnergyThreshold <= 0 {
		a.EnergyThreshold = DefaultEnergyThreshold
	}

	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	if cfg.Redis.UsedCodeTTLHours < 0 {
		cfg.Redis.UsedCodeTTLHours = 0
	}
}

// applyEnv lets deployments keep secrets out of the YAML file.
func (cfg *Config) applyEnv() {
	if v, ok := os.LookupEnv("WEARSYNC_CLIENT_SECRET"); ok && strings.TrimSpace(v) != "" {
		cfg.Provider.ClientSecret = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("WEARSYNC_WEBHOOK_SECRET"); ok && strings.TrimSpace(v) != "" {
		cfg.Webhook.Secret = strings.TrimSpace(v)
	}
}

// ReplayWindow returns the webhook timestamp tolerance.
func (w WebhookConfig) ReplayWindow() time.Duration {
	return time.Duration(w.ReplayWindowSeconds) * time.Second
}

// PollInterval returns the processor tick interval.
func (w WebhookConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMillis) * time.Millisecond
}

// StatsRetention returns how long outcome events are kept for the stats endpoint.
func (w WebhookConfig) StatsRetention() time.Duration {
	return time.Duration(w.StatsRetentionHours) * time.Hour
}

// UsedCodeTTL returns the Redis ledger key expiry; zero means no expiry.
func (r RedisConfig) UsedCodeTTL() time.Duration {
	return time.Duration(r.UsedCodeTTLHours) * time.Hour
}
