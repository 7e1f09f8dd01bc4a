package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the loaded configuration fails validation.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Source    SourceConfig    `yaml:"source"`
	Views     ViewsConfig     `yaml:"views"`
	Output    OutputConfig    `yaml:"output"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Retention RetentionConfig `yaml:"retention"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
	Filter    FilterConfig    `yaml:"filter"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig selects the fact store engine.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite duckdb"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// SourceConfig configures where the daily chart comes from.
type SourceConfig struct {
	Kind       string   `yaml:"kind" validate:"oneof=api feed"`
	APIKey     string   `yaml:"api_key"`
	BaseURL    string   `yaml:"base_url"`
	Region     string   `yaml:"region" validate:"len=2"`
	MaxResults int      `yaml:"max_results" validate:"gt=0,lte=200"`
	Channels   []string `yaml:"channels"`
	Timezone   string   `yaml:"timezone"`
	ArchiveDir string   `yaml:"archive_dir"`
	Timeout    string   `yaml:"timeout"`
}

// ParseTimeout returns the HTTP timeout for source requests.
func (s SourceConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Location resolves the timezone used to pick the snapshot date.
func (s SourceConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", s.Timezone, err)
	}
	return loc, nil
}

// ViewsConfig configures the derived views.
type ViewsConfig struct {
	TopLimit    int `yaml:"top_limit" validate:"gt=0"`
	Parallelism int `yaml:"parallelism" validate:"gte=1,lte=5"`
}

// OutputConfig configures where artifacts are written.
type OutputConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// ScheduleConfig configures the daemon's cron trigger.
type ScheduleConfig struct {
	Cron       string `yaml:"cron" validate:"required"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// RetentionConfig bounds fact table growth. Zero days keeps everything.
type RetentionConfig struct {
	Days int `yaml:"days" validate:"gte=0"`
}

// AlertsConfig configures digest destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// FilterConfig excludes videos before they are ranked and stored.
type FilterConfig struct {
	ExcludeKeywords []string `yaml:"exclude_keywords"`
	ExcludeChannels []string `yaml:"exclude_channels"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=json console"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "./tubepulse.db"},
		Source: SourceConfig{
			Kind:       "api",
			BaseURL:    "https://www.googleapis.com/youtube/v3",
			Region:     "NG",
			MaxResults: 50,
			Timeout:    "30s",
		},
		Views:    ViewsConfig{TopLimit: 10, Parallelism: 5},
		Output:   OutputConfig{Dir: "./results"},
		Schedule: ScheduleConfig{Cron: "0 6 * * *"},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Encoding: "json"},
	}
}

// Load reads configuration from a YAML file, applies env var overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Source.Kind == "feed" && len(c.Source.Channels) == 0 {
		return fmt.Errorf("%w: source.channels required for feed source", ErrInvalid)
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Source.APIKey = v
	}
	if v := os.Getenv("TUBEPULSE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TUBEPULSE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TUBEPULSE_REGION"); v != "" {
		cfg.Source.Region = v
	}
	if v := os.Getenv("TUBEPULSE_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("TUBEPULSE_TOP_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Views.TopLimit = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_ENCODING"); v != "" {
		cfg.Log.Encoding = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
