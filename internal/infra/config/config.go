// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Engine     EngineConfig     `yaml:"engine"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Navigation NavigationConfig `yaml:"navigation"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// APIConfig represents control API configuration.
type APIConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// CatalogConfig represents the track catalog source.
type CatalogConfig struct {
	Path       string `yaml:"path" validate:"required"`
	EnrichTags bool   `yaml:"enrich_tags"`
}

// EngineConfig represents the playback engine selection.
// Settings are engine-specific and decoded by the engine itself.
type EngineConfig struct {
	Type             string         `yaml:"type" default:"simulated" validate:"oneof=beep simulated"`
	StatusIntervalMs int            `yaml:"status_interval_ms" default:"250" validate:"gte=10,lte=10000"`
	Settings         map[string]any `yaml:"settings"`
}

// PlaybackConfig represents playback session configuration.
type PlaybackConfig struct {
	InitialVolume    float64 `yaml:"initial_volume" default:"0.8" validate:"gte=0,lte=1"`
	CommandTimeoutMs int     `yaml:"command_timeout_ms" default:"3000" validate:"gte=0,lte=60000"`
	EventBuffer      int     `yaml:"event_buffer" default:"64" validate:"gte=1,lte=4096"`
	Repeat           bool    `yaml:"repeat"`
	OrderedSkip      bool    `yaml:"ordered_skip"`
}

// NavigationConfig names the screens the session navigates between.
type NavigationConfig struct {
	FullPlayerScreen string `yaml:"full_player_screen" default:"player" validate:"required"`
	DefaultScreen    string `yaml:"default_screen" default:"library" validate:"required,nefield=FullPlayerScreen"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output     string `yaml:"output" default:"stdout" validate:"oneof=stdout stderr file"`
	Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	File       string `yaml:"file" validate:"required_if=Output file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"10" validate:"gte=1"`
	MaxBackups int    `yaml:"max_backups" default:"3" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28" validate:"gte=0"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("PLAYER_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("PLAYER_CATALOG_PATH"); v != "" {
		c.Catalog.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// CommandTimeout returns the engine command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Playback.CommandTimeoutMs) * time.Millisecond
}

// StatusInterval returns the engine status report interval.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Engine.StatusIntervalMs) * time.Millisecond
}
