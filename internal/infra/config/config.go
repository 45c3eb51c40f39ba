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
	Server   ServerConfig             `yaml:"server"`
	Queue    QueueConfig              `yaml:"queue"`
	Output   OutputConfig             `yaml:"output"`
	Playback PlaybackConfig           `yaml:"playback"`
	Catalog  CatalogConfig            `yaml:"catalog"`
	Surfaces map[string]SurfaceConfig `yaml:"surfaces"`
}

// ServerConfig configures the HTTP remote surface.
type ServerConfig struct {
	Disabled bool   `yaml:"disabled"`
	Addr     string `yaml:"addr" default:":8909"`
}

// QueueConfig configures the persistent queue store.
type QueueConfig struct {
	Path string `yaml:"path" default:"queue.json"`
}

// OutputConfig configures the audio output.
type OutputConfig struct {
	Volume          float64 `yaml:"volume" default:"1.0" validate:"gte=0,lte=1"`
	PollIntervalMs  int     `yaml:"poll_interval_ms" default:"250" validate:"gte=50,lte=2000"`
	FetchTimeoutSec int     `yaml:"fetch_timeout_sec" default:"30" validate:"gte=1,lte=300"`
}

// PlaybackConfig configures the coordinator.
type PlaybackConfig struct {
	// Previous restarts the current track beyond this position.
	RestartThresholdSec int `yaml:"restart_threshold_sec" default:"3" validate:"gte=0,lte=30"`
}

// CatalogConfig configures the read-only platform catalog client.
type CatalogConfig struct {
	BaseURL    string `yaml:"base_url" validate:"omitempty,url"`
	Token      string `yaml:"token"`
	TimeoutSec int    `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=120"`
}

// SurfaceConfig carries one surface's settings; the settings map is decoded
// by the surface itself.
type SurfaceConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file. A missing file is not an
// error: the player runs on defaults. Environment variables take
// precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TAPEDECK_CATALOG_TOKEN"); v != "" {
		c.Catalog.Token = v
	}
	if v := os.Getenv("TAPEDECK_CATALOG_URL"); v != "" {
		c.Catalog.BaseURL = v
	}
	if v := os.Getenv("TAPEDECK_QUEUE_PATH"); v != "" {
		c.Queue.Path = v
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

// Surface returns the named surface config; absent surfaces are enabled
// with empty settings.
func (c *Config) Surface(name string) SurfaceConfig {
	if s, ok := c.Surfaces[name]; ok {
		return s
	}
	return SurfaceConfig{Enabled: true}
}

// RestartThreshold returns the previous-restart threshold as a duration.
func (c *Config) RestartThreshold() time.Duration {
	return time.Duration(c.Playback.RestartThresholdSec) * time.Second
}

// PollInterval returns the output poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Output.PollIntervalMs) * time.Millisecond
}

// FetchTimeout returns the output fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Output.FetchTimeoutSec) * time.Second
}

// CatalogTimeout returns the catalog request timeout as a duration.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutSec) * time.Second
}
