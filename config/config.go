// Package config holds the client configuration and its viper-based loader.
//
// A ClientConfig is built once (from a file, the environment, etcd or code) and
// then handed to client.New / transport.New by value. Nothing in this module
// reads configuration from package-level state.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PlaceholderEndpoint is the value shipped in un-edited deployment configs.
// It is treated exactly like a missing endpoint.
const PlaceholderEndpoint = "YOUR_APPS_SCRIPT_DEPLOYMENT_URL_HERE"

// DefaultTimeout applies when no timeout (or a non-positive one) is configured.
const DefaultTimeout = 30 * time.Second

var (
	ErrMissingEndpoint     = errors.New("endpoint url not configured")
	ErrPlaceholderEndpoint = errors.New("endpoint url is still the placeholder value")
)

// ClientConfig is the immutable configuration of one client.
type ClientConfig struct {
	EndpointURL string        `mapstructure:"endpoint_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Debug       bool          `mapstructure:"debug"`
}

// Validate reports whether the endpoint can be used as a call destination.
func (c ClientConfig) Validate() error {
	switch strings.TrimSpace(c.EndpointURL) {
	case "":
		return ErrMissingEndpoint
	case PlaceholderEndpoint:
		return ErrPlaceholderEndpoint
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// WithDefaults returns a copy with the default timeout filled in.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.EndpointURL = strings.TrimSpace(c.EndpointURL)
	return c
}

// Config is the root configuration used by the scriptrpc command.
type Config struct {
	Client    ClientConfig    `mapstructure:",squash"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs  []string       `mapstructure:"outputs"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// RateLimitConfig configures the client-side token bucket. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// EtcdConfig points at the etcd cluster holding published endpoints.
type EtcdConfig struct {
	Endpoints  []string `mapstructure:"endpoints"`
	Deployment string   `mapstructure:"deployment"`
}

// Default returns a Config populated with defaults. The endpoint is left unset.
func Default() *Config {
	return &Config{
		Client: ClientConfig{Timeout: DefaultTimeout},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Etcd:      EtcdConfig{Deployment: "default"},
	}
}

// Load reads configuration from path (if non-empty) and the environment.
// Environment variables use the SCRIPTRPC prefix with `.` replaced by `_`,
// e.g. SCRIPTRPC_ENDPOINT_URL or SCRIPTRPC_LOG_LEVEL.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SCRIPTRPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("endpoint_url", cfg.Client.EndpointURL)
	v.SetDefault("timeout", cfg.Client.Timeout)
	v.SetDefault("debug", cfg.Client.Debug)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("rate_limit.rps", cfg.RateLimit.RPS)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
	v.SetDefault("etcd.endpoints", cfg.Etcd.Endpoints)
	v.SetDefault("etcd.deployment", cfg.Etcd.Deployment)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Client = cfg.Client.WithDefaults()
	return cfg, nil
}
