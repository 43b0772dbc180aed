// ABOUTME: TOML configuration for the bridge and the hub
// ABOUTME: Loads, defaults and validates every tunable of playbridge
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// maxReconnectAttempts bounds the exponential phase of the backoff
const maxReconnectAttempts = 30

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Bridge    BridgeConfig    `toml:"bridge"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Sampler   SamplerConfig   `toml:"sampler"`
	Host      HostConfig      `toml:"host"`
	Metadata  MetadataConfig  `toml:"metadata"`
	Hub       HubConfig       `toml:"hub"`
	Log       LogConfig       `toml:"log"`
}

// BridgeConfig contains the transport endpoints of the hub.
type BridgeConfig struct {
	HealthURL      string `toml:"health_url"`
	URL            string `toml:"url"`
	ProbeTimeoutMs int    `toml:"probe_timeout_ms"`
	WriteTimeoutMs int    `toml:"write_timeout_ms"`
	Discover       bool   `toml:"discover"`
}

// ReconnectConfig contains the backoff schedule.
type ReconnectConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMs int `toml:"base_delay_ms"`
	Multiplier  int `toml:"multiplier"`
	SlowRetryMs int `toml:"slow_retry_ms"`
}

// SamplerConfig contains the progress sampling cadence and drift constants.
type SamplerConfig struct {
	IntervalMs               int `toml:"interval_ms"`
	AutoSwitchCompensationMs int `toml:"autoswitch_compensation_ms"`
	NaturalEndThresholdMs    int `toml:"natural_end_threshold_ms"`
}

// HostConfig selects and addresses the media player host.
type HostConfig struct {
	Kind     string `toml:"kind"`
	Address  string `toml:"address"`
	Password string `toml:"password"`
}

// MetadataConfig configures the release-year lookup.
type MetadataConfig struct {
	Provider          string  `toml:"provider"`
	ClientID          string  `toml:"client_id"`
	ClientSecret      string  `toml:"client_secret"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutMs         int     `toml:"timeout_ms"`
}

// HubConfig contains the hub listener settings.
type HubConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	MDNS bool   `toml:"mdns"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads a TOML file on top of the defaults, so a partial file
// only overrides the keys it names.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile writes the embedded example config to path.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects values the bridge cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Bridge.URL == "":
		return fmt.Errorf("%w: bridge.url is empty", ErrInvalidConfig)
	case c.Bridge.HealthURL == "":
		return fmt.Errorf("%w: bridge.health_url is empty", ErrInvalidConfig)
	case c.Reconnect.MaxAttempts < 0 || c.Reconnect.MaxAttempts > maxReconnectAttempts:
		return fmt.Errorf("%w: reconnect.max_attempts must be between 0 and %d", ErrInvalidConfig, maxReconnectAttempts)
	case c.Reconnect.BaseDelayMs <= 0:
		return fmt.Errorf("%w: reconnect.base_delay_ms must be > 0", ErrInvalidConfig)
	case c.Reconnect.Multiplier < 1:
		return fmt.Errorf("%w: reconnect.multiplier must be >= 1", ErrInvalidConfig)
	case c.Reconnect.SlowRetryMs <= 0:
		return fmt.Errorf("%w: reconnect.slow_retry_ms must be > 0", ErrInvalidConfig)
	case c.Sampler.IntervalMs <= 0:
		return fmt.Errorf("%w: sampler.interval_ms must be > 0", ErrInvalidConfig)
	case c.Sampler.AutoSwitchCompensationMs < 0 || c.Sampler.NaturalEndThresholdMs < 0:
		return fmt.Errorf("%w: sampler offsets must be >= 0", ErrInvalidConfig)
	case c.Hub.Port <= 0 || c.Hub.Port > 65535:
		return fmt.Errorf("%w: hub.port out of range", ErrInvalidConfig)
	}

	switch c.Host.Kind {
	case "mpd", "memory":
	default:
		return fmt.Errorf("%w: unknown host kind %q", ErrInvalidConfig, c.Host.Kind)
	}

	switch c.Metadata.Provider {
	case "spotify":
		if c.Metadata.ClientID == "" || c.Metadata.ClientSecret == "" {
			return fmt.Errorf("%w: spotify metadata requires client_id and client_secret", ErrInvalidConfig)
		}
	case "host", "none", "":
	default:
		return fmt.Errorf("%w: unknown metadata provider %q", ErrInvalidConfig, c.Metadata.Provider)
	}
	return nil
}

// Millis converts a millisecond config value to a [time.Duration]
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
