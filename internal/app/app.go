// ABOUTME: Application assembly for the bridge and hub binaries
// ABOUTME: Turns a loaded configuration into wired components
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/playbridge/playbridge/internal/bridge"
	"github.com/playbridge/playbridge/internal/client"
	"github.com/playbridge/playbridge/internal/config"
	"github.com/playbridge/playbridge/internal/discovery"
	"github.com/playbridge/playbridge/internal/host"
	"github.com/playbridge/playbridge/internal/hub"
	"github.com/playbridge/playbridge/internal/metadata"
	"github.com/playbridge/playbridge/internal/sampler"
	"github.com/playbridge/playbridge/internal/version"
)

// discoveryTimeout bounds the initial mDNS hub lookup
const discoveryTimeout = 10 * time.Second

// NewHost builds the configured host adapter
func NewHost(cfg config.HostConfig, logger *log.Logger) (host.Host, error) {
	switch cfg.Kind {
	case "mpd":
		return host.NewMPD(host.MPDConfig{
			Address:  cfg.Address,
			Password: cfg.Password,
			Logger:   logger,
		}), nil
	case "memory":
		return host.NewMemory(host.DemoQueue()), nil
	default:
		return nil, fmt.Errorf("%w: unknown host kind %q", config.ErrInvalidConfig, cfg.Kind)
	}
}

// NewLookup builds the configured release year provider. The host
// provider only works with hosts that carry tags themselves.
func NewLookup(cfg config.MetadataConfig, h host.Host) (metadata.Lookup, error) {
	switch cfg.Provider {
	case "spotify":
		lookup, err := metadata.NewSpotifyLookup(metadata.SpotifyConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		})
		if err != nil {
			return nil, err
		}
		return lookup, nil
	case "host":
		if lookup, ok := h.(metadata.Lookup); ok {
			return lookup, nil
		}
		return metadata.None{}, nil
	case "none", "":
		return metadata.None{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown metadata provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
}

// ResolveHub replaces the configured endpoints with a hub found via mDNS
// when discovery is enabled
func ResolveHub(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if !cfg.Bridge.Discover {
		return nil
	}

	mgr := discovery.NewManager(discovery.Config{Logger: logger})
	defer mgr.Stop()

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	found, err := mgr.Lookup(ctx)
	if err != nil {
		return fmt.Errorf("hub discovery failed: %w", err)
	}

	cfg.Bridge.URL = found.URL()
	cfg.Bridge.HealthURL = found.HealthURL()
	logger.Info("using discovered hub", "url", cfg.Bridge.URL)
	return nil
}

// NewBridge assembles a bridge from configuration
func NewBridge(cfg *config.Config, logger *log.Logger) (*bridge.Bridge, error) {
	h, err := NewHost(cfg.Host, logger)
	if err != nil {
		return nil, err
	}

	lookup, err := NewLookup(cfg.Metadata, h)
	if err != nil {
		return nil, err
	}

	manager := client.NewManager(client.Config{
		URL:          cfg.Bridge.URL,
		HealthURL:    cfg.Bridge.HealthURL,
		ProbeTimeout: config.Millis(cfg.Bridge.ProbeTimeoutMs),
		WriteTimeout: config.Millis(cfg.Bridge.WriteTimeoutMs),
		Policy: client.ReconnectPolicy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   config.Millis(cfg.Reconnect.BaseDelayMs),
			Multiplier:  cfg.Reconnect.Multiplier,
			SlowRetry:   config.Millis(cfg.Reconnect.SlowRetryMs),
		},
		Logger: logger,
	})

	resolver := metadata.NewResolver(metadata.ResolverConfig{
		Lookup:            lookup,
		RequestsPerSecond: cfg.Metadata.RequestsPerSecond,
		Timeout:           config.Millis(cfg.Metadata.TimeoutMs),
		Logger:            logger,
	})

	return bridge.New(bridge.Config{
		Host:                   h,
		Connection:             manager,
		Sampler:                sampler.New(config.Millis(cfg.Sampler.IntervalMs)),
		Resolver:               resolver,
		AutoSwitchCompensation: config.Millis(cfg.Sampler.AutoSwitchCompensationMs),
		NaturalEndThreshold:    config.Millis(cfg.Sampler.NaturalEndThresholdMs),
		Logger:                 logger,
	}), nil
}

// NewHub assembles a hub from configuration
func NewHub(cfg *config.Config, logger *log.Logger) *hub.Server {
	name := version.Product + " hub"
	if hostname, err := os.Hostname(); err == nil {
		name = fmt.Sprintf("%s-%s-hub", hostname, version.Product)
	}

	return hub.New(hub.Config{
		Host:       cfg.Hub.Host,
		Port:       cfg.Hub.Port,
		Name:       name,
		EnableMDNS: cfg.Hub.MDNS,
		Greeting:   hub.DefaultGreeting,
		Logger:     logger,
	})
}

// LoadConfig reads path when it exists and falls back to defaults otherwise
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}
