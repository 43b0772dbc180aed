// ABOUTME: Entry point for the playbridge bridge
// ABOUTME: Parses CLI flags, loads configuration and runs the bridge until interrupted
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/playbridge/playbridge/internal/app"
	"github.com/playbridge/playbridge/internal/config"
	"github.com/playbridge/playbridge/internal/logging"
	"github.com/playbridge/playbridge/internal/version"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    version.Product,
		Usage:   "Keep a hub informed of what a media player is playing and relay its commands",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "playbridge.toml",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Hub WebSocket endpoint (overrides bridge.url)",
			},
			&cli.StringFlag{
				Name:  "health-url",
				Usage: "Hub health endpoint (overrides bridge.health_url)",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host kind: mpd or memory (overrides host.kind)",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "Host address (overrides host.address)",
			},
			&cli.BoolFlag{
				Name:  "discover",
				Usage: "Find the hub via mDNS",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write logs to this file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write an example configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path of the file to create",
						Value:   "playbridge.toml",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.String("config")
					if err := config.CreateConfigFile(path); err != nil {
						return err
					}
					fmt.Printf("wrote %s\n", path)
					return nil
				},
			},
		},
		Action: runBridge,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal("playbridge failed", "err", err)
	}
}

func runBridge(ctx context.Context, cmd *cli.Command) error {
	cfg, err := app.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if path := cmd.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stderr, f)
	}
	logger := logging.New(out, level)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "version", version.Version, "host", cfg.Host.Kind, "metadata", cfg.Metadata.Provider)

	if err := app.ResolveHub(ctx, cfg, logging.Component(logger, "discovery")); err != nil {
		return err
	}

	b, err := app.NewBridge(cfg, logger)
	if err != nil {
		return err
	}

	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// applyFlags lets explicit flags win over the file
func applyFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("url") {
		cfg.Bridge.URL = cmd.String("url")
	}
	if cmd.IsSet("health-url") {
		cfg.Bridge.HealthURL = cmd.String("health-url")
	}
	if cmd.IsSet("host") {
		cfg.Host.Kind = cmd.String("host")
	}
	if cmd.IsSet("address") {
		cfg.Host.Address = cmd.String("address")
	}
	if cmd.IsSet("discover") {
		cfg.Bridge.Discover = cmd.Bool("discover")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
}
