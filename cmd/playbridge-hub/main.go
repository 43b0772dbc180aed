// ABOUTME: Entry point for the playbridge hub
// ABOUTME: Serves the health probe and WebSocket relay, and sends commands as a remote peer
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/playbridge/playbridge/internal/app"
	"github.com/playbridge/playbridge/internal/ctl"
	"github.com/playbridge/playbridge/internal/logging"
	"github.com/playbridge/playbridge/internal/version"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    version.Product + "-hub",
		Usage:   "Relay between a playbridge bridge and remote peers",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "playbridge.toml",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen address (overrides hub.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (overrides hub.port)",
			},
			&cli.BoolFlag{
				Name:  "mdns",
				Usage: "Advertise the hub via mDNS",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{ctlCommand()},
		Action:   runHub,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal("playbridge-hub failed", "err", err)
	}
}

func runHub(ctx context.Context, cmd *cli.Command) error {
	cfg, err := app.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	if cmd.IsSet("host") {
		cfg.Hub.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Hub.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("mdns") {
		cfg.Hub.MDNS = cmd.Bool("mdns")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, level)

	srv := app.NewHub(cfg, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("signal received, shutting down")
		srv.Stop()
	}()

	return srv.Start()
}

func ctlCommand() *cli.Command {
	return &cli.Command{
		Name:      "ctl",
		Usage:     "Send one command or query to the bridge through the hub",
		ArgsUsage: "<playback|info> <action> [value]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Hub WebSocket endpoint",
				Value: "ws://localhost:5001",
			},
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to collect replies",
				Value: ctl.DefaultWait,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() < 2 {
				return fmt.Errorf("usage: ctl %s", cmd.ArgsUsage)
			}

			req := ctl.Request{
				URL:    cmd.String("url"),
				Type:   args.Get(0),
				Action: args.Get(1),
				Value:  args.Get(2),
				Wait:   cmd.Duration("wait"),
			}

			ctx, cancel := context.WithTimeout(ctx, req.Wait+5*time.Second)
			defer cancel()

			n, err := ctl.Run(ctx, req, os.Stdout)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(os.Stderr, "no reply")
			}
			return nil
		},
	}
}
