// Command caster runs the downstream half of the relay: it accepts a
// rover connection, selects reference stations by position, and
// streams validated RTCM3 corrections back down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/gnss-relay/rbmc-ntrip/internal/caster"
	"github.com/gnss-relay/rbmc-ntrip/internal/config"
	"github.com/gnss-relay/rbmc-ntrip/internal/logging"
)

func main() {
	app := &cli.App{
		Name:  "caster",
		Usage: "location-aware NTRIP relay, downstream (rover-facing) side",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level (debug, info, warn, error)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, err := logging.New(c.String("log-level"))
	if err != nil {
		return err
	}

	cfg, err := config.LoadCaster()
	if err != nil {
		return fmt.Errorf("caster: load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cst := caster.New(caster.Config{
		ListenAddr:   fmt.Sprintf(":%d", cfg.ListenPort),
		DirectoryURL: cfg.DirectoryURL,
		UpstreamHost: cfg.UpstreamHost,
		UpstreamPort: cfg.UpstreamPort,
		UpstreamUser: cfg.UpstreamUser,
		UpstreamPass: cfg.UpstreamPass,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.ListenPort).Info("starting caster")
		errCh <- cst.Serve(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down caster")
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			logger.Warn("caster did not shut down within 5s")
		}
		return nil
	case err := <-errCh:
		return err
	}
}
