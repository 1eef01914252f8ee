// Command gateway runs the rover-side half of the relay: it owns the
// serial GNSS receiver, forwards its position to the Caster, and
// writes validated RTCM3 corrections back to the receiver.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/gnss-relay/rbmc-ntrip/internal/config"
	"github.com/gnss-relay/rbmc-ntrip/internal/gateway"
	"github.com/gnss-relay/rbmc-ntrip/internal/logging"
	"github.com/gnss-relay/rbmc-ntrip/internal/serialport"
)

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "location-aware NTRIP relay, upstream (serial receiver-facing) side",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.IntFlag{
				Name:  "baud-rate",
				Value: 38400,
				Usage: "serial baud rate for the GNSS receiver",
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
	nmeaLog, err := logging.NewNMEALog(time.Now())
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	cfg, err := config.LoadGateway()
	if err != nil {
		return fmt.Errorf("gateway: load config: %w", err)
	}

	serialCfg := serialport.DefaultConfig()
	serialCfg.BaudRate = c.Int("baud-rate")

	gw := gateway.New(gateway.Config{
		SerialPortName: cfg.SerialPort,
		SerialConfig:   serialCfg,
		CasterHost:     cfg.CasterHost,
		CasterPort:     cfg.CasterPort,
	}, logger, nmeaLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("serial_port", cfg.SerialPort).Info("starting gateway")
		errCh <- gw.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down gateway")
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			logger.Warn("gateway did not shut down within 5s")
		}
		return nil
	case err := <-errCh:
		return err
	}
}
