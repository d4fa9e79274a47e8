package main

import (
	"os/signal"
	"syscall"

	"bridge-relayer/internal/app"

	"github.com/urfave/cli/v2"
)

var runCommand = cli.Command{
	Name:        "run",
	Usage:       "start the relayer",
	Description: "Verifies both chains and the trust table, recovers the checkpoint and relays until interrupted.",
	Action:      run,
}

func run(c *cli.Context) error {
	cfg, logger, err := loadRuntime(c)
	if err != nil {
		return err
	}
	log := app.Component(logger, "main")

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.InitializeContainer(ctx, cfg, logger)
	if err != nil {
		log.WithError(err).Error("❌ Startup failed")
		return err
	}
	defer container.Cleanup()

	log.Info("🚀 Relayer starting")
	if err := container.Run(ctx); err != nil {
		log.WithError(err).Error("❌ Relayer stopped with error")
		return err
	}
	log.Info("👋 Relayer stopped")
	return nil
}
