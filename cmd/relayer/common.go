package main

import (
	"bridge-relayer/internal/app"
	"bridge-relayer/internal/config"
	"bridge-relayer/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// loadRuntime reads the configuration and builds the logger.
func loadRuntime(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(c.String(ConfigFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openOfflineStore opens the store for maintenance commands. The relayer must be stopped; badger
// refuses a second opener anyway.
func openOfflineStore(c *cli.Context) (*config.Config, repository.CheckpointStore, error) {
	cfg, logger, err := loadRuntime(c)
	if err != nil {
		return nil, nil, err
	}
	store, _, err := app.OpenStore(cfg, app.Component(logger, "store"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}
