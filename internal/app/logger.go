package app

import (
	"fmt"
	"os"

	"bridge-relayer/internal/config"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from log.level and log.format.
func NewLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log.level: %w", config.ErrInvalidConfig, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("%w: unsupported log.format %q", config.ErrInvalidConfig, cfg.Format)
	}
	return logger, nil
}

// Component returns a child entry tagged with the component name.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
