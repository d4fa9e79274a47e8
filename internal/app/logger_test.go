package app

import (
	"testing"

	"bridge-relayer/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = NewLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewLogger(config.LogConfig{Level: "info", Format: "xml"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestComponentTagsEntries(t *testing.T) {
	logger := logrus.New()
	entry := Component(logger, "relay")
	assert.Equal(t, "relay", entry.Data["component"])
}

func TestOpenStoreBadger(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "badger", Path: t.TempDir()}}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store, gdb, err := OpenStore(cfg, Component(logger, "store"))
	require.NoError(t, err)
	assert.Nil(t, gdb)
	require.NoError(t, store.Close())
}
