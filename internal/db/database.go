package db

import (
	"fmt"
	"os"
	"time"

	"bridge-relayer/internal/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RelayModels tables owned by the postgres checkpoint store
func RelayModels() []interface{} {
	return []interface{}{
		&models.CheckpointRecord{},
		&models.IntentRecord{},
		&models.TransitionRecord{},
	}
}

// OpenPostgres connects with gorm and migrates the relay tables.
func OpenPostgres(dsn string, log *logrus.Entry) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		DisableAutomaticPing:                     true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	log.Info("✅ Database connected successfully")

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("✅ Database schema migrated successfully")
	return db, nil
}

// Migrate runs AutoMigrate for the relay tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(RelayModels()...); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}
	return nil
}

// OpenBadger opens (creating if needed) the embedded store at path.
// log may be nil to silence badger.
func OpenBadger(path string, log *logrus.Entry) (*badger.DB, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := badger.DefaultOptions(path).WithSyncWrites(true)
	if log != nil {
		opts = opts.WithLogger(badgerLogger{log})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return db, nil
}

// OpenBadgerInMemory is used by tests and the offline CLI tooling.
func OpenBadgerInMemory() (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

// badgerLogger routes badger output through logrus, demoting its chatty info lines to debug.
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.entry.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.entry.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.entry.Tracef(format, args...) }
