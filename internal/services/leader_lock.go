package services

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"time"

	"bridge-relayer/internal/metrics"

	"github.com/ethereum/go-ethereum/crypto"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// LeaderLockKey advisory lock key for one (source, destination) pair
func LeaderLockKey(sourceChainID, destinationChainID uint64) int64 {
	digest := crypto.Keccak256([]byte(fmt.Sprintf("bridge-relayer:%d:%d", sourceChainID, destinationChainID)))
	return int64(binary.BigEndian.Uint64(digest[:8]))
}

// LeaderLock postgres session advisory lock; only the holder runs the relay loop
type LeaderLock struct {
	db         *sql.DB
	conn       *sql.Conn
	key        int64
	retryEvery time.Duration
	log        *logrus.Entry
}

// OpenLeaderLock connects with the lib/pq driver.
func OpenLeaderLock(dsn string, key int64, log *logrus.Entry) (*LeaderLock, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open leader lock database: %w", err)
	}
	return NewLeaderLock(db, key, log), nil
}

// NewLeaderLock creates a new LeaderLock instance
func NewLeaderLock(db *sql.DB, key int64, log *logrus.Entry) *LeaderLock {
	return &LeaderLock{db: db, key: key, retryEvery: 5 * time.Second, log: log}
}

// Acquire blocks until the lock is held or ctx ends. The lock lives as long as the dedicated connection.
func (l *LeaderLock) Acquire(ctx context.Context) error {
	if l.conn == nil {
		conn, err := l.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to reserve leader lock connection: %w", err)
		}
		l.conn = conn
	}

	waiting := false
	for {
		var acquired bool
		if err := l.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
			return fmt.Errorf("failed to query leader lock: %w", err)
		}
		if acquired {
			metrics.LeaderStatus.Set(1)
			l.log.WithField("key", l.key).Info("👑 Leader lock acquired")
			return nil
		}
		if !waiting {
			l.log.WithField("key", l.key).Info("⏳ Another relayer holds the leader lock, waiting")
			waiting = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryEvery):
		}
	}
}

// Release unlocks and closes the connection.
func (l *LeaderLock) Release(ctx context.Context) error {
	defer metrics.LeaderStatus.Set(0)
	if l.conn == nil {
		return l.db.Close()
	}
	var released bool
	err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&released)
	if closeErr := l.conn.Close(); err == nil {
		err = closeErr
	}
	l.conn = nil
	if closeErr := l.db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to release leader lock: %w", err)
	}
	l.log.Info("Leader lock released")
	return nil
}
