package services

import (
	"context"
	"fmt"
	"time"

	"bridge-relayer/internal/clients"
	"bridge-relayer/internal/metrics"
	"bridge-relayer/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// WatcherConfig scan and retry tuning
type WatcherConfig struct {
	MaxBlockRange   uint64
	RPCAttempts     uint64
	RPCTimeout      time.Duration
	InitialInterval time.Duration // first retry delay
	MaxInterval     time.Duration
}

// EventWatcher reads BridgeRequest intents from the source chain in bounded block ranges
type EventWatcher struct {
	source *clients.SourceBridgeClient
	cfg    WatcherConfig
	log    *logrus.Entry
}

// NewEventWatcher creates a new EventWatcher instance
func NewEventWatcher(source *clients.SourceBridgeClient, cfg WatcherConfig, log *logrus.Entry) *EventWatcher {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 2000
	}
	if cfg.RPCAttempts == 0 {
		cfg.RPCAttempts = 5
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 15 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	return &EventWatcher{source: source, cfg: cfg, log: log}
}

// Head current source head.
func (w *EventWatcher) Head(ctx context.Context) (uint64, error) {
	var head uint64
	err := w.retry(ctx, "head", func(callCtx context.Context) error {
		var err error
		head, err = w.source.LatestBlockNumber(callCtx)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.SourceHeadBlock.Set(float64(head))
	return head, nil
}

// BlockHash canonical hash at height, used by the confirmation gate.
func (w *EventWatcher) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	var hash common.Hash
	err := w.retry(ctx, "block_hash", func(callCtx context.Context) error {
		var err error
		hash, err = w.source.BlockHashAt(callCtx, number)
		return err
	})
	return hash, err
}

// ScanFunc receives each chunk's intents in (blockNumber, logIndex) order. Returning an error stops the scan.
type ScanFunc func(chunkEnd uint64, intents []models.Intent) error

// Scan walks [from, to] in MaxBlockRange chunks. Every query is a pure read, so an interrupted scan can be
// restarted from any chunk boundary.
func (w *EventWatcher) Scan(ctx context.Context, from, to uint64, fn ScanFunc) error {
	for start := from; start <= to; {
		end := start + w.cfg.MaxBlockRange - 1
		if end > to || end < start {
			end = to
		}

		var intents []models.Intent
		err := w.retry(ctx, "filter_logs", func(callCtx context.Context) error {
			var err error
			intents, err = w.source.FilterIntents(callCtx, start, end)
			return err
		})
		if err != nil {
			return err
		}

		if len(intents) > 0 {
			w.log.WithFields(logrus.Fields{"from": start, "to": end, "intents": len(intents)}).Debug("scanned range")
		}
		if err := fn(end, intents); err != nil {
			return err
		}

		if end == to {
			break
		}
		start = end + 1
	}
	return nil
}

func (w *EventWatcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialInterval
	b.MaxInterval = w.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retry runs op with exponential backoff, at most RPCAttempts times.
func (w *EventWatcher) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), w.cfg.RPCAttempts-1), ctx)

	err := backoff.RetryNotify(func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.RPCTimeout)
		defer cancel()
		if err := fn(callCtx); err != nil {
			metrics.SourceRPCErrors.WithLabelValues(op).Inc()
			return err
		}
		return nil
	}, policy, func(err error, next time.Duration) {
		w.log.WithError(err).WithFields(logrus.Fields{"op": op, "attempt": attempts, "retry_in": next}).Warn("source rpc failed")
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrSourceUnavailable, op, attempts, err)
}
