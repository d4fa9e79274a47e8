package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"bridge-relayer/internal/clients"
	"bridge-relayer/internal/events"
	"bridge-relayer/internal/metrics"
	"bridge-relayer/internal/models"
	"bridge-relayer/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MonitoringConfig monitoring intervals and thresholds
type MonitoringConfig struct {
	Interval         time.Duration
	MinSignerBalance *big.Int // wei; nil disables the low balance alert
}

// MonitoringService refreshes gauges that are not driven by relay transitions
type MonitoringService struct {
	db        *gorm.DB // nil when the store is badger
	store     repository.CheckpointStore
	source    *clients.SourceBridgeClient
	dest      clients.EVMBackend
	signer    common.Address
	publisher events.Publisher
	cfg       MonitoringConfig
	log       *logrus.Entry

	stopCh   chan struct{}
	wg       sync.WaitGroup
	lowAlert bool
}

// NewMonitoringService creates a new MonitoringService instance
func NewMonitoringService(
	db *gorm.DB,
	store repository.CheckpointStore,
	source *clients.SourceBridgeClient,
	dest clients.EVMBackend,
	signer common.Address,
	publisher events.Publisher,
	cfg MonitoringConfig,
	log *logrus.Entry,
) *MonitoringService {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	return &MonitoringService{
		db:        db,
		store:     store,
		source:    source,
		dest:      dest,
		signer:    signer,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the monitor loops.
func (m *MonitoringService) Start() {
	m.log.Info("🚀 Starting monitoring service...")

	if m.db != nil {
		m.wg.Add(1)
		go m.loop(10*time.Second, m.updateDatabaseMetrics)
	}

	m.wg.Add(1)
	go m.loop(m.cfg.Interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m.CheckOnce(ctx)
	})

	m.log.Info("✅ Monitoring service started")
}

// Stop stops the loops and waits for them.
func (m *MonitoringService) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info("✅ Monitoring service stopped")
}

func (m *MonitoringService) loop(interval time.Duration, fn func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// CheckOnce refreshes balance and nonce lag gauges.
func (m *MonitoringService) CheckOnce(ctx context.Context) {
	if err := m.updateSignerBalance(ctx); err != nil {
		m.log.WithError(err).Warn("⚠️ Failed to read signer balance")
	}
	if err := m.updateNonceLag(ctx); err != nil {
		m.log.WithError(err).Warn("⚠️ Failed to compute source nonce lag")
	}
}

func (m *MonitoringService) updateDatabaseMetrics() {
	sqlDB, err := m.db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}

	stats := sqlDB.Stats()
	metrics.DBConnectionActive.Set(float64(stats.OpenConnections - stats.Idle))
	metrics.DBConnectionIdle.Set(float64(stats.Idle))

	if err := sqlDB.Ping(); err != nil {
		metrics.DBConnectionStatus.Set(0)
	} else {
		metrics.DBConnectionStatus.Set(1)
	}
}

func (m *MonitoringService) updateSignerBalance(ctx context.Context) error {
	balance, err := m.dest.BalanceAt(ctx, m.signer, nil)
	if err != nil {
		return err
	}

	// wei to ether
	balanceFloat := new(big.Float).Quo(new(big.Float).SetInt(balance), big.NewFloat(1e18))
	value, _ := balanceFloat.Float64()
	metrics.SignerBalance.Set(value)

	if m.cfg.MinSignerBalance == nil {
		return nil
	}
	low := balance.Cmp(m.cfg.MinSignerBalance) < 0
	if low && !m.lowAlert {
		m.publisher.PublishAlert(events.NewAlert(events.AlertLowBalance, "",
			fmt.Sprintf("signer %s balance %s wei is below %s wei", m.signer.Hex(), balance, m.cfg.MinSignerBalance)))
	}
	m.lowAlert = low
	return nil
}

// updateNonceLag nonces emitted on the source since the oldest unfinished intent
func (m *MonitoringService) updateNonceLag(ctx context.Context) error {
	next, err := m.source.NextNonce(ctx)
	if err != nil {
		return err
	}
	pending, err := m.store.ListPending(ctx)
	if err != nil {
		return err
	}
	metrics.SourceNonceLag.Set(nonceLag(next, pending))
	return nil
}

func nonceLag(next *big.Int, pending []*models.IntentRecord) float64 {
	var oldest *big.Int
	for _, rec := range pending {
		if rec.Intent.SourceBridgeAddress == (common.Address{}) || rec.Intent.Nonce == nil {
			continue
		}
		if oldest == nil || rec.Intent.Nonce.Cmp(oldest) < 0 {
			oldest = rec.Intent.Nonce
		}
	}
	if oldest == nil || next.Cmp(oldest) <= 0 {
		return 0
	}
	lag, _ := new(big.Float).SetInt(new(big.Int).Sub(next, oldest)).Float64()
	return lag
}
