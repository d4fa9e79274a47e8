package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bridge-relayer/internal/clients"
	"bridge-relayer/internal/config"
	"bridge-relayer/internal/db"
	"bridge-relayer/internal/events"
	"bridge-relayer/internal/handlers"
	"bridge-relayer/internal/repository"
	"bridge-relayer/internal/router"
	"bridge-relayer/internal/services"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	completionCacheSize = 4096
	shutdownTimeout     = 10 * time.Second
)

// ServiceContainer every long-lived component of a relayer process
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Logger

	// Storage
	DB    *gorm.DB // nil for badger
	Store repository.CheckpointStore

	// Chains
	SourceRPC         *ethclient.Client
	DestinationRPC    *ethclient.Client
	SourceClient      *clients.SourceBridgeClient
	DestinationClient *clients.DestinationBridgeClient

	// Events
	NATSClient *clients.NATSClient
	Dispatcher *events.Dispatcher
	Hub        *services.TransitionHub

	// Relay
	Signer     services.Signer
	Checker    *services.CompletionChecker
	Submitter  *services.TransactionSubmitter
	Relay      *services.RelayService
	Monitoring *services.MonitoringService
	LeaderLock *services.LeaderLock

	HTTPServer *http.Server
}

// OpenStore opens the configured checkpoint store. The returned gorm handle is nil for badger.
func OpenStore(cfg *config.Config, log *logrus.Entry) (repository.CheckpointStore, *gorm.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		gdb, err := db.OpenPostgres(cfg.Database.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewGormCheckpointStore(gdb, cfg.Source.ChainID, cfg.Destination.ChainID), gdb, nil
	default:
		bdb, err := db.OpenBadger(cfg.Database.Path, log)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.Database.Path).Info("✅ Badger store opened")
		return repository.NewBadgerCheckpointStore(bdb), nil, nil
	}
}

// InitializeContainer dials both chains and builds the relay. Nothing runs until Run.
func InitializeContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*ServiceContainer, error) {
	log := Component(logger, "container")
	log.Info("🚀 Initializing Service Container...")

	c := &ServiceContainer{Config: cfg, Logger: logger}

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"store", c.initStore},
		{"chains", c.initChains},
		{"events", c.initEvents},
		{"relay", c.initRelay},
		{"monitoring", c.initMonitoring},
		{"leader lock", c.initLeaderLock},
		{"http", c.initHTTP},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			c.Cleanup()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	log.Info("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) initStore(ctx context.Context) error {
	store, gdb, err := OpenStore(c.Config, Component(c.Logger, "store"))
	if err != nil {
		return err
	}
	c.Store = store
	c.DB = gdb
	return nil
}

func (c *ServiceContainer) initChains(ctx context.Context) error {
	cfg := c.Config
	log := Component(c.Logger, "rpc")

	var err error
	c.SourceRPC, err = clients.DialWithFallback(ctx, cfg.Source.Name, cfg.Source.RPCEndpoints, cfg.Source.ChainID, log)
	if err != nil {
		return err
	}
	c.DestinationRPC, err = clients.DialWithFallback(ctx, cfg.Destination.Name, cfg.Destination.RPCEndpoints, cfg.Destination.ChainID, log)
	if err != nil {
		return err
	}

	c.SourceClient = clients.NewSourceBridgeClient(c.SourceRPC, cfg.Source.ChainID, cfg.SourceBridge(), cfg.Source.RequestsPerSecond)
	c.DestinationClient = clients.NewDestinationBridgeClient(c.DestinationRPC, cfg.DestinationBridge())
	return nil
}

// initEvents NATS is optional; a relayer without it still logs and streams over websocket.
func (c *ServiceContainer) initEvents(ctx context.Context) error {
	c.Hub = services.NewTransitionHub(Component(c.Logger, "websocket"))
	c.Dispatcher = events.NewDispatcher(Component(c.Logger, "events"), c.Hub)

	if c.Config.NATS.URL == "" {
		Component(c.Logger, "events").Info("NATS not configured, transitions are not published to a broker")
		return nil
	}
	natsClient, err := clients.NewNATSClient(c.Config.NATS, Component(c.Logger, "nats"))
	if err != nil {
		Component(c.Logger, "events").WithError(err).Warn("⚠️ NATS unavailable, continuing without broker fan-out")
		return nil
	}
	c.NATSClient = natsClient
	c.Dispatcher.AddSink(events.NewNATSSink(natsClient))
	return nil
}

func (c *ServiceContainer) initRelay(ctx context.Context) error {
	cfg := c.Config

	signer, err := services.NewSignerFromConfig(cfg)
	if err != nil {
		return err
	}
	c.Signer = signer

	validator, err := services.NewMessageValidator(cfg.Destination.ChainID, cfg.TrustTable())
	if err != nil {
		return err
	}

	c.Checker, err = services.NewCompletionChecker(c.DestinationClient, completionCacheSize)
	if err != nil {
		return err
	}

	watcher := services.NewEventWatcher(c.SourceClient, services.WatcherConfig{
		MaxBlockRange: cfg.Source.MaxBlockRange,
		RPCAttempts:   cfg.Relay.RPCAttempts,
		RPCTimeout:    cfg.Relay.RPCTimeout,
	}, Component(c.Logger, "watcher"))
	gate := services.NewConfirmationGate(cfg.Source.ConfirmationDepth, watcher)

	c.Submitter = services.NewTransactionSubmitter(c.DestinationRPC, cfg.DestinationBridge(), signer, c.Checker, services.SubmitterConfig{
		ChainID:        cfg.Destination.ChainID,
		GasLimit:       cfg.Destination.GasLimit,
		GasMultiplier:  cfg.Destination.GasMultiplier,
		FeeBumpPercent: cfg.Destination.FeeBumpPercent,
		ReceiptTimeout: cfg.Destination.ReceiptTimeout,
		RPCTimeout:     cfg.Relay.RPCTimeout,
	}, Component(c.Logger, "submitter"))

	c.Relay = services.NewRelayService(services.RelayConfig{
		SourceChainID:      cfg.Source.ChainID,
		DestinationChainID: cfg.Destination.ChainID,
		StartBlock:         cfg.Source.StartBlock,
		ReorgSafetyMargin:  cfg.Source.ReorgSafetyMargin,
		PollInterval:       cfg.Relay.PollInterval,
		SubmitTimeout:      cfg.Destination.ReceiptTimeout + time.Minute,
		VerifyTrust:        cfg.Destination.VerifyTrust,
		Retry:              cfg.RetryPolicy(),
	}, c.Store, c.SourceClient, c.DestinationRPC, c.DestinationClient, watcher, gate, validator, c.Submitter, c.Dispatcher, Component(c.Logger, "relay"))

	Component(c.Logger, "relay").WithFields(logrus.Fields{
		"signer":      signer.Address().Hex(),
		"signer_type": signer.Name(),
		"source":      fmt.Sprintf("%s/%d", cfg.Source.Name, cfg.Source.ChainID),
		"destination": fmt.Sprintf("%s/%d", cfg.Destination.Name, cfg.Destination.ChainID),
	}).Info("✅ Relay configured")
	return nil
}

func (c *ServiceContainer) initMonitoring(ctx context.Context) error {
	c.Monitoring = services.NewMonitoringService(
		c.DB,
		c.Store,
		c.SourceClient,
		c.DestinationRPC,
		c.Signer.Address(),
		c.Dispatcher,
		services.MonitoringConfig{
			Interval:         c.Config.Monitoring.Interval,
			MinSignerBalance: c.Config.MinSignerBalance(),
		},
		Component(c.Logger, "monitoring"),
	)
	return nil
}

func (c *ServiceContainer) initLeaderLock(ctx context.Context) error {
	if !c.Config.LeaderLock.Enabled {
		return nil
	}
	key := services.LeaderLockKey(c.Config.Source.ChainID, c.Config.Destination.ChainID)
	lock, err := services.OpenLeaderLock(c.Config.LeaderLockDSN(), key, Component(c.Logger, "leader"))
	if err != nil {
		return err
	}
	c.LeaderLock = lock
	return nil
}

func (c *ServiceContainer) initHTTP(ctx context.Context) error {
	if !c.Config.Server.Enabled {
		return nil
	}
	log := Component(c.Logger, "http")
	engine := router.SetupRouter(router.Dependencies{
		Config:    c.Config,
		Relay:     handlers.NewRelayHandler(c.Relay, c.Store, log),
		AdminAuth: handlers.NewAdminAuthHandler(c.Config.Admin, log),
		WebSocket: handlers.NewWebSocketHandler(c.Hub, []byte(c.Config.Admin.JWTSecret), log),
		Logger:    log,
	})
	c.HTTPServer = &http.Server{
		Addr:              c.Config.ListenAddr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Run takes the leader lock (when enabled), recovers the relay and drives it until ctx is cancelled.
// Startup failures are returned before the loop begins.
func (c *ServiceContainer) Run(ctx context.Context) error {
	log := Component(c.Logger, "container")

	if c.LeaderLock != nil {
		log.Info("⏳ Waiting for relay leader lock...")
		if err := c.LeaderLock.Acquire(ctx); err != nil {
			_ = c.LeaderLock.Release(context.Background())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := c.LeaderLock.Release(releaseCtx); err != nil {
				log.WithError(err).Warn("failed to release leader lock")
			}
		}()
	}

	if err := c.Relay.Startup(ctx); err != nil {
		return err
	}

	c.Monitoring.Start()
	defer c.Monitoring.Stop()

	serverErr := make(chan error, 1)
	if c.HTTPServer != nil {
		go func() {
			log.WithField("addr", c.HTTPServer.Addr).Info("🌐 Status API listening")
			if err := c.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := c.HTTPServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("status API shutdown failed")
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	relayErr := make(chan error, 1)
	go func() { relayErr <- c.Relay.Run(runCtx) }()

	select {
	case err := <-relayErr:
		return err
	case err := <-serverErr:
		cancel()
		<-relayErr
		return fmt.Errorf("status API failed: %w", err)
	}
}

// Cleanup stops the websocket hub and closes connections and the store. Safe on a partially initialized container.
func (c *ServiceContainer) Cleanup() {
	log := Component(c.Logger, "container")
	log.Info("🧹 Cleaning up Service Container...")

	if c.Hub != nil {
		c.Hub.Stop()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if c.SourceRPC != nil {
		c.SourceRPC.Close()
	}
	if c.DestinationRPC != nil {
		c.DestinationRPC.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			log.WithError(err).Warn("failed to close store")
		}
	}

	log.Info("✅ Service Container cleaned up")
}
