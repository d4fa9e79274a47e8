package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"bridge-relayer/internal/clients"
	"bridge-relayer/internal/config"
	"bridge-relayer/internal/events"
	"bridge-relayer/internal/metrics"
	"bridge-relayer/internal/models"
	"bridge-relayer/internal/repository"
	"bridge-relayer/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// RelayConfig relay loop settings
type RelayConfig struct {
	SourceChainID      uint64
	DestinationChainID uint64
	StartBlock         uint64
	ReorgSafetyMargin  uint64
	PollInterval       time.Duration
	SubmitTimeout      time.Duration // bound on one in-flight submission, survives shutdown
	VerifyTrust        bool          // compare the trust table with the destination contract at startup
	Retry              models.RetryPolicy
}

// TrustRegistry destination-side view of trusted source bridges
type TrustRegistry interface {
	SourceBridgeFor(ctx context.Context, chainID uint64) (common.Address, error)
}

// RelayStatus snapshot for the status API
type RelayStatus struct {
	SourceChainID      uint64                    `json:"source_chain_id"`
	DestinationChainID uint64                    `json:"destination_chain_id"`
	Signer             string                    `json:"signer"`
	Running            bool                      `json:"running"`
	SourceHead         uint64                    `json:"source_head"`
	NextScanBlock      uint64                    `json:"next_scan_block"`
	ConfirmationDepth  uint64                    `json:"confirmation_depth"`
	GateSize           int                       `json:"gate_size"`
	Pending            map[models.RelayState]int `json:"pending"`
	LastCycleAt        *time.Time                `json:"last_cycle_at,omitempty"`
	LastCycleError     string                    `json:"last_cycle_error,omitempty"`
}

type requeueRequest struct {
	id    models.MessageID
	reply chan error
}

// RelayService drives intents from the source chain to the destination. It is the only writer of the
// checkpoint store; requeue requests from other goroutines are handed to the loop.
type RelayService struct {
	cfg       RelayConfig
	store     repository.CheckpointStore
	source    *clients.SourceBridgeClient
	dest      clients.EVMBackend
	trust     TrustRegistry
	watcher   *EventWatcher
	gate      *ConfirmationGate
	validator *MessageValidator
	submitter *TransactionSubmitter
	publisher events.Publisher
	log       *logrus.Entry
	now       func() time.Time

	// pending set, keyed by message id hex; written only by the loop goroutine
	records   map[string]*models.IntentRecord
	nextBlock uint64
	started   bool

	statusMu       sync.RWMutex
	running        bool
	head           uint64
	lastCycleAt    *time.Time
	lastCycleError string
	sourceDown     bool

	requeueCh chan requeueRequest
}

// NewRelayService creates a new RelayService instance
func NewRelayService(
	cfg RelayConfig,
	store repository.CheckpointStore,
	source *clients.SourceBridgeClient,
	dest clients.EVMBackend,
	trust TrustRegistry,
	watcher *EventWatcher,
	gate *ConfirmationGate,
	validator *MessageValidator,
	submitter *TransactionSubmitter,
	publisher events.Publisher,
	log *logrus.Entry,
) *RelayService {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 12 * time.Second
	}
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = 3 * time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = models.DefaultRetryPolicy()
	}
	return &RelayService{
		cfg:       cfg,
		store:     store,
		source:    source,
		dest:      dest,
		trust:     trust,
		watcher:   watcher,
		gate:      gate,
		validator: validator,
		submitter: submitter,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		records:   make(map[string]*models.IntentRecord),
		requeueCh: make(chan requeueRequest),
	}
}

// Startup verifies chain ids and the trust table, loads (or creates) the checkpoint and recovers the
// pending set. Any error here is fatal.
func (s *RelayService) Startup(ctx context.Context) error {
	if s.started {
		return nil
	}

	if err := s.checkChainID(ctx, "source", s.source.Backend(), s.cfg.SourceChainID); err != nil {
		return err
	}
	if err := s.checkChainID(ctx, "destination", s.dest, s.cfg.DestinationChainID); err != nil {
		return err
	}

	trusted, err := s.validator.RequireTrusted(s.cfg.SourceChainID)
	if err != nil {
		return err
	}
	if trusted != s.source.Address() {
		return fmt.Errorf("%w: watched bridge %s is not the trusted bridge %s for chain %d",
			config.ErrInvalidConfig, s.source.Address().Hex(), trusted.Hex(), s.cfg.SourceChainID)
	}
	if s.cfg.VerifyTrust && s.trust != nil {
		onchain, err := s.trust.SourceBridgeFor(ctx, s.cfg.SourceChainID)
		if err != nil {
			return fmt.Errorf("failed to read destination trust table: %w", err)
		}
		if onchain != trusted {
			return fmt.Errorf("%w: destination trusts %s for chain %d, configuration says %s",
				config.ErrInvalidConfig, onchain.Hex(), s.cfg.SourceChainID, trusted.Hex())
		}
	}

	if supported, err := s.source.IsChainSupported(ctx, s.cfg.DestinationChainID); err != nil {
		s.log.WithError(err).Warn("could not read supportedChains on the source bridge")
	} else if !supported {
		s.log.WithField("destination_chain", s.cfg.DestinationChainID).Warn("⚠️ source bridge does not list the destination chain as supported")
	}

	cp, err := s.store.Load(ctx)
	if errors.Is(err, repository.ErrCheckpointNotFound) {
		s.log.WithField("start_block", s.cfg.StartBlock).Info("📋 No checkpoint found, initializing")
		cp, err = s.store.Initialize(ctx, s.cfg.StartBlock)
	}
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	s.nextBlock = nextScanBlock(cp)
	metrics.LastScannedBlock.Set(float64(cp.LastScannedBlock))

	if err := s.recoverPending(ctx, cp); err != nil {
		return err
	}
	s.started = true
	s.updatePendingMetrics()

	s.log.WithFields(logrus.Fields{
		"source_chain":      s.cfg.SourceChainID,
		"destination_chain": s.cfg.DestinationChainID,
		"next_block":        s.nextBlock,
		"pending":           len(s.records),
		"signer":            s.submitter.SignerAddress().Hex(),
	}).Info("✅ Relay service ready")
	return nil
}

func (s *RelayService) checkChainID(ctx context.Context, name string, backend clients.EVMBackend, expected uint64) error {
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	id, err := backend.ChainID(callCtx)
	if err != nil {
		return fmt.Errorf("failed to read %s chain id: %w", name, err)
	}
	if id.Uint64() != expected {
		return fmt.Errorf("%w: %s: configured %d, rpc reports %s", clients.ErrChainIDMismatch, name, expected, id)
	}
	return nil
}

// nextScanBlock first block still to scan
func nextScanBlock(cp *models.Checkpoint) uint64 {
	if cp.LastScannedBlock < cp.StartBlock || (cp.StartBlock == 0 && cp.LastScannedBlock == 0) {
		return cp.StartBlock
	}
	return cp.LastScannedBlock + 1
}

func (s *RelayService) recoverPending(ctx context.Context, cp *models.Checkpoint) error {
	var inflight []*models.IntentRecord
	for _, rec := range cp.PendingSorted() {
		id := rec.ID()
		switch rec.State {
		case models.RelayStateObserved, models.RelayStateConfirming:
			s.gate.Add(id, rec.Intent)
		case models.RelayStateSubmitting:
			inflight = append(inflight, rec)
		}
		s.records[rec.MessageID] = rec
	}

	for _, rec := range inflight {
		log := s.log.WithFields(logrus.Fields{"message_id": rec.MessageID, "tx_hash": rec.TxHash})
		if rec.TxHash == "" {
			log.Info("🔄 Submission never broadcast, returning to confirmed")
			if err := s.apply(ctx, rec, func(r *models.IntentRecord) (*models.TransitionRecord, error) {
				return r.Transition(models.RelayStateConfirmed, "recovered: no transaction broadcast", s.now())
			}); err != nil {
				return err
			}
			continue
		}

		log.WithField("tx_nonce", rec.TxNonce).Info("🔄 Awaiting receipt of transaction broadcast before restart")
		subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmitTimeout)
		result := s.submitter.AwaitExisting(subCtx, rec.ID(), SentTx{Hash: common.HexToHash(rec.TxHash), Nonce: rec.TxNonce})
		cancel()
		if err := s.settle(ctx, rec, result); err != nil {
			return err
		}
	}
	return nil
}

// Run executes cycles every PollInterval until ctx is cancelled. A submission in flight at cancellation
// finishes under its own deadline before Run returns.
func (s *RelayService) Run(ctx context.Context) error {
	if err := s.Startup(ctx); err != nil {
		return err
	}

	s.setRunning(true)
	defer s.setRunning(false)

	s.log.WithField("poll_interval", s.cfg.PollInterval).Info("🚀 Relay loop started")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.runCycleLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("🛑 Relay loop stopped")
			return nil
		case req := <-s.requeueCh:
			req.reply <- s.requeue(ctx, req.id)
		case <-ticker.C:
			s.runCycleLogged(ctx)
		}
	}
}

func (s *RelayService) runCycleLogged(ctx context.Context) {
	if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
		s.log.WithError(err).Warn("relay cycle failed")
	}
}

// RunCycle one pass: scan, gate, validate, submit.
func (s *RelayService) RunCycle(ctx context.Context) (err error) {
	if !s.started {
		return errors.New("relay service not started")
	}
	started := time.Now()
	defer func() {
		metrics.RelayCycleDuration.Observe(time.Since(started).Seconds())
		metrics.ConfirmationGateSize.Set(float64(s.gate.Len()))
		s.updatePendingMetrics()
		s.recordCycle(err)
	}()

	head, err := s.watcher.Head(ctx)
	if err != nil {
		return s.cycleError("head", err)
	}
	s.statusMu.Lock()
	s.head = head
	s.statusMu.Unlock()

	if err := s.scan(ctx, head); err != nil {
		return s.cycleError("scan", err)
	}
	s.sourceRecovered()

	result, gateErr := s.gate.Evaluate(ctx, head)
	if err := s.handleGateResult(ctx, result); err != nil {
		return s.cycleError("store", err)
	}
	if gateErr != nil {
		// Decided blocks were applied; the rest wait for the next cycle.
		return s.cycleError("gate", gateErr)
	}

	return s.submitDue(ctx)
}

func (s *RelayService) cycleError(stage string, err error) error {
	reason := stage
	if errors.Is(err, ErrSourceUnavailable) {
		reason = "source_unavailable"
		s.sourceUnavailable(err)
	}
	metrics.RelayCycleErrors.WithLabelValues(reason).Inc()
	return fmt.Errorf("%s: %w", stage, err)
}

func (s *RelayService) sourceUnavailable(err error) {
	s.statusMu.Lock()
	alreadyDown := s.sourceDown
	s.sourceDown = true
	s.statusMu.Unlock()
	if !alreadyDown {
		s.publisher.PublishAlert(events.NewAlert(events.AlertSourceUnavailable, "", err.Error()))
	}
}

func (s *RelayService) sourceRecovered() {
	s.statusMu.Lock()
	wasDown := s.sourceDown
	s.sourceDown = false
	s.statusMu.Unlock()
	if wasDown {
		s.log.Info("✅ Source chain reachable again")
	}
}

// scan reads [nextBlock, head]. The durable position only moves up to head-depth, so the unconfirmed tip
// is read again every cycle; admission skips intents already known.
func (s *RelayService) scan(ctx context.Context, head uint64) error {
	if s.nextBlock > head {
		return nil
	}
	depth := s.gate.Depth()
	return s.watcher.Scan(ctx, s.nextBlock, head, func(chunkEnd uint64, intents []models.Intent) error {
		for _, intent := range intents {
			if err := s.admit(ctx, intent); err != nil {
				return err
			}
		}
		if head < depth {
			return nil
		}
		safe := chunkEnd
		if head-depth < safe {
			safe = head - depth
		}
		if safe+1 > s.nextBlock {
			if err := s.store.AdvanceScan(ctx, safe); err != nil {
				return fmt.Errorf("failed to advance checkpoint: %w", err)
			}
			s.nextBlock = safe + 1
			metrics.LastScannedBlock.Set(float64(safe))
		}
		return nil
	})
}

func (s *RelayService) admit(ctx context.Context, intent models.Intent) error {
	id := utils.MessageIDForIntent(intent)
	key := id.Hex()

	if rec, ok := s.records[key]; ok {
		if rec.State != models.RelayStateConfirming && rec.State != models.RelayStateObserved {
			return nil
		}
		if rec.Intent.SourceBlockNumber == intent.SourceBlockNumber && rec.Intent.SourceBlockHash == intent.SourceBlockHash {
			return nil
		}
		// Same message re-included at another position after a reorg.
		updated := rec.Clone()
		updated.Intent = intent
		updated.SourceBlockNumber = intent.SourceBlockNumber
		updated.UpdatedAt = s.now()
		if err := s.store.SaveIntent(ctx, updated, nil); err != nil {
			return fmt.Errorf("failed to save intent %s: %w", key, err)
		}
		s.records[key] = updated
		s.gate.Add(id, intent)
		return nil
	}

	existing, err := s.store.GetIntent(ctx, id)
	switch {
	case err == nil && existing.State.IsResolved():
		return nil
	case err != nil && !errors.Is(err, repository.ErrIntentNotFound):
		return fmt.Errorf("failed to read intent %s: %w", key, err)
	}

	now := s.now()
	rec := models.NewIntentRecord(id, intent, now)
	metrics.IntentsObserved.Inc()
	tr, err := rec.Transition(models.RelayStateConfirming, fmt.Sprintf("awaiting %d confirmations", s.gate.Depth()), now)
	if err != nil {
		return err
	}
	if err := s.store.SaveIntent(ctx, rec, tr); err != nil {
		return fmt.Errorf("failed to save intent %s: %w", key, err)
	}
	s.records[key] = rec
	s.gate.Add(id, intent)
	s.committed(rec, tr)
	return nil
}

func (s *RelayService) handleGateResult(ctx context.Context, result *GateResult) error {
	if result == nil {
		return nil
	}

	for _, c := range result.Discarded {
		key := c.ID.Hex()
		if err := s.store.DeleteIntent(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to delete orphaned intent %s: %w", key, err)
		}
		delete(s.records, key)
		metrics.IntentsOrphaned.Inc()
		s.log.WithFields(logrus.Fields{"message_id": key, "block": c.Intent.SourceBlockNumber}).Warn("⚠️ Intent orphaned by reorg")
	}
	if lowest, ok := result.LowestDiscardedBlock(); ok {
		if err := s.rewind(ctx, lowest); err != nil {
			return err
		}
		s.publisher.PublishAlert(events.NewAlert(events.AlertReorg, "",
			fmt.Sprintf("%d candidate(s) orphaned, rescanning from block %d", len(result.Discarded), s.nextBlock)))
	}

	for _, c := range result.Promoted {
		key := c.ID.Hex()
		rec, ok := s.records[key]
		if !ok {
			continue
		}
		now := s.now()
		if err := s.apply(ctx, rec, func(r *models.IntentRecord) (*models.TransitionRecord, error) {
			return r.Transition(models.RelayStateConfirmed, fmt.Sprintf("%d confirmations, block hash unchanged", s.gate.Depth()), now)
		}); err != nil {
			return err
		}
		if verr := s.validator.Validate(c.Intent); verr != nil {
			if err := s.apply(ctx, s.records[key], func(r *models.IntentRecord) (*models.TransitionRecord, error) {
				r.LastError = verr.Error()
				return r.Transition(models.RelayStateRejected, verr.Error(), now)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewind moves the scan position back to min(lowest, last-margin) so re-included intents are found again.
func (s *RelayService) rewind(ctx context.Context, lowest uint64) error {
	from := lowest
	if s.nextBlock > 0 {
		last := s.nextBlock - 1
		marginFloor := uint64(0)
		if last > s.cfg.ReorgSafetyMargin {
			marginFloor = last - s.cfg.ReorgSafetyMargin
		}
		if marginFloor < from {
			from = marginFloor
		}
	}
	if from < s.cfg.StartBlock {
		from = s.cfg.StartBlock
	}
	if from >= s.nextBlock {
		return nil
	}

	persisted := uint64(0)
	if from > 0 {
		persisted = from - 1
	}
	if err := s.store.AdvanceScan(ctx, persisted); err != nil {
		return fmt.Errorf("failed to rewind checkpoint: %w", err)
	}
	s.log.WithFields(logrus.Fields{"from": s.nextBlock, "to": from}).Warn("⏪ Rewinding scan position after reorg")
	s.nextBlock = from
	metrics.LastScannedBlock.Set(float64(persisted))
	return nil
}

// submitDue attempts every due confirmed intent in nonce order. Cancellation stops new submissions;
// the current one runs to completion.
func (s *RelayService) submitDue(ctx context.Context) error {
	now := s.now()
	var due []*models.IntentRecord
	for _, rec := range s.records {
		if rec.Due(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Intent.NonceBefore(due[j].Intent)
	})

	for _, rec := range due {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.submitOne(ctx, rec); err != nil {
			return s.cycleError("store", err)
		}
	}
	return nil
}

func (s *RelayService) submitOne(ctx context.Context, rec *models.IntentRecord) error {
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmitTimeout)
	defer cancel()

	key := rec.MessageID
	if verr := s.validator.Validate(rec.Intent); verr != nil {
		return s.apply(ctx, rec, func(r *models.IntentRecord) (*models.TransitionRecord, error) {
			r.LastError = verr.Error()
			return r.Transition(models.RelayStateRejected, verr.Error(), s.now())
		})
	}

	hooks := SubmitHooks{
		OnSubmitting: func(hctx context.Context) error {
			return s.apply(hctx, s.records[key], func(r *models.IntentRecord) (*models.TransitionRecord, error) {
				return r.Transition(models.RelayStateSubmitting, "submitting executeMint", s.now())
			})
		},
		OnBroadcast: func(hctx context.Context, sent SentTx) error {
			return s.apply(hctx, s.records[key], func(r *models.IntentRecord) (*models.TransitionRecord, error) {
				r.TrackTx(sent.Hash.Hex(), sent.Nonce)
				r.UpdatedAt = s.now()
				return nil, nil
			})
		},
	}

	var prior *SentTx
	if rec.HasOutstandingTx() {
		prior = &SentTx{Hash: common.HexToHash(rec.TxHash), Nonce: rec.TxNonce}
	}
	result := s.submitter.Submit(subCtx, rec.ID(), rec.Intent, rec.Attempts, prior, hooks)
	return s.settle(subCtx, s.records[key], result)
}

// settle applies a submission result to the record.
func (s *RelayService) settle(ctx context.Context, rec *models.IntentRecord, result SubmitResult) error {
	switch result.Outcome {
	case OutcomeCompleted, OutcomeAlreadyCompleted:
		return s.apply(ctx, rec, func(r *models.IntentRecord) (*models.TransitionRecord, error) {
			if result.TxHash != (common.Hash{}) {
				r.TxHash = result.TxHash.Hex()
			}
			r.LastError = ""
			return r.Transition(models.RelayStateCompleted, result.Detail, s.now())
		})
	default:
		err := s.apply(ctx, rec, func(r *models.IntentRecord) (*models.TransitionRecord, error) {
			tr, err := r.RecordFailure(s.cfg.Retry, result.Err, s.now())
			if err != nil {
				return nil, err
			}
			if out := result.Outstanding; out != nil {
				r.TrackTx(out.Hash.Hex(), out.Nonce)
			} else {
				r.ClearTx()
			}
			return tr, nil
		})
		if err != nil {
			return err
		}
		if updated := s.records[rec.MessageID]; updated != nil && updated.State == models.RelayStateAbandoned {
			metrics.IntentsAbandoned.Inc()
			s.publisher.PublishAlert(events.NewAlert(events.AlertIntentAbandoned, updated.MessageID,
				fmt.Sprintf("intent %s abandoned after %d attempts: %s", updated.Intent.Describe(), updated.Attempts, updated.LastError)))
		}
		return nil
	}
}

// apply mutates a copy of rec, persists it with its transition and only then swaps it into the pending
// set and publishes the transition.
func (s *RelayService) apply(ctx context.Context, rec *models.IntentRecord, mutate func(r *models.IntentRecord) (*models.TransitionRecord, error)) error {
	if rec == nil {
		return repository.ErrIntentNotFound
	}
	working := rec.Clone()
	tr, err := mutate(working)
	if err != nil {
		return err
	}
	if err := s.store.SaveIntent(ctx, working, tr); err != nil {
		return fmt.Errorf("failed to save intent %s: %w", working.MessageID, err)
	}

	if working.State.IsResolved() {
		delete(s.records, working.MessageID)
	} else {
		s.records[working.MessageID] = working
	}
	if tr != nil {
		s.committed(working, tr)
	}
	return nil
}

func (s *RelayService) committed(rec *models.IntentRecord, tr *models.TransitionRecord) {
	metrics.StateTransitions.WithLabelValues(string(tr.FromState), string(tr.ToState)).Inc()
	s.publisher.PublishTransition(events.NewTransitionEvent(rec, tr))
}

// Requeue moves an abandoned intent back to confirmed. While Run is active the request is executed by the
// loop goroutine.
func (s *RelayService) Requeue(ctx context.Context, id models.MessageID) error {
	if !s.isRunning() {
		return ErrRelayNotRunning
	}
	req := requeueRequest{id: id, reply: make(chan error, 1)}
	select {
	case s.requeueCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RelayService) requeue(ctx context.Context, id models.MessageID) error {
	rec, ok := s.records[id.Hex()]
	if !ok {
		return repository.ErrIntentNotFound
	}
	if err := s.apply(ctx, rec, func(r *models.IntentRecord) (*models.TransitionRecord, error) {
		return r.Requeue(s.now())
	}); err != nil {
		return err
	}
	s.updatePendingMetrics()
	return nil
}

// RequeueIntent offline requeue against the store, for use while the relayer is stopped.
func RequeueIntent(ctx context.Context, store repository.CheckpointStore, id models.MessageID, now time.Time) (*models.IntentRecord, error) {
	rec, err := store.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	tr, err := rec.Requeue(now)
	if err != nil {
		return nil, err
	}
	if err := store.SaveIntent(ctx, rec, tr); err != nil {
		return nil, err
	}
	return rec, nil
}

// Status returns a snapshot. Safe to call from any goroutine.
func (s *RelayService) Status(ctx context.Context) (*RelayStatus, error) {
	s.statusMu.RLock()
	status := &RelayStatus{
		SourceChainID:      s.cfg.SourceChainID,
		DestinationChainID: s.cfg.DestinationChainID,
		Signer:             s.submitter.SignerAddress().Hex(),
		Running:            s.running,
		SourceHead:         s.head,
		ConfirmationDepth:  s.gate.Depth(),
		GateSize:           s.gate.Len(),
		LastCycleError:     s.lastCycleError,
	}
	if s.lastCycleAt != nil {
		t := *s.lastCycleAt
		status.LastCycleAt = &t
	}
	s.statusMu.RUnlock()

	cp, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	status.NextScanBlock = nextScanBlock(cp)
	status.Pending = cp.CountByState()
	return status, nil
}

func (s *RelayService) setRunning(running bool) {
	s.statusMu.Lock()
	s.running = running
	s.statusMu.Unlock()
}

func (s *RelayService) isRunning() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.running
}

func (s *RelayService) recordCycle(err error) {
	now := s.now()
	s.statusMu.Lock()
	s.lastCycleAt = &now
	s.lastCycleError = ""
	if err != nil {
		s.lastCycleError = err.Error()
	}
	s.statusMu.Unlock()
}

func (s *RelayService) updatePendingMetrics() {
	counts := make(map[models.RelayState]int)
	for _, rec := range s.records {
		counts[rec.State]++
	}
	for _, state := range models.AllRelayStates {
		if state.IsResolved() {
			continue
		}
		metrics.PendingIntents.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
