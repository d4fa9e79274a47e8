package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"bridge-relayer/internal/clients"
	"bridge-relayer/internal/metrics"
	"bridge-relayer/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// SubmitterConfig destination transaction parameters
type SubmitterConfig struct {
	ChainID             uint64
	GasLimit            uint64  // 0 = estimate
	GasMultiplier       float64 // applied to the estimate
	FeeBumpPercent      uint64  // compounded once per previous attempt
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration // recovery polling only; WaitMined polls on its own
	RPCTimeout          time.Duration
}

// SubmitOutcome how an attempt ended
type SubmitOutcome string

const (
	OutcomeCompleted        SubmitOutcome = "completed"         // executed on the destination
	OutcomeAlreadyCompleted SubmitOutcome = "already_completed" // ledger already processed; nothing sent
	OutcomeRetry            SubmitOutcome = "retry"             // retryable failure
)

// minReplacementBumpPercent nodes reject a same-nonce replacement below a 10% fee increase
const minReplacementBumpPercent = 10

// SentTx a broadcast executeMint and the signer nonce it holds
type SentTx struct {
	Hash  common.Hash
	Nonce uint64
}

// SubmitResult result of Submit or AwaitExisting
type SubmitResult struct {
	Outcome   SubmitOutcome
	TxHash    common.Hash
	Broadcast bool
	Detail    string
	Err       error

	// Outstanding is the transaction still holding the intent's nonce without a receipt. The next
	// attempt must check it and replace it at the same nonce.
	Outstanding *SentTx
}

// SubmitHooks let the caller persist state before anything leaves the process and once the hash is known.
type SubmitHooks struct {
	OnSubmitting func(ctx context.Context) error
	OnBroadcast  func(ctx context.Context, sent SentTx) error
}

type signerState struct {
	mu        sync.Mutex
	nextNonce uint64
	known     bool
}

// TransactionSubmitter sends executeMint, at most one in-flight transaction per signer
type TransactionSubmitter struct {
	backend clients.EVMBackend
	bridge  common.Address
	signer  Signer
	checker *CompletionChecker
	cfg     SubmitterConfig
	log     *logrus.Entry

	lockMutex sync.RWMutex
	signers   map[common.Address]*signerState
}

// NewTransactionSubmitter creates a new TransactionSubmitter instance
func NewTransactionSubmitter(backend clients.EVMBackend, bridge common.Address, signer Signer, checker *CompletionChecker, cfg SubmitterConfig, log *logrus.Entry) *TransactionSubmitter {
	if cfg.GasMultiplier < 1 {
		cfg.GasMultiplier = 1
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.ReceiptPollInterval == 0 {
		cfg.ReceiptPollInterval = time.Second
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 15 * time.Second
	}
	return &TransactionSubmitter{
		backend: backend,
		bridge:  bridge,
		signer:  signer,
		checker: checker,
		cfg:     cfg,
		log:     log,
		signers: make(map[common.Address]*signerState),
	}
}

// SignerAddress account paying for submissions
func (s *TransactionSubmitter) SignerAddress() common.Address {
	return s.signer.Address()
}

// getOrCreateLock per-signer state, created on first use
func (s *TransactionSubmitter) getOrCreateLock(address common.Address) *signerState {
	s.lockMutex.RLock()
	state, exists := s.signers[address]
	s.lockMutex.RUnlock()
	if exists {
		return state
	}

	s.lockMutex.Lock()
	defer s.lockMutex.Unlock()
	if state, exists := s.signers[address]; exists {
		return state
	}
	state = &signerState{}
	s.signers[address] = state
	return state
}

// Submit performs one attempt for intent. attempt is the number of earlier failed attempts and drives the
// fee bump. The completion pre-check runs under the signer lock, so a duplicate trigger that waited on the
// lock sees the first submission's result and sends nothing.
//
// prior is the transaction an earlier attempt left without a receipt. It is checked first; if it is still
// unmined the new transaction reuses its nonce with higher fees and replaces it.
func (s *TransactionSubmitter) Submit(ctx context.Context, id models.MessageID, intent models.Intent, attempt int, prior *SentTx, hooks SubmitHooks) SubmitResult {
	state := s.getOrCreateLock(s.signer.Address())
	state.mu.Lock()
	defer state.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"message_id": id.Hex(), "nonce": intent.Nonce, "attempt": attempt + 1})

	// Failures before a replacement is broadcast leave prior holding the nonce.
	keepPrior := func(result SubmitResult) SubmitResult {
		result.Outstanding = prior
		return result
	}

	if prior != nil {
		receipt, err := s.finalReceiptQuery(ctx, prior.Hash, nil)
		if receipt != nil {
			log.WithField("tx_hash", prior.Hash.Hex()).Info("📥 Earlier executeMint mined")
			return s.resolve(ctx, id, *prior, receipt, nil)
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return keepPrior(s.retry(&prior.Hash, true, fmt.Errorf("%w: receipt query for %s: %v", ErrTransient, prior.Hash.Hex(), err)))
		}
	}

	done, err := s.checker.IsCompleted(ctx, id)
	if err != nil {
		return keepPrior(s.retry(nil, false, err))
	}
	if done {
		metrics.SubmissionsTotal.WithLabelValues(string(OutcomeAlreadyCompleted)).Inc()
		result := SubmitResult{Outcome: OutcomeAlreadyCompleted, Detail: "destination already processed"}
		if prior != nil {
			result.TxHash = prior.Hash
		}
		return result
	}

	if hooks.OnSubmitting != nil {
		if err := hooks.OnSubmitting(ctx); err != nil {
			return keepPrior(s.retry(nil, false, fmt.Errorf("failed to persist submitting state: %w", err)))
		}
	}

	tx, err := s.buildTransaction(ctx, state, intent, attempt, prior)
	if err != nil {
		// Estimation reverts once another relayer has executed the intent.
		if done, checkErr := s.checker.IsCompleted(ctx, id); checkErr == nil && done {
			metrics.SubmissionsTotal.WithLabelValues(string(OutcomeAlreadyCompleted)).Inc()
			return SubmitResult{Outcome: OutcomeAlreadyCompleted, Detail: "processed while preparing transaction"}
		}
		return keepPrior(s.retry(nil, false, err))
	}

	signed, err := s.signer.SignTx(ctx, tx, new(big.Int).SetUint64(s.cfg.ChainID))
	if err != nil {
		return keepPrior(s.retry(nil, false, fmt.Errorf("%w: %v", ErrTransient, err)))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	err = s.backend.SendTransaction(sendCtx, signed)
	cancel()
	if err != nil {
		if isNonceError(err) {
			state.known = false
		}
		log.WithError(err).WithField("tx_nonce", signed.Nonce()).Warn("❌ executeMint broadcast failed")
		result := s.retry(nil, false, fmt.Errorf("%w: send transaction: %v", ErrTransient, err))
		// A replacement refused with "nonce too low" means the nonce was consumed by a transaction that
		// did not execute this intent; the next attempt takes a fresh nonce.
		if prior == nil || !isNonceTooLow(err) {
			result.Outstanding = prior
		}
		return result
	}
	if !state.known || signed.Nonce()+1 > state.nextNonce {
		state.nextNonce = signed.Nonce() + 1
	}
	state.known = true

	sent := SentTx{Hash: signed.Hash(), Nonce: signed.Nonce()}
	fields := logrus.Fields{"tx_hash": sent.Hash.Hex(), "tx_nonce": sent.Nonce}
	if prior != nil {
		fields["replaces"] = prior.Hash.Hex()
	}
	log.WithFields(fields).Info("📤 executeMint broadcast")
	if hooks.OnBroadcast != nil {
		if err := hooks.OnBroadcast(ctx, sent); err != nil {
			log.WithError(err).Error("failed to persist broadcast hash; continuing to wait for receipt")
		}
	}

	started := time.Now()
	receipt, waitErr := s.waitForTransaction(ctx, signed)
	if receipt != nil {
		metrics.SubmissionDuration.Observe(time.Since(started).Seconds())
	}
	return s.resolve(ctx, id, sent, receipt, waitErr)
}

// AwaitExisting resolves a transaction broadcast before a restart.
func (s *TransactionSubmitter) AwaitExisting(ctx context.Context, id models.MessageID, sent SentTx) SubmitResult {
	state := s.getOrCreateLock(s.signer.Address())
	state.mu.Lock()
	defer state.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	receipt, err := s.pollReceipt(waitCtx, sent.Hash)
	cancel()
	if receipt == nil {
		receipt, err = s.finalReceiptQuery(ctx, sent.Hash, err)
	}
	return s.resolve(ctx, id, sent, receipt, err)
}

func (s *TransactionSubmitter) resolve(ctx context.Context, id models.MessageID, sent SentTx, receipt *types.Receipt, waitErr error) SubmitResult {
	hash := sent.Hash
	if receipt != nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			s.checker.MarkCompleted(id)
			metrics.SubmissionsTotal.WithLabelValues(string(OutcomeCompleted)).Inc()
			return SubmitResult{Outcome: OutcomeCompleted, TxHash: hash, Broadcast: true,
				Detail: fmt.Sprintf("executeMint mined in block %d", receipt.BlockNumber.Uint64())}
		}

		if done, err := s.checker.IsCompleted(ctx, id); err == nil && done {
			metrics.SubmissionsTotal.WithLabelValues(string(OutcomeCompleted)).Inc()
			return SubmitResult{Outcome: OutcomeCompleted, TxHash: hash, Broadcast: true,
				Detail: "transaction reverted but destination reports processed"}
		}
		// Mined: the nonce is spent and nothing is outstanding.
		return s.retry(&hash, true, fmt.Errorf("%w: transaction %s reverted", ErrTransient, hash.Hex()))
	}

	ambiguous := fmt.Errorf("%w: no receipt for %s: %v", ErrAmbiguousOutcome, hash.Hex(), waitErr)
	if done, err := s.checker.IsCompleted(ctx, id); err == nil && done {
		metrics.SubmissionsTotal.WithLabelValues(string(OutcomeCompleted)).Inc()
		return SubmitResult{Outcome: OutcomeCompleted, TxHash: hash, Broadcast: true,
			Detail: "receipt timed out but destination reports processed"}
	}
	result := s.retry(&hash, true, ambiguous)
	result.Outstanding = &sent
	return result
}

func (s *TransactionSubmitter) retry(hash *common.Hash, broadcast bool, err error) SubmitResult {
	metrics.SubmissionsTotal.WithLabelValues(string(OutcomeRetry)).Inc()
	result := SubmitResult{Outcome: OutcomeRetry, Broadcast: broadcast, Err: err}
	if err != nil {
		result.Detail = err.Error()
	}
	if hash != nil {
		result.TxHash = *hash
	}
	return result
}

func (s *TransactionSubmitter) buildTransaction(ctx context.Context, state *signerState, intent models.Intent, attempt int, prior *SentTx) (*types.Transaction, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	defer cancel()

	from := s.signer.Address()
	var nonce uint64
	var replaced *types.Transaction
	if prior != nil {
		nonce = prior.Nonce
		// Unknown to the node (dropped from its pool): the suggested fees are enough.
		if tx, _, err := s.backend.TransactionByHash(rpcCtx, prior.Hash); err == nil {
			replaced = tx
		}
	} else {
		pending, err := s.backend.PendingNonceAt(rpcCtx, from)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get nonce: %v", ErrTransient, err)
		}
		nonce = pending
		if state.known && state.nextNonce > nonce {
			nonce = state.nextNonce
		}
	}

	data, err := clients.PackExecuteMint(intent)
	if err != nil {
		return nil, err
	}

	gasLimit := s.cfg.GasLimit
	if gasLimit == 0 {
		estimate, err := s.backend.EstimateGas(rpcCtx, ethereum.CallMsg{From: from, To: &s.bridge, Data: data})
		if err != nil {
			return nil, fmt.Errorf("%w: gas estimation failed: %v", ErrTransient, err)
		}
		gasLimit = uint64(float64(estimate) * s.cfg.GasMultiplier)
	}

	head, err := s.backend.HeaderByNumber(rpcCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get destination head: %v", ErrTransient, err)
	}

	chainID := new(big.Int).SetUint64(s.cfg.ChainID)
	if head.BaseFee != nil {
		tip, err := s.backend.SuggestGasTipCap(rpcCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get tip cap: %v", ErrTransient, err)
		}
		tip = bumpFee(tip, s.cfg.FeeBumpPercent, attempt)
		if replaced != nil {
			tip = maxBig(tip, s.replacementFloor(replaced.GasTipCap()))
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		if replaced != nil {
			feeCap = maxBig(feeCap, s.replacementFloor(replaced.GasFeeCap()))
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &s.bridge,
			Value:     big.NewInt(0),
			Data:      data,
		}), nil
	}

	gasPrice, err := s.backend.SuggestGasPrice(rpcCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get gas price: %v", ErrTransient, err)
	}
	gasPrice = bumpFee(gasPrice, s.cfg.FeeBumpPercent, attempt)
	if replaced != nil {
		gasPrice = maxBig(gasPrice, s.replacementFloor(replaced.GasPrice()))
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &s.bridge,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

// waitForTransaction WaitMined bounded by ReceiptTimeout, then one forced receipt query
func (s *TransactionSubmitter) waitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	receipt, err := bind.WaitMined(waitCtx, s.backend, tx)
	cancel()
	if err == nil && receipt != nil {
		return receipt, nil
	}
	s.log.WithError(err).WithField("tx_hash", tx.Hash().Hex()).Warn("⚠️ receipt wait timed out, forcing final query")
	return s.finalReceiptQuery(ctx, tx.Hash(), err)
}

func (s *TransactionSubmitter) finalReceiptQuery(ctx context.Context, hash common.Hash, prevErr error) (*types.Receipt, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	defer cancel()
	receipt, err := s.backend.TransactionReceipt(queryCtx, hash)
	if err == nil && receipt != nil {
		return receipt, nil
	}
	if err == nil {
		err = prevErr
	}
	return nil, err
}

func (s *TransactionSubmitter) pollReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.cfg.ReceiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.log.WithError(err).WithField("tx_hash", hash.Hex()).Debug("receipt query failed")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// bumpFee compounds percent once per previous attempt.
func bumpFee(fee *big.Int, percent uint64, attempts int) *big.Int {
	out := new(big.Int).Set(fee)
	if percent == 0 {
		return out
	}
	factor := new(big.Int).SetUint64(100 + percent)
	hundred := big.NewInt(100)
	for i := 0; i < attempts; i++ {
		out.Mul(out, factor)
		out.Div(out, hundred)
	}
	return out
}

// replacementFloor lowest fee a node accepts for a transaction replacing one paying fee.
func (s *TransactionSubmitter) replacementFloor(fee *big.Int) *big.Int {
	percent := s.cfg.FeeBumpPercent
	if percent < minReplacementBumpPercent {
		percent = minReplacementBumpPercent
	}
	out := new(big.Int).Mul(fee, new(big.Int).SetUint64(100+percent))
	out.Add(out, big.NewInt(99))
	return out.Div(out, big.NewInt(100))
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"nonce too low", "nonce too high", "already known", "replacement transaction underpriced", "invalid nonce"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
