package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"bridge-relayer/internal/clients"
	"bridge-relayer/internal/events"
	"bridge-relayer/internal/models"
	"bridge-relayer/internal/repository"
	"bridge-relayer/internal/utils"

	"github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	testSourceChain      = uint64(11155111)
	testDestinationChain = uint64(421614)
)

var (
	testSourceBridge = common.HexToAddress("0x5388887B8b444170B5fd0F22919073579Cc5bFEC")
	testDestBridge   = common.HexToAddress("0x2222000000000000000000000000000000000022")
	testRecipient    = common.HexToAddress("0xABCD000000000000000000000000000000000001")
	testSender       = common.HexToAddress("0x1111000000000000000000000000000000000002")

	errNotSupported = errors.New("not supported by fake backend")
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// fakeSource an in-process source chain. Header hashes depend on a per-block fork id, so a reorg is a
// change of fork id from some height up.
type fakeSource struct {
	mu      sync.Mutex
	chainID uint64
	head    uint64
	forks   map[uint64]byte
	logs    []types.Log
	down    bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{chainID: testSourceChain, forks: make(map[uint64]byte)}
}

func (f *fakeSource) headerAt(n uint64) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(n),
		Difficulty: big.NewInt(0),
		Extra:      []byte{f.forks[n]},
	}
}

func (f *fakeSource) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func (f *fakeSource) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// emit adds a BridgeRequest at block with the given log index.
func (f *fakeSource) emit(t *testing.T, nonce, amount int64, dst uint64, block uint64, index uint) {
	t.Helper()
	data, err := clients.SourceBridgeABI.Events["BridgeRequest"].Inputs.NonIndexed().Pack(
		big.NewInt(amount), big.NewInt(nonce), new(big.Int).SetUint64(dst))
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, types.Log{
		Address:     testSourceBridge,
		Topics:      []common.Hash{clients.BridgeRequestTopic, common.BytesToHash(testSender.Bytes()), common.BytesToHash(testRecipient.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(nonce*1000 + int64(block))),
		Index:       index,
	})
}

// reorg replaces every block from height up and drops their logs.
func (f *fakeSource) reorg(from uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for n := from; n <= f.head+64; n++ {
		f.forks[n]++
	}
	kept := f.logs[:0]
	for _, lg := range f.logs {
		if lg.BlockNumber < from {
			kept = append(kept, lg)
		}
	}
	f.logs = kept
}

func (f *fakeSource) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(f.chainID), nil
}

func (f *fakeSource) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	if number == nil {
		return f.headerAt(f.head), nil
	}
	if number.Uint64() > f.head {
		return nil, ethereum.NotFound
	}
	return f.headerAt(number.Uint64()), nil
}

func (f *fakeSource) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to || lg.BlockNumber > f.head {
			continue
		}
		if len(q.Addresses) > 0 && lg.Address != q.Addresses[0] {
			continue
		}
		lg.BlockHash = f.headerAt(lg.BlockNumber).Hash()
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeSource) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := clients.SourceBridgeABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch method.Name {
	case "nextNonce":
		return method.Outputs.Pack(big.NewInt(int64(len(f.logs))))
	case "supportedChains":
		return method.Outputs.Pack(true)
	}
	return nil, errNotSupported
}

func (f *fakeSource) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeSource) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeSource) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, errNotSupported
}

func (f *fakeSource) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return nil, errNotSupported
}

func (f *fakeSource) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return nil, errNotSupported
}

func (f *fakeSource) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, errNotSupported
}

func (f *fakeSource) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return errNotSupported
}

func (f *fakeSource) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func (f *fakeSource) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

type mineMode int

const (
	mineSuccess   mineMode = iota // executes unless already processed
	mineRevert                    // every transaction reverts
	mineNever                     // accepted into the pool, never mined
	mineSendError                 // SendTransaction fails
)

// fakeDestination an in-process destination bridge that executes executeMint.
type fakeDestination struct {
	mu        sync.Mutex
	chainID   uint64
	mode      mineMode
	sendErr   error
	legacy    bool
	processed map[models.MessageID]bool
	receipts  map[common.Hash]*types.Receipt
	sent      []*types.Transaction
	pool      map[uint64]*types.Transaction // accepted but unmined, by nonce
	nonce     uint64
	trusted   map[uint64]common.Address
	block     uint64
	onSend    func(tx *types.Transaction)
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		chainID:   testDestinationChain,
		processed: make(map[models.MessageID]bool),
		receipts:  make(map[common.Hash]*types.Receipt),
		pool:      make(map[uint64]*types.Transaction),
		trusted:   map[uint64]common.Address{testSourceChain: testSourceBridge},
		block:     1000,
	}
}

func (f *fakeDestination) setMode(mode mineMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
}

func (f *fakeDestination) markProcessed(id models.MessageID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = true
}

func (f *fakeDestination) sends() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

// sentNonces bridge nonces of every executeMint sent, in send order.
func (f *fakeDestination) sentNonces(t *testing.T) []int64 {
	t.Helper()
	var out []int64
	for _, tx := range f.sends() {
		args := decodeExecuteMint(t, tx.Data())
		out = append(out, args.nonce.Int64())
	}
	return out
}

type executeMintArgs struct {
	amount    *big.Int
	to        common.Address
	srcChain  *big.Int
	srcBridge common.Address
	nonce     *big.Int
}

func decodeExecuteMint(t *testing.T, data []byte) executeMintArgs {
	t.Helper()
	args, err := unpackExecuteMint(data)
	require.NoError(t, err)
	return args
}

func unpackExecuteMint(data []byte) (executeMintArgs, error) {
	method, err := clients.DestinationBridgeABI.MethodById(data[:4])
	if err != nil {
		return executeMintArgs{}, err
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return executeMintArgs{}, err
	}
	return executeMintArgs{
		amount:    values[0].(*big.Int),
		to:        values[1].(common.Address),
		srcChain:  values[2].(*big.Int),
		srcBridge: values[3].(common.Address),
		nonce:     values[4].(*big.Int),
	}, nil
}

func (f *fakeDestination) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(f.chainID), nil
}

func (f *fakeDestination) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	header := &types.Header{Number: new(big.Int).SetUint64(f.block), Difficulty: big.NewInt(0)}
	if !f.legacy {
		header.BaseFee = big.NewInt(100_000_000)
	}
	return header, nil
}

func (f *fakeDestination) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, errNotSupported
}

func (f *fakeDestination) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := clients.DestinationBridgeABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch method.Name {
	case "processed":
		return method.Outputs.Pack(f.processed[models.MessageID(args[0].([32]byte))])
	case "sourceBridgeForChain":
		return method.Outputs.Pack(f.trusted[args[0].(*big.Int).Uint64()])
	}
	return nil, errNotSupported
}

func (f *fakeDestination) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeDestination) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

func (f *fakeDestination) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeDestination) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeDestination) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}

func (f *fakeDestination) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (f *fakeDestination) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	if f.mode == mineSendError {
		err := f.sendErr
		f.mu.Unlock()
		if err == nil {
			err = errors.New("transaction underpriced")
		}
		return err
	}
	if tx.Nonce() < f.nonce {
		pooled, ok := f.pool[tx.Nonce()]
		if !ok {
			f.mu.Unlock()
			return fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", f.nonce, tx.Nonce())
		}
		if !outbids(tx, pooled) {
			f.mu.Unlock()
			return errors.New("replacement transaction underpriced")
		}
	}
	delete(f.pool, tx.Nonce())

	f.sent = append(f.sent, tx)
	onSend := f.onSend
	args, err := unpackExecuteMint(tx.Data())
	if err != nil {
		f.mu.Unlock()
		return err
	}
	id := utils.DeriveMessageID(args.srcChain.Uint64(), args.srcBridge, args.nonce)

	if tx.Nonce()+1 > f.nonce {
		f.nonce = tx.Nonce() + 1
	}
	switch f.mode {
	case mineSuccess, mineRevert:
		f.block++
		status := types.ReceiptStatusSuccessful
		if f.mode == mineRevert || f.processed[id] {
			status = types.ReceiptStatusFailed
		} else {
			f.processed[id] = true
		}
		f.receipts[tx.Hash()] = &types.Receipt{
			Status:      status,
			TxHash:      tx.Hash(),
			BlockNumber: new(big.Int).SetUint64(f.block),
			GasUsed:     60_000,
		}
	case mineNever:
		f.pool[tx.Nonce()] = tx
	}
	f.mu.Unlock()

	if onSend != nil {
		onSend(tx)
	}
	return nil
}

// outbids applies the node rule for same-nonce replacement: both fee fields at least 10% higher.
func outbids(tx, pooled *types.Transaction) bool {
	floor := func(fee *big.Int) *big.Int {
		return new(big.Int).Div(new(big.Int).Mul(fee, big.NewInt(110)), big.NewInt(100))
	}
	return tx.GasTipCap().Cmp(floor(pooled.GasTipCap())) >= 0 && tx.GasFeeCap().Cmp(floor(pooled.GasFeeCap())) >= 0
}

// mineLater executes a transaction that was accepted while the chain was not mining.
func (f *fakeDestination) mineLater(tx *types.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pool, tx.Nonce())
	args, _ := unpackExecuteMint(tx.Data())
	id := utils.DeriveMessageID(args.srcChain.Uint64(), args.srcBridge, args.nonce)
	f.block++
	status := types.ReceiptStatusFailed
	if !f.processed[id] {
		f.processed[id] = true
		status = types.ReceiptStatusSuccessful
	}
	f.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: new(big.Int).SetUint64(f.block)}
}

func (f *fakeDestination) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			_, mined := f.receipts[hash]
			return tx, !mined, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeDestination) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if receipt, ok := f.receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, ethereum.NotFound
}

// recordingPublisher captures dispatched events.
type recordingPublisher struct {
	mu          sync.Mutex
	transitions []events.TransitionEvent
	alerts      []events.Alert
}

func (p *recordingPublisher) PublishTransition(evt events.TransitionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, evt)
}

func (p *recordingPublisher) PublishAlert(alert events.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
}

func (p *recordingPublisher) alertKinds() []events.AlertKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kinds []events.AlertKind
	for _, a := range p.alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

func (p *recordingPublisher) statesFor(id models.MessageID) []models.RelayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	var states []models.RelayState
	for _, evt := range p.transitions {
		if evt.MessageID == id.Hex() {
			states = append(states, evt.To)
		}
	}
	return states
}

// relayHarness a relay service wired to fake chains and an in-memory store.
type relayHarness struct {
	source    *fakeSource
	dest      *fakeDestination
	store     repository.CheckpointStore
	publisher *recordingPublisher
	checker   *CompletionChecker
	submitter *TransactionSubmitter
	relay     *RelayService
	clock     time.Time
}

type harnessOption func(*RelayConfig, *SubmitterConfig)

func newRelayHarness(t *testing.T, source *fakeSource, dest *fakeDestination, store repository.CheckpointStore, opts ...harnessOption) *relayHarness {
	t.Helper()
	log := testLogger()

	relayCfg := RelayConfig{
		SourceChainID:      testSourceChain,
		DestinationChainID: testDestinationChain,
		StartBlock:         90,
		ReorgSafetyMargin:  10,
		PollInterval:       10 * time.Millisecond,
		SubmitTimeout:      5 * time.Second,
		VerifyTrust:        true,
		Retry: models.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
		},
	}
	submitCfg := SubmitterConfig{
		ChainID:             testDestinationChain,
		GasMultiplier:       1.2,
		FeeBumpPercent:      10,
		ReceiptTimeout:      50 * time.Millisecond,
		ReceiptPollInterval: 5 * time.Millisecond,
		RPCTimeout:          time.Second,
	}
	for _, opt := range opts {
		opt(&relayCfg, &submitCfg)
	}

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewPrivateKeySignerFromKey(key)

	sourceClient := clients.NewSourceBridgeClient(source, testSourceChain, testSourceBridge, 0)
	destClient := clients.NewDestinationBridgeClient(dest, testDestBridge)

	watcher := NewEventWatcher(sourceClient, WatcherConfig{
		MaxBlockRange:   5,
		RPCAttempts:     2,
		RPCTimeout:      time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, log)
	gate := NewConfirmationGate(3, watcher)
	validator, err := NewMessageValidator(testDestinationChain, map[uint64]common.Address{testSourceChain: testSourceBridge})
	require.NoError(t, err)
	checker, err := NewCompletionChecker(destClient, 128)
	require.NoError(t, err)
	submitter := NewTransactionSubmitter(dest, testDestBridge, signer, checker, submitCfg, log)
	publisher := &recordingPublisher{}

	h := &relayHarness{
		source:    source,
		dest:      dest,
		store:     store,
		publisher: publisher,
		checker:   checker,
		submitter: submitter,
		clock:     time.Unix(1700000000, 0).UTC(),
	}
	h.relay = NewRelayService(relayCfg, store, sourceClient, dest, destClient, watcher, gate, validator, submitter, publisher, log)
	h.relay.now = func() time.Time { return h.clock }
	return h
}

func (h *relayHarness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

// cycleAt moves the source head and runs one cycle.
func (h *relayHarness) cycleAt(t *testing.T, head uint64) {
	t.Helper()
	h.source.setHead(head)
	require.NoError(t, h.relay.RunCycle(context.Background()))
}

func (h *relayHarness) record(t *testing.T, id models.MessageID) *models.IntentRecord {
	t.Helper()
	rec, err := h.store.GetIntent(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func newMemoryStore(t *testing.T) repository.CheckpointStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	store := repository.NewBadgerCheckpointStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func intentID(nonce int64) models.MessageID {
	return utils.DeriveMessageID(testSourceChain, testSourceBridge, big.NewInt(nonce))
}
