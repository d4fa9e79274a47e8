package clients

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"

	"bridge-relayer/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// SourceBridgeClient read-only access to the source bridge, rate limited per process
type SourceBridgeClient struct {
	backend EVMBackend
	chainID uint64
	address common.Address
	limiter *rate.Limiter
}

// NewSourceBridgeClient requestsPerSecond <= 0 disables the limiter.
func NewSourceBridgeClient(backend EVMBackend, chainID uint64, address common.Address, requestsPerSecond float64) *SourceBridgeClient {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = int(math.Max(1, math.Ceil(requestsPerSecond)))
	}
	return &SourceBridgeClient{
		backend: backend,
		chainID: chainID,
		address: address,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Address bridge contract being watched
func (c *SourceBridgeClient) Address() common.Address {
	return c.address
}

// ChainID configured source chain id
func (c *SourceBridgeClient) ChainID() uint64 {
	return c.chainID
}

// Backend underlying RPC client
func (c *SourceBridgeClient) Backend() EVMBackend {
	return c.backend
}

// LatestBlockNumber current source head
func (c *SourceBridgeClient) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get source head: %w", err)
	}
	return header.Number.Uint64(), nil
}

// BlockHashAt canonical hash at height
func (c *SourceBridgeClient) BlockHashAt(ctx context.Context, number uint64) (common.Hash, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return common.Hash{}, err
	}
	header, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get source header %d: %w", number, err)
	}
	return header.Hash(), nil
}

// FilterIntents returns the BridgeRequest logs in [from, to] ordered by (blockNumber, logIndex).
func (c *SourceBridgeClient) FilterIntents(ctx context.Context, from, to uint64) ([]models.Intent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{BridgeRequestTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs [%d, %d]: %w", from, to, err)
	}

	intents := make([]models.Intent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		intent, err := DecodeBridgeRequest(c.chainID, lg)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].Before(intents[j])
	})
	return intents, nil
}

// DecodeBridgeRequest turns a raw BridgeRequest log into an Intent. The event does not carry
// the source chain id, so the caller supplies it.
func DecodeBridgeRequest(sourceChainID uint64, lg types.Log) (models.Intent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != BridgeRequestTopic {
		return models.Intent{}, fmt.Errorf("log %s:%d is not a BridgeRequest event", lg.TxHash.Hex(), lg.Index)
	}

	values, err := SourceBridgeABI.Events["BridgeRequest"].Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return models.Intent{}, fmt.Errorf("failed to unpack BridgeRequest %s:%d: %w", lg.TxHash.Hex(), lg.Index, err)
	}
	if len(values) != 3 {
		return models.Intent{}, fmt.Errorf("unexpected BridgeRequest field count %d", len(values))
	}
	amount, okAmount := values[0].(*big.Int)
	nonce, okNonce := values[1].(*big.Int)
	dstChain, okDst := values[2].(*big.Int)
	if !okAmount || !okNonce || !okDst {
		return models.Intent{}, fmt.Errorf("unexpected BridgeRequest field types in %s:%d", lg.TxHash.Hex(), lg.Index)
	}

	// Out of range destinations can never match this relayer; keep them so the validator rejects them.
	destination := uint64(math.MaxUint64)
	if dstChain.IsUint64() {
		destination = dstChain.Uint64()
	}

	return models.Intent{
		SourceChainID:       sourceChainID,
		SourceBridgeAddress: lg.Address,
		Nonce:               nonce,
		Amount:              amount,
		Sender:              common.BytesToAddress(lg.Topics[1].Bytes()),
		Recipient:           common.BytesToAddress(lg.Topics[2].Bytes()),
		DestinationChainID:  destination,
		SourceBlockNumber:   lg.BlockNumber,
		SourceBlockHash:     lg.BlockHash,
		SourceTxHash:        lg.TxHash,
		LogIndex:            lg.Index,
	}, nil
}

// NextNonce nonce the source bridge will assign to the next request
func (c *SourceBridgeClient) NextNonce(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "nextNonce")
	if err != nil {
		return nil, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nextNonce result %T", out[0])
	}
	return nonce, nil
}

// IsChainSupported source-side allow list for destination chains
func (c *SourceBridgeClient) IsChainSupported(ctx context.Context, chainID uint64) (bool, error) {
	out, err := c.call(ctx, "supportedChains", new(big.Int).SetUint64(chainID))
	if err != nil {
		return false, err
	}
	supported, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected supportedChains result %T", out[0])
	}
	return supported, nil
}

func (c *SourceBridgeClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	data, err := SourceBridgeABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	out, err := SourceBridgeABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}
