package clients

import (
	"context"
	"fmt"
	"math/big"

	"bridge-relayer/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// DestinationBridgeClient reads the completion ledger and encodes executeMint
type DestinationBridgeClient struct {
	backend EVMBackend
	address common.Address
}

// NewDestinationBridgeClient creates a new DestinationBridgeClient instance
func NewDestinationBridgeClient(backend EVMBackend, address common.Address) *DestinationBridgeClient {
	return &DestinationBridgeClient{backend: backend, address: address}
}

// Address destination bridge contract
func (c *DestinationBridgeClient) Address() common.Address {
	return c.address
}

// Backend underlying RPC client
func (c *DestinationBridgeClient) Backend() EVMBackend {
	return c.backend
}

// IsProcessed reads processed(messageId) at the latest block.
func (c *DestinationBridgeClient) IsProcessed(ctx context.Context, id models.MessageID) (bool, error) {
	out, err := c.call(ctx, "processed", [32]byte(id))
	if err != nil {
		return false, err
	}
	processed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected processed result %T", out[0])
	}
	return processed, nil
}

// SourceBridgeFor trusted source bridge registered on the destination for chainID.
func (c *DestinationBridgeClient) SourceBridgeFor(ctx context.Context, chainID uint64) (common.Address, error) {
	out, err := c.call(ctx, "sourceBridgeForChain", new(big.Int).SetUint64(chainID))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected sourceBridgeForChain result %T", out[0])
	}
	return addr, nil
}

// PackExecuteMint executeMint(amount, to, srcChainId, srcBridge, nonce)
func PackExecuteMint(intent models.Intent) ([]byte, error) {
	data, err := DestinationBridgeABI.Pack("executeMint",
		intent.Amount,
		intent.Recipient,
		new(big.Int).SetUint64(intent.SourceChainID),
		intent.SourceBridgeAddress,
		intent.Nonce,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeMint: %w", err)
	}
	return data, nil
}

func (c *DestinationBridgeClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := DestinationBridgeABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	out, err := DestinationBridgeABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}
