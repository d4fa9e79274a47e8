package models

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MessageID keccak256 digest identifying an intent on both sides of the bridge
type MessageID [32]byte

// Hex returns the 0x-prefixed lowercase encoding.
func (id MessageID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id MessageID) String() string {
	return id.Hex()
}

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool {
	return id == MessageID{}
}

// MarshalText lets MessageID act as a JSON string and map key.
func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText parses the 0x-prefixed hex form.
func (id *MessageID) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseMessageID decodes a 32-byte hex string, with or without 0x prefix.
func ParseMessageID(value string) (MessageID, error) {
	var id MessageID
	value = strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	if len(value) != 64 {
		return id, fmt.Errorf("invalid message id length: expected 64 hex chars, got %d", len(value))
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return id, fmt.Errorf("invalid message id hex: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}

// Intent a single BridgeRequest observed on the source chain
type Intent struct {
	SourceChainID       uint64         `json:"source_chain_id"`
	SourceBridgeAddress common.Address `json:"source_bridge_address"`
	Nonce               *big.Int       `json:"nonce"`
	Amount              *big.Int       `json:"amount"`
	Sender              common.Address `json:"sender"`
	Recipient           common.Address `json:"recipient"`
	DestinationChainID  uint64         `json:"destination_chain_id"`

	// Source position
	SourceBlockNumber uint64      `json:"source_block_number"`
	SourceBlockHash   common.Hash `json:"source_block_hash"`
	SourceTxHash      common.Hash `json:"source_tx_hash"`
	LogIndex          uint        `json:"log_index"`
}

// Before orders intents by source position (blockNumber, logIndex).
func (i Intent) Before(other Intent) bool {
	if i.SourceBlockNumber != other.SourceBlockNumber {
		return i.SourceBlockNumber < other.SourceBlockNumber
	}
	return i.LogIndex < other.LogIndex
}

// NonceBefore orders intents per source bridge by nonce.
func (i Intent) NonceBefore(other Intent) bool {
	if i.SourceChainID != other.SourceChainID {
		return i.SourceChainID < other.SourceChainID
	}
	if c := strings.Compare(strings.ToLower(i.SourceBridgeAddress.Hex()), strings.ToLower(other.SourceBridgeAddress.Hex())); c != 0 {
		return c < 0
	}
	return nonceOrZero(i.Nonce).Cmp(nonceOrZero(other.Nonce)) < 0
}

func nonceOrZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

// Describe returns a compact identifier for logs.
func (i Intent) Describe() string {
	return fmt.Sprintf("chain=%d bridge=%s nonce=%s block=%d", i.SourceChainID, i.SourceBridgeAddress.Hex(), nonceOrZero(i.Nonce), i.SourceBlockNumber)
}
