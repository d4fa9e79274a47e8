package utils

import (
	"math/big"

	"bridge-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveMessageID computes keccak256(abi.encodePacked(uint256 srcChainId, address srcBridge, uint256 nonce)).
// Layout: srcChainId (32 bytes, big-endian) || srcBridge (20 bytes) || nonce (32 bytes, big-endian)
// The destination bridge keys its processed ledger with the same digest, so any change here breaks
// completion checks.
func DeriveMessageID(sourceChainID uint64, sourceBridge common.Address, nonce *big.Int) models.MessageID {
	buf := make([]byte, 0, 32+common.AddressLength+32)
	buf = append(buf, math.U256Bytes(new(big.Int).SetUint64(sourceChainID))...)
	buf = append(buf, sourceBridge.Bytes()...)
	n := new(big.Int)
	if nonce != nil {
		n.Set(nonce)
	}
	buf = append(buf, math.U256Bytes(n)...)
	return models.MessageID(crypto.Keccak256Hash(buf))
}

// MessageIDForIntent derives the id from the identity fields of an intent.
func MessageIDForIntent(intent models.Intent) models.MessageID {
	return DeriveMessageID(intent.SourceChainID, intent.SourceBridgeAddress, intent.Nonce)
}
