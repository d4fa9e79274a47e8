package services

import (
	"fmt"

	"bridge-relayer/internal/config"
	"bridge-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// MessageValidator enforces this instance's (source, destination) pairing
type MessageValidator struct {
	destinationChainID uint64
	trusted            map[uint64]common.Address
}

// NewMessageValidator refuses an empty trust table.
func NewMessageValidator(destinationChainID uint64, trusted map[uint64]common.Address) (*MessageValidator, error) {
	if len(trusted) == 0 {
		return nil, fmt.Errorf("%w: trusted source bridge table is empty", config.ErrInvalidConfig)
	}
	table := make(map[uint64]common.Address, len(trusted))
	for chainID, addr := range trusted {
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("%w: trusted source bridge for chain %d is the zero address", config.ErrInvalidConfig, chainID)
		}
		table[chainID] = addr
	}
	return &MessageValidator{destinationChainID: destinationChainID, trusted: table}, nil
}

// RequireTrusted startup check that sourceChainID has a trusted bridge.
func (v *MessageValidator) RequireTrusted(sourceChainID uint64) (common.Address, error) {
	addr, ok := v.trusted[sourceChainID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: no trusted source bridge for chain %d", config.ErrInvalidConfig, sourceChainID)
	}
	return addr, nil
}

// Validate returns nil for a relayable intent, otherwise an error wrapping ErrInvalidIntent.
func (v *MessageValidator) Validate(intent models.Intent) error {
	if intent.DestinationChainID != v.destinationChainID {
		return fmt.Errorf("%w: %w: intent targets chain %d, relayer serves %d",
			ErrInvalidIntent, ErrWrongDestination, intent.DestinationChainID, v.destinationChainID)
	}
	trusted, ok := v.trusted[intent.SourceChainID]
	if !ok || trusted != intent.SourceBridgeAddress {
		return fmt.Errorf("%w: %w: %s is not the trusted bridge for chain %d",
			ErrInvalidIntent, ErrUntrustedSource, intent.SourceBridgeAddress.Hex(), intent.SourceChainID)
	}
	return nil
}
