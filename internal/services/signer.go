package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"bridge-relayer/internal/clients"
	"bridge-relayer/internal/config"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs destination transactions for one account
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	Name() string
}

// PrivateKeySigner signs with an in-process key
type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPrivateKeySigner parses a hex key, with or without 0x.
func NewPrivateKeySigner(hexKey string) (*PrivateKeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewPrivateKeySignerFromKey(key), nil
}

// NewPrivateKeySignerFromKey wraps an existing key.
func NewPrivateKeySignerFromKey(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *PrivateKeySigner) Address() common.Address { return s.address }

func (s *PrivateKeySigner) Name() string { return "privateKey" }

func (s *PrivateKeySigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// NewKeystoreSigner decrypts a geth keystore file.
func NewKeystoreSigner(path, password string) (*PrivateKeySigner, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}
	return NewPrivateKeySignerFromKey(key.PrivateKey), nil
}

// KMSSigner delegates digest signing to the KMS service
type KMSSigner struct {
	client   *clients.KMSClient
	keyAlias string
	address  common.Address
}

// NewKMSSigner address must be the account behind keyAlias; every signature is checked against it.
func NewKMSSigner(client *clients.KMSClient, keyAlias string, address common.Address) *KMSSigner {
	return &KMSSigner{client: client, keyAlias: keyAlias, address: address}
}

func (s *KMSSigner) Address() common.Address { return s.address }

func (s *KMSSigner) Name() string { return "kms" }

func (s *KMSSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	digest := signer.Hash(tx)

	resp, err := s.client.Sign(ctx, s.keyAlias, chainID.Uint64(), digest.Hex())
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(resp.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("KMS returned malformed signature %q", resp.Signature)
	}
	// [R || S || V] with V in {27, 28} from some KMS backends
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to apply signature: %w", err)
	}
	from, err := types.Sender(signer, signed)
	if err != nil {
		return nil, fmt.Errorf("failed to recover signer: %w", err)
	}
	if from != s.address {
		return nil, fmt.Errorf("KMS key %s signed as %s, expected %s", s.keyAlias, from.Hex(), s.address.Hex())
	}
	return signed, nil
}

// NewSignerFromConfig builds the configured signer.
func NewSignerFromConfig(cfg *config.Config) (Signer, error) {
	var (
		signer Signer
		err    error
	)
	switch cfg.Signer.Type {
	case config.SignerTypePrivateKey:
		signer, err = NewPrivateKeySigner(cfg.Signer.PrivateKey)
	case config.SignerTypeKeystore:
		signer, err = NewKeystoreSigner(cfg.Signer.KeystorePath, cfg.Signer.KeystorePassword)
	case config.SignerTypeKMS:
		signer = NewKMSSigner(clients.NewKMSClient(cfg.KMS), cfg.Signer.KMSKeyAlias, common.HexToAddress(cfg.Signer.Address))
	default:
		err = fmt.Errorf("unsupported signer type %q", cfg.Signer.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Signer.Address != "" && signer.Address() != common.HexToAddress(cfg.Signer.Address) {
		return nil, fmt.Errorf("%w: signer resolves to %s, configured address is %s",
			config.ErrInvalidConfig, signer.Address().Hex(), cfg.Signer.Address)
	}
	return signer, nil
}
