package services

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"bridge-relayer/internal/clients"
	"bridge-relayer/internal/config"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func unsignedTx() *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(testDestinationChain),
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &testDestBridge,
		Value:     big.NewInt(0),
	})
}

func assertSignedBy(t *testing.T, tx *types.Transaction, want common.Address) {
	t.Helper()
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, want, from)
}

func TestPrivateKeySigner(t *testing.T) {
	signer, err := NewPrivateKeySigner("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"), signer.Address())

	signed, err := signer.SignTx(context.Background(), unsignedTx(), new(big.Int).SetUint64(testDestinationChain))
	require.NoError(t, err)
	assertSignedBy(t, signed, signer.Address())

	_, err = NewPrivateKeySigner("not-a-key")
	assert.Error(t, err)
}

func TestKeystoreSigner(t *testing.T) {
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.ImportECDSA(key, "s3cret")
	require.NoError(t, err)

	signer, err := NewKeystoreSigner(account.URL.Path, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, account.Address, signer.Address())

	_, err = NewKeystoreSigner(account.URL.Path, "wrong")
	assert.Error(t, err)
}

func kmsServer(t *testing.T, keyHex string) *httptest.Server {
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req clients.KMSSignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		digest, err := hexutil.Decode(req.Data)
		require.NoError(t, err)
		sig, err := crypto.Sign(digest, key)
		require.NoError(t, err)
		sig[64] += 27
		_ = json.NewEncoder(w).Encode(clients.KMSSignResponse{Success: true, Signature: hexutil.Encode(sig)})
	}))
}

func TestKMSSigner(t *testing.T) {
	server := kmsServer(t, testKeyHex)
	defer server.Close()
	client := clients.NewKMSClient(config.KMSConfig{BaseURL: server.URL, ServiceName: "bridge-relayer"})

	want := common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	signer := NewKMSSigner(client, "relayer", want)
	signed, err := signer.SignTx(context.Background(), unsignedTx(), new(big.Int).SetUint64(testDestinationChain))
	require.NoError(t, err)
	assertSignedBy(t, signed, want)

	wrong := NewKMSSigner(client, "relayer", common.HexToAddress("0x1234"))
	_, err = wrong.SignTx(context.Background(), unsignedTx(), new(big.Int).SetUint64(testDestinationChain))
	assert.Error(t, err)
}

func TestNewSignerFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Signer.Type = config.SignerTypePrivateKey
	cfg.Signer.PrivateKey = testKeyHex
	signer, err := NewSignerFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "privateKey", signer.Name())

	cfg.Signer.Address = "0x0000000000000000000000000000000000000001"
	_, err = NewSignerFromConfig(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg.Signer.Type = "hsm"
	_, err = NewSignerFromConfig(cfg)
	assert.Error(t, err)
}
