package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  enabled: true
  port: 9000
log:
  level: debug
database:
  driver: badger
  path: /tmp/relayer-test
source:
  name: sepolia
  chainId: 11155111
  rpcEndpoints:
    - https://rpc.sepolia.example
  startBlock: 6000000
  confirmationDepth: 3
  reorgSafetyMargin: 12
destination:
  name: arbitrum-sepolia
  chainId: 421614
  rpcEndpoints:
    - https://rpc.arb-sepolia.example
  bridgeAddress: "0xb81A7F4dc018ef56481654B5C1c448D5d71FA2cA"
  receiptTimeout: 90s
relay:
  pollInterval: 5s
  maxAttempts: 4
  initialBackoff: 2s
  maxBackoff: 1m
signer:
  type: privateKey
  privateKey: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
trustedSourceBridges:
  11155111: "0x5388887B8b444170B5fd0F22919073579Cc5bFEC"
`

func TestParseSampleConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, uint64(11155111), cfg.Source.ChainID)
	assert.Equal(t, uint64(421614), cfg.Destination.ChainID)
	assert.Equal(t, uint64(3), cfg.Source.ConfirmationDepth)
	assert.Equal(t, uint64(12), cfg.Source.ReorgSafetyMargin)
	assert.Equal(t, 90*time.Second, cfg.Destination.ReceiptTimeout)
	assert.Equal(t, 5*time.Second, cfg.Relay.PollInterval)
	assert.Equal(t, common.HexToAddress("0x5388887B8b444170B5fd0F22919073579Cc5bFEC"), cfg.SourceBridge())
	assert.Equal(t, common.HexToAddress("0xb81A7F4dc018ef56481654B5C1c448D5d71FA2cA"), cfg.DestinationBridge())
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, policy.InitialBackoff)
	assert.Equal(t, time.Minute, policy.MaxBackoff)

	// defaults
	assert.Equal(t, uint64(2000), cfg.Source.MaxBlockRange)
	assert.Equal(t, 1.2, cfg.Destination.GasMultiplier)
	assert.Equal(t, "relayer", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sepolia", cfg.Source.Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOURCE_RPC_ENDPOINTS", "https://a.example, https://b.example,")
	t.Setenv("SERVER_PORT", "7001")
	t.Setenv("ADMIN_JWT_SECRET", "from-env")
	t.Setenv("RELAYER_PRIVATE_KEY", "deadbeef")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Source.RPCEndpoints)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Admin.JWTSecret)
	assert.Equal(t, "deadbeef", cfg.Signer.PrivateKey)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateFatalConfiguration(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(sampleConfig))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty trust table", func(c *Config) { c.TrustedSourceBridges = nil }},
		{"source chain not trusted", func(c *Config) {
			c.TrustedSourceBridges = map[uint64]string{1: "0x5388887B8b444170B5fd0F22919073579Cc5bFEC"}
		}},
		{"malformed trusted address", func(c *Config) { c.TrustedSourceBridges[11155111] = "0x1234" }},
		{"zero trusted address", func(c *Config) {
			c.TrustedSourceBridges[11155111] = "0x0000000000000000000000000000000000000000"
		}},
		{"missing destination chain", func(c *Config) { c.Destination.ChainID = 0 }},
		{"same chain on both sides", func(c *Config) { c.Destination.ChainID = c.Source.ChainID }},
		{"missing destination bridge", func(c *Config) { c.Destination.BridgeAddress = "" }},
		{"no source endpoints", func(c *Config) { c.Source.RPCEndpoints = nil }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"kms without address", func(c *Config) {
			c.Signer.Type = SignerTypeKMS
			c.KMS.BaseURL = "http://kms"
			c.Signer.KMSKeyAlias = "relayer"
		}},
		{"unknown signer", func(c *Config) { c.Signer.Type = "hsm" }},
		{"backoff inverted", func(c *Config) { c.Relay.MaxBackoff = time.Millisecond }},
		{"balance threshold not a number", func(c *Config) { c.Monitoring.MinSignerBalance = "1e18" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, base().Validate())
}

func TestParseRejectsMissingTrust(t *testing.T) {
	_, err := Parse([]byte(`
source:
  chainId: 11155111
  rpcEndpoints: [http://src]
destination:
  chainId: 421614
  rpcEndpoints: [http://dst]
  bridgeAddress: "0xb81A7F4dc018ef56481654B5C1c448D5d71FA2cA"
signer:
  privateKey: "00"
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "trustedSourceBridges")
}

func TestLeaderLockDSNFallsBackToDatabase(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{DSN: "postgres://db"}}
	assert.Equal(t, "postgres://db", cfg.LeaderLockDSN())
	cfg.LeaderLock.DSN = "postgres://lock"
	assert.Equal(t, "postgres://lock", cfg.LeaderLockDSN())
}

func TestMinSignerBalance(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.MinSignerBalance())

	cfg.Monitoring.MinSignerBalance = "50000000000000000"
	require.NotNil(t, cfg.MinSignerBalance())
	assert.Equal(t, "50000000000000000", cfg.MinSignerBalance().String())
}
