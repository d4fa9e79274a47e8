package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"bridge-relayer/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the configuration would leave the relayer with undefined safety properties.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config relayer configuration. Loaded once and passed explicitly; never mutated after LoadConfig returns.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	Source      SourceConfig      `yaml:"source"`
	Destination DestinationConfig `yaml:"destination"`
	Relay       RelayConfig       `yaml:"relay"`
	Signer      SignerConfig      `yaml:"signer"`
	KMS         KMSConfig         `yaml:"kms"`
	Admin       AdminConfig       `yaml:"admin"`
	LeaderLock  LeaderLockConfig  `yaml:"leaderLock"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`

	// Trusted source bridge per source chain id
	TrustedSourceBridges map[uint64]string `yaml:"trustedSourceBridges"`
}

// ServerConfig status API listener
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"` // empty = *
}

// LogConfig logrus settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DatabaseConfig checkpoint storage location
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // badger (default) or postgres
	DSN    string `yaml:"dsn"`    // postgres only
	Path   string `yaml:"path"`   // badger directory
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	SubjectPrefix   string `yaml:"subject_prefix"`
}

// SourceConfig chain the intents are read from
type SourceConfig struct {
	Name              string   `yaml:"name"`
	ChainID           uint64   `yaml:"chainId"`
	RPCEndpoints      []string `yaml:"rpcEndpoints"`
	StartBlock        uint64   `yaml:"startBlock"`
	ConfirmationDepth uint64   `yaml:"confirmationDepth"`
	ReorgSafetyMargin uint64   `yaml:"reorgSafetyMargin"`
	MaxBlockRange     uint64   `yaml:"maxBlockRange"`
	RequestsPerSecond float64  `yaml:"requestsPerSecond"`
}

// DestinationConfig chain executeMint is submitted to
type DestinationConfig struct {
	Name           string        `yaml:"name"`
	ChainID        uint64        `yaml:"chainId"`
	RPCEndpoints   []string      `yaml:"rpcEndpoints"`
	BridgeAddress  string        `yaml:"bridgeAddress"`
	GasLimit       uint64        `yaml:"gasLimit"`       // 0 = estimate
	GasMultiplier  float64       `yaml:"gasMultiplier"`  // applied to the estimate
	FeeBumpPercent uint64        `yaml:"feeBumpPercent"` // per retry attempt
	ReceiptTimeout time.Duration `yaml:"receiptTimeout"`
	VerifyTrust    bool          `yaml:"verifyTrust"` // cross-check sourceBridgeForChain at startup
}

// RelayConfig loop cadence and retry policy
type RelayConfig struct {
	PollInterval   time.Duration `yaml:"pollInterval"`
	RPCAttempts    uint64        `yaml:"rpcAttempts"`
	RPCTimeout     time.Duration `yaml:"rpcTimeout"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

// Signer types
const (
	SignerTypePrivateKey = "privateKey"
	SignerTypeKeystore   = "keystore"
	SignerTypeKMS        = "kms"
)

// SignerConfig destination submission identity
type SignerConfig struct {
	Type             string `yaml:"type"`
	PrivateKey       string `yaml:"privateKey"` // hex, with or without 0x
	KeystorePath     string `yaml:"keystorePath"`
	KeystorePassword string `yaml:"keystorePassword"`
	Address          string `yaml:"address"`     // required for kms, optional check for others
	KMSKeyAlias      string `yaml:"kmsKeyAlias"` // key alias in KMS
}

// KMSConfig remote signing service
type KMSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"baseURL"`
	AuthToken   string `yaml:"authToken"`
	ServiceName string `yaml:"serviceName"`
	Timeout     int    `yaml:"timeout"` // seconds
}

// AdminConfig operator API credentials
type AdminConfig struct {
	Username     string        `yaml:"username"`
	PasswordHash string        `yaml:"passwordHash"` // bcrypt
	TOTPSecret   string        `yaml:"totpSecret"`
	JWTSecret    string        `yaml:"jwtSecret"`
	TokenTTL     time.Duration `yaml:"tokenTTL"`
	AllowedIPs   []string      `yaml:"allowedIPs"` // IPs or CIDRs besides localhost
}

// MonitoringConfig background gauges and the low balance alert
type MonitoringConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MinSignerBalance string        `yaml:"minSignerBalance"` // wei; empty disables the alert
}

// LeaderLockConfig postgres advisory lock guarding a single active relayer
type LeaderLockConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// LoadConfig reads the yaml file, applies env overrides and defaults, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)
	fmt.Printf("📋 [Config] source=%d destination=%d depth=%d store=%s signer=%s\n",
		cfg.Source.ChainID, cfg.Destination.ChainID, cfg.Source.ConfirmationDepth, cfg.Database.Driver, cfg.Signer.Type)
	return cfg, nil
}

// Parse decodes yaml bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overrideFromEnv secrets and endpoints usually come from the environment
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.CORSAllowedOrigins = splitList(origins)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	// Comma separated endpoint lists
	if endpoints := os.Getenv("SOURCE_RPC_ENDPOINTS"); endpoints != "" {
		config.Source.RPCEndpoints = splitList(endpoints)
	}
	if endpoints := os.Getenv("DESTINATION_RPC_ENDPOINTS"); endpoints != "" {
		config.Destination.RPCEndpoints = splitList(endpoints)
	}

	if privateKey := os.Getenv("RELAYER_PRIVATE_KEY"); privateKey != "" {
		config.Signer.PrivateKey = privateKey
	}
	if password := os.Getenv("KEYSTORE_PASSWORD"); password != "" {
		config.Signer.KeystorePassword = password
	}

	if kmsURL := os.Getenv("KMS_SERVICE_URL"); kmsURL != "" {
		config.KMS.BaseURL = kmsURL
	}
	if kmsToken := os.Getenv("KMS_AUTH_TOKEN"); kmsToken != "" {
		config.KMS.AuthToken = kmsToken
	}

	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Admin.TOTPSecret = secret
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		config.Admin.PasswordHash = hash
	}

	if dsn := os.Getenv("LEADER_LOCK_DSN"); dsn != "" {
		config.LeaderLock.DSN = dsn
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "badger"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/relayer"
	}
	if c.NATS.Timeout == 0 {
		c.NATS.Timeout = 10
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "relayer"
	}
	if c.Source.MaxBlockRange == 0 {
		c.Source.MaxBlockRange = 2000
	}
	if c.Source.RequestsPerSecond == 0 {
		c.Source.RequestsPerSecond = 10
	}
	if c.Destination.GasMultiplier == 0 {
		c.Destination.GasMultiplier = 1.2
	}
	if c.Destination.ReceiptTimeout == 0 {
		c.Destination.ReceiptTimeout = 2 * time.Minute
	}
	if c.Relay.PollInterval == 0 {
		c.Relay.PollInterval = 12 * time.Second
	}
	if c.Relay.RPCAttempts == 0 {
		c.Relay.RPCAttempts = 5
	}
	if c.Relay.RPCTimeout == 0 {
		c.Relay.RPCTimeout = 15 * time.Second
	}
	defaults := models.DefaultRetryPolicy()
	if c.Relay.MaxAttempts == 0 {
		c.Relay.MaxAttempts = defaults.MaxAttempts
	}
	if c.Relay.InitialBackoff == 0 {
		c.Relay.InitialBackoff = defaults.InitialBackoff
	}
	if c.Relay.MaxBackoff == 0 {
		c.Relay.MaxBackoff = defaults.MaxBackoff
	}
	if c.Signer.Type == "" {
		c.Signer.Type = SignerTypePrivateKey
	}
	if c.KMS.ServiceName == "" {
		c.KMS.ServiceName = "bridge-relayer"
	}
	if c.KMS.Timeout == 0 {
		c.KMS.Timeout = 30
	}
	if c.Monitoring.Interval == 0 {
		c.Monitoring.Interval = time.Minute
	}
	if c.Admin.Username == "" {
		c.Admin.Username = "admin"
	}
	if c.Admin.TokenTTL == 0 {
		c.Admin.TokenTTL = 12 * time.Hour
	}
}

// Validate checks the fatal configuration rules. Every violation is reported, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []error
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.Source.ChainID == 0 {
		fail("source.chainId is required")
	}
	if c.Destination.ChainID == 0 {
		fail("destination.chainId is required")
	}
	if c.Source.ChainID != 0 && c.Source.ChainID == c.Destination.ChainID {
		fail("source and destination chain ids must differ")
	}
	if len(c.Source.RPCEndpoints) == 0 {
		fail("source.rpcEndpoints is required")
	}
	if len(c.Destination.RPCEndpoints) == 0 {
		fail("destination.rpcEndpoints is required")
	}
	if !common.IsHexAddress(c.Destination.BridgeAddress) {
		fail("destination.bridgeAddress %q is not a valid address", c.Destination.BridgeAddress)
	}

	if len(c.TrustedSourceBridges) == 0 {
		fail("trustedSourceBridges must not be empty")
	}
	for chainID, addr := range c.TrustedSourceBridges {
		if !common.IsHexAddress(addr) || common.HexToAddress(addr) == (common.Address{}) {
			fail("trustedSourceBridges[%d] %q is not a valid address", chainID, addr)
		}
	}
	if c.Source.ChainID != 0 {
		if _, ok := c.TrustedSourceBridges[c.Source.ChainID]; !ok {
			fail("no trusted source bridge configured for source chain %d", c.Source.ChainID)
		}
	}

	if c.Destination.GasMultiplier < 1 {
		fail("destination.gasMultiplier must be >= 1")
	}
	if c.Relay.MaxAttempts < 1 {
		fail("relay.maxAttempts must be >= 1")
	}
	if c.Relay.MaxBackoff < c.Relay.InitialBackoff {
		fail("relay.maxBackoff must be >= relay.initialBackoff")
	}

	switch c.Database.Driver {
	case "badger":
	case "postgres":
		if c.Database.DSN == "" {
			fail("database.dsn is required for the postgres driver")
		}
	default:
		fail("unsupported database.driver %q", c.Database.Driver)
	}

	switch c.Signer.Type {
	case SignerTypePrivateKey:
		if c.Signer.PrivateKey == "" {
			fail("signer.privateKey (or RELAYER_PRIVATE_KEY) is required")
		}
	case SignerTypeKeystore:
		if c.Signer.KeystorePath == "" {
			fail("signer.keystorePath is required for the keystore signer")
		}
	case SignerTypeKMS:
		if c.KMS.BaseURL == "" || c.Signer.KMSKeyAlias == "" {
			fail("kms.baseURL and signer.kmsKeyAlias are required for the kms signer")
		}
		if !common.IsHexAddress(c.Signer.Address) {
			fail("signer.address is required for the kms signer")
		}
	default:
		fail("unsupported signer.type %q", c.Signer.Type)
	}
	if c.Signer.Address != "" && !common.IsHexAddress(c.Signer.Address) {
		fail("signer.address %q is not a valid address", c.Signer.Address)
	}

	if c.Monitoring.MinSignerBalance != "" {
		if _, ok := new(big.Int).SetString(c.Monitoring.MinSignerBalance, 10); !ok {
			fail("monitoring.minSignerBalance %q is not a decimal wei amount", c.Monitoring.MinSignerBalance)
		}
	}

	if c.LeaderLock.Enabled && c.LeaderLock.DSN == "" && c.Database.DSN == "" {
		fail("leaderLock.dsn is required when the leader lock is enabled")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
}

// SourceBridge returns the trusted bridge address for the configured source chain.
func (c *Config) SourceBridge() common.Address {
	return common.HexToAddress(c.TrustedSourceBridges[c.Source.ChainID])
}

// DestinationBridge returns the destination bridge address.
func (c *Config) DestinationBridge() common.Address {
	return common.HexToAddress(c.Destination.BridgeAddress)
}

// TrustTable returns the trusted source bridges as addresses.
func (c *Config) TrustTable() map[uint64]common.Address {
	table := make(map[uint64]common.Address, len(c.TrustedSourceBridges))
	for chainID, addr := range c.TrustedSourceBridges {
		table[chainID] = common.HexToAddress(addr)
	}
	return table
}

// RetryPolicy returns the submission retry policy.
func (c *Config) RetryPolicy() models.RetryPolicy {
	return models.RetryPolicy{
		MaxAttempts:    c.Relay.MaxAttempts,
		InitialBackoff: c.Relay.InitialBackoff,
		MaxBackoff:     c.Relay.MaxBackoff,
	}
}

// MinSignerBalance parsed low balance threshold, nil when unset.
func (c *Config) MinSignerBalance() *big.Int {
	if c.Monitoring.MinSignerBalance == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(c.Monitoring.MinSignerBalance, 10)
	if !ok {
		return nil
	}
	return v
}

// LeaderLockDSN falls back to the database DSN.
func (c *Config) LeaderLockDSN() string {
	if c.LeaderLock.DSN != "" {
		return c.LeaderLock.DSN
	}
	return c.Database.DSN
}

// ListenAddr host:port for the status API.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
