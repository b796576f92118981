package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"credverify/pkg/platform/middleware/metadata"
)

// EnvPrefix scopes every environment override, e.g. CREDVERIFY_SERVER_ADDR.
const EnvPrefix = "CREDVERIFY"

// ConfigFileEnv names an optional YAML file layered under the environment.
const ConfigFileEnv = "CREDVERIFY_CONFIG"

// Config is the full process configuration.
type Config struct {
	Server    Server
	Log       LogConfig
	Ledger    LedgerConfig
	Wallet    WalletConfig
	Alias     AliasConfig
	Metadata  MetadataConfig
	Verify    VerifyConfig
	Redis     RedisConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	// TrustedProxies are CIDRs or addresses whose forwarding headers name
	// the client. Empty trusts only the socket peer.
	TrustedProxies []string
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// ChainConfig is the network definition offered to a wallet that does not
// know the required chain.
type ChainConfig struct {
	ID          uint64
	Name        string
	RPCURLs     []string
	ExplorerURL string
	Currency    CurrencyConfig
}

// CurrencyConfig describes the native currency of a chain.
type CurrencyConfig struct {
	Name     string
	Symbol   string
	Decimals int
}

// LedgerConfig points at the credential contract.
type LedgerConfig struct {
	RPCURL          string
	ContractAddress string
	Chain           ChainConfig
}

// WalletEndpoint is one wallet JSON-RPC bridge exposed to the process. Kinds
// are the identities the provider self-reports.
type WalletEndpoint struct {
	URL   string
	Kinds []string
}

// WalletConfig lists the candidate providers the host exposes.
type WalletConfig struct {
	Primary      *WalletEndpoint
	Providers    []WalletEndpoint
	TargetKind   string
	PollInterval time.Duration
}

// AliasConfig configures reverse-name resolution on a secondary network.
type AliasConfig struct {
	RPCURL       string
	Registry     string
	Timeout      time.Duration
	RedisEnabled bool
	RedisTTL     time.Duration
}

// MetadataConfig configures gateway access for off-chain metadata.
type MetadataConfig struct {
	PrimaryGateway   string
	FallbackGateway  string
	Timeout          time.Duration
	ProbeTimeout     time.Duration
	MaxDocumentBytes int64
	FailureThreshold int
	SuccessThreshold int
}

// VerifyConfig shapes the view model. An empty ReceiptKey disables signed
// verification receipts.
type VerifyConfig struct {
	PublicBaseURL string
	ElideHead     int
	ElideTail     int
	ReceiptKey    string
	ReceiptTTL    time.Duration
}

// RedisConfig is the shared redis connection.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuditConfig configures the audit sink. An empty DSN keeps events in memory.
// Kafka brokers add a streaming copy of every event. An empty admin token
// leaves GET /audit/events closed.
type AuditConfig struct {
	PostgresDSN     string
	BufferSize      int
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaPartitions int32
	AdminToken      string
}

// RateLimitConfig bounds verification requests per client IP. With redis
// enabled the window is shared across replicas.
type RateLimitConfig struct {
	Enabled      bool
	Requests     int
	Window       time.Duration
	RedisEnabled bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ledger.rpc_url", "https://rpc.sepolia.org")
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.chain.id", 11155111)
	v.SetDefault("ledger.chain.name", "Sepolia")
	v.SetDefault("ledger.chain.rpc_urls", []string{"https://rpc.sepolia.org"})
	v.SetDefault("ledger.chain.explorer_url", "https://sepolia.etherscan.io")
	v.SetDefault("ledger.chain.currency.name", "Sepolia Ether")
	v.SetDefault("ledger.chain.currency.symbol", "ETH")
	v.SetDefault("ledger.chain.currency.decimals", 18)

	v.SetDefault("wallet.primary_url", "")
	v.SetDefault("wallet.primary_kinds", []string{"metamask"})
	v.SetDefault("wallet.target_kind", "metamask")
	v.SetDefault("wallet.poll_interval", 2*time.Second)

	v.SetDefault("alias.rpc_url", "https://cloudflare-eth.com")
	v.SetDefault("alias.registry", "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")
	v.SetDefault("alias.timeout", 3*time.Second)
	v.SetDefault("alias.redis_enabled", false)
	v.SetDefault("alias.redis_ttl", time.Duration(0))

	v.SetDefault("metadata.primary_gateway", "https://ipfs.io")
	v.SetDefault("metadata.fallback_gateway", "https://cloudflare-ipfs.com")
	v.SetDefault("metadata.timeout", 10*time.Second)
	v.SetDefault("metadata.probe_timeout", 2*time.Second)
	v.SetDefault("metadata.max_document_bytes", 1<<20)
	v.SetDefault("metadata.failure_threshold", 5)
	v.SetDefault("metadata.success_threshold", 3)

	v.SetDefault("verify.public_base_url", "http://localhost:8080")
	v.SetDefault("verify.elide_head", 10)
	v.SetDefault("verify.elide_tail", 8)
	v.SetDefault("verify.receipt_key", "")
	v.SetDefault("verify.receipt_ttl", 24*time.Hour)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("audit.postgres_dsn", "")
	v.SetDefault("audit.buffer_size", 256)
	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.kafka_topic", "credverify.audit")
	v.SetDefault("audit.kafka_partitions", 3)
	v.SetDefault("audit.admin_token", "")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.redis_enabled", false)
}

// Load builds a Config from defaults, the optional file named by
// CREDVERIFY_CONFIG, and CREDVERIFY_* environment variables, in that order.
func Load() (*Config, error) {
	return LoadFrom(viper.New(), os.Getenv(ConfigFileEnv))
}

// LoadFrom is Load over a caller-supplied viper instance and config path.
func LoadFrom(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			TrustedProxies:  v.GetStringSlice("server.trusted_proxies"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Ledger: LedgerConfig{
			RPCURL:          v.GetString("ledger.rpc_url"),
			ContractAddress: v.GetString("ledger.contract_address"),
			Chain: ChainConfig{
				ID:          v.GetUint64("ledger.chain.id"),
				Name:        v.GetString("ledger.chain.name"),
				RPCURLs:     v.GetStringSlice("ledger.chain.rpc_urls"),
				ExplorerURL: v.GetString("ledger.chain.explorer_url"),
				Currency: CurrencyConfig{
					Name:     v.GetString("ledger.chain.currency.name"),
					Symbol:   v.GetString("ledger.chain.currency.symbol"),
					Decimals: v.GetInt("ledger.chain.currency.decimals"),
				},
			},
		},
		Wallet: WalletConfig{
			TargetKind:   v.GetString("wallet.target_kind"),
			PollInterval: v.GetDuration("wallet.poll_interval"),
		},
		Alias: AliasConfig{
			RPCURL:       v.GetString("alias.rpc_url"),
			Registry:     v.GetString("alias.registry"),
			Timeout:      v.GetDuration("alias.timeout"),
			RedisEnabled: v.GetBool("alias.redis_enabled"),
			RedisTTL:     v.GetDuration("alias.redis_ttl"),
		},
		Metadata: MetadataConfig{
			PrimaryGateway:   v.GetString("metadata.primary_gateway"),
			FallbackGateway:  v.GetString("metadata.fallback_gateway"),
			Timeout:          v.GetDuration("metadata.timeout"),
			ProbeTimeout:     v.GetDuration("metadata.probe_timeout"),
			MaxDocumentBytes: v.GetInt64("metadata.max_document_bytes"),
			FailureThreshold: v.GetInt("metadata.failure_threshold"),
			SuccessThreshold: v.GetInt("metadata.success_threshold"),
		},
		Verify: VerifyConfig{
			PublicBaseURL: strings.TrimRight(v.GetString("verify.public_base_url"), "/"),
			ElideHead:     v.GetInt("verify.elide_head"),
			ElideTail:     v.GetInt("verify.elide_tail"),
			ReceiptKey:    v.GetString("verify.receipt_key"),
			ReceiptTTL:    v.GetDuration("verify.receipt_ttl"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		Audit: AuditConfig{
			PostgresDSN:     v.GetString("audit.postgres_dsn"),
			BufferSize:      v.GetInt("audit.buffer_size"),
			KafkaBrokers:    v.GetStringSlice("audit.kafka_brokers"),
			KafkaTopic:      v.GetString("audit.kafka_topic"),
			KafkaPartitions: v.GetInt32("audit.kafka_partitions"),
			AdminToken:      v.GetString("audit.admin_token"),
		},
		RateLimit: RateLimitConfig{
			Enabled:      v.GetBool("ratelimit.enabled"),
			Requests:     v.GetInt("ratelimit.requests"),
			Window:       v.GetDuration("ratelimit.window"),
			RedisEnabled: v.GetBool("ratelimit.redis_enabled"),
		},
	}

	if url := v.GetString("wallet.primary_url"); url != "" {
		cfg.Wallet.Primary = &WalletEndpoint{URL: url, Kinds: v.GetStringSlice("wallet.primary_kinds")}
	}
	// Additional providers only come from the config file; env vars cannot
	// express a list of structs.
	if err := v.UnmarshalKey("wallet.providers", &cfg.Wallet.Providers); err != nil {
		return nil, fmt.Errorf("decode wallet.providers: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := metadata.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}
	if c.Ledger.Chain.ID == 0 {
		errs = append(errs, errors.New("ledger.chain.id must be non-zero"))
	}
	if c.Ledger.RPCURL == "" {
		errs = append(errs, errors.New("ledger.rpc_url is required"))
	}
	if c.Alias.Timeout <= 0 {
		errs = append(errs, errors.New("alias.timeout must be positive"))
	}
	if c.Metadata.PrimaryGateway == "" {
		errs = append(errs, errors.New("metadata.primary_gateway is required"))
	}
	if c.Metadata.MaxDocumentBytes <= 0 {
		errs = append(errs, errors.New("metadata.max_document_bytes must be positive"))
	}
	if c.Verify.ElideHead < 3 || c.Verify.ElideTail < 1 {
		errs = append(errs, errors.New("verify.elide_head must be >= 3 and verify.elide_tail >= 1"))
	}
	if c.Verify.ReceiptKey != "" && len(c.Verify.ReceiptKey) < 32 {
		errs = append(errs, errors.New("verify.receipt_key must be at least 32 bytes"))
	}
	if c.Alias.RedisEnabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("alias.redis_enabled requires redis.url"))
	}
	if c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("audit.buffer_size must be positive"))
	}
	if len(c.Audit.KafkaBrokers) > 0 && (c.Audit.KafkaTopic == "" || c.Audit.KafkaPartitions <= 0) {
		errs = append(errs, errors.New("audit.kafka_brokers requires audit.kafka_topic and positive audit.kafka_partitions"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("ratelimit.requests and ratelimit.window must be positive"))
	}
	if c.RateLimit.RedisEnabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("ratelimit.redis_enabled requires redis.url"))
	}
	return errors.Join(errs...)
}
