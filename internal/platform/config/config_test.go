package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, uint64(11155111), cfg.Ledger.Chain.ID)
	assert.Equal(t, 3*time.Second, cfg.Alias.Timeout)
	assert.Equal(t, 10, cfg.Verify.ElideHead)
	assert.Equal(t, 8, cfg.Verify.ElideTail)
	assert.Equal(t, "metamask", cfg.Wallet.TargetKind)
	assert.Nil(t, cfg.Wallet.Primary)
	assert.Empty(t, cfg.Wallet.Providers)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CREDVERIFY_SERVER_ADDR", ":9090")
	t.Setenv("CREDVERIFY_ALIAS_TIMEOUT", "750ms")
	t.Setenv("CREDVERIFY_WALLET_PRIMARY_URL", "http://127.0.0.1:8545")
	t.Setenv("CREDVERIFY_VERIFY_PUBLIC_BASE_URL", "https://verify.example.edu/")

	cfg, err := LoadFrom(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 750*time.Millisecond, cfg.Alias.Timeout)
	require.NotNil(t, cfg.Wallet.Primary)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.Wallet.Primary.URL)
	assert.Equal(t, []string{"metamask"}, cfg.Wallet.Primary.Kinds)
	assert.Equal(t, "https://verify.example.edu", cfg.Verify.PublicBaseURL)
}

func TestLoadFileWithProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credverify.yaml")
	body := `
ledger:
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  chain:
    id: 31337
wallet:
  target_kind: metamask
  providers:
    - url: http://127.0.0.1:8546
      kinds: [coinbase]
    - url: http://127.0.0.1:8547
      kinds: [metamask]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadFrom(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, uint64(31337), cfg.Ledger.Chain.ID)
	require.Len(t, cfg.Wallet.Providers, 2)
	assert.Equal(t, []string{"metamask"}, cfg.Wallet.Providers[1].Kinds)
}

func TestValidate(t *testing.T) {
	t.Run("missing chain id", func(t *testing.T) {
		t.Setenv("CREDVERIFY_LEDGER_CHAIN_ID", "0")
		_, err := LoadFrom(viper.New(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ledger.chain.id")
	})

	t.Run("redis alias store without redis url", func(t *testing.T) {
		t.Setenv("CREDVERIFY_ALIAS_REDIS_ENABLED", "true")
		_, err := LoadFrom(viper.New(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis.url")
	})

	t.Run("unreadable file", func(t *testing.T) {
		_, err := LoadFrom(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestRateLimitConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadFrom(viper.New(), "")
		require.NoError(t, err)
		assert.True(t, cfg.RateLimit.Enabled)
		assert.Equal(t, 60, cfg.RateLimit.Requests)
		assert.Equal(t, time.Minute, cfg.RateLimit.Window)
		assert.False(t, cfg.RateLimit.RedisEnabled)
	})

	t.Run("non-positive budget", func(t *testing.T) {
		t.Setenv("CREDVERIFY_RATELIMIT_REQUESTS", "0")
		_, err := LoadFrom(viper.New(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ratelimit.requests")
	})

	t.Run("disabled ignores budget", func(t *testing.T) {
		t.Setenv("CREDVERIFY_RATELIMIT_ENABLED", "false")
		t.Setenv("CREDVERIFY_RATELIMIT_REQUESTS", "0")
		_, err := LoadFrom(viper.New(), "")
		require.NoError(t, err)
	})

	t.Run("shared window without redis url", func(t *testing.T) {
		t.Setenv("CREDVERIFY_RATELIMIT_REDIS_ENABLED", "true")
		_, err := LoadFrom(viper.New(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis.url")
	})
}

func TestAuditKafkaConfig(t *testing.T) {
	t.Run("brokers from env", func(t *testing.T) {
		t.Setenv("CREDVERIFY_AUDIT_KAFKA_BROKERS", "kafka-1:9092 kafka-2:9092")
		cfg, err := LoadFrom(viper.New(), "")
		require.NoError(t, err)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Audit.KafkaBrokers)
		assert.Equal(t, "credverify.audit", cfg.Audit.KafkaTopic)
		assert.Equal(t, int32(3), cfg.Audit.KafkaPartitions)
	})

	t.Run("brokers without partitions", func(t *testing.T) {
		t.Setenv("CREDVERIFY_AUDIT_KAFKA_BROKERS", "kafka-1:9092")
		t.Setenv("CREDVERIFY_AUDIT_KAFKA_PARTITIONS", "0")
		_, err := LoadFrom(viper.New(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "audit.kafka_partitions")
	})
}

func TestReceiptKeyLength(t *testing.T) {
	t.Setenv("CREDVERIFY_VERIFY_RECEIPT_KEY", "short")
	_, err := LoadFrom(viper.New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify.receipt_key")
}

func TestTrustedProxies(t *testing.T) {
	t.Run("none by default", func(t *testing.T) {
		cfg, err := LoadFrom(viper.New(), "")
		require.NoError(t, err)
		assert.Empty(t, cfg.Server.TrustedProxies)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("CREDVERIFY_SERVER_TRUSTED_PROXIES", "10.0.0.0/8 192.168.1.7")
		cfg, err := LoadFrom(viper.New(), "")
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, cfg.Server.TrustedProxies)
	})

	t.Run("malformed entry", func(t *testing.T) {
		t.Setenv("CREDVERIFY_SERVER_TRUSTED_PROXIES", "10.0.0.0/33")
		_, err := LoadFrom(viper.New(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.trusted_proxies")
	})
}
