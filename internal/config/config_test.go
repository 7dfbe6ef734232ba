package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-candles/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	pools := cfg.DomainPools()
	require.Len(t, pools, 2)
	assert.Equal(t, "DEA/USDC", pools[0].Symbol())
	assert.Equal(t, "DAI/WETH", pools[1].Symbol())
	assert.True(t, pools[1].InversePrice)
	assert.Equal(t, uint64(11671092), pools[1].FromBlock)

	assert.Len(t, cfg.DomainIntervals(), len(domain.SupportedIntervals))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
rpc:
  http_endpoint: https://node.example/rpc
sync:
  batch_size: 500
  retry_delay: 5s
live:
  tick_interval: 3s
intervals: ["1h", "5m"]
features:
  publish_closed_candles: true
pools:
  - protocol: balancer
    pool_contract: "0x1B8874BaceAAfba9eA194a625d12E8b270D77016"
    token_name: DEA
    token_contract: "0x80ab141f324c3d6f2b18b030f1c4e95d4d658778"
    token_decimals: 18
    pair_name: USDC
    pair_decimals: 6
    from_block: 100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://node.example/rpc", cfg.RPC.HTTPEndpoint)
	assert.Equal(t, uint64(500), cfg.Sync.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, 5, cfg.Sync.BlockNotFoundRetries, "unset keys keep their defaults")
	assert.Equal(t, 3*time.Second, cfg.Live.TickInterval)
	assert.True(t, cfg.Features.PublishClosedCandles)

	intervals := cfg.DomainIntervals()
	require.Len(t, intervals, 2)
	assert.Equal(t, "5m", intervals[0].Name)
	assert.Equal(t, "1h", intervals[1].Name)

	pools := cfg.DomainPools()
	require.Len(t, pools, 1)
	assert.Equal(t, domain.ProtocolBalancer, pools[0].Protocol)
	assert.Equal(t, "0x1b8874baceaafba9ea194a625d12e8b270d77016", pools[0].PoolContract)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RPC_HTTP_ENDPOINT", "http://env-node:8545")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@db:5432/candles")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://env-node:8545", cfg.RPC.HTTPEndpoint)
	assert.Equal(t, "postgres://u:p@db:5432/candles", cfg.Storage.PostgresDSN)
	assert.Equal(t, 3, cfg.Storage.Redis.DB)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
}

func TestLoad_BadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"no pools", func(c *Config) { c.Pools = nil }, "at least one pool"},
		{"malformed address", func(c *Config) { c.Pools[0].PoolContract = "0x1234" }, "malformed pool_contract"},
		{"unknown protocol", func(c *Config) { c.Pools[0].Protocol = "curve" }, "unknown protocol"},
		{"unknown interval", func(c *Config) { c.Intervals = []string{"7m"} }, "unknown interval"},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, "sync.batch_size"},
		{"huge batch", func(c *Config) { c.Sync.BatchSize = MaxBatchSize + 1 }, "sync.batch_size"},
		{"unknown backend", func(c *Config) { c.Storage.Candles = "sqlite" }, "storage.candles"},
		{"redis for transactions", func(c *Config) { c.Storage.Transactions = BackendRedis }, "storage.transactions"},
		{"postgres without dsn", func(c *Config) { c.Storage.Transactions = BackendPostgres }, "postgres_dsn"},
		{"clickhouse without dsn", func(c *Config) { c.Storage.Candles = BackendClickhouse }, "clickhouse_dsn"},
		{"duplicate pool", func(c *Config) { c.Pools[1].PoolContract = c.Pools[0].PoolContract }, "duplicate pool"},
		{"balancer without token contract", func(c *Config) {
			c.Pools[0].Protocol = string(domain.ProtocolBalancer)
			c.Pools[0].TokenContract = ""
		}, "token_contract"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
