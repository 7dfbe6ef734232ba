// Package config loads the service configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"dex-candles/internal/domain"
)

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
	BackendRedis      = "redis"
)

// MaxBatchSize bounds sync.batch_size.
const MaxBatchSize = 10000

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Config is the full service configuration.
type Config struct {
	RPC         RPCConfig     `yaml:"rpc"`
	Storage     StorageConfig `yaml:"storage"`
	Features    FeatureFlags  `yaml:"features"`
	Sync        SyncConfig    `yaml:"sync"`
	Live        LiveConfig    `yaml:"live"`
	Intervals   []string      `yaml:"intervals"`
	Pools       []PoolConfig  `yaml:"pools"`
	Logging     LoggingConfig `yaml:"logging"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// RPCConfig holds the node endpoints.
type RPCConfig struct {
	HTTPEndpoint string        `yaml:"http_endpoint"`
	WSEndpoint   string        `yaml:"ws_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// StorageConfig selects a backend per store.
type StorageConfig struct {
	Transactions  string      `yaml:"transactions"`
	Candles       string      `yaml:"candles"`
	Live          string      `yaml:"live"`
	PostgresDSN   string      `yaml:"postgres_dsn"`
	ClickhouseDSN string      `yaml:"clickhouse_dsn"`
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FeatureFlags are the runtime kill switches.
type FeatureFlags struct {
	AllowTransactionInsertion bool `yaml:"allow_transaction_insertion"`
	AllowCandlestickInsertion bool `yaml:"allow_candlestick_insertion"`
	ModifyLiveCandles         bool `yaml:"modify_live_candles"`
	UpdateInfo                bool `yaml:"update_info"`
	PublishClosedCandles      bool `yaml:"publish_closed_candles"`
}

// SyncConfig tunes backfill.
type SyncConfig struct {
	BatchSize            uint64        `yaml:"batch_size"`
	BlockNotFoundRetries int           `yaml:"block_not_found_retries"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	TimestampWorkers     int           `yaml:"timestamp_workers"`
}

// LiveConfig tunes the live candle flush.
type LiveConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// PoolConfig describes one tracked pool.
type PoolConfig struct {
	Protocol      string `yaml:"protocol"`
	PoolRatio     string `yaml:"pool_ratio"`
	PoolContract  string `yaml:"pool_contract"`
	TokenName     string `yaml:"token_name"`
	TokenContract string `yaml:"token_contract"`
	TokenDecimals int32  `yaml:"token_decimals"`
	PairName      string `yaml:"pair_name"`
	PairContract  string `yaml:"pair_contract"`
	PairDecimals  int32  `yaml:"pair_decimals"`
	InversePrice  bool   `yaml:"inverse_price"`
	FromBlock     uint64 `yaml:"from_block"`
}

// Default returns the configuration of the original deployment: two Uniswap V2
// pools on Ethereum mainnet, every interval, in-memory stores.
func Default() *Config {
	return &Config{
		RPC: RPCConfig{
			HTTPEndpoint: "http://localhost:8545",
			WSEndpoint:   "ws://localhost:8546",
			Timeout:      30 * time.Second,
			MaxRetries:   3,
		},
		Storage: StorageConfig{
			Transactions: BackendMemory,
			Candles:      BackendMemory,
			Live:         BackendMemory,
			Redis:        RedisConfig{Addr: "localhost:6379"},
		},
		Features: FeatureFlags{
			AllowTransactionInsertion: true,
			AllowCandlestickInsertion: true,
			ModifyLiveCandles:         true,
			UpdateInfo:                true,
		},
		Sync: SyncConfig{
			BatchSize:            100,
			BlockNotFoundRetries: 5,
			RetryDelay:           2 * time.Second,
			TimestampWorkers:     8,
		},
		Live:      LiveConfig{TickInterval: 10 * time.Second},
		Intervals: intervalNames(domain.SupportedIntervals),
		Pools: []PoolConfig{
			{
				Protocol:      string(domain.ProtocolUniswapV2),
				PoolRatio:     "50:50",
				PoolContract:  "0x83973dcaa04a6786ecc0628cc494a089c1aee947",
				TokenName:     "DEA",
				TokenContract: "0x80ab141f324c3d6f2b18b030f1c4e95d4d658778",
				TokenDecimals: 18,
				PairName:      "USDC",
				PairContract:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
				PairDecimals:  6,
				InversePrice:  true,
				FromBlock:     11029389,
			},
			{
				Protocol:      string(domain.ProtocolUniswapV2),
				PoolRatio:     "50:50",
				PoolContract:  "0xa478c2975ab1ea89e8196811f51a7b7ade33eb11",
				TokenName:     "DAI",
				TokenContract: "0x6b175474e89094c44da98b954eedeac495271d0f",
				TokenDecimals: 18,
				PairName:      "WETH",
				PairContract:  "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
				PairDecimals:  18,
				InversePrice:  true,
				FromBlock:     11671092,
			},
		},
		Logging:     LoggingConfig{Level: "info", Encoding: "json"},
		MetricsAddr: ":9090",
	}
}

// Load reads path on top of Default and applies environment overrides.
// An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("RPC_HTTP_ENDPOINT"); v != "" {
		cfg.RPC.HTTPEndpoint = v
	}
	if v := os.Getenv("RPC_WS_ENDPOINT"); v != "" {
		cfg.RPC.WSEndpoint = v
	}

	// Storage
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Storage.Redis.DB = db
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_ENCODING"); v != "" {
		cfg.Logging.Encoding = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.RPC.HTTPEndpoint == "" {
		errs = append(errs, errors.New("rpc.http_endpoint is required"))
	}
	if c.Sync.BatchSize == 0 || c.Sync.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("sync.batch_size must be in [1, %d], got %d", MaxBatchSize, c.Sync.BatchSize))
	}

	errs = append(errs, checkBackend("storage.transactions", c.Storage.Transactions, BackendMemory, BackendPostgres))
	errs = append(errs, checkBackend("storage.candles", c.Storage.Candles, BackendMemory, BackendPostgres, BackendClickhouse))
	errs = append(errs, checkBackend("storage.live", c.Storage.Live, BackendMemory, BackendPostgres, BackendRedis))

	if c.usesBackend(BackendPostgres) && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required by the selected backends"))
	}
	if c.Storage.Candles == BackendClickhouse && c.Storage.ClickhouseDSN == "" {
		errs = append(errs, errors.New("storage.clickhouse_dsn is required by the selected backends"))
	}
	if (c.Storage.Live == BackendRedis || c.Features.PublishClosedCandles) && c.Storage.Redis.Addr == "" {
		errs = append(errs, errors.New("storage.redis.addr is required"))
	}

	if len(c.Intervals) == 0 {
		errs = append(errs, errors.New("at least one interval is required"))
	}
	for _, name := range c.Intervals {
		if _, ok := domain.IntervalByName(name); !ok {
			errs = append(errs, fmt.Errorf("unknown interval %q", name))
		}
	}

	if len(c.Pools) == 0 {
		errs = append(errs, errors.New("at least one pool is required"))
	}
	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("pools[%d]: %w", i, err))
			continue
		}
		addr := domain.NormalizeAddress(p.PoolContract)
		if seen[addr] {
			errs = append(errs, fmt.Errorf("pools[%d]: duplicate pool %s", i, addr))
		}
		seen[addr] = true
	}

	return errors.Join(errs...)
}

func (c *Config) usesBackend(backend string) bool {
	return c.Storage.Transactions == backend || c.Storage.Candles == backend || c.Storage.Live == backend
}

func checkBackend(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown backend %q", field, value)
}

func (p PoolConfig) validate() error {
	if !domain.Protocol(p.Protocol).IsValid() {
		return fmt.Errorf("unknown protocol %q", p.Protocol)
	}
	if !addressPattern.MatchString(p.PoolContract) {
		return fmt.Errorf("malformed pool_contract %q", p.PoolContract)
	}
	if p.TokenContract != "" && !addressPattern.MatchString(p.TokenContract) {
		return fmt.Errorf("malformed token_contract %q", p.TokenContract)
	}
	if p.PairContract != "" && !addressPattern.MatchString(p.PairContract) {
		return fmt.Errorf("malformed pair_contract %q", p.PairContract)
	}
	if domain.Protocol(p.Protocol) == domain.ProtocolBalancer && p.TokenContract == "" {
		return errors.New("balancer pools need token_contract")
	}
	if p.TokenName == "" || p.PairName == "" {
		return errors.New("token_name and pair_name are required")
	}
	if p.TokenDecimals < 0 || p.PairDecimals < 0 {
		return errors.New("decimals must not be negative")
	}
	return nil
}

// DomainPools converts the pool section into domain pools with normalized addresses.
func (c *Config) DomainPools() []domain.Pool {
	pools := make([]domain.Pool, 0, len(c.Pools))
	for _, p := range c.Pools {
		pools = append(pools, domain.Pool{
			Protocol:      domain.Protocol(p.Protocol),
			PoolRatio:     p.PoolRatio,
			PoolContract:  domain.NormalizeAddress(p.PoolContract),
			TokenName:     p.TokenName,
			TokenContract: domain.NormalizeAddress(p.TokenContract),
			TokenDecimals: p.TokenDecimals,
			PairName:      p.PairName,
			PairContract:  domain.NormalizeAddress(p.PairContract),
			PairDecimals:  p.PairDecimals,
			InversePrice:  p.InversePrice,
			FromBlock:     p.FromBlock,
		})
	}
	return pools
}

// DomainIntervals resolves the configured interval names, shortest first.
// Unknown names are skipped; Validate reports them.
func (c *Config) DomainIntervals() []domain.Interval {
	wanted := make(map[string]bool, len(c.Intervals))
	for _, name := range c.Intervals {
		wanted[name] = true
	}
	var out []domain.Interval
	for _, iv := range domain.SupportedIntervals {
		if wanted[iv.Name] {
			out = append(out, iv)
		}
	}
	return out
}

func intervalNames(intervals []domain.Interval) []string {
	names := make([]string, len(intervals))
	for i, iv := range intervals {
		names[i] = iv.Name
	}
	return names
}
