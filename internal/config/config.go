// Package config loads the indexer configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"solana-rewards-indexer/internal/solana"
)

type HeliusConfig struct {
	APIKey            string        `yaml:"api_key"`
	APIURL            string        `yaml:"api_url"`
	RPCURL            string        `yaml:"rpc_url"`
	WSURL             string        `yaml:"ws_url"`
	Commitment        string        `yaml:"commitment"`
	CallLimit         int           `yaml:"call_limit"`
	PageSize          int           `yaml:"page_size"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	MaxConsecutiveErrors  int           `yaml:"max_consecutive_errors"`
	FinishedConfirmations int           `yaml:"finished_confirmations"`
	RetryDelay            time.Duration `yaml:"retry_delay"`
	StageChunkSize        int           `yaml:"stage_chunk_size"`
	ProcessBatchSize      int           `yaml:"process_batch_size"`
	AggregateBatchSize    int           `yaml:"aggregate_batch_size"`
	MigrateBatchSize      int           `yaml:"migrate_batch_size"`
	Workers               int           `yaml:"workers"`
	UpdateInterval        time.Duration `yaml:"update_interval"`
	WatchDebounce         time.Duration `yaml:"watch_debounce"`
}

type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	StagingDir    string `yaml:"staging_dir"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"no_color"`
}

// DistributorConfig registers one distributor for init --all.
type DistributorConfig struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"`
	TokenMint string `yaml:"token_mint"`
	DevWallet string `yaml:"dev_wallet"`
}

type Config struct {
	Helius       HeliusConfig        `yaml:"helius"`
	Pipeline     PipelineConfig      `yaml:"pipeline"`
	Storage      StorageConfig       `yaml:"storage"`
	Events       EventsConfig        `yaml:"events"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	Log          LogConfig           `yaml:"log"`
	Distributors []DistributorConfig `yaml:"distributors"`
}

// Default returns the configuration used when a field is not set.
func Default() *Config {
	return &Config{
		Helius: HeliusConfig{
			APIURL:            "https://api.helius.xyz",
			RPCURL:            "https://mainnet.helius-rpc.com",
			WSURL:             "wss://mainnet.helius-rpc.com",
			Commitment:        "finalized",
			CallLimit:         100,
			PageSize:          1000,
			RequestsPerSecond: 10,
			Timeout:           30 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxConsecutiveErrors:  5,
			FinishedConfirmations: 5,
			RetryDelay:            10 * time.Second,
			StageChunkSize:        5000,
			ProcessBatchSize:      1000,
			AggregateBatchSize:    1000,
			MigrateBatchSize:      5000,
			Workers:               4,
			WatchDebounce:         5 * time.Second,
		},
		Storage: StorageConfig{
			StagingDir: "./data/staging",
		},
		Events: EventsConfig{
			Subject: "rewards.wallets.updated",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path loads defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"HELIUS_API_KEY", func(c *Config) *string { return &c.Helius.APIKey }},
	{"DATABASE_URL", func(c *Config) *string { return &c.Storage.PostgresDSN }},
	{"CLICKHOUSE_DSN", func(c *Config) *string { return &c.Storage.ClickHouseDSN }},
	{"NATS_URL", func(c *Config) *string { return &c.Events.NATSURL }},
	{"STAGING_DIR", func(c *Config) *string { return &c.Storage.StagingDir }},
	{"LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }},
}

func (c *Config) applyEnv() {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.field(c) = v
		}
	}
}

// Validate checks what the fetching commands need. Storage-only commands skip it.
func (c *Config) Validate() error {
	var errs []error

	if c.Helius.APIKey == "" {
		errs = append(errs, errors.New("helius.api_key is required (or HELIUS_API_KEY)"))
	}
	if c.Helius.CallLimit <= 0 || c.Helius.CallLimit > 100 {
		errs = append(errs, fmt.Errorf("helius.call_limit must be in 1..100, got %d", c.Helius.CallLimit))
	}

	positive := map[string]int{
		"helius.page_size":                c.Helius.PageSize,
		"pipeline.max_consecutive_errors": c.Pipeline.MaxConsecutiveErrors,
		"pipeline.finished_confirmations": c.Pipeline.FinishedConfirmations,
		"pipeline.stage_chunk_size":       c.Pipeline.StageChunkSize,
		"pipeline.process_batch_size":     c.Pipeline.ProcessBatchSize,
		"pipeline.aggregate_batch_size":   c.Pipeline.AggregateBatchSize,
		"pipeline.migrate_batch_size":     c.Pipeline.MigrateBatchSize,
		"pipeline.workers":                c.Pipeline.Workers,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	seen := make(map[string]bool)
	for i, d := range c.Distributors {
		if err := solana.ValidateAddress(d.Address); err != nil {
			errs = append(errs, fmt.Errorf("distributors[%d].address: %w", i, err))
			continue
		}
		if seen[d.Address] {
			errs = append(errs, fmt.Errorf("distributors[%d]: duplicate address %s", i, d.Address))
		}
		seen[d.Address] = true
	}

	return errors.Join(errs...)
}

// Distributor looks up a configured distributor by address.
func (c *Config) Distributor(address string) (DistributorConfig, bool) {
	for _, d := range c.Distributors {
		if d.Address == address {
			return d, true
		}
	}
	return DistributorConfig{}, false
}
