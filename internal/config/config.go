package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings like "5s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the complete service configuration.
type Config struct {
	// Indexer contains the event-indexing configuration
	Indexer IndexerConfig `yaml:"indexer" json:"indexer" toml:"indexer"`

	// DB contains the database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Retry contains the RPC retry configuration
	Retry *RetryConfig `yaml:"retry" json:"retry" toml:"retry"`

	// Logging contains the logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging" toml:"logging"`

	// Metrics contains the metrics server configuration
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics" toml:"metrics"`
}

// IndexerConfig configures the locking-contract event indexer.
type IndexerConfig struct {
	// RPCURL is the Ethereum JSON-RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// ContractAddress is the locking contract watched by the indexer
	ContractAddress string `yaml:"contract_address" json:"contract_address" toml:"contract_address"`

	// DeployedBlock is the block the locking contract was deployed at.
	// Used as the scan start when no cursor exists yet.
	DeployedBlock uint64 `yaml:"deployed_block" json:"deployed_block" toml:"deployed_block"`

	// BlockProcessLimit is the initial number of blocks queried per eth_getLogs window
	BlockProcessLimit uint64 `yaml:"block_process_limit" json:"block_process_limit" toml:"block_process_limit"`

	// BlockProcessLimitMax caps the auto-tuned window size. 0 means unlimited.
	BlockProcessLimitMax uint64 `yaml:"block_process_limit_max" json:"block_process_limit_max" toml:"block_process_limit_max"` //nolint:lll

	// BlocksBehind is how many blocks behind the chain head the scanner stays
	BlocksBehind uint64 `yaml:"blocks_behind" json:"blocks_behind" toml:"blocks_behind"`

	// ReorgBlocks is the depth behind head after which a block is considered safe
	ReorgBlocks uint64 `yaml:"reorg_blocks" json:"reorg_blocks" toml:"reorg_blocks"`

	// ReorgBlocksBatch is the page size used when verifying unconfirmed blocks
	ReorgBlocksBatch uint64 `yaml:"reorg_blocks_batch" json:"reorg_blocks_batch" toml:"reorg_blocks_batch"`

	// GetLogsConcurrency is the number of parallel eth_getLogs requests per window
	GetLogsConcurrency int `yaml:"get_logs_concurrency" json:"get_logs_concurrency" toml:"get_logs_concurrency"`

	// AutoBlockProcessLimit enables window auto-tuning based on observed latency
	AutoBlockProcessLimit bool `yaml:"auto_block_process_limit" json:"auto_block_process_limit" toml:"auto_block_process_limit"` //nolint:lll

	// ScanInterval is the cadence of the scheduled indexing task
	ScanInterval Duration `yaml:"scan_interval" json:"scan_interval" toml:"scan_interval"`

	// ReorgInterval is the cadence of the scheduled reorg check task
	ReorgInterval Duration `yaml:"reorg_interval" json:"reorg_interval" toml:"reorg_interval"`

	// LockTimeout is the hard time limit for one scheduled run (also the lock TTL)
	LockTimeout Duration `yaml:"lock_timeout" json:"lock_timeout" toml:"lock_timeout"`

	// SoftTimeout is the soft time limit; a run exceeding it is logged as a
	// warning, only the hard LockTimeout cancels it
	SoftTimeout Duration `yaml:"soft_timeout" json:"soft_timeout" toml:"soft_timeout"`

	// RedisURL enables the distributed single-runner lock. Empty uses an in-process lock.
	RedisURL string `yaml:"redis_url" json:"redis_url" toml:"redis_url"`
}

// ApplyDefaults sets default values for optional indexer configuration fields.
func (i *IndexerConfig) ApplyDefaults() {
	if i.BlockProcessLimit == 0 {
		i.BlockProcessLimit = 50
	}
	if i.BlocksBehind == 0 {
		// roughly one day of 12s blocks
		i.BlocksBehind = 7200
	}
	if i.ReorgBlocks == 0 {
		i.ReorgBlocks = 10
	}
	if i.ReorgBlocksBatch == 0 {
		i.ReorgBlocksBatch = 250
	}
	if i.GetLogsConcurrency == 0 {
		i.GetLogsConcurrency = 20
	}
	if i.ScanInterval.Duration == 0 {
		i.ScanInterval.Duration = 10 * time.Second
	}
	if i.ReorgInterval.Duration == 0 {
		i.ReorgInterval.Duration = 60 * time.Second
	}
	if i.LockTimeout.Duration == 0 {
		i.LockTimeout.Duration = 15 * time.Minute
	}
	if i.SoftTimeout.Duration == 0 {
		i.SoftTimeout.Duration = 10 * time.Minute
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement.
	// The delete-from-block cascade depends on it; disable only for tooling.
	EnableForeignKeys *bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	if d.EnableForeignKeys == nil {
		enabled := true
		d.EnableForeignKeys = &enabled
	}
}

// ForeignKeysEnabled reports whether foreign key enforcement is on.
func (d *DatabaseConfig) ForeignKeysEnabled() bool {
	return d.EnableForeignKeys == nil || *d.EnableForeignKeys
}

// RetryConfig configures RPC retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per RPC call
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the backoff before the second attempt
	InitialBackoff Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff caps the exponential backoff
	MaxBackoff Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the exponential growth factor
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for optional retry configuration fields.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff.Duration = 500 * time.Millisecond
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff.Duration = 10 * time.Second
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `yaml:"level" json:"level" toml:"level"`

	// Development enables console encoding and stack traces
	Development bool `yaml:"development" json:"development" toml:"development"`
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}

// MetricsConfig configures the prometheus metrics server.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Indexer.ApplyDefaults()
	c.DB.ApplyDefaults()
	c.Logging.ApplyDefaults()
	if c.Retry == nil {
		c.Retry = &RetryConfig{}
	}
	c.Retry.ApplyDefaults()
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Indexer.RPCURL == "" {
		return fmt.Errorf("indexer.rpc_url is required")
	}

	if c.Indexer.ContractAddress == "" {
		return fmt.Errorf("indexer.contract_address is required")
	}
	if !common.IsHexAddress(c.Indexer.ContractAddress) {
		return fmt.Errorf("indexer.contract_address %q is not a valid address", c.Indexer.ContractAddress)
	}

	if c.Indexer.SoftTimeout.Duration > c.Indexer.LockTimeout.Duration {
		return fmt.Errorf("indexer.soft_timeout must not exceed indexer.lock_timeout")
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" &&
		c.DB.JournalMode != "DELETE" && c.DB.JournalMode != "TRUNCATE" &&
		c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" &&
		c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// Contract returns the parsed locking contract address.
func (i *IndexerConfig) Contract() common.Address {
	return common.HexToAddress(i.ContractAddress)
}
