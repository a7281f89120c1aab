package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
)

const (
	// ReorgPolicyHalt stops the indexer when the chain no longer links to the checkpoint.
	ReorgPolicyHalt = "halt"
	// ReorgPolicyRewind deletes data above the fork point and resumes from there.
	ReorgPolicyRewind = "rewind"
	// ReorgPolicyOff disables linkage checks.
	ReorgPolicyOff = "off"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	DefaultCheckpointName = "purchase_indexer"
)

// Config represents the complete configuration for the purchase indexer.
type Config struct {
	// Indexer contains the poll loop configuration
	Indexer IndexerConfig `yaml:"indexer" json:"indexer" toml:"indexer"`

	// RPC contains the ledger node connection settings
	RPC RPCConfig `yaml:"rpc" json:"rpc" toml:"rpc"`

	// Storage contains the persisted store settings
	Storage StorageConfig `yaml:"storage" json:"storage" toml:"storage"`

	// Reorg contains chain reorganization handling settings
	Reorg ReorgConfig `yaml:"reorg" json:"reorg" toml:"reorg"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the read-only diagnostics API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// IndexerConfig configures what is indexed and how often the chain is polled.
type IndexerConfig struct {
	// ContractAddress is the address of the contract emitting PurchaseMade
	ContractAddress string `yaml:"contract_address" json:"contract_address" toml:"contract_address"`

	// PollInterval is the wait between cycles once the indexer has caught up
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// ConfirmationDepth is the number of blocks behind head considered safe
	ConfirmationDepth uint64 `yaml:"confirmation_depth" json:"confirmation_depth" toml:"confirmation_depth"`

	// StartBlock is the first block indexed when no checkpoint exists
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// MaxBlockRange bounds the number of blocks handled by a single cycle
	MaxBlockRange uint64 `yaml:"max_block_range" json:"max_block_range" toml:"max_block_range"`

	// CheckpointName identifies the checkpoint row used by this indexer
	CheckpointName string `yaml:"checkpoint_name" json:"checkpoint_name" toml:"checkpoint_name"`
}

// ApplyDefaults sets default values for optional indexer configuration fields.
func (i *IndexerConfig) ApplyDefaults() {
	if i.PollInterval.Duration == 0 {
		i.PollInterval = common.NewDuration(2 * time.Second)
	}
	if i.MaxBlockRange == 0 {
		i.MaxBlockRange = 100
	}
	if i.CheckpointName == "" {
		i.CheckpointName = DefaultCheckpointName
	}
	// ConfirmationDepth defaults to 0 (zero value)
}

// Validate checks if the indexer configuration is valid.
func (i *IndexerConfig) Validate() error {
	if i.ContractAddress == "" {
		return fmt.Errorf("contract_address is required")
	}
	if _, err := common.ParseAddress(i.ContractAddress); err != nil {
		return fmt.Errorf("contract_address: %w", err)
	}
	if i.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if i.MaxBlockRange == 0 {
		return fmt.Errorf("max_block_range must be positive")
	}
	return nil
}

// RPCConfig configures the ledger node client.
type RPCConfig struct {
	// URL is the Ethereum JSON-RPC endpoint URL
	URL string `yaml:"url" json:"url" toml:"url"`

	// RequestTimeout bounds every RPC call
	RequestTimeout common.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional RPC configuration fields.
func (r *RPCConfig) ApplyDefaults() {
	if r.RequestTimeout.Duration == 0 {
		r.RequestTimeout = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.Retry == nil {
		r.Retry = &RetryConfig{}
	}
	r.Retry.ApplyDefaults()
}

// RetryConfig represents retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Validate checks if the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1")
	}
	if r.MaxBackoff.Duration < r.InitialBackoff.Duration {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	return nil
}

// StorageConfig configures the persisted store.
type StorageConfig struct {
	// DSN selects the backend. A postgres:// or postgresql:// URL selects
	// PostgreSQL, anything else is treated as a SQLite file path
	// (an optional sqlite:// prefix is stripped).
	DSN string `yaml:"dsn" json:"dsn" toml:"dsn"`

	// WriteTimeout bounds a single batch write transaction
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`

	// Retry contains write retry configuration
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// ConnectRetry governs how long startup waits for a PostgreSQL server
	// that is not accepting connections yet
	ConnectRetry *RetryConfig `yaml:"connect_retry,omitempty" json:"connect_retry,omitempty" toml:"connect_retry,omitempty"`

	// SQLite contains SQLite tuning, ignored for PostgreSQL
	SQLite DatabaseConfig `yaml:"sqlite" json:"sqlite" toml:"sqlite"`

	// Maintenance contains optional SQLite maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// LogQueries logs every PostgreSQL statement
	LogQueries bool `yaml:"log_queries" json:"log_queries" toml:"log_queries"`
}

// Backend returns the storage backend selected by the DSN.
func (s *StorageConfig) Backend() string {
	lower := strings.ToLower(s.DSN)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return BackendPostgres
	}
	return BackendSQLite
}

// SQLitePath returns the database file path for the SQLite backend.
func (s *StorageConfig) SQLitePath() string {
	return strings.TrimPrefix(s.DSN, "sqlite://")
}

// ApplyDefaults sets default values for optional storage configuration fields.
func (s *StorageConfig) ApplyDefaults() {
	if s.DSN == "" {
		s.DSN = "./data/purchases.db"
	}
	if s.WriteTimeout.Duration == 0 {
		s.WriteTimeout = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if s.Retry == nil {
		s.Retry = &RetryConfig{}
	}
	s.Retry.ApplyDefaults()
	if s.ConnectRetry == nil {
		s.ConnectRetry = &RetryConfig{
			MaxAttempts:       30, //nolint:mnd
			InitialBackoff:    common.NewDuration(2 * time.Second),
			MaxBackoff:        common.NewDuration(2 * time.Second),
			BackoffMultiplier: 1,
		}
	}
	s.ConnectRetry.ApplyDefaults()
	s.SQLite.ApplyDefaults()
	if s.Maintenance != nil {
		s.Maintenance.ApplyDefaults()
	}
}

// Validate checks if the storage configuration is valid.
func (s *StorageConfig) Validate() error {
	if s.Backend() == BackendSQLite {
		if s.SQLitePath() == "" {
			return fmt.Errorf("dsn is required")
		}
		if err := s.SQLite.Validate(); err != nil {
			return fmt.Errorf("sqlite.%w", err)
		}
	}
	if s.Retry != nil {
		if err := s.Retry.Validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	if s.ConnectRetry != nil {
		if err := s.ConnectRetry.Validate(); err != nil {
			return fmt.Errorf("connect_retry: %w", err)
		}
	}
	if s.Maintenance != nil {
		if err := s.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}
	return nil
}

// DatabaseConfig represents SQLite connection tuning.
type DatabaseConfig struct {
	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
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

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
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
}

// Validate checks the SQLite pragmas against the values SQLite accepts.
func (d *DatabaseConfig) Validate() error {
	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}
	return nil
}

// MaintenanceConfig configures SQLite maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}
	return nil
}

// ReorgConfig configures how chain reorganizations are detected and handled.
type ReorgConfig struct {
	// Policy is one of "halt", "rewind" or "off"
	Policy string `yaml:"policy" json:"policy" toml:"policy"`

	// TrackBlocks is how many recent block hashes are kept for fork detection
	TrackBlocks uint64 `yaml:"track_blocks" json:"track_blocks" toml:"track_blocks"`
}

// ApplyDefaults sets default values for optional reorg configuration fields.
func (r *ReorgConfig) ApplyDefaults() {
	if r.Policy == "" {
		r.Policy = ReorgPolicyHalt
	}
	r.Policy = common.ToLowerWithTrim(r.Policy)
	if r.TrackBlocks == 0 {
		r.TrackBlocks = 64
	}
}

// Validate checks if the reorg configuration is valid.
func (r *ReorgConfig) Validate() error {
	if !slices.Contains([]string{ReorgPolicyHalt, ReorgPolicyRewind, ReorgPolicyOff}, r.Policy) {
		return fmt.Errorf("policy must be one of: halt, rewind, off")
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - poller: Poll loop state machine
	//   - log-fetcher: Blockchain log fetching
	//   - decoder: PurchaseMade decoding
	//   - checkpoint: Checkpoint store
	//   - store: Batch writer and queries
	//   - reorg: Reorganization detection
	//   - maintenance: SQLite maintenance
	//   - rpc: JSON-RPC client
	//   - api: Diagnostics API
	//   - metrics: Metrics server
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return l.GetDefaultLevel()
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP endpoint is served
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":8000"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the read-only diagnostics API.
type APIConfig struct {
	// Enabled controls whether the API server is started
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	ReadTimeout  common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout  common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS contains cross-origin settings for browser clients
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
	if a.CORS.Enabled && len(a.CORS.AllowedOrigins) == 0 {
		a.CORS.AllowedOrigins = []string{"*"}
	}
}

// Validate checks if the API configuration is valid.
func (a *APIConfig) Validate() error {
	if a.Enabled && a.ListenAddress == "" {
		return fmt.Errorf("listen_address is required when the API is enabled")
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
// Metrics are served by default, the diagnostics API is opt-in.
func (c *Config) ApplyDefaults() {
	c.Indexer.ApplyDefaults()
	c.RPC.ApplyDefaults()
	c.Storage.ApplyDefaults()
	c.Reorg.ApplyDefaults()

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{Enabled: true}
	}
	c.Metrics.ApplyDefaults()

	if c.API == nil {
		c.API = &APIConfig{}
	}
	c.API.ApplyDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required")
	}
	if err := c.Indexer.Validate(); err != nil {
		return fmt.Errorf("indexer.%w", err)
	}
	if c.RPC.Retry != nil {
		if err := c.RPC.Retry.Validate(); err != nil {
			return fmt.Errorf("rpc.retry: %w", err)
		}
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage.%w", err)
	}
	if err := c.Reorg.Validate(); err != nil {
		return fmt.Errorf("reorg.%w", err)
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}
