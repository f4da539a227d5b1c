package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. RISK_WATCHER_PIPELINE_WORKERS
const EnvPrefix = "RISK_WATCHER"

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Etherscan EtherscanConfig `mapstructure:"etherscan"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// EtherscanConfig configures the explorer API used for discovery and enrichment
type EtherscanConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	ChainID     string        `mapstructure:"chain_id"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

// RPCConfig contains JSON-RPC node configuration
type RPCConfig struct {
	NodeURL             string        `mapstructure:"node_url"`
	BackupNodes         []string      `mapstructure:"backup_nodes"`
	ChainID             int64         `mapstructure:"chain_id"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// DiscoveryConfig controls how new deployments are found
type DiscoveryConfig struct {
	Source        string        `mapstructure:"source"` // etherscan, rpc
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StartBlock    uint64        `mapstructure:"start_block"`
	Confirmations uint64        `mapstructure:"confirmations"`
	MaxBlockRange uint64        `mapstructure:"max_block_range"`
	LogAddress    string        `mapstructure:"log_address"`
	LogTopic      string        `mapstructure:"log_topic"`
}

// BlacklistConfig configures the blacklist feed
type BlacklistConfig struct {
	URL     string                  `mapstructure:"url"`
	Timeout time.Duration           `mapstructure:"timeout"`
	Headers map[string]string       `mapstructure:"headers"`
	Entries []models.BlacklistEntry `mapstructure:"entries"`
}

// RiskConfig holds risk engine thresholds
type RiskConfig struct {
	MinContractAge time.Duration `mapstructure:"min_contract_age"`
	MinTxCount     uint64        `mapstructure:"min_tx_count"`
}

// PipelineConfig controls batch processing
type PipelineConfig struct {
	Workers      int           `mapstructure:"workers"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// SinkConfig selects and configures downstream sinks
type SinkConfig struct {
	Types      []string         `mapstructure:"types"` // http, database, clickhouse, log, broadcast
	Timeout    time.Duration    `mapstructure:"timeout"`
	HTTP       HTTPSinkConfig   `mapstructure:"http"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Alert      AlertConfig      `mapstructure:"alert"`
}

// HTTPSinkConfig configures the HTTP (Logstash) sink
type HTTPSinkConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	RetryAttempts int               `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration     `mapstructure:"max_retry_delay"`
	Backoff       string            `mapstructure:"backoff"` // fixed, linear, exponential
}

// ClickHouseConfig configures the ClickHouse sink
type ClickHouseConfig struct {
	Addr        []string      `mapstructure:"addr"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Table       string        `mapstructure:"table"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// AlertConfig forwards severe verdicts to an alert webhook
type AlertConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	URL      string            `mapstructure:"url"`
	MinLevel string            `mapstructure:"min_level"`
	Headers  map[string]string `mapstructure:"headers"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	RetentionDays    int           `mapstructure:"retention_days"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
	EnableStream  bool          `mapstructure:"enable_stream"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment into v.
// A nil v gets a fresh instance.
func Load(configPath string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if apiKey := os.Getenv("ETHERSCAN_API_KEY"); apiKey != "" {
		config.Etherscan.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "contract-risk-watcher")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")

	// Explorer defaults
	v.SetDefault("etherscan.base_url", "https://api.etherscan.io/v2/api")
	v.SetDefault("etherscan.api_key", "")
	v.SetDefault("etherscan.chain_id", "1")
	v.SetDefault("etherscan.timeout", "15s")
	v.SetDefault("etherscan.max_retries", 3)
	v.SetDefault("etherscan.backoff_base", "500ms")

	// RPC defaults
	v.SetDefault("rpc.node_url", "")
	v.SetDefault("rpc.chain_id", 1)
	v.SetDefault("rpc.request_timeout", "30s")
	v.SetDefault("rpc.retry_attempts", 3)
	v.SetDefault("rpc.retry_delay", "5s")
	v.SetDefault("rpc.health_check_interval", "30s")

	// Discovery defaults (mainnet block time is ~12 seconds)
	v.SetDefault("discovery.source", "etherscan")
	v.SetDefault("discovery.poll_interval", "30s")
	v.SetDefault("discovery.start_block", 0)
	v.SetDefault("discovery.confirmations", 6)
	v.SetDefault("discovery.max_block_range", 100)
	v.SetDefault("discovery.log_address", "0x0000000000000000000000000000000000000000")
	v.SetDefault("discovery.log_topic", "")

	// Blacklist defaults
	v.SetDefault("blacklist.url", "")
	v.SetDefault("blacklist.timeout", "10s")

	// Risk defaults
	v.SetDefault("risk.min_contract_age", "720h")
	v.SetDefault("risk.min_tx_count", 10)

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.fetch_timeout", "20s")

	// Sink defaults
	v.SetDefault("sink.types", []string{"log"})
	v.SetDefault("sink.timeout", "10s")
	v.SetDefault("sink.http.url", "http://localhost:5044")
	v.SetDefault("sink.http.retry_attempts", 3)
	v.SetDefault("sink.http.retry_delay", "1s")
	v.SetDefault("sink.http.max_retry_delay", "30s")
	v.SetDefault("sink.http.backoff", "exponential")
	v.SetDefault("sink.clickhouse.database", "default")
	v.SetDefault("sink.clickhouse.username", "default")
	v.SetDefault("sink.clickhouse.table", "contract_risk_records")
	v.SetDefault("sink.clickhouse.dial_timeout", "10s")
	v.SetDefault("sink.alert.enabled", false)
	v.SetDefault("sink.alert.min_level", "high")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/watcher.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.retention_days", 90)
	v.SetDefault("storage.cleanup_interval", "24h")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.enable_stream", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

var (
	supportedSinks    = []string{"http", "database", "clickhouse", "log", "broadcast"}
	supportedSources  = []string{"etherscan", "rpc"}
	supportedStorages = []string{"sqlite", "postgres", "postgresql"}
)

// Validate checks the configuration. Every error here is fatal at startup.
func (c *Config) Validate() error {
	if c.Etherscan.APIKey == "" {
		return fmt.Errorf("etherscan API key is required (set ETHERSCAN_API_KEY)")
	}
	if c.Etherscan.BaseURL == "" {
		return fmt.Errorf("etherscan base URL is required")
	}

	if !contains(supportedSources, c.Discovery.Source) {
		return fmt.Errorf("unsupported discovery source %q (supported: %s)",
			c.Discovery.Source, strings.Join(supportedSources, ", "))
	}
	if c.Discovery.Source == "rpc" && c.RPC.NodeURL == "" {
		return fmt.Errorf("rpc node URL is required for rpc discovery")
	}
	if c.Discovery.PollInterval <= 0 {
		return fmt.Errorf("discovery poll interval must be positive")
	}
	if c.Discovery.MaxBlockRange == 0 {
		return fmt.Errorf("discovery max block range must be positive")
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.Pipeline.FetchTimeout <= 0 {
		return fmt.Errorf("pipeline fetch timeout must be positive")
	}

	if len(c.Sink.Types) == 0 {
		return fmt.Errorf("at least one sink type is required")
	}
	for _, t := range c.Sink.Types {
		if !contains(supportedSinks, t) {
			return fmt.Errorf("unsupported sink type %q (supported: %s)", t, strings.Join(supportedSinks, ", "))
		}
		if t == "http" && c.Sink.HTTP.URL == "" {
			return fmt.Errorf("sink.http.url is required for the http sink")
		}
		if t == "clickhouse" && len(c.Sink.ClickHouse.Addr) == 0 {
			return fmt.Errorf("sink.clickhouse.addr is required for the clickhouse sink")
		}
	}
	if c.Sink.Alert.Enabled {
		if c.Sink.Alert.URL == "" {
			return fmt.Errorf("sink.alert.url is required when alerts are enabled")
		}
		if _, err := models.ParseRiskLevel(c.Sink.Alert.MinLevel); err != nil {
			return fmt.Errorf("sink.alert.min_level: %w", err)
		}
	}

	if !contains(supportedStorages, strings.ToLower(c.Storage.Type)) {
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	return nil
}

// HasSink reports whether sink type t is enabled
func (c *Config) HasSink(t string) bool {
	return contains(c.Sink.Types, t)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
