package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/feral-file/passport-ledger/internal/domain"
)

const (
	// LedgerBackendPostgres persists the ledger in PostgreSQL
	LedgerBackendPostgres = "postgres"
	// LedgerBackendMemory keeps the ledger in process memory
	LedgerBackendMemory = "memory"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // Maximum amount of time a connection may be reused (e.g., "5m", "1h")
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // Maximum amount of time a connection may be idle (e.g., "10m", "30m")
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// TemporalConfig holds Temporal configuration
type TemporalConfig struct {
	HostPort                           string  `mapstructure:"host_port"`
	Namespace                          string  `mapstructure:"namespace"`
	WebhookTaskQueue                   string  `mapstructure:"webhook_task_queue"`
	MaxConcurrentActivityExecutionSize int     `mapstructure:"max_concurrent_activity_execution_size"`
	WorkerActivitiesPerSecond          float64 `mapstructure:"worker_activities_per_second"`
	MaxConcurrentActivityTaskPollers   int     `mapstructure:"max_concurrent_activity_task_pollers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds

	AllowedOrigins []string `mapstructure:"allowed_origins"` // empty allows every origin
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTPublicKey  string        `mapstructure:"jwt_public_key"`  // PEM encoded RSA public key used to verify tokens
	JWTPrivateKey string        `mapstructure:"jwt_private_key"` // PEM encoded RSA private key used to issue tokens after wallet login
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	ChallengeTTL  time.Duration `mapstructure:"challenge_ttl"`
	APIKeys       []string      `mapstructure:"api_keys"`
}

// IPFSConfig holds the content-addressed blob storage configuration
type IPFSConfig struct {
	APIURL        string        `mapstructure:"api_url"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"` // in bytes
}

// RateLimitPolicy holds a token bucket policy
type RateLimitPolicy struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RateLimitConfig holds API request limiting configuration
type RateLimitConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	IdleTTL  time.Duration   `mapstructure:"idle_ttl"` // buckets unused this long are dropped
	Login    RateLimitPolicy `mapstructure:"login"`    // per client IP on the wallet login routes
	Mutation RateLimitPolicy `mapstructure:"mutation"` // per caller on routes that change the ledger
}

// LedgerConfig holds ledger host configuration
type LedgerConfig struct {
	Backend string       `mapstructure:"backend"` // postgres or memory
	Chain   domain.Chain `mapstructure:"chain"`   // network used to build identity DIDs
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	WorkerPoolSize  int `mapstructure:"pool_size"`
	WorkerQueueSize int `mapstructure:"queue_size"`
}

// WebhookConfig holds webhook delivery configuration
type WebhookConfig struct {
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// DelegationExpirySweeperConfig holds configuration for the delegation expiry sweeper
type DelegationExpirySweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	Worker    WorkerConfig  `mapstructure:"worker"`
}

// JournalRelayConfig holds configuration for the journal relay
type JournalRelayConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// APIConfig holds configuration for the api service
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Server     ServerConfig    `mapstructure:"server"`
	Auth       AuthConfig      `mapstructure:"auth"`
	IPFS       IPFSConfig      `mapstructure:"ipfs"`
	Ledger     LedgerConfig    `mapstructure:"ledger"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// EventBridgeConfig holds configuration for event-bridge
type EventBridgeConfig struct {
	BaseConfig `mapstructure:",squash"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Temporal   TemporalConfig `mapstructure:"temporal"`
	Ledger     LedgerConfig   `mapstructure:"ledger"`
}

// WebhookWorkerConfig holds configuration for webhook-worker
type WebhookWorkerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Temporal   TemporalConfig `mapstructure:"temporal"`
	Webhook    WebhookConfig  `mapstructure:"webhook"`
}

// SweeperConfig holds configuration for sweeper
type SweeperConfig struct {
	BaseConfig              `mapstructure:",squash"`
	Database                DatabaseConfig                `mapstructure:"database"`
	NATS                    NATSConfig                    `mapstructure:"nats"`
	Temporal                TemporalConfig                `mapstructure:"temporal"`
	Ledger                  LedgerConfig                  `mapstructure:"ledger"`
	DelegationExpirySweeper DelegationExpirySweeperConfig `mapstructure:"delegation_expiry_sweeper"`
	JournalRelay            JournalRelayConfig            `mapstructure:"journal_relay"`
}

// LoadAPIConfig loads configuration for api
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	v.SetDefault("nats.subject_prefix", "ledger.events")
	v.SetDefault("nats.connection_name", "passport-ledger-api")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("auth.jwt_issuer", "passport-ledger")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.challenge_ttl", "5m")
	v.SetDefault("ipfs.api_url", "http://localhost:5001")
	v.SetDefault("ipfs.timeout", "60s")
	v.SetDefault("ipfs.max_upload_size", 16*1024*1024)
	v.SetDefault("ledger.backend", LedgerBackendPostgres)
	v.SetDefault("ledger.chain", string(domain.ChainEthereumMainnet))
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.idle_ttl", "10m")
	v.SetDefault("rate_limit.login.requests_per_second", 1)
	v.SetDefault("rate_limit.login.burst", 5)
	v.SetDefault("rate_limit.mutation.requests_per_second", 10)
	v.SetDefault("rate_limit.mutation.burst", 20)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Ledger.validate(); err != nil {
		return nil, err
	}
	if err := config.RateLimit.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadEventBridgeConfig loads configuration for event-bridge
func LoadEventBridgeConfig(configFile string, envPath string) (*EventBridgeConfig, error) {
	v := configureViper("event-bridge", configFile, envPath)

	// Set defaults
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	v.SetDefault("nats.subject_prefix", "ledger.events")
	v.SetDefault("nats.consumer_name", "event-bridge")
	v.SetDefault("nats.connection_name", "passport-ledger-event-bridge")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 3)
	setTemporalDefaults(v)
	v.SetDefault("ledger.chain", string(domain.ChainEthereumMainnet))

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config EventBridgeConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadWebhookWorkerConfig loads configuration for webhook-worker
func LoadWebhookWorkerConfig(configFile string, envPath string) (*WebhookWorkerConfig, error) {
	v := configureViper("webhook-worker", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setTemporalDefaults(v)
	v.SetDefault("temporal.max_concurrent_activity_task_pollers", 10)
	v.SetDefault("webhook.http_timeout", "10s")
	v.SetDefault("webhook.user_agent", "Passport-Ledger-Webhook/1.0")

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config WebhookWorkerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadSweeperConfig loads configuration for sweeper
func LoadSweeperConfig(configFile string, envPath string) (*SweeperConfig, error) {
	v := configureViper("sweeper", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setTemporalDefaults(v)
	v.SetDefault("ledger.backend", LedgerBackendPostgres)
	v.SetDefault("ledger.chain", string(domain.ChainEthereumMainnet))
	v.SetDefault("delegation_expiry_sweeper.interval", "5m")
	v.SetDefault("delegation_expiry_sweeper.batch_size", 200)
	v.SetDefault("delegation_expiry_sweeper.worker.pool_size", 10)
	v.SetDefault("delegation_expiry_sweeper.worker.queue_size", 200)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	v.SetDefault("nats.subject_prefix", "ledger.events")
	v.SetDefault("nats.connection_name", "passport-ledger-sweeper")
	v.SetDefault("journal_relay.enabled", true)
	v.SetDefault("journal_relay.interval", "1m")
	v.SetDefault("journal_relay.batch_size", 500)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg SweeperConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
}

func setTemporalDefaults(v *viper.Viper) {
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.webhook_task_queue", "ledger-webhooks")
	v.SetDefault("temporal.max_concurrent_activity_execution_size", 50)
	v.SetDefault("temporal.worker_activities_per_second", 50)
}

// readConfig reads the config file, tolerating a missing one
func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func (c LedgerConfig) validate() error {
	switch c.Backend {
	case LedgerBackendPostgres, LedgerBackendMemory:
	default:
		return fmt.Errorf("unsupported ledger backend: %q", c.Backend)
	}
	if !domain.IsValidChain(c.Chain) {
		return fmt.Errorf("unsupported ledger chain: %q", c.Chain)
	}
	return nil
}

func (c RateLimitConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	for name, policy := range map[string]RateLimitPolicy{"login": c.Login, "mutation": c.Mutation} {
		if policy.RequestsPerSecond <= 0 || policy.Burst < 1 {
			return fmt.Errorf("invalid %s rate limit: %v requests per second, burst %d", name, policy.RequestsPerSecond, policy.Burst)
		}
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/sweeper/, cmd/api/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("PASSPORT_LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	commonKeys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.subject_prefix",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Temporal
		"temporal.host_port",
		"temporal.namespace",
		"temporal.webhook_task_queue",
		"temporal.max_concurrent_activity_execution_size",
		"temporal.worker_activities_per_second",
		"temporal.max_concurrent_activity_task_pollers",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.jwt_private_key",
		"auth.jwt_issuer",
		"auth.token_ttl",
		"auth.challenge_ttl",
		"auth.api_keys",
		// IPFS
		"ipfs.api_url",
		"ipfs.api_key",
		"ipfs.api_secret",
		"ipfs.timeout",
		"ipfs.max_upload_size",
		// Ledger
		"ledger.backend",
		"ledger.chain",
		// Webhook
		"webhook.http_timeout",
		"webhook.user_agent",
		// Delegation Expiry Sweeper config
		"delegation_expiry_sweeper.interval",
		"delegation_expiry_sweeper.batch_size",
		"delegation_expiry_sweeper.worker.pool_size",
		"delegation_expiry_sweeper.worker.queue_size",
	}

	for _, key := range commonKeys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
