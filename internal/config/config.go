// Package config loads and validates the Blueprint Hub configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the BPH_ prefix (e.g., BPH_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// The caller-origin allow-list (security.allowed_origins) can be hot-reloaded:
// Watch re-reads the config file on change and hands the new snapshot to the
// supplied callback, so origin changes do not require a restart.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// viper is retained so Watch can re-read the same sources on file change
	viper *viper.Viper `mapstructure:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and external
// redirects. When server.public_url is set it is returned as-is; otherwise it falls
// back to server.base_url. The distinction matters in reverse-proxied deployments
// where the internal listen address differs from the URL registered with GitHub.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// GetAddress returns the host:port address to listen on
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN builds the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// StorageConfig holds blob storage backend configuration.
//
// PrimaryBackend may be empty. An empty value means no primary blob tier is
// configured: package payloads are stored as chunk rows in the database instead.
// The service stays fully functional either way; the primary tier is an
// optimization that keeps large payloads out of the relational store.
type StorageConfig struct {
	PrimaryBackend string             `mapstructure:"primary_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// Static credentials; when empty the AWS default credential chain is used
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	// CredentialsFile is a service account JSON key path; empty uses ADC
	CredentialsFile string `mapstructure:"credentials_file"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// AuthConfig holds identity-provider and token configuration
type AuthConfig struct {
	GitHub GitHubAuthConfig `mapstructure:"github"`
	// SessionTTL is the lifetime of minted session tokens
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// StateTTL is the lifetime of one-time OAuth state tokens
	StateTTL time.Duration `mapstructure:"state_ttl"`
}

// GitHubAuthConfig holds GitHub OAuth application credentials
type GitHubAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// APIBaseURL overrides the GitHub API endpoint (GitHub Enterprise, tests)
	APIBaseURL string `mapstructure:"api_base_url"`
}

// PublishConfig bounds the package intake pipeline
type PublishConfig struct {
	// MaxPackageBytes caps both the streamed request body and the re-serialized payload
	MaxPackageBytes int64 `mapstructure:"max_package_bytes"`
	// ChunkSize is the fragment size used for database chunk-fallback storage
	ChunkSize int `mapstructure:"chunk_size"`
}

// SecurityConfig holds edge-policy configuration
type SecurityConfig struct {
	// AllowedOrigins is the caller-origin allow-list used by both the CORS layer
	// and the OAuth start endpoint. "*" allows any origin (development only).
	AllowedOrigins []string           `mapstructure:"allowed_origins"`
	RateLimiting   RateLimitingConfig `mapstructure:"rate_limiting"`
	// AdminTokenHash is the bcrypt hash of the operator token guarding the
	// moderation endpoints. Empty disables the admin surface entirely.
	AdminTokenHash string `mapstructure:"admin_token_hash"`
}

// RateLimitingConfig holds rate limiter configuration
type RateLimitingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	// RedisAddr switches the limiter from in-memory token buckets to a
	// Redis-backed limiter shared across stateless replicas. Empty keeps
	// the in-process limiter.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables rotating file output in addition to stdout when non-empty
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelemetryConfig holds metrics configuration
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// watchMu guards concurrent Watch registrations against viper's callback slot.
var watchMu sync.Mutex

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/blueprint-hub")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("BPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures.
	// AutomaticEnv() alone does not surface env values through Unmarshal().
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.viper = v
	return cfg, nil
}

// Watch re-reads the configuration whenever the backing file changes and hands
// the fresh snapshot to onChange. Snapshots that fail validation are dropped
// with the previous configuration left in effect.
func (c *Config) Watch(onChange func(*Config)) {
	if c.viper == nil || c.viper.ConfigFileUsed() == "" {
		return // nothing to watch (env-only deployment)
	}
	watchMu.Lock()
	defer watchMu.Unlock()
	c.viper.OnConfigChange(func(_ fsnotify.Event) {
		fresh, err := unmarshal(c.viper)
		if err != nil {
			return
		}
		if err := fresh.Validate(); err != nil {
			return
		}
		fresh.viper = c.viper
		onChange(fresh)
	})
	c.viper.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Storage.Azure.AccountKey = os.ExpandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = os.ExpandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = os.ExpandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Auth.GitHub.ClientSecret = os.ExpandEnv(cfg.Auth.GitHub.ClientSecret)
	cfg.Security.RateLimiting.RedisPassword = os.ExpandEnv(cfg.Security.RateLimiting.RedisPassword)

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables to config keys.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Storage
		"storage.primary_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.gcs.bucket",
		"storage.gcs.credentials_file",
		"storage.local.base_path",

		// Auth
		"auth.github.client_id",
		"auth.github.client_secret",
		"auth.github.api_base_url",
		"auth.session_ttl",
		"auth.state_ttl",

		// Publish
		"publish.max_package_bytes",
		"publish.chunk_size",

		// Security
		"security.allowed_origins",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.redis_addr",
		"security.rate_limiting.redis_password",
		"security.admin_token_hash",

		// Logging
		"logging.level",
		"logging.format",
		"logging.file",
		"logging.max_size_mb",
		"logging.max_backups",
		"logging.max_age_days",

		// Telemetry
		"telemetry.metrics_enabled",
		"telemetry.prometheus_port",
	}

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "blueprint_hub")
	v.SetDefault("database.user", "bph")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults: no primary tier — chunk fallback keeps the service
	// correct with nothing but a database configured
	v.SetDefault("storage.primary_backend", "")
	v.SetDefault("storage.local.base_path", "./storage")

	// Auth defaults
	v.SetDefault("auth.session_ttl", (7 * 24 * time.Hour).String())
	v.SetDefault("auth.state_ttl", (10 * time.Minute).String())

	// Publish defaults
	v.SetDefault("publish.max_package_bytes", int64(2<<20)) // 2 MiB
	v.SetDefault("publish.chunk_size", 64*1024)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	// Telemetry defaults
	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	switch c.Storage.PrimaryBackend {
	case "", "local", "s3", "gcs", "azure":
	default:
		return fmt.Errorf("invalid storage backend: %s (must be local, s3, gcs, azure, or empty for chunk-only)", c.Storage.PrimaryBackend)
	}

	if c.Publish.MaxPackageBytes <= 0 {
		return fmt.Errorf("publish.max_package_bytes must be positive")
	}
	if c.Publish.ChunkSize <= 0 {
		return fmt.Errorf("publish.chunk_size must be positive")
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("security.allowed_origins must not be empty")
	}

	return nil
}

// IsOriginAllowed reports whether origin is in the configured allow-list.
// A "*" entry allows every origin.
func (c *Config) IsOriginAllowed(origin string) bool {
	for _, allowed := range c.Security.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
