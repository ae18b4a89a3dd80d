// Package config loads and validates the passport service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the PASSPORT_ prefix (e.g.,
// PASSPORT_DATABASE_HOST overrides database.host in the YAML). Secrets may be
// written as ${VAR} in the YAML and are expanded from the environment after
// decoding.
package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ai4hf/passport/internal/audit"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Signing   SigningConfig   `mapstructure:"signing"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
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

// RedisConfig holds the shared Redis connection used by the passport cache
// and the rate limiter.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RateLimitConfig throttles passport assembly per actor.
type RateLimitConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	AssembliesPerMinute int  `mapstructure:"assemblies_per_minute"`
	Burst               int  `mapstructure:"burst"`
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// DirectoryConfig configures actor display-name lookup.
type DirectoryConfig struct {
	LDAP LDAPConfig `mapstructure:"ldap"`
}

// LDAPConfig holds LDAP directory settings
type LDAPConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	URL          string `mapstructure:"url"`
	BindDN       string `mapstructure:"bind_dn"`
	BindPassword string `mapstructure:"bind_password"`
	BaseDN       string `mapstructure:"base_dn"`
	// UserFilter is a filter template; %s is replaced by the escaped person id.
	UserFilter  string `mapstructure:"user_filter"`
	NameAttr    string `mapstructure:"name_attribute"`
	StartTLS    bool   `mapstructure:"start_tls"`
	InsecureTLS bool   `mapstructure:"insecure_skip_verify"`
}

// SigningConfig holds the OpenPGP key used to sign passports
type SigningConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	Passphrase     string `mapstructure:"passphrase"`
}

// ArchiveConfig holds storage backend configuration for signed passports
type ArchiveConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
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

	// Endpoint overrides the account service URL (e.g., Azurite)
	Endpoint string `mapstructure:"endpoint"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is one of "default", "static", "oidc", "assume_role".
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	// AuthMethod is one of "default", "service_account", "workload_identity".
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// AuditConfig holds audit recording configuration
type AuditConfig struct {
	// SnapshotEncryptionKey is a base64 32-byte key; empty stores snapshots in clear.
	SnapshotEncryptionKey string `mapstructure:"snapshot_encryption_key"`
	// Shippers configures external log shipping
	Shippers []audit.ShipperConfig `mapstructure:"shippers"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
	TLS  TLSConfig  `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// TracingConfig toggles span creation
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
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

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.cache_ttl",

		// Rate limiting
		"rate_limit.enabled",
		"rate_limit.assemblies_per_minute",
		"rate_limit.burst",

		// Auth
		"auth.jwt_secret",
		"auth.issuer",
		"auth.audience",

		// Directory
		"directory.ldap.enabled",
		"directory.ldap.url",
		"directory.ldap.bind_dn",
		"directory.ldap.bind_password",
		"directory.ldap.base_dn",
		"directory.ldap.user_filter",
		"directory.ldap.name_attribute",
		"directory.ldap.start_tls",
		"directory.ldap.insecure_skip_verify",

		// Signing
		"signing.enabled",
		"signing.private_key_path",
		"signing.passphrase",

		// Archive
		"archive.default_backend",
		"archive.azure.account_name",
		"archive.azure.account_key",
		"archive.azure.container_name",
		"archive.azure.endpoint",
		"archive.s3.endpoint",
		"archive.s3.region",
		"archive.s3.bucket",
		"archive.s3.auth_method",
		"archive.s3.access_key_id",
		"archive.s3.secret_access_key",
		"archive.s3.role_arn",
		"archive.s3.role_session_name",
		"archive.s3.external_id",
		"archive.s3.web_identity_token_file",
		"archive.gcs.bucket",
		"archive.gcs.project_id",
		"archive.gcs.auth_method",
		"archive.gcs.credentials_file",
		"archive.gcs.credentials_json",
		"archive.gcs.endpoint",
		"archive.local.base_path",

		// Audit
		"audit.snapshot_encryption_key",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.tracing.enabled",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// newViper builds a viper instance with defaults, the config file (if any)
// and environment bindings applied.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/passport")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PASSPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Directory.LDAP.BindPassword = expandEnv(cfg.Directory.LDAP.BindPassword)
	cfg.Signing.Passphrase = expandEnv(cfg.Signing.Passphrase)
	cfg.Archive.Azure.AccountKey = expandEnv(cfg.Archive.Azure.AccountKey)
	cfg.Archive.S3.AccessKeyID = expandEnv(cfg.Archive.S3.AccessKeyID)
	cfg.Archive.S3.SecretAccessKey = expandEnv(cfg.Archive.S3.SecretAccessKey)
	cfg.Audit.SnapshotEncryptionKey = expandEnv(cfg.Audit.SnapshotEncryptionKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the config file on every change and passes each valid
// result to apply. Invalid edits are logged and ignored.
func Watch(configPath string, apply func(*Config)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		apply(cfg)
	})
	v.WatchConfig()
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "passport")
	v.SetDefault("database.user", "passport")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "5m")

	// Rate limiting defaults
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.assemblies_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)

	// Directory defaults
	v.SetDefault("directory.ldap.enabled", false)
	v.SetDefault("directory.ldap.user_filter", "(uid=%s)")
	v.SetDefault("directory.ldap.name_attribute", "cn")

	// Signing defaults
	v.SetDefault("signing.enabled", false)

	// Archive defaults
	v.SetDefault("archive.default_backend", "local")
	v.SetDefault("archive.local.base_path", "./archive")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "passport")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.tracing.enabled", false)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.AssembliesPerMinute < 1 {
		return fmt.Errorf("rate_limit.assemblies_per_minute must be positive")
	}

	if c.Directory.LDAP.Enabled {
		if c.Directory.LDAP.URL == "" {
			return fmt.Errorf("directory.ldap.url is required when LDAP is enabled")
		}
		if c.Directory.LDAP.BaseDN == "" {
			return fmt.Errorf("directory.ldap.base_dn is required when LDAP is enabled")
		}
		if !strings.Contains(c.Directory.LDAP.UserFilter, "%s") {
			return fmt.Errorf("directory.ldap.user_filter must contain %%s")
		}
	}

	if c.Signing.Enabled && c.Signing.PrivateKeyPath == "" {
		return fmt.Errorf("signing.private_key_path is required when signing is enabled")
	}

	validBackends := map[string]bool{"azure": true, "s3": true, "gcs": true, "local": true}
	if !validBackends[c.Archive.DefaultBackend] {
		return fmt.Errorf("invalid archive backend: %s (must be azure, s3, gcs, or local)", c.Archive.DefaultBackend)
	}
	switch c.Archive.DefaultBackend {
	case "azure":
		if c.Archive.Azure.AccountName == "" {
			return fmt.Errorf("archive.azure.account_name is required when using Azure backend")
		}
		if c.Archive.Azure.AccountKey == "" {
			return fmt.Errorf("archive.azure.account_key is required when using Azure backend")
		}
		if c.Archive.Azure.ContainerName == "" {
			return fmt.Errorf("archive.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when using S3 backend")
		}
		if c.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if c.Archive.Local.BasePath == "" {
			return fmt.Errorf("archive.local.base_path is required when using local backend")
		}
	}

	if c.Audit.SnapshotEncryptionKey != "" {
		if _, err := c.Audit.SnapshotKey(); err != nil {
			return err
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// SnapshotKey decodes the audit snapshot encryption key. It returns nil when
// encryption is disabled.
func (a *AuditConfig) SnapshotKey() ([]byte, error) {
	if a.SnapshotEncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(a.SnapshotEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("audit.snapshot_encryption_key must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("audit.snapshot_encryption_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
