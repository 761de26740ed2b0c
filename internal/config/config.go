// Package config loads and validates the console configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the OPSC_ prefix (e.g., OPSC_DATABASE_DRIVER
// overrides database.driver in the YAML). The same binary runs with a config.yaml
// on a workstation and with pure environment variables in a container.
//
// LoadAndWatch additionally watches the config file and hands a freshly
// validated Config to a callback whenever it changes on disk. Only settings that
// are safe to swap at runtime (currently the log level and format) are applied
// by the server.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultBootstrapPassword is the well-known initial password of the bootstrap
// admin account. Deployments must rotate it.
const DefaultBootstrapPassword = "admin123"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Host      HostConfig      `mapstructure:"host"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the account store connection configuration.
// Driver selects the engine: "sqlite" uses Path, "postgres" uses the
// host/port/name/user/password fields.
type DatabaseConfig struct {
	Driver             string `mapstructure:"driver"`
	Path               string `mapstructure:"path"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// WorkspaceConfig holds the shared file workspace backend configuration
type WorkspaceConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	S3      S3StorageConfig    `mapstructure:"s3"`
	GCS     GCSStorageConfig   `mapstructure:"gcs"`
	Azure   AzureStorageConfig `mapstructure:"azure"`
}

// LocalStorageConfig holds local filesystem workspace configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3StorageConfig holds S3-compatible workspace configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// Prefix is prepended to every object key so one bucket can host several consoles
	Prefix string `mapstructure:"prefix"`

	// Authentication method: "default", "static", "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSStorageConfig holds Google Cloud Storage workspace configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`

	// Authentication method: "default", "service_account"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// AzureStorageConfig holds Azure Blob Storage workspace configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	Prefix        string `mapstructure:"prefix"`
	// ServiceURL overrides https://<account>.blob.core.windows.net/ (Azurite, sovereign clouds)
	ServiceURL string `mapstructure:"service_url"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret  string          `mapstructure:"jwt_secret"`
	SessionTTL time.Duration   `mapstructure:"session_ttl"`
	BcryptCost int             `mapstructure:"bcrypt_cost"`
	Bootstrap  BootstrapConfig `mapstructure:"bootstrap"`
}

// BootstrapConfig describes the admin account seeded on first start
type BootstrapConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// UsesDefaultPassword reports whether the bootstrap admin still has the
// well-known initial password.
func (b *BootstrapConfig) UsesDefaultPassword() bool {
	return b.Password == DefaultBootstrapPassword
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	// Path is the append-only audit log file read back by the log viewer
	Path string `mapstructure:"path"`
	// MaxSizeMB rotates the file to path.1, path.2, ... when exceeded (0 disables).
	// Rotated files are never pruned.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// Shippers forward each record to additional sinks
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // webhook, file
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path      string `mapstructure:"path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration for the auth endpoints
type RateLimitingConfig struct {
	Enabled           bool        `mapstructure:"enabled"`
	Backend           string      `mapstructure:"backend"` // memory, redis
	RequestsPerMinute int         `mapstructure:"requests_per_minute"`
	Burst             int         `mapstructure:"burst"`
	Redis             RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the connection settings of the shared rate limit store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
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
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HostConfig tunes the host inspection endpoints
type HostConfig struct {
	ProcessLimit int `mapstructure:"process_limit"`
	// DiskPath is the mount point whose usage is reported
	DiskPath string `mapstructure:"disk_path"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not populate nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.driver",
		"database.path",
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Workspace
		"workspace.backend",
		"workspace.local.base_path",
		"workspace.s3.endpoint",
		"workspace.s3.region",
		"workspace.s3.bucket",
		"workspace.s3.prefix",
		"workspace.s3.auth_method",
		"workspace.s3.access_key_id",
		"workspace.s3.secret_access_key",
		"workspace.s3.role_arn",
		"workspace.s3.role_session_name",
		"workspace.s3.external_id",
		"workspace.gcs.bucket",
		"workspace.gcs.prefix",
		"workspace.gcs.auth_method",
		"workspace.gcs.credentials_file",
		"workspace.gcs.credentials_json",
		"workspace.gcs.endpoint",
		"workspace.azure.account_name",
		"workspace.azure.account_key",
		"workspace.azure.container_name",
		"workspace.azure.prefix",
		"workspace.azure.service_url",

		// Auth
		"auth.jwt_secret",
		"auth.session_ttl",
		"auth.bcrypt_cost",
		"auth.bootstrap.username",
		"auth.bootstrap.password",

		// Audit
		"audit.path",
		"audit.max_size_mb",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.backend",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.redis.addr",
		"security.rate_limiting.redis.password",
		"security.rate_limiting.redis.db",
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
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Host
		"host.process_limit",
		"host.disk_path",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadAndWatch loads the configuration like Load and then watches the config
// file. onChange receives every subsequent revision that passes validation;
// invalid revisions are logged and ignored.
func LoadAndWatch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid configuration change", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name)
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

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
		v.AddConfigPath("/etc/opsconsole")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// An explicit path that does not exist falls back to defaults too
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("OPSC")
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

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Auth.Bootstrap.Password = expandEnv(cfg.Auth.Bootstrap.Password)
	cfg.Workspace.S3.AccessKeyID = expandEnv(cfg.Workspace.S3.AccessKeyID)
	cfg.Workspace.S3.SecretAccessKey = expandEnv(cfg.Workspace.S3.SecretAccessKey)
	cfg.Workspace.GCS.CredentialsJSON = expandEnv(cfg.Workspace.GCS.CredentialsJSON)
	cfg.Workspace.Azure.AccountKey = expandEnv(cfg.Workspace.Azure.AccountKey)
	cfg.Security.RateLimiting.Redis.Password = expandEnv(cfg.Security.RateLimiting.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "users.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "opsconsole")
	v.SetDefault("database.user", "opsconsole")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Workspace defaults
	v.SetDefault("workspace.backend", "local")
	v.SetDefault("workspace.local.base_path", "./workspace")

	// Auth defaults
	v.SetDefault("auth.session_ttl", "8h")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.bootstrap.username", "admin")
	v.SetDefault("auth.bootstrap.password", DefaultBootstrapPassword)

	// Audit defaults
	v.SetDefault("audit.path", "activity.log")
	v.SetDefault("audit.max_size_mb", 0)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.backend", "memory")
	v.SetDefault("security.rate_limiting.requests_per_minute", 10)
	v.SetDefault("security.rate_limiting.burst", 5)
	v.SetDefault("security.rate_limiting.redis.addr", "localhost:6379")
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "opsconsole")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Host defaults
	v.SetDefault("host.process_limit", 40)
	v.SetDefault("host.disk_path", "/")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required when using the sqlite driver")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when using the postgres driver")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required when using the postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when using the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or postgres)", c.Database.Driver)
	}

	// Validate workspace backend
	switch c.Workspace.Backend {
	case "local":
		if c.Workspace.Local.BasePath == "" {
			return fmt.Errorf("workspace.local.base_path is required when using local backend")
		}
	case "s3":
		if c.Workspace.S3.Bucket == "" {
			return fmt.Errorf("workspace.s3.bucket is required when using S3 backend")
		}
		if c.Workspace.S3.Region == "" {
			return fmt.Errorf("workspace.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Workspace.GCS.Bucket == "" {
			return fmt.Errorf("workspace.gcs.bucket is required when using GCS backend")
		}
	case "azure":
		if c.Workspace.Azure.AccountName == "" {
			return fmt.Errorf("workspace.azure.account_name is required when using Azure backend")
		}
		if c.Workspace.Azure.AccountKey == "" {
			return fmt.Errorf("workspace.azure.account_key is required when using Azure backend")
		}
		if c.Workspace.Azure.ContainerName == "" {
			return fmt.Errorf("workspace.azure.container_name is required when using Azure backend")
		}
	default:
		return fmt.Errorf("invalid workspace backend: %s (must be local, s3, gcs, or azure)", c.Workspace.Backend)
	}

	// Validate auth
	if strings.TrimSpace(c.Auth.Bootstrap.Username) == "" {
		return fmt.Errorf("auth.bootstrap.username is required")
	}
	if c.Auth.Bootstrap.Password == "" {
		return fmt.Errorf("auth.bootstrap.password is required")
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return fmt.Errorf("invalid auth.bcrypt_cost: %d (must be between 4 and 31)", c.Auth.BcryptCost)
	}
	if c.Auth.SessionTTL < 0 {
		return fmt.Errorf("auth.session_ttl must not be negative")
	}

	// Validate audit
	if c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required")
	}
	if c.Audit.MaxSizeMB < 0 {
		return fmt.Errorf("audit.max_size_mb must not be negative")
	}
	for i, s := range c.Audit.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "webhook":
			if s.Webhook == nil || s.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d].webhook.url is required for webhook shipper", i)
			}
		case "file":
			if s.File == nil || s.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d].file.path is required for file shipper", i)
			}
		default:
			return fmt.Errorf("invalid audit shipper type: %s (must be webhook or file)", s.Type)
		}
	}

	// Validate rate limiting
	if c.Security.RateLimiting.Enabled {
		switch c.Security.RateLimiting.Backend {
		case "memory":
		case "redis":
			if c.Security.RateLimiting.Redis.Addr == "" {
				return fmt.Errorf("security.rate_limiting.redis.addr is required for redis backend")
			}
		default:
			return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", c.Security.RateLimiting.Backend)
		}
		if c.Security.RateLimiting.RequestsPerMinute < 1 {
			return fmt.Errorf("security.rate_limiting.requests_per_minute must be positive")
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the driver-specific connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", c.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
