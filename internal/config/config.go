// Package config provides configuration management for the certificate delivery service.
// It handles loading configuration from YAML files, applying environment variable
// and command line overrides, and validating configuration values for server,
// database, delivery protocol, push, scheduler, JWT, logging, and security settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Push      PushConfig      `yaml:"push"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	JWT       JWTConfig       `yaml:"jwt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
	TLSCert      string        `yaml:"tls_cert"`
	TLSKey       string        `yaml:"tls_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	Driver       string `yaml:"driver"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// DeliveryConfig holds the transfer protocol settings
type DeliveryConfig struct {
	TimestampWindow        time.Duration `yaml:"timestamp_window"`
	EnforceUniquePublicKey bool          `yaml:"enforce_unique_public_key"`
	CodeValidity           time.Duration `yaml:"code_validity"`
	CodeFailAfter          time.Duration `yaml:"code_fail_after"`
	RetentionPeriod        time.Duration `yaml:"retention_period"`
	KeyCacheSize           int           `yaml:"key_cache_size"`
	KeyCacheTTL            time.Duration `yaml:"key_cache_ttl"`
}

// PushConfig holds heartbeat push configuration
type PushConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BatchSize         int           `yaml:"batch_size"`
	PushInterval      time.Duration `yaml:"push_interval"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	Cron              string        `yaml:"cron"`
	Topic             string        `yaml:"topic"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	Concurrency       int           `yaml:"concurrency"`
	IOS               IOSPushConfig `yaml:"ios"`
}

// IOSPushConfig holds APNs credentials. Auth is "token" (p8 signing key)
// or "certificate" (p12 client certificate).
type IOSPushConfig struct {
	Auth         string `yaml:"auth"`
	KeyFile      string `yaml:"key_file"`
	KeyID        string `yaml:"key_id"`
	TeamID       string `yaml:"team_id"`
	CertFile     string `yaml:"cert_file"`
	CertPassword string `yaml:"cert_password"`
}

// SchedulerConfig holds background job locking and scheduling
type SchedulerConfig struct {
	LockAtMostFor            time.Duration `yaml:"lock_at_most_for"`
	SilentPushLockAtLeastFor time.Duration `yaml:"silent_push_lock_at_least_for"`
	CleanupCron              string        `yaml:"cleanup_cron"`
	CleanupLockAtLeastFor    time.Duration `yaml:"cleanup_lock_at_least_for"`
}

// JWTConfig holds validation settings for the certificate upload principal
type JWTConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Secret              string        `yaml:"secret"`
	JWKSURL             string        `yaml:"jwks_url"`
	JWKSRefreshInterval time.Duration `yaml:"jwks_refresh_interval"`
	Issuer              string        `yaml:"issuer"`
	ResourceAccessPath  string        `yaml:"resource_access_path"`
	RolePath            string        `yaml:"role_path"`
	Role                string        `yaml:"role"`
	Leeway              time.Duration `yaml:"leeway"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSEnabled bool     `yaml:"cors_enabled"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// defaultConfig returns the configuration used when nothing else is set
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/delivery.db",
			},
			Postgres: PostgresConfig{
				Port:         5432,
				SSLMode:      "disable",
				Driver:       "pq",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Delivery: DeliveryConfig{
			TimestampWindow:        60 * time.Minute,
			EnforceUniquePublicKey: true,
			CodeValidity:           30 * 24 * time.Hour,
			CodeFailAfter:          33 * 24 * time.Hour,
			RetentionPeriod:        7 * 24 * time.Hour,
			KeyCacheSize:           1024,
			KeyCacheTTL:            10 * time.Minute,
		},
		Push: PushConfig{
			BatchSize:         100000,
			PushInterval:      2 * time.Hour,
			SchedulerInterval: 5 * time.Minute,
			Cron:              "0 */5 * * * *",
			Topic:             "ch.admin.bag.covidcertificate.wallet",
			SendTimeout:       10 * time.Second,
			Concurrency:       256,
			IOS: IOSPushConfig{
				Auth: "token",
			},
		},
		Scheduler: SchedulerConfig{
			LockAtMostFor:            15 * time.Minute,
			SilentPushLockAtLeastFor: 15 * time.Second,
			CleanupCron:              "0 0 0 * * *",
			CleanupLockAtLeastFor:    10 * time.Second,
		},
		JWT: JWTConfig{
			JWKSRefreshInterval: time.Hour,
			ResourceAccessPath:  "resource_access",
			RolePath:            "/covidcertificate-delivery/roles",
			Role:                "cgs",
			Leeway:              30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file, then applies environment variable and
// command line flag overrides. A missing file leaves the defaults in place.
func Load(path string, flags *Flags) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	// Command line flags win over everything
	if flags != nil {
		if err := cfg.applyFlagOverrides(flags); err != nil {
			return nil, fmt.Errorf("invalid command line flag: %w", err)
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvOverrides() {
	// Server overrides
	if port := os.Getenv("DELIVERY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if host := os.Getenv("DELIVERY_SERVER_HOST"); host != "" {
		c.Server.Host = host
	}

	// Database overrides
	if dbType := os.Getenv("DELIVERY_DB_TYPE"); dbType != "" {
		c.Database.Type = dbType
	}
	if dbPath := os.Getenv("DELIVERY_DB_SQLITE_PATH"); dbPath != "" {
		c.Database.SQLite.Path = dbPath
	}
	if pgHost := os.Getenv("DELIVERY_DB_POSTGRES_HOST"); pgHost != "" {
		c.Database.Postgres.Host = pgHost
	}
	if pgPort := os.Getenv("DELIVERY_DB_POSTGRES_PORT"); pgPort != "" {
		if p, err := strconv.Atoi(pgPort); err == nil {
			c.Database.Postgres.Port = p
		}
	}
	if pgDB := os.Getenv("DELIVERY_DB_POSTGRES_DATABASE"); pgDB != "" {
		c.Database.Postgres.Database = pgDB
	}
	if pgUser := os.Getenv("DELIVERY_DB_POSTGRES_USER"); pgUser != "" {
		c.Database.Postgres.User = pgUser
	}
	if pgPass := os.Getenv("DELIVERY_DB_POSTGRES_PASSWORD"); pgPass != "" {
		c.Database.Postgres.Password = pgPass
	}
	if pgDriver := os.Getenv("DELIVERY_DB_POSTGRES_DRIVER"); pgDriver != "" {
		c.Database.Postgres.Driver = pgDriver
	}

	// Push overrides
	if enabled := os.Getenv("DELIVERY_PUSH_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			c.Push.Enabled = b
		}
	}
	if topic := os.Getenv("DELIVERY_PUSH_TOPIC"); topic != "" {
		c.Push.Topic = topic
	}
	if keyFile := os.Getenv("DELIVERY_PUSH_IOS_KEY_FILE"); keyFile != "" {
		c.Push.IOS.KeyFile = keyFile
	}
	if keyID := os.Getenv("DELIVERY_PUSH_IOS_KEY_ID"); keyID != "" {
		c.Push.IOS.KeyID = keyID
	}
	if teamID := os.Getenv("DELIVERY_PUSH_IOS_TEAM_ID"); teamID != "" {
		c.Push.IOS.TeamID = teamID
	}
	if certPass := os.Getenv("DELIVERY_PUSH_IOS_CERT_PASSWORD"); certPass != "" {
		c.Push.IOS.CertPassword = certPass
	}

	// JWT overrides
	if jwtSecret := os.Getenv("DELIVERY_JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}
	if jwksURL := os.Getenv("DELIVERY_JWT_JWKS_URL"); jwksURL != "" {
		c.JWT.JWKSURL = jwksURL
	}

	// Logging overrides
	if logLevel := os.Getenv("DELIVERY_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// applyFlagOverrides applies the command line flags that were explicitly set
func (c *Config) applyFlagOverrides(f *Flags) error {
	if v, ok := f.GetServerPort(); ok {
		c.Server.Port = v
	}
	if v, ok := f.GetServerHost(); ok {
		c.Server.Host = v
	}
	if v, ok := f.GetServerTLSEnabled(); ok {
		c.Server.TLSEnabled = v
	}
	if v, ok := f.GetServerTLSCert(); ok {
		c.Server.TLSCert = v
	}
	if v, ok := f.GetServerTLSKey(); ok {
		c.Server.TLSKey = v
	}
	if v, ok := f.GetDBType(); ok {
		c.Database.Type = v
	}
	if v, ok := f.GetDBSQLitePath(); ok {
		c.Database.SQLite.Path = v
	}
	if v, ok := f.GetDBPostgresHost(); ok {
		c.Database.Postgres.Host = v
	}
	if v, ok := f.GetDBPostgresPort(); ok {
		c.Database.Postgres.Port = v
	}
	if v, ok := f.GetDBPostgresDatabase(); ok {
		c.Database.Postgres.Database = v
	}
	if v, ok := f.GetDBPostgresUser(); ok {
		c.Database.Postgres.User = v
	}
	if v, ok := f.GetDBPostgresPassword(); ok {
		c.Database.Postgres.Password = v
	}
	if v, ok := f.GetDBPostgresDriver(); ok {
		c.Database.Postgres.Driver = v
	}
	if v, ok := f.GetDeliveryTimestampWindow(); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("delivery.timestamp-window: %w", err)
		}
		c.Delivery.TimestampWindow = d
	}
	if v, ok := f.GetPushEnabled(); ok {
		c.Push.Enabled = v
	}
	if v, ok := f.GetPushBatchSize(); ok {
		c.Push.BatchSize = v
	}
	if v, ok := f.GetLogLevel(); ok {
		c.Logging.Level = v
	}
	if v, ok := f.GetLogFormat(); ok {
		c.Logging.Format = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCert == "" || c.Server.TLSKey == "" {
			return fmt.Errorf("TLS enabled but cert or key not specified")
		}
	}

	// Validate database config
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("invalid database type: %s (must be 'sqlite' or 'postgres')", c.Database.Type)
	}
	if c.Database.Type == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("SQLite path not specified")
	}
	if c.Database.Type == "postgres" {
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("PostgreSQL host and database must be specified")
		}
		if c.Database.Postgres.Driver != "pq" && c.Database.Postgres.Driver != "pgx" {
			return fmt.Errorf("invalid PostgreSQL driver: %s (must be 'pq' or 'pgx')", c.Database.Postgres.Driver)
		}
	}

	// Validate delivery config
	if c.Delivery.TimestampWindow <= 0 {
		return fmt.Errorf("timestamp window must be positive")
	}
	if c.Delivery.CodeValidity <= 0 || c.Delivery.CodeFailAfter < c.Delivery.CodeValidity {
		return fmt.Errorf("code fail-after must not be shorter than code validity")
	}
	if c.Delivery.RetentionPeriod <= 0 {
		return fmt.Errorf("retention period must be positive")
	}

	// Validate push config
	if c.Push.BatchSize < 1 {
		return fmt.Errorf("push batch size must be at least 1")
	}
	if c.Push.PushInterval <= 0 || c.Push.SchedulerInterval <= 0 {
		return fmt.Errorf("push and scheduler intervals must be positive")
	}
	if c.Push.Cron == "" || c.Scheduler.CleanupCron == "" {
		return fmt.Errorf("job schedules must be specified")
	}
	if c.Push.Enabled {
		switch c.Push.IOS.Auth {
		case "token":
			if c.Push.IOS.KeyFile == "" || c.Push.IOS.KeyID == "" || c.Push.IOS.TeamID == "" {
				return fmt.Errorf("APNs token auth requires key file, key id and team id")
			}
		case "certificate":
			if c.Push.IOS.CertFile == "" {
				return fmt.Errorf("APNs certificate auth requires a certificate file")
			}
		default:
			return fmt.Errorf("invalid APNs auth: %s (must be 'token' or 'certificate')", c.Push.IOS.Auth)
		}
		if c.Push.Topic == "" {
			return fmt.Errorf("push topic must be specified")
		}
	}

	// Validate scheduler config
	if c.Scheduler.LockAtMostFor <= 0 {
		return fmt.Errorf("lock at most for must be positive")
	}

	// Validate JWT config
	if c.JWT.Enabled && c.JWT.Secret == "" && c.JWT.JWKSURL == "" {
		return fmt.Errorf("JWT enabled but neither secret nor JWKS URL specified")
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the database connection string based on the configured type
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "sqlite":
		return c.Database.SQLite.Path
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Postgres.Host,
			c.Database.Postgres.Port,
			c.Database.Postgres.User,
			c.Database.Postgres.Password,
			c.Database.Postgres.Database,
			c.Database.Postgres.SSLMode,
		)
	default:
		return ""
	}
}
