package config

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// Flags holds all command line flag values
type Flags struct {
	fs *flag.FlagSet

	// General
	configFile *string
	version    *bool

	// Server
	serverPort       *int
	serverHost       *string
	serverTLSEnabled *bool
	serverTLSCert    *string
	serverTLSKey     *string

	// Database
	dbType             *string
	dbSQLitePath       *string
	dbPostgresHost     *string
	dbPostgresPort     *int
	dbPostgresDatabase *string
	dbPostgresUser     *string
	dbPostgresPassword *string
	dbPostgresDriver   *string

	// Delivery
	deliveryTimestampWindow *string

	// Push
	pushEnabled   *bool
	pushBatchSize *int

	// Logging
	logLevel  *string
	logFormat *string
}

// ParseFlags defines and parses all command line flags
func ParseFlags() (*Flags, string, bool) {
	f := newFlags(os.Args[0], flag.ExitOnError)
	_ = f.fs.Parse(os.Args[1:])
	return f, *f.configFile, *f.version
}

// newFlags defines the flag set without parsing it
func newFlags(name string, handling flag.ErrorHandling) *Flags {
	fs := flag.NewFlagSet(name, handling)
	f := &Flags{fs: fs}

	// General flags
	f.configFile = fs.StringP("config", "c", "config.yaml", "Path to configuration file")
	f.version = fs.BoolP("version", "v", false, "Print version and exit")

	// Server flags
	f.serverPort = fs.Int("server.port", 0, "HTTP server port")
	f.serverHost = fs.String("server.host", "", "HTTP server bind address")
	f.serverTLSEnabled = fs.Bool("server.tls-enabled", false, "Enable HTTPS")
	f.serverTLSCert = fs.String("server.tls-cert", "", "Path to TLS certificate")
	f.serverTLSKey = fs.String("server.tls-key", "", "Path to TLS key")

	// Database flags
	f.dbType = fs.String("db.type", "", "Database type (sqlite or postgres)")
	f.dbSQLitePath = fs.String("db.sqlite.path", "", "SQLite database file path")
	f.dbPostgresHost = fs.String("db.postgres.host", "", "PostgreSQL host")
	f.dbPostgresPort = fs.Int("db.postgres.port", 0, "PostgreSQL port")
	f.dbPostgresDatabase = fs.String("db.postgres.database", "", "PostgreSQL database name")
	f.dbPostgresUser = fs.String("db.postgres.user", "", "PostgreSQL user")
	f.dbPostgresPassword = fs.String("db.postgres.password", "", "PostgreSQL password")
	f.dbPostgresDriver = fs.String("db.postgres.driver", "", "PostgreSQL driver (pq or pgx)")

	// Delivery flags
	f.deliveryTimestampWindow = fs.String("delivery.timestamp-window", "", "Accepted signed payload clock skew (e.g., 60m)")

	// Push flags
	f.pushEnabled = fs.Bool("push.enabled", false, "Send heartbeat pushes through APNs")
	f.pushBatchSize = fs.Int("push.batch-size", 0, "Maximum pushes per scheduler tick and push type")

	// Logging flags
	f.logLevel = fs.StringP("log.level", "l", "", "Log level (debug, info, warn, error)")
	f.logFormat = fs.String("log.format", "", "Log format (json or console)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", name)
		fmt.Fprintf(os.Stderr, "COVID certificate delivery service\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration priority (highest to lowest):\n")
		fmt.Fprintf(os.Stderr, "  1. Command line flags\n")
		fmt.Fprintf(os.Stderr, "  2. Environment variables (DELIVERY_*)\n")
		fmt.Fprintf(os.Stderr, "  3. Configuration file (default: config.yaml)\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  # Start with custom config file\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/delivery/config.yaml\n\n", name)
		fmt.Fprintf(os.Stderr, "  # Use PostgreSQL through pgx\n")
		fmt.Fprintf(os.Stderr, "  %s --db.type postgres --db.postgres.host db.example.com --db.postgres.driver pgx\n\n", name)
	}

	return f
}

// GetServerPort returns the server port flag value and whether it was set
func (f *Flags) GetServerPort() (int, bool) {
	return *f.serverPort, f.fs.Changed("server.port")
}

// GetServerHost returns the server host flag value and whether it was set
func (f *Flags) GetServerHost() (string, bool) {
	return *f.serverHost, f.fs.Changed("server.host")
}

// GetServerTLSEnabled returns the server TLS enabled flag value and whether it was set
func (f *Flags) GetServerTLSEnabled() (bool, bool) {
	return *f.serverTLSEnabled, f.fs.Changed("server.tls-enabled")
}

// GetServerTLSCert returns the server TLS cert flag value and whether it was set
func (f *Flags) GetServerTLSCert() (string, bool) {
	return *f.serverTLSCert, f.fs.Changed("server.tls-cert")
}

// GetServerTLSKey returns the server TLS key flag value and whether it was set
func (f *Flags) GetServerTLSKey() (string, bool) {
	return *f.serverTLSKey, f.fs.Changed("server.tls-key")
}

// GetDBType returns the database type flag value and whether it was set
func (f *Flags) GetDBType() (string, bool) {
	return *f.dbType, f.fs.Changed("db.type")
}

// GetDBSQLitePath returns the SQLite path flag value and whether it was set
func (f *Flags) GetDBSQLitePath() (string, bool) {
	return *f.dbSQLitePath, f.fs.Changed("db.sqlite.path")
}

// GetDBPostgresHost returns the PostgreSQL host flag value and whether it was set
func (f *Flags) GetDBPostgresHost() (string, bool) {
	return *f.dbPostgresHost, f.fs.Changed("db.postgres.host")
}

// GetDBPostgresPort returns the PostgreSQL port flag value and whether it was set
func (f *Flags) GetDBPostgresPort() (int, bool) {
	return *f.dbPostgresPort, f.fs.Changed("db.postgres.port")
}

// GetDBPostgresDatabase returns the PostgreSQL database flag value and whether it was set
func (f *Flags) GetDBPostgresDatabase() (string, bool) {
	return *f.dbPostgresDatabase, f.fs.Changed("db.postgres.database")
}

// GetDBPostgresUser returns the PostgreSQL user flag value and whether it was set
func (f *Flags) GetDBPostgresUser() (string, bool) {
	return *f.dbPostgresUser, f.fs.Changed("db.postgres.user")
}

// GetDBPostgresPassword returns the PostgreSQL password flag value and whether it was set
func (f *Flags) GetDBPostgresPassword() (string, bool) {
	return *f.dbPostgresPassword, f.fs.Changed("db.postgres.password")
}

// GetDBPostgresDriver returns the PostgreSQL driver flag value and whether it was set
func (f *Flags) GetDBPostgresDriver() (string, bool) {
	return *f.dbPostgresDriver, f.fs.Changed("db.postgres.driver")
}

// GetDeliveryTimestampWindow returns the timestamp window flag value and whether it was set
func (f *Flags) GetDeliveryTimestampWindow() (string, bool) {
	return *f.deliveryTimestampWindow, f.fs.Changed("delivery.timestamp-window")
}

// GetPushEnabled returns the push enabled flag value and whether it was set
func (f *Flags) GetPushEnabled() (bool, bool) {
	return *f.pushEnabled, f.fs.Changed("push.enabled")
}

// GetPushBatchSize returns the push batch size flag value and whether it was set
func (f *Flags) GetPushBatchSize() (int, bool) {
	return *f.pushBatchSize, f.fs.Changed("push.batch-size")
}

// GetLogLevel returns the log level flag value and whether it was set
func (f *Flags) GetLogLevel() (string, bool) {
	return *f.logLevel, f.fs.Changed("log.level")
}

// GetLogFormat returns the log format flag value and whether it was set
func (f *Flags) GetLogFormat() (string, bool) {
	return *f.logFormat, f.fs.Changed("log.format")
}
