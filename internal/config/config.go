// Package config loads clapictl settings from a YAML file and CLAPI_
// environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full clapictl configuration. The CLI reads the clapi, remote
// and snmp sections. The server reads all of them.
type Config struct {
	CLAPI    CLAPIConfig    `yaml:"clapi"`
	Remote   RemoteConfig   `yaml:"remote"`
	SNMP     SNMPConfig     `yaml:"snmp"`
	Server   ServerConfig   `yaml:"server"`
	CORS     CORSConfig     `yaml:"cors"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CLAPIConfig holds the credentials and location of the centreon binary
type CLAPIConfig struct {
	Path      string `yaml:"path"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Debug     bool   `yaml:"debug"`
}

// RemoteConfig runs CLAPI on the central server over SSH instead of locally
type RemoteConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Passphrase     string `yaml:"passphrase"`
	KnownHostsFile string `yaml:"known_hosts_file"`
	DialTimeoutMS  int    `yaml:"dial_timeout_ms"`
}

// SNMPConfig tunes the community check run before a community is saved
type SNMPConfig struct {
	Port      int `yaml:"port"`
	TimeoutMS int `yaml:"timeout_ms"`
	Retries   int `yaml:"retries"`
}

// ServerConfig is the listen address and timeouts of the HTTP gateway
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

// CORSConfig controls cross-origin access to the gateway
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAgeSeconds  int      `yaml:"max_age_seconds"`
}

// AuthConfig holds the single gateway account and the JWT signing secret
type AuthConfig struct {
	AdminUsername string `yaml:"admin_username"`
	// AdminPassword may be a bcrypt hash ("$2a$...") or plain text
	AdminPassword  string `yaml:"admin_password"`
	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MaxConns                 int `yaml:"max_conns"`
	MinConns                 int `yaml:"min_conns"`
	MaxConnLifetimeMinutes   int `yaml:"max_conn_lifetime_minutes"`
	MaxConnIdleTimeMinutes   int `yaml:"max_conn_idle_time_minutes"`
	HealthCheckPeriodSeconds int `yaml:"health_check_period_seconds"`
}

// DatabaseConfig points at the Postgres instance that stores the
// invocation audit log. Auditing is off when Enabled is false.
type DatabaseConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	DBName   string     `yaml:"dbname"`
	SSLMode  string     `yaml:"ssl_mode"`
	Pool     PoolConfig `yaml:"pool"`
}

// LoggingConfig selects the slog level and handler (text or json)
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for keys missing from the file
func Default() *Config {
	return &Config{
		CLAPI: CLAPIConfig{
			Path:      "/usr/bin/centreon",
			Username:  "admin",
			TimeoutMS: 120000,
		},
		Remote: RemoteConfig{
			Port:          22,
			DialTimeoutMS: 10000,
		},
		SNMP: SNMPConfig{
			Port:      161,
			TimeoutMS: 2000,
			Retries:   1,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeoutMS:  30000,
			WriteTimeoutMS: 300000,
		},
		CORS: CORSConfig{
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAgeSeconds:  3600,
		},
		Auth: AuthConfig{
			AdminUsername:  "admin",
			JWTExpiryHours: 24,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "clapictl",
			DBName:  "clapictl",
			SSLMode: "disable",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from file and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a configuration from defaults and CLAPI_ variables only
func FromEnv() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate ensures all required configuration values are set
func (c *Config) Validate() error {
	if c.CLAPI.Path == "" {
		return fmt.Errorf("clapi.path is required")
	}
	if c.CLAPI.Username == "" {
		return fmt.Errorf("clapi.username is required")
	}
	if c.CLAPI.TimeoutMS < 0 {
		return fmt.Errorf("clapi.timeout_ms must not be negative")
	}

	if c.SNMP.Port < 0 || c.SNMP.Port > 65535 {
		return fmt.Errorf("snmp.port must be between 0 and 65535")
	}

	if c.Remote.Enabled {
		if c.Remote.Port < 0 || c.Remote.Port > 65535 {
			return fmt.Errorf("remote.port must be between 0 and 65535")
		}
		if c.Remote.Host == "" || c.Remote.User == "" {
			return fmt.Errorf("remote host and user are required when remote is enabled")
		}
		if c.Remote.Password == "" && c.Remote.PrivateKeyFile == "" {
			return fmt.Errorf("remote password or private_key_file is required")
		}
	}

	if c.Database.Enabled && (c.Database.Host == "" || c.Database.DBName == "") {
		return fmt.Errorf("database host and dbname are required")
	}

	if c.Logging.Level != "" && !c.Logging.IsLogLevelValid() {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	return nil
}

// ValidateServer checks the settings only the HTTP gateway needs
func (c *Config) ValidateServer() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("CLAPI_AUTH_JWT_SECRET is required (minimum 32 characters)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters")
	}
	if c.Auth.AdminPassword == "" || c.Auth.AdminPassword == "changeme" {
		return fmt.Errorf("CLAPI_AUTH_ADMIN_PASSWORD must be set to a strong password")
	}
	return nil
}

// applyEnvOverrides checks for environment variables with CLAPI_ prefix
func applyEnvOverrides(cfg *Config) {
	// CLAPI overrides
	if v := os.Getenv("CLAPI_PATH"); v != "" {
		cfg.CLAPI.Path = v
	}
	if v := os.Getenv("CLAPI_USERNAME"); v != "" {
		cfg.CLAPI.Username = v
	}
	if v := os.Getenv("CLAPI_PASSWORD"); v != "" {
		cfg.CLAPI.Password = v
	}
	if v := os.Getenv("CLAPI_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CLAPI.TimeoutMS = n
		}
	}
	if v := os.Getenv("CLAPI_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CLAPI.Debug = b
		}
	}

	// Remote overrides
	if v := os.Getenv("CLAPI_REMOTE_HOST"); v != "" {
		cfg.Remote.Host = v
		cfg.Remote.Enabled = true
	}
	if v := os.Getenv("CLAPI_REMOTE_PASSWORD"); v != "" {
		cfg.Remote.Password = v
	}

	// Database overrides
	if v := os.Getenv("CLAPI_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CLAPI_DATABASE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("CLAPI_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	// Auth overrides
	if v := os.Getenv("CLAPI_AUTH_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminPassword = v
	}
	if v := os.Getenv("CLAPI_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	// Logging overrides
	if v := os.Getenv("CLAPI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Timeout returns the per-invocation timeout as a duration
func (c *CLAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// DialTimeout returns the SSH dial timeout as a duration
func (r *RemoteConfig) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutMS) * time.Millisecond
}

// Timeout returns the SNMP request timeout as a duration
func (s *SNMPConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// ReadTimeout returns the read timeout as a duration
func (s *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the write timeout as a duration
func (s *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// Addr returns host:port for the HTTP listener
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ConnString returns the PostgreSQL connection string in postgres:// URL format
func (d *DatabaseConfig) ConnString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}

	query := url.Values{}
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// ApplyDefaults sets default values for pool configuration
func (p *PoolConfig) ApplyDefaults() {
	// The audit log sees one insert per invocation, keep the pool small
	if p.MaxConns == 0 {
		p.MaxConns = 4
	}
	if p.MinConns == 0 {
		p.MinConns = 1
	}
	if p.MaxConnLifetimeMinutes == 0 {
		p.MaxConnLifetimeMinutes = 90
	}
	if p.MaxConnIdleTimeMinutes == 0 {
		p.MaxConnIdleTimeMinutes = 20
	}
	if p.HealthCheckPeriodSeconds == 0 {
		p.HealthCheckPeriodSeconds = 45
	}
}

// MaxConnLifetime returns the max connection lifetime as a duration
func (p *PoolConfig) MaxConnLifetime() time.Duration {
	return time.Duration(p.MaxConnLifetimeMinutes) * time.Minute
}

// MaxConnIdleTime returns the max connection idle time as a duration
func (p *PoolConfig) MaxConnIdleTime() time.Duration {
	return time.Duration(p.MaxConnIdleTimeMinutes) * time.Minute
}

// HealthCheckPeriod returns the health check period as a duration
func (p *PoolConfig) HealthCheckPeriod() time.Duration {
	return time.Duration(p.HealthCheckPeriodSeconds) * time.Second
}

// JWTExpiry returns JWT expiry as duration
func (a *AuthConfig) JWTExpiry() time.Duration {
	return time.Duration(a.JWTExpiryHours) * time.Hour
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}

// DumpExampleConfig writes an example configuration to the provided writer
func DumpExampleConfig(w io.Writer) error {
	example := Default()
	example.CLAPI.Password = "changeme"
	example.Remote.Host = "central.example.com"
	example.Remote.User = "centreon"
	example.Remote.PrivateKeyFile = "/etc/clapictl/id_ed25519"
	example.Remote.KnownHostsFile = "/etc/clapictl/known_hosts"
	example.Auth.AdminPassword = "changeme"
	example.Auth.JWTSecret = "your-secret-key-minimum-32-chars-required"
	example.Database.Password = "changeme"
	example.Database.Pool.ApplyDefaults()

	// Create a YAML node for custom formatting with comments
	var node yaml.Node
	if err := node.Encode(example); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	header := `# =============================================================================
# clapictl Example Configuration
# =============================================================================
# Copy this file to config.yaml and modify it according to your needs.
#
# Environment variable overrides follow the pattern: CLAPI_<SECTION>_<KEY>
# Example: CLAPI_PASSWORD, CLAPI_REMOTE_HOST, CLAPI_AUTH_JWT_SECRET
#
# The CLAPI password is passed to centreon on the command line and shows up
# in debug logs and in the process list of the machine running it.
# =============================================================================

`
	if _, err := fmt.Fprint(w, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Encode to YAML
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	return nil
}

// InitLogger builds the logger described by cfg. debug forces the debug
// level regardless of cfg.Level.
func InitLogger(cfg LoggingConfig, w io.Writer, debug bool) *slog.Logger {
	var handler slog.Handler

	// Set log level
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Set format
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
