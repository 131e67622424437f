package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
clapi:
  path: /opt/centreon/bin/centreon
  username: api
  password: secret
  timeout_ms: 5000
snmp:
  port: 1161
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CLAPI.Path != "/opt/centreon/bin/centreon" {
		t.Errorf("unexpected path %q", cfg.CLAPI.Path)
	}
	if cfg.CLAPI.Timeout() != 5*time.Second {
		t.Errorf("unexpected timeout %v", cfg.CLAPI.Timeout())
	}
	if cfg.SNMP.Port != 1161 {
		t.Errorf("unexpected snmp port %d", cfg.SNMP.Port)
	}
	// Defaults survive for keys absent from the file
	if cfg.SNMP.TimeoutMS != 2000 {
		t.Errorf("expected default snmp timeout, got %d", cfg.SNMP.TimeoutMS)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default server port, got %d", cfg.Server.Port)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
clapi:
  path: /usr/bin/centreon
  username: api
  password: from-file
`)
	t.Setenv("CLAPI_PASSWORD", "from-env")
	t.Setenv("CLAPI_TIMEOUT_MS", "250")
	t.Setenv("CLAPI_DEBUG", "true")
	t.Setenv("CLAPI_REMOTE_HOST", "central.example.com")
	t.Setenv("CLAPI_REMOTE_PASSWORD", "sshpw")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CLAPI.Password != "from-env" {
		t.Errorf("expected env password, got %q", cfg.CLAPI.Password)
	}
	if cfg.CLAPI.TimeoutMS != 250 {
		t.Errorf("expected 250, got %d", cfg.CLAPI.TimeoutMS)
	}
	if !cfg.CLAPI.Debug {
		t.Error("expected debug to be enabled")
	}
	if !cfg.Remote.Enabled || cfg.Remote.Host != "central.example.com" {
		t.Errorf("expected remote to be enabled for central.example.com, got %+v", cfg.Remote)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:     "missing path",
			mutate:   func(c *Config) { c.CLAPI.Path = "" },
			errorMsg: "clapi.path is required",
		},
		{
			name:     "negative timeout",
			mutate:   func(c *Config) { c.CLAPI.TimeoutMS = -1 },
			errorMsg: "must not be negative",
		},
		{
			name: "remote without credentials",
			mutate: func(c *Config) {
				c.Remote.Enabled = true
				c.Remote.Host = "central"
				c.Remote.User = "centreon"
			},
			errorMsg: "remote password or private_key_file is required",
		},
		{
			name: "database without name",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.DBName = ""
			},
			errorMsg: "database host and dbname are required",
		},
		{
			name:     "snmp port out of range",
			mutate:   func(c *Config) { c.SNMP.Port = 70000 },
			errorMsg: "snmp.port must be between 0 and 65535",
		},
		{
			name:     "negative snmp port",
			mutate:   func(c *Config) { c.SNMP.Port = -1 },
			errorMsg: "snmp.port must be between 0 and 65535",
		},
		{
			name:   "highest snmp port",
			mutate: func(c *Config) { c.SNMP.Port = 65535 },
		},
		{
			name: "remote port out of range",
			mutate: func(c *Config) {
				c.Remote.Enabled = true
				c.Remote.Host = "central"
				c.Remote.User = "centreon"
				c.Remote.Password = "pw"
				c.Remote.Port = 65536
			},
			errorMsg: "remote.port must be between 0 and 65535",
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.Logging.Level = "verbose" },
			errorMsg: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %v", tt.errorMsg, err)
			}
		})
	}
}

func TestValidateServer(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateServer(); err == nil {
		t.Fatal("expected error without jwt secret")
	}

	cfg.Auth.JWTSecret = "12345678901234567890123456789012"
	cfg.Auth.AdminPassword = "changeme"
	if err := cfg.ValidateServer(); err == nil {
		t.Fatal("expected error for default admin password")
	}

	cfg.Auth.AdminPassword = "correct horse battery staple"
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConnString(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "clapictl",
		Password: "p@ss word",
		DBName:   "audit",
		SSLMode:  "require",
	}
	got := d.ConnString()
	want := "postgres://clapictl:p%40ss%20word@db:5432/audit?sslmode=require"
	if got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}
}

func TestDumpExampleConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := DumpExampleConfig(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(buf.String(), "# ===") {
		t.Error("expected header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(buf.Bytes(), &cfg); err != nil {
		t.Fatalf("example is not valid YAML: %v", err)
	}
	if cfg.CLAPI.Path != "/usr/bin/centreon" {
		t.Errorf("unexpected path in example: %q", cfg.CLAPI.Path)
	}
	if cfg.Database.Pool.MaxConns == 0 {
		t.Error("expected pool defaults in example")
	}
}

func TestInitLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger(LoggingConfig{Level: "info", Format: "json"}, &buf, false)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written at info level: %q", buf.String())
	}

	logger = InitLogger(LoggingConfig{Level: "info", Format: "json"}, &buf, true)
	logger.Debug("shown")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("expected JSON debug line, got %q", buf.String())
	}

	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug flag should enable debug level")
	}
}
