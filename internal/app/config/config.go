// Package config loads the tracking layer configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ChainTrace-Network/tracking_layer/pkg/logger"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Ledger   LedgerConfig         `yaml:"ledger"`
	Auth     AuthConfig           `yaml:"auth"`
	Monitor  MonitorConfig        `yaml:"monitor"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins lists CORS origins for browser clients. Empty disables
	// CORS handling.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the host:port the server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures persistence. An empty URL selects the in-memory
// store; otherwise the URL is a Postgres DSN.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LedgerConfig names the identities the settlement layer depends on.
type LedgerConfig struct {
	// FeeCollector receives the cost price settled on every item creation.
	FeeCollector string `yaml:"fee_collector"`
	// Spender is the tracking layer's own ledger identity; payers approve it
	// before submitting operations.
	Spender string `yaml:"spender"`
	// GenesisAdmin is granted the admin role at startup.
	GenesisAdmin string `yaml:"genesis_admin"`
}

// AuthConfig maps bearer tokens to caller identities. The token is the
// transport-level stand-in for a transaction signature.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
	// AuditFile, when set, mirrors the request audit trail to a JSONL file.
	AuditFile string `yaml:"audit_file"`
}

// MonitorConfig configures the overdue-delivery scanner.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads config.yaml from the working directory, falling back to
// defaults when the file is absent. A .env file, when present, is loaded
// first so environment overrides can live beside the binary.
func Load() (*Config, error) {
	return LoadFromPath("config.yaml")
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file or overrides are
// present: in-memory storage, info logging, local-only identities.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Ledger: LedgerConfig{
			FeeCollector: "fee-collector",
			Spender:      "tracking-layer",
			GenesisAdmin: "admin",
		},
		Monitor: MonitorConfig{
			Interval: time.Minute,
		},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Ledger.FeeCollector) == "" {
		return fmt.Errorf("ledger fee_collector is required")
	}
	if strings.TrimSpace(c.Ledger.Spender) == "" {
		return fmt.Errorf("ledger spender is required")
	}
	if strings.TrimSpace(c.Ledger.GenesisAdmin) == "" {
		return fmt.Errorf("ledger genesis_admin is required")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRACKING_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TRACKING_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRACKING_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("TRACKING_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRACKING_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TRACKING_FEE_COLLECTOR"); v != "" {
		cfg.Ledger.FeeCollector = v
	}
	if v := os.Getenv("TRACKING_SPENDER"); v != "" {
		cfg.Ledger.Spender = v
	}
	if v := os.Getenv("TRACKING_GENESIS_ADMIN"); v != "" {
		cfg.Ledger.GenesisAdmin = v
	}
	if v := os.Getenv("TRACKING_AUDIT_FILE"); v != "" {
		cfg.Auth.AuditFile = v
	}
	if v := os.Getenv("TRACKING_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
}
