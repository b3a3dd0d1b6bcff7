// Package config loads the oidc-server configuration from the environment,
// optional .env files and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. OIDC_ISSUER.
const EnvPrefix = "OIDC"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreValkey   = "valkey"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Signing key sources.
const (
	KeySourceFile     = "file"
	KeySourceGenerate = "generate"
	KeySourceAWS      = "aws"
)

// Config is the full server configuration.
type Config struct {
	Addr   string `mapstructure:"addr"`
	Issuer string `mapstructure:"issuer"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or text

	// LoginURL is where browsers without a session are sent. Empty means the
	// built-in HTTP Basic login is used.
	LoginURL string `mapstructure:"login_url"`

	Store           string        `mapstructure:"store"`
	DatabaseDSN     string        `mapstructure:"database_dsn"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ValkeyAddr      string        `mapstructure:"valkey_addr"`
	ValkeyPassword  string        `mapstructure:"valkey_password"`
	ValkeyTLS       bool          `mapstructure:"valkey_tls"`
	MongoURI        string        `mapstructure:"mongo_uri"`
	MongoDatabase   string        `mapstructure:"mongo_database"`

	KeySource   string `mapstructure:"key_source"`
	KeyFile     string `mapstructure:"key_file"`
	KeyBits     int    `mapstructure:"key_bits"`
	KeySecretID string `mapstructure:"key_secret_id"`
	AWSRegion   string `mapstructure:"aws_region"`

	SeedFile string `mapstructure:"seed_file"`

	AuthorizationCodeTTL time.Duration `mapstructure:"authorization_code_ttl"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	TransactionTTL       time.Duration `mapstructure:"transaction_ttl"`
	ClockSkewGrace       time.Duration `mapstructure:"clock_skew_grace"`

	AllowInsecureHTTP bool `mapstructure:"allow_insecure_http"`
	TrustProxy        bool `mapstructure:"trust_proxy"`
	TrustedProxyCount int  `mapstructure:"trusted_proxy_count"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	AuditEnabled   bool `mapstructure:"audit_enabled"`
}

var defaults = map[string]any{
	"addr":                   ":8080",
	"issuer":                 "http://localhost:8080",
	"log_level":              "info",
	"log_format":             "json",
	"login_url":              "",
	"store":                  StoreMemory,
	"database_dsn":           "",
	"cleanup_interval":       time.Minute,
	"valkey_addr":            "localhost:6379",
	"valkey_password":        "",
	"valkey_tls":             false,
	"mongo_uri":              "",
	"mongo_database":         "oidc",
	"key_source":             KeySourceFile,
	"key_file":               "signing-key.pem",
	"key_bits":               2048,
	"key_secret_id":          "",
	"aws_region":             "",
	"seed_file":              "",
	"authorization_code_ttl": 10 * time.Minute,
	"access_token_ttl":       time.Hour,
	"transaction_ttl":        10 * time.Minute,
	"clock_skew_grace":       5 * time.Second,
	"allow_insecure_http":    false,
	"trust_proxy":            false,
	"trusted_proxy_count":    1,
	"metrics_enabled":        true,
	"audit_enabled":          true,
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored. Variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration. configFile may be empty. Environment variables
// take precedence over the file, which takes precedence over defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combinations Load cannot express through defaults.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}

	switch c.Store {
	case StoreMemory:
	case StoreValkey:
		if c.ValkeyAddr == "" {
			return errors.New("valkey_addr is required for the valkey store")
		}
	case StoreSQLite, StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database_dsn is required for the %s store", c.Store)
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("mongo_uri is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.KeySource {
	case KeySourceGenerate:
	case KeySourceFile:
		if c.KeyFile == "" {
			return errors.New("key_file is required for the file key source")
		}
	case KeySourceAWS:
		if c.KeySecretID == "" {
			return errors.New("key_secret_id is required for the aws key source")
		}
	default:
		return fmt.Errorf("unknown key_source %q", c.KeySource)
	}

	if c.ClockSkewGrace < time.Second {
		return errors.New("clock_skew_grace must be at least 1s")
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
