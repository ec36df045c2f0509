package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"auditdesk/storage"
)

// Filter coverage modes understood by the access layer.
const (
	FilterCoverageRegistry = "registry"
	FilterCoverageLegacy   = "legacy"
)

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

// DataPaths holds data directory and file path configuration.
// These paths can be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (AUDITDESK_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the database file (SQLITE_DB_PATH, default: ${DataDir}/auditdesk.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for auditdesk.
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	Logging struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"logging"`

	Auth struct {
		BcryptCost     int           `mapstructure:"bcrypt_cost"`
		JWTSecret      string        `mapstructure:"jwt_secret"`
		JWTExpiry      time.Duration `mapstructure:"jwt_expiry"`
		PasswordPolicy struct {
			MinLength int `mapstructure:"min_length"`
			MaxLength int `mapstructure:"max_length"` // bytes, at most 72
		} `mapstructure:"password_policy"`
	} `mapstructure:"auth"`

	Access struct {
		// FilterCoverage selects which tables FilterResults scopes:
		// "registry" (every engagement/firm/owner scoped table) or "legacy".
		FilterCoverage string `mapstructure:"filter_coverage"`
	} `mapstructure:"access"`

	Migration struct {
		SourceDSN       string  `mapstructure:"source_dsn"`
		SupabaseURL     string  `mapstructure:"supabase_url"`
		SupabaseAnonKey string  `mapstructure:"supabase_anon_key"`
		BatchSize       int     `mapstructure:"batch_size"`
		RateLimit       float64 `mapstructure:"rate_limit"` // pages per second, 0 = unlimited
		ReportDir       string  `mapstructure:"report_dir"`
	} `mapstructure:"migration"`

	API struct {
		Host         string        `mapstructure:"host"`
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"api"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault, aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`
}

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)

	viper.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.jwt_expiry", 12*time.Hour)
	viper.SetDefault("auth.password_policy.min_length", 8)
	viper.SetDefault("auth.password_policy.max_length", maxPasswordBytes)

	viper.SetDefault("access.filter_coverage", FilterCoverageRegistry)

	viper.SetDefault("migration.source_dsn", "")
	viper.SetDefault("migration.supabase_url", "")
	viper.SetDefault("migration.supabase_anon_key", "")
	viper.SetDefault("migration.batch_size", 1000)
	viper.SetDefault("migration.rate_limit", 0)
	viper.SetDefault("migration.report_dir", "") // Empty = next to the database

	viper.SetDefault("api.host", "127.0.0.1")
	viper.SetDefault("api.port", 8787)
	viper.SetDefault("api.read_timeout", 15*time.Second)
	viper.SetDefault("api.write_timeout", 30*time.Second)

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.vault.path", "secret/auditdesk")
	viper.SetDefault("secrets.aws.secret_id", "auditdesk/secrets")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("AUDITDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The hosted backend's variable names are shared with the web client.
	_ = viper.BindEnv("migration.source_dsn", "SUPABASE_DB_URL", "AUDITDESK_SOURCE_DSN")
	_ = viper.BindEnv("migration.supabase_url", "VITE_SUPABASE_URL", "SUPABASE_URL")
	_ = viper.BindEnv("migration.supabase_anon_key", "VITE_SUPABASE_ANON_KEY", "SUPABASE_ANON_KEY")
	_ = viper.BindEnv("data_paths.data_dir", "AUDITDESK_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "SQLITE_DB_PATH", "AUDITDESK_SQLITE_PATH")
	_ = viper.BindEnv("auth.jwt_secret", "AUDITDESK_JWT_SECRET")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := LoadSecrets(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()

	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "auditdesk.db")
	} else if c.DataPaths.SQLitePath != ":memory:" && !filepath.IsAbs(c.DataPaths.SQLitePath) {
		// Relative to the current directory, not data_dir
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	if c.Migration.ReportDir == "" && c.DataPaths.SQLitePath != ":memory:" {
		c.Migration.ReportDir = filepath.Dir(c.DataPaths.SQLitePath)
	}

	c.DataPaths.DataDir = dataDir
}

// APIAddr returns host:port for the HTTP listener.
func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.API.Host, fmt.Sprint(c.API.Port))
}

// HasRemoteDSN reports whether a direct PostgreSQL source is configured.
func (c *Config) HasRemoteDSN() bool {
	return c.Migration.SourceDSN != ""
}

// HasRESTCredentials reports whether the REST API source can be used.
func (c *Config) HasRESTCredentials() bool {
	return c.Migration.SupabaseURL != "" && c.Migration.SupabaseAnonKey != ""
}

// Validate checks the configuration for security and correctness
func (c *Config) Validate() error {
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if err := validateJWTSecret(c.Auth.JWTSecret); err != nil {
		return err
	}
	if c.Auth.JWTExpiry <= 0 {
		return fmt.Errorf("auth.jwt_expiry must be positive")
	}

	policy := c.Auth.PasswordPolicy
	if policy.MinLength < 1 {
		return fmt.Errorf("auth.password_policy.min_length must be at least 1")
	}
	if policy.MaxLength < policy.MinLength || policy.MaxLength > maxPasswordBytes {
		return fmt.Errorf("auth.password_policy.max_length must be between min_length and %d", maxPasswordBytes)
	}

	switch c.Access.FilterCoverage {
	case FilterCoverageRegistry, FilterCoverageLegacy:
	case "":
		return fmt.Errorf("access.filter_coverage must be set (%s or %s)", FilterCoverageRegistry, FilterCoverageLegacy)
	default:
		return fmt.Errorf("invalid access.filter_coverage %q", c.Access.FilterCoverage)
	}

	if c.Migration.BatchSize < 1 || c.Migration.BatchSize > 10000 {
		return fmt.Errorf("migration.batch_size must be between 1 and 10000")
	}
	if c.Migration.RateLimit < 0 {
		return fmt.Errorf("migration.rate_limit must not be negative")
	}
	if c.Migration.SupabaseURL != "" {
		u, err := url.Parse(c.Migration.SupabaseURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("invalid migration.supabase_url: must be an http(s) URL")
		}
	}
	if c.Migration.SourceDSN != "" &&
		!strings.HasPrefix(c.Migration.SourceDSN, "postgres://") &&
		!strings.HasPrefix(c.Migration.SourceDSN, "postgresql://") {
		return fmt.Errorf("invalid migration.source_dsn: must start with postgres:// or postgresql://")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}
	if c.API.Host != "" && c.API.Host != "localhost" && net.ParseIP(c.API.Host) == nil {
		return fmt.Errorf("invalid api.host %q: must be an IP address or localhost", c.API.Host)
	}

	return nil
}

func validateJWTSecret(secret string) error {
	if secret == "" {
		// Only the API server needs one; it checks before starting.
		return nil
	}
	if len(secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters (256 bits) for security")
	}
	weakSecrets := []string{
		"secret", "password", "changeme", "default", "admin",
		"jwt_secret", "supersecret", "mysecret", "test", "example",
	}
	lower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("JWT secret appears to contain weak/default value: please use a cryptographically secure random string")
		}
	}
	return nil
}

// AuthOptions converts the auth section to session options.
func (c *Config) AuthOptions() storage.AuthOptions {
	return storage.AuthOptions{
		BcryptCost:        c.Auth.BcryptCost,
		MinPasswordLength: c.Auth.PasswordPolicy.MinLength,
		MaxPasswordLength: c.Auth.PasswordPolicy.MaxLength,
	}
}
