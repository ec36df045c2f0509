package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig returns a valid Config for testing
func newTestConfig() Config {
	var c Config
	c.DataPaths.DataDir = "./data"
	c.Auth.BcryptCost = 10
	c.Auth.JWTExpiry = time.Hour
	c.Auth.PasswordPolicy.MinLength = 8
	c.Auth.PasswordPolicy.MaxLength = 72
	c.Access.FilterCoverage = FilterCoverageRegistry
	c.Migration.BatchSize = 1000
	c.API.Host = "127.0.0.1"
	c.API.Port = 8787
	return c
}

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper(t)
	for _, env := range []string{"SUPABASE_DB_URL", "VITE_SUPABASE_URL", "VITE_SUPABASE_ANON_KEY", "SQLITE_DB_PATH", "AUDITDESK_DATA_DIR", "AUDITDESK_JWT_SECRET"} {
		t.Setenv(env, "")
	}

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "./data", config.DataPaths.DataDir)
	assert.Equal(t, filepath.Join("data", "auditdesk.db"), config.DataPaths.SQLitePath)
	assert.Equal(t, "data", config.Migration.ReportDir)
	assert.Equal(t, FilterCoverageRegistry, config.Access.FilterCoverage)
	assert.Equal(t, 1000, config.Migration.BatchSize)
	assert.Equal(t, 8, config.Auth.PasswordPolicy.MinLength)
	assert.Equal(t, 72, config.Auth.PasswordPolicy.MaxLength)
	assert.Equal(t, 12*time.Hour, config.Auth.JWTExpiry)
	assert.Equal(t, "127.0.0.1:8787", config.APIAddr())
	assert.False(t, config.HasRemoteDSN())
	assert.False(t, config.HasRESTCredentials())
}

func TestLoadConfig_Environment(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("SUPABASE_DB_URL", "postgres://reader@db.example.co:5432/postgres")
	t.Setenv("VITE_SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("VITE_SUPABASE_ANON_KEY", "anon-key")
	t.Setenv("SQLITE_DB_PATH", filepath.Join(dir, "local.db"))
	t.Setenv("AUDITDESK_MIGRATION_BATCH_SIZE", "250")
	t.Setenv("AUDITDESK_ACCESS_FILTER_COVERAGE", "legacy")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, config.HasRemoteDSN())
	assert.True(t, config.HasRESTCredentials())
	assert.Equal(t, filepath.Join(dir, "local.db"), config.DataPaths.SQLitePath)
	assert.Equal(t, dir, config.Migration.ReportDir)
	assert.Equal(t, 250, config.Migration.BatchSize)
	assert.Equal(t, FilterCoverageLegacy, config.Access.FilterCoverage)
}

func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	resetViper(t)
	t.Setenv("AUDITDESK_JWT_SECRET", "short")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"bcrypt cost too low", func(c *Config) { c.Auth.BcryptCost = 2 }, true},
		{"bcrypt cost too high", func(c *Config) { c.Auth.BcryptCost = 40 }, true},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "abc" }, true},
		{"weak jwt secret", func(c *Config) { c.Auth.JWTSecret = "changeme-changeme-changeme-changeme" }, true},
		{"strong jwt secret", func(c *Config) { c.Auth.JWTSecret = "q8Zr5mV1xN3kP7tL2wB9cF4hJ6yD0sGa" }, false},
		{"zero expiry", func(c *Config) { c.Auth.JWTExpiry = 0 }, true},
		{"min length zero", func(c *Config) { c.Auth.PasswordPolicy.MinLength = 0 }, true},
		{"max beyond bcrypt limit", func(c *Config) { c.Auth.PasswordPolicy.MaxLength = 100 }, true},
		{"max below min", func(c *Config) { c.Auth.PasswordPolicy.MaxLength = 4 }, true},
		{"empty coverage", func(c *Config) { c.Access.FilterCoverage = "" }, true},
		{"unknown coverage", func(c *Config) { c.Access.FilterCoverage = "everything" }, true},
		{"legacy coverage", func(c *Config) { c.Access.FilterCoverage = FilterCoverageLegacy }, false},
		{"batch size zero", func(c *Config) { c.Migration.BatchSize = 0 }, true},
		{"batch size too large", func(c *Config) { c.Migration.BatchSize = 50000 }, true},
		{"negative rate limit", func(c *Config) { c.Migration.RateLimit = -1 }, true},
		{"bad supabase url", func(c *Config) { c.Migration.SupabaseURL = "ftp://x" }, true},
		{"good supabase url", func(c *Config) { c.Migration.SupabaseURL = "https://p.supabase.co" }, false},
		{"bad dsn", func(c *Config) { c.Migration.SourceDSN = "mysql://x" }, true},
		{"postgresql dsn", func(c *Config) { c.Migration.SourceDSN = "postgresql://u@h/db" }, false},
		{"port zero", func(c *Config) { c.API.Port = 0 }, true},
		{"hostname", func(c *Config) { c.API.Host = "example.com" }, true},
		{"localhost", func(c *Config) { c.API.Host = "localhost" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveDataPaths(t *testing.T) {
	tests := []struct {
		name       string
		dataDir    string
		sqlitePath string
		wantPath   string
		wantReport string
	}{
		{"derived", "/var/lib/auditdesk", "", "/var/lib/auditdesk/auditdesk.db", "/var/lib/auditdesk"},
		{"empty data dir", "", "", filepath.Join("data", "auditdesk.db"), "data"},
		{"explicit relative", "/ignored", "./db/../local.db", "local.db", "."},
		{"explicit absolute", "/ignored", "/srv/audit.db", "/srv/audit.db", "/srv"},
		{"memory", "", ":memory:", ":memory:", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig()
			c.DataPaths.DataDir = tt.dataDir
			c.DataPaths.SQLitePath = tt.sqlitePath
			c.ResolveDataPaths()
			assert.Equal(t, tt.wantPath, c.DataPaths.SQLitePath)
			assert.Equal(t, tt.wantReport, c.Migration.ReportDir)
		})
	}
}
