package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StoreMemory, cfg.Chain.Store)
	assert.Equal(t, "1000", cfg.Token.PurchaseRate)
	assert.False(t, cfg.Market.AllowRecertification)
	assert.Equal(t, 24*time.Hour, cfg.Security.TokenTTL.Std())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9000, "read_timeout": "5s"},
		"chain": {"store": "postgres"},
		"token": {"purchase_rate": "250"},
		"security": {"jwt_secret": "from-file", "token_ttl": "1h"}
	}`)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("MARKET_ALLOW_RECERTIFICATION", "true")
	t.Setenv("AUDIT_SCHEDULE", "*/30 * * * * *")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, StorePostgres, cfg.Chain.Store)
	assert.Equal(t, "from-file", cfg.Security.JWTSecret)
	assert.Equal(t, time.Hour, cfg.Security.TokenTTL.Std())
	assert.True(t, cfg.Market.AllowRecertification)
	assert.Equal(t, "*/30 * * * * *", cfg.Audit.Schedule)

	rate, err := cfg.Token.Rate()
	require.NoError(t, err)
	assert.Equal(t, int64(250), rate.Int64())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "edu_market", cfg.Database.DBName)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	t.Run("malformed file", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `{"server":`))
		assert.Error(t, err)
	})
	t.Run("bad env bool", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("MARKET_ALLOW_RECERTIFICATION", "sometimes")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "jwt_secret")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Security.JWTSecret = "secret"
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"port":   func(c *Config) { c.Server.Port = 0 },
		"store":  func(c *Config) { c.Chain.Store = "redis" },
		"seed":   func(c *Config) { c.Chain.DeployerSeed = "" },
		"rate":   func(c *Config) { c.Token.PurchaseRate = "0" },
		"format": func(c *Config) { c.Token.PurchaseRate = "1.5" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	db := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", db.GetDatabaseURL())
}

func TestNewLogger(t *testing.T) {
	logger, err := (&LoggingConfig{Level: "debug", Development: true}).NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = (&LoggingConfig{Level: "loud"}).NewLogger()
	assert.Error(t, err)
}
