package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Chain       ChainConfig       `json:"chain"`
	Token       TokenConfig       `json:"token"`
	Certificate CertificateConfig `json:"certificate"`
	Market      MarketConfig      `json:"market"`
	Security    SecurityConfig    `json:"security"`
	Logging     LoggingConfig     `json:"logging"`
	Audit       AuditConfig       `json:"audit"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name"`
	SSLMode        string   `json:"ssl_mode"`
	MaxConnections int      `json:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime"`
}

// ChainConfig selects the world-state backend and the account that deploys the platform
type ChainConfig struct {
	Store        string `json:"store"`
	DeployerSeed string `json:"deployer_seed"`
}

type TokenConfig struct {
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	PurchaseRate string `json:"purchase_rate"`
}

type CertificateConfig struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	BaseURI string `json:"base_uri"`
}

type MarketConfig struct {
	AllowRecertification bool `json:"allow_recertification"`
	// Treasury receives course payments; empty keeps them on the market account
	Treasury string `json:"treasury"`
}

type SecurityConfig struct {
	JWTSecret string   `json:"jwt_secret"`
	TokenTTL  Duration `json:"token_ttl"`
	// DevTokens exposes POST /auth/token, which signs tokens for any account
	DevTokens bool `json:"dev_tokens"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type AuditConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

// Duration accepts "30s" style strings in JSON
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid duration %s", data)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(15 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			DBName:         "edu_market",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    Duration(5 * time.Minute),
		},
		Chain: ChainConfig{
			Store:        StoreMemory,
			DeployerSeed: "deployer",
		},
		Token: TokenConfig{
			Name:         "YiDeng Token",
			Symbol:       "YD",
			PurchaseRate: "1000",
		},
		Certificate: CertificateConfig{
			Name:    "YiDeng Course Certificate",
			Symbol:  "YDCC",
			BaseURI: "https://api.yideng.example/certificates/",
		},
		Security: SecurityConfig{
			TokenTTL: Duration(24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled:  true,
			Schedule: "0 */5 * * * *",
		},
	}
}

// LoadConfig loads configuration from file and environment variables. A .env file in the
// working directory is read first; variables already set in the environment win.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		config.Server.Port = p
	}

	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		p, err := strconv.Atoi(dbPort)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PORT %q: %w", dbPort, err)
		}
		config.Database.Port = p
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if sslMode := os.Getenv("DATABASE_SSLMODE"); sslMode != "" {
		config.Database.SSLMode = sslMode
	}

	if store := os.Getenv("CHAIN_STORE"); store != "" {
		config.Chain.Store = strings.ToLower(store)
	}
	if seed := os.Getenv("CHAIN_DEPLOYER_SEED"); seed != "" {
		config.Chain.DeployerSeed = seed
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if rate := os.Getenv("TOKEN_PURCHASE_RATE"); rate != "" {
		config.Token.PurchaseRate = rate
	}
	if allow := os.Getenv("MARKET_ALLOW_RECERTIFICATION"); allow != "" {
		b, err := strconv.ParseBool(allow)
		if err != nil {
			return fmt.Errorf("invalid MARKET_ALLOW_RECERTIFICATION %q: %w", allow, err)
		}
		config.Market.AllowRecertification = b
	}
	if schedule := os.Getenv("AUDIT_SCHEDULE"); schedule != "" {
		config.Audit.Schedule = schedule
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	return nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Chain.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("chain.store must be %q or %q, got %q", StoreMemory, StorePostgres, c.Chain.Store)
	}
	if c.Chain.DeployerSeed == "" {
		return errors.New("chain.deployer_seed is required")
	}
	if c.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret is required (set JWT_SECRET)")
	}
	if _, err := c.Token.Rate(); err != nil {
		return err
	}
	return nil
}

// Rate parses the purchase rate, which must be a positive integer
func (c *TokenConfig) Rate() (*big.Int, error) {
	rate, ok := new(big.Int).SetString(c.PurchaseRate, 10)
	if !ok || rate.Sign() <= 0 {
		return nil, fmt.Errorf("token.purchase_rate must be a positive integer, got %q", c.PurchaseRate)
	}
	return rate, nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewLogger builds the zap logger described by the logging section
func (c *LoggingConfig) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid logging.level %q: %w", c.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}
