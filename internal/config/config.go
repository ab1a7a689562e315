// Package config loads agentchat configuration from defaults, an optional YAML
// file, a .env file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Inference InferenceConfig `yaml:"inference"`
	Market    MarketConfig    `yaml:"market"`
	Redis     RedisConfig     `yaml:"redis"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool   `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

type AuthConfig struct {
	Required bool          `yaml:"required" env:"AUTH_REQUIRED"`
	Secret   string        `yaml:"secret" env:"AUTH_JWT_SECRET"`
	Issuer   string        `yaml:"issuer" env:"AUTH_JWT_ISSUER"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL"`
}

type CORSConfig struct {
	// AllowedOrigins is a comma separated list; "*" allows any origin.
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Origins splits AllowedOrigins into trimmed entries.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, part := range strings.Split(c.AllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type InferenceConfig struct {
	Provider     string        `yaml:"provider" env:"INFERENCE_PROVIDER"`
	BaseURL      string        `yaml:"base_url" env:"INFERENCE_BASE_URL"`
	AccountID    string        `yaml:"account_id" env:"INFERENCE_ACCOUNT_ID"`
	APIKey       string        `yaml:"api_key" env:"INFERENCE_API_KEY"`
	Model        string        `yaml:"model" env:"INFERENCE_MODEL"`
	TokenPath    string        `yaml:"token_path" env:"INFERENCE_TOKEN_PATH"`
	SystemPrompt string        `yaml:"system_prompt" env:"INFERENCE_SYSTEM_PROMPT"`
	HistoryLimit int           `yaml:"history_limit" env:"INFERENCE_HISTORY_LIMIT"`
	Timeout      time.Duration `yaml:"timeout" env:"INFERENCE_TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"INFERENCE_MAX_RETRIES"`
}

type MarketConfig struct {
	FetchURL   string        `yaml:"fetch_url" env:"MARKET_FETCH_URL"`
	FetchKey   string        `yaml:"fetch_key" env:"MARKET_FETCH_KEY"`
	Schedule   string        `yaml:"schedule" env:"MARKET_SCHEDULE"`
	CacheTTL   time.Duration `yaml:"cache_ttl" env:"MARKET_CACHE_TTL"`
	ItemsPath  string        `yaml:"items_path" env:"MARKET_ITEMS_PATH"`
	SymbolPath string        `yaml:"symbol_path" env:"MARKET_SYMBOL_PATH"`
	NamePath   string        `yaml:"name_path" env:"MARKET_NAME_PATH"`
	PricePath  string        `yaml:"price_path" env:"MARKET_PRICE_PATH"`
	ChangePath string        `yaml:"change_path" env:"MARKET_CHANGE_PATH"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// Default returns a configuration that runs locally against SQLite with no
// inference provider.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:agentchat.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			AutoMigrate:     true,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Auth: AuthConfig{
			Issuer:   "agentchat",
			TokenTTL: 24 * time.Hour,
		},
		CORS:      CORSConfig{AllowedOrigins: "*"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 2, Burst: 5},
		Inference: InferenceConfig{
			Provider:     "none",
			HistoryLimit: 50,
			Timeout:      2 * time.Minute,
			MaxRetries:   2,
		},
		Market: MarketConfig{
			Schedule:   "@every 1m",
			CacheTTL:   30 * time.Second,
			ItemsPath:  "@this",
			SymbolPath: "symbol",
			NamePath:   "name",
			PricePath:  "price",
			ChangePath: "change_24h",
		},
	}
}

// Load builds the configuration. path may be empty; AGENTCHAT_CONFIG is used
// when it is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("AGENTCHAT_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}

	c.Inference.Provider = strings.ToLower(strings.TrimSpace(c.Inference.Provider))
	switch c.Inference.Provider {
	case "", "none":
		c.Inference.Provider = "none"
	case "workers-ai", "openai", "gemini":
		if strings.TrimSpace(c.Inference.APIKey) == "" {
			return fmt.Errorf("inference.api_key is required for provider %s", c.Inference.Provider)
		}
	default:
		return fmt.Errorf("unsupported inference.provider %q", c.Inference.Provider)
	}
	if c.Inference.Provider == "workers-ai" && strings.TrimSpace(c.Inference.AccountID) == "" {
		return fmt.Errorf("inference.account_id is required for provider workers-ai")
	}

	if c.Auth.Required && strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret is required when auth.required is set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
