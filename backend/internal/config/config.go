package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr     string        `mapstructure:"HTTP_ADDR"`
	StoreDriver  string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL  string        `mapstructure:"DATABASE_URL"`
	MaxRetries   int           `mapstructure:"STORE_MAX_RETRIES"`
	RedisAddr    string        `mapstructure:"REDIS_ADDR"`
	RedisChannel string        `mapstructure:"REDIS_CHANNEL"`
	JWTSecret    string        `mapstructure:"JWT_SECRET"`
	QuoteTicker  string        `mapstructure:"QUOTE_TICKER"`
	Instruments  []string      `mapstructure:"-"`
	SweepEvery   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	DefaultDepth int           `mapstructure:"ORDERBOOK_DEFAULT_DEPTH"`
	LogLevel     string        `mapstructure:"LOG_LEVEL"`
}

var defaults = map[string]interface{}{
	"HTTP_ADDR":               ":8080",
	"STORE_DRIVER":            DriverPostgres,
	"DATABASE_URL":            "",
	"STORE_MAX_RETRIES":       3,
	"REDIS_ADDR":              "",
	"REDIS_CHANNEL":           "exchange:events",
	"JWT_SECRET":              "",
	"QUOTE_TICKER":            "RUB",
	"INSTRUMENTS":             "RUB",
	"SWEEP_INTERVAL":          "1s",
	"ORDERBOOK_DEFAULT_DEPTH": 10,
	"LOG_LEVEL":               "info",
}

// Load reads the environment and an optional config.yaml in the working directory.
func Load() (*Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, path string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Instruments = splitTickers(v.GetString("INSTRUMENTS"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.QuoteTicker = strings.ToUpper(strings.TrimSpace(cfg.QuoteTicker))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitTickers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if t := strings.ToUpper(strings.TrimSpace(part)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.QuoteTicker == "" {
		return errors.New("QUOTE_TICKER must not be empty")
	}
	if c.SweepEvery <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepEvery)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("STORE_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.DefaultDepth < 1 {
		return fmt.Errorf("ORDERBOOK_DEFAULT_DEPTH must be at least 1, got %d", c.DefaultDepth)
	}
	return nil
}

// Tickers returns the configured instruments plus the quote currency, without duplicates.
func (c *Config) Tickers() []string {
	seen := map[string]bool{c.QuoteTicker: true}
	out := []string{c.QuoteTicker}
	for _, t := range c.Instruments {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
