// Package config loads service configuration from file and environment.
// Every value has a working default so the server runs with no config
// file at all; environment variables (prefix LEDGER_) override both.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port     int    `mapstructure:"port"`
	DBPath   string `mapstructure:"db_path"`
	LogLevel string `mapstructure:"log_level"`

	// TokenUnitPrice is the fixed unit price used for USD-equivalent
	// computation at purchase creation.
	TokenUnitPrice string `mapstructure:"token_unit_price"`

	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`

	// RedisAddr is optional; empty means the in-process cache.
	RedisAddr string `mapstructure:"redis_addr"`

	BalanceTTL      time.Duration `mapstructure:"balance_ttl"`
	TransactionsTTL time.Duration `mapstructure:"transactions_ttl"`
	PriceTTL        time.Duration `mapstructure:"price_ttl"`

	// PriceRates maps crypto symbols to USD rates for the static feed.
	PriceRates map[string]string `mapstructure:"price_rates"`
}

// Load reads configuration from the optional file at path (yaml) and
// the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "ledger.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("token_unit_price", "0.05")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "token-ledger")
	v.SetDefault("redis_addr", "")
	v.SetDefault("balance_ttl", 30*time.Second)
	v.SetDefault("transactions_ttl", time.Minute)
	v.SetDefault("price_ttl", 5*time.Minute)
	v.SetDefault("price_rates", map[string]string{
		"BTC": "65000",
		"ETH": "3400",
	})

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret must be set")
	}
	price, err := decimal.NewFromString(c.TokenUnitPrice)
	if err != nil || !price.IsPositive() {
		return fmt.Errorf("token_unit_price must be a positive decimal, got %q", c.TokenUnitPrice)
	}
	return nil
}

// UnitPrice returns the parsed token unit price. Only valid after a
// successful Load.
func (c *Config) UnitPrice() decimal.Decimal {
	price, _ := decimal.NewFromString(c.TokenUnitPrice)
	return price
}

// Rates returns the parsed static price table, skipping malformed rows.
func (c *Config) Rates() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.PriceRates))
	for symbol, raw := range c.PriceRates {
		if rate, err := decimal.NewFromString(raw); err == nil {
			out[symbol] = rate
		}
	}
	return out
}
