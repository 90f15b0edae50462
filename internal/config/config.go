// Package config defines the top-level configuration for the trading
// core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by MARKETENGINE_* environment
// variables.
type Config struct {
	Trading  TradingConfig  `toml:"trading"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	LogLevel string         `toml:"log_level"`
}

// TradingConfig holds the trading-core parameters the spec calls out:
// the taker fee rate, quantity/price bounds, and the fee-sink account.
type TradingConfig struct {
	TakerFeeRate    string `toml:"taker_fee_rate"`
	MaxQuantity     string `toml:"max_quantity"`
	MinPrice        string `toml:"min_price"`
	MaxPrice        string `toml:"max_price"`
	SystemAccountID string `toml:"system_account_id"`
}

// PostgresConfig holds the source-of-truth store connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds the read-through cache connection parameters. Addr
// empty disables the cache; the coordinator then talks to Postgres
// directly.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	TTLSecond int    `toml:"ttl_seconds"`
}

// ServerConfig holds the HTTP/WebSocket listener parameters.
type ServerConfig struct {
	Port         int `toml:"port"`
	ReadTimeoutS int `toml:"read_timeout_seconds"`
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Defaults returns the built-in defaults a TOML file is decoded on top
// of. Price/quantity bounds are spec §2's defaults.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			TakerFeeRate:    "0.01",
			MaxQuantity:     "1000000",
			MinPrice:        "0.01",
			MaxPrice:        "0.99",
			SystemAccountID: "SYSTEM",
		},
		Postgres: PostgresConfig{
			DSN:          "",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:      "",
			DB:        0,
			TTLSecond: 30,
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeoutS: 30,
		},
		LogLevel: "info",
	}
}

// Validate checks the config for internal consistency. It collects every
// violation rather than failing on the first.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Trading.TakerFeeRate == "" {
		errs = append(errs, "trading: taker_fee_rate must not be empty")
	}
	if c.Trading.MaxQuantity == "" {
		errs = append(errs, "trading: max_quantity must not be empty")
	}
	if c.Trading.MinPrice == "" || c.Trading.MaxPrice == "" {
		errs = append(errs, "trading: min_price and max_price must not be empty")
	}
	if c.Trading.SystemAccountID == "" {
		errs = append(errs, "trading: system_account_id must not be empty")
	}

	if c.Postgres.DSN == "" {
		errs = append(errs, "postgres: dsn must be set (in-memory store is for tests only)")
	}
	if c.Postgres.PoolMaxConns <= 0 {
		errs = append(errs, "postgres: pool_max_conns must be positive")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr != "" && c.Redis.TTLSecond <= 0 {
		errs = append(errs, "redis: ttl_seconds must be positive when addr is set")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server: port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
