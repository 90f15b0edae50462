package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETENGINE_* environment variable
// overrides, and returns the final Config. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
//
// An empty path skips the file decode and returns defaults plus env
// overrides, for deploys that configure entirely through the
// environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETENGINE_* environment
// variables and overwrites the corresponding Config fields when a
// variable is set, letting operators inject secrets and per-deploy
// knobs without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Trading.TakerFeeRate, "MARKETENGINE_TAKER_FEE_RATE")
	setStr(&cfg.Trading.MaxQuantity, "MARKETENGINE_MAX_QUANTITY")
	setStr(&cfg.Trading.MinPrice, "MARKETENGINE_MIN_PRICE")
	setStr(&cfg.Trading.MaxPrice, "MARKETENGINE_MAX_PRICE")
	setStr(&cfg.Trading.SystemAccountID, "MARKETENGINE_SYSTEM_ACCOUNT_ID")

	setStr(&cfg.Postgres.DSN, "MARKETENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETENGINE_POSTGRES_POOL_MIN_CONNS")

	setStr(&cfg.Redis.Addr, "MARKETENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Addr, "REDIS_URL") // compatibility alias
	setStr(&cfg.Redis.Password, "MARKETENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETENGINE_REDIS_DB")
	setInt(&cfg.Redis.TTLSecond, "MARKETENGINE_REDIS_TTL_SECONDS")

	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "MARKETENGINE_SERVER_PORT")
	setInt(&cfg.Server.ReadTimeoutS, "MARKETENGINE_SERVER_READ_TIMEOUT_SECONDS")

	setStr(&cfg.LogLevel, "MARKETENGINE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
