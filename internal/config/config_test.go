package config

import (
	"os"
	"testing"
)

func TestDefaults_PassValidationWithDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://localhost/market_engine"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestValidate_RejectsEmptyDSN(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty postgres dsn")
	}
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://localhost/market_engine"
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}

func TestValidate_RejectsPoolMinGreaterThanMax(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://localhost/market_engine"
	cfg.Postgres.PoolMinConns = 20
	cfg.Postgres.PoolMaxConns = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for pool_min_conns > pool_max_conns")
	}
}

func TestLoad_EnvOverridesApplyOnTopOfDefaults(t *testing.T) {
	os.Setenv("MARKETENGINE_TAKER_FEE_RATE", "0.02")
	os.Setenv("MARKETENGINE_SYSTEM_ACCOUNT_ID", "FEE_SINK")
	defer os.Unsetenv("MARKETENGINE_TAKER_FEE_RATE")
	defer os.Unsetenv("MARKETENGINE_SYSTEM_ACCOUNT_ID")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.TakerFeeRate != "0.02" {
		t.Errorf("expected taker_fee_rate override, got %s", cfg.Trading.TakerFeeRate)
	}
	if cfg.Trading.SystemAccountID != "FEE_SINK" {
		t.Errorf("expected system_account_id override, got %s", cfg.Trading.SystemAccountID)
	}
	if cfg.Trading.MaxQuantity != "1000000" {
		t.Errorf("expected unoverridden default to survive, got %s", cfg.Trading.MaxQuantity)
	}
}

func TestLoad_PortEnvAlias(t *testing.T) {
	os.Setenv("PORT", "9090")
	defer os.Unsetenv("PORT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected PORT alias to set server port, got %d", cfg.Server.Port)
	}
}
