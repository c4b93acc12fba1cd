package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"VaultEngine/internal/asset"
	"VaultEngine/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url: got %s", cfg.NATS.URL)
	}
	if cfg.Engine.PersistChanSize != 1024 {
		t.Errorf("persist chan size: got %d, want 1024", cfg.Engine.PersistChanSize)
	}
	if len(cfg.Assets) != 3 {
		t.Errorf("assets: got %d, want 3 defaults", len(cfg.Assets))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: postgres://test:5432/vault
nats:
  url: nats://test:4222
fees:
  deposit_bps: 50
  withdraw_steps:
    - min_dollars: 0
      bps: 10
    - min_dollars: 100000
      bps: 25
ledger:
  auto_deploy_bps: 9000
  initial_pps_dollars: 1
bridge:
  epoch_minutes: 30
  max_per_epoch: 500000000000
assets:
  - id: 1
    symbol: BTC
    role: risk
    compact_decimals: 5
    full_decimals: 8
    feed_scale: 100000000
    max_deviation_bps: 2000
  - id: 3
    symbol: USDC
    role: funding
    compact_decimals: 6
    full_decimals: 6
    feed_scale: 100000000
    max_deviation_bps: 500
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Postgres.DSN != "postgres://test:5432/vault" {
		t.Errorf("dsn: got %s", cfg.Postgres.DSN)
	}
	if cfg.Fees.DepositBps != 50 {
		t.Errorf("deposit bps: got %d, want 50", cfg.Fees.DepositBps)
	}
	if len(cfg.Fees.WithdrawSteps) != 2 || cfg.Fees.WithdrawSteps[1].Bps != 25 {
		t.Errorf("withdraw steps: got %+v", cfg.Fees.WithdrawSteps)
	}
	if cfg.Ledger.AutoDeployBps != 9000 {
		t.Errorf("auto deploy bps: got %d, want 9000", cfg.Ledger.AutoDeployBps)
	}
	if cfg.BridgeEpoch().Minutes() != 30 {
		t.Errorf("bridge epoch: got %v", cfg.BridgeEpoch())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VAULT_POSTGRES_DSN", "postgres://env:5432/override")
	t.Setenv("VAULT_NATS_URL", "nats://env:4222")

	path := writeConfig(t, `
postgres:
  dsn: postgres://file:5432/vault
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Postgres.DSN != "postgres://env:5432/override" {
		t.Errorf("dsn: env should win, got %s", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("nats url: env should win, got %s", cfg.NATS.URL)
	}
}

func TestValidate_RejectsBadRole(t *testing.T) {
	path := writeConfig(t, `
assets:
  - id: 1
    symbol: BTC
    role: sideways
    compact_decimals: 5
    full_decimals: 8
    feed_scale: 100000000
    max_deviation_bps: 2000
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestValidate_RequiresExactlyOneFundingAsset(t *testing.T) {
	path := writeConfig(t, `
assets:
  - id: 1
    symbol: BTC
    role: risk
    compact_decimals: 5
    full_decimals: 8
    feed_scale: 100000000
    max_deviation_bps: 2000
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing funding asset")
	}
}

func TestValidate_RejectsFeeBpsOutOfRange(t *testing.T) {
	path := writeConfig(t, `
fees:
  deposit_bps: 10001
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for deposit_bps out of range")
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	reg, err := cfg.BuildRegistry()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	if reg.Funding().Symbol != "USDC" {
		t.Errorf("funding: got %s, want USDC", reg.Funding().Symbol)
	}
	if len(reg.Risk()) != 2 {
		t.Errorf("risk assets: got %d, want 2", len(reg.Risk()))
	}
	btc, ok := reg.BySymbol("BTC")
	if !ok || btc.ID != asset.ID(1) {
		t.Errorf("BTC lookup: ok=%v id=%d", ok, btc.ID)
	}
}

func TestLedgerParams_BuildsFeeSchedule(t *testing.T) {
	path := writeConfig(t, `
fees:
  deposit_bps: 50
  withdraw_steps:
    - min_dollars: 0
      bps: 10
    - min_dollars: 1000000
      bps: 50
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	params, err := cfg.LedgerParams()
	if err != nil {
		t.Fatalf("ledger params: %v", err)
	}
	if params.DepositFeeBps != 50 {
		t.Errorf("deposit fee: got %d, want 50", params.DepositFeeBps)
	}
}
