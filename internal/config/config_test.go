package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/shopspring/decimal"
)

const (
	ownerHex  = "0x00000000000000000000000000000000000000a1"
	engineHex = "0x00000000000000000000000000000000000000e1"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOTMARKET_CONFIG", "")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Market.Period != 24*time.Hour {
		t.Errorf("Period = %s, want 24h", cfg.Market.Period)
	}
	if cfg.Market.SettlementWindow != 0 {
		t.Errorf("SettlementWindow = %s, want 0", cfg.Market.SettlementWindow)
	}
	if !cfg.Market.BaseTaxRatePct.Equal(decimal.NewFromInt(25)) {
		t.Errorf("BaseTaxRatePct = %s, want 25", cfg.Market.BaseTaxRatePct)
	}
	if !cfg.Market.ReferralSkimPct.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("ReferralSkimPct = %s, want 0.5", cfg.Market.ReferralSkimPct)
	}
	if cfg.Market.AssetDecimals != 18 {
		t.Errorf("AssetDecimals = %d, want 18", cfg.Market.AssetDecimals)
	}
}

func TestLoad_YAMLOverlay_EnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lotmarket.yaml")
	body := strings.Join([]string{
		"MARKET_PRICE_STEP: \"50\"",
		"MARKET_PERIOD: 1h",
		"MARKET_OWNER_ADDRESS: \"" + ownerHex + "\"",
		"SERVER_PORT: 9000",
		"KEEPER_ENABLED: false",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("LOTMARKET_CONFIG", path)
	t.Setenv("SERVER_PORT", "7000")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Market.PriceStep.Equal(decimal.NewFromInt(50)) {
		t.Errorf("PriceStep = %s, want 50 from file", cfg.Market.PriceStep)
	}
	if cfg.Market.Period != time.Hour {
		t.Errorf("Period = %s, want 1h from file", cfg.Market.Period)
	}
	if cfg.Market.OwnerAddress != common.HexToAddress(ownerHex) {
		t.Errorf("OwnerAddress = %s, want %s", cfg.Market.OwnerAddress, ownerHex)
	}
	if cfg.Server.Port != "7000" {
		t.Errorf("Server.Port = %s, want env value 7000", cfg.Server.Port)
	}
	if cfg.Keeper.Enabled {
		t.Error("Keeper.Enabled = true, want false from file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("LOTMARKET_CONFIG", "")
	t.Setenv("MARKET_OWNER_ADDRESS", "not-an-address")
	t.Setenv("MARKET_PRICE_STEP", "abc")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for malformed address and decimal")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("LOTMARKET_CONFIG", "")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("MARKET_OWNER_ADDRESS", ownerHex)
	t.Setenv("MARKET_ENGINE_ADDRESS", engineHex)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	cfg.Market.SettlementWindow = 48 * time.Hour
	cfg.Price.Source = "exchange"
	cfg.Price.OKXWeight = 0
	err = cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want window and weight errors")
	}
	for _, want := range []string{"MARKET_SETTLEMENT_WINDOW", "price weights"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}
