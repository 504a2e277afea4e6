package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Market.Provider != "oanda" || !cfg.Market.SimFallback {
		t.Errorf("market defaults: %+v", cfg.Market)
	}
	if len(cfg.Engine.Symbols) == 0 {
		t.Error("default symbol list must not be empty")
	}
	if cfg.Assembler.MinConfidence != 40 {
		t.Errorf("min confidence = %f, want 40", cfg.Assembler.MinConfidence)
	}
	if cfg.Engine.Interval != time.Minute {
		t.Errorf("engine interval = %s, want 1m", cfg.Engine.Interval)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"server": {"port": 9090},
		"database": {"host": "db.internal", "port": 5432, "user": "svc", "database": "signals", "ssl_mode": "require"},
		"market": {"provider": "sim", "sim_seed": 42}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("ENGINE_SYMBOLS", "EURUSD, USDJPY")
	t.Setenv("MIN_CONFIDENCE", "55")
	t.Setenv("ENGINE_INTERVAL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Environment wins over the file, the file wins over defaults.
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("db host = %s, want file value", cfg.Database.Host)
	}
	if cfg.Market.Provider != "sim" || cfg.Market.SimSeed != 42 {
		t.Errorf("market = %+v, want sim provider from file", cfg.Market)
	}
	if len(cfg.Engine.Symbols) != 2 || cfg.Engine.Symbols[1] != "USDJPY" {
		t.Errorf("symbols = %v, want trimmed CSV from env", cfg.Engine.Symbols)
	}
	if cfg.Assembler.MinConfidence != 55 {
		t.Errorf("min confidence = %f, want 55", cfg.Assembler.MinConfidence)
	}
	if cfg.Engine.Interval != 2*time.Minute {
		t.Errorf("interval = %s, want 2m", cfg.Engine.Interval)
	}
	if len(cfg.Trainer.Symbols) != len(cfg.Engine.Symbols) {
		t.Error("trainer must inherit the engine symbol list")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Fatal("malformed config must fail to load")
	}
}
