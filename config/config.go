package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"forex-signal-engine/internal/api"
	"forex-signal-engine/internal/cache"
	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/database"
	"forex-signal-engine/internal/indicators"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/monitor"
	"forex-signal-engine/internal/notification"
	"forex-signal-engine/internal/optimizer"
	"forex-signal-engine/internal/regime"
	"forex-signal-engine/internal/risk"
	"forex-signal-engine/internal/signal"
)

// Config is the full engine configuration. Values come from config.json with
// environment variable overrides on top.
type Config struct {
	Logging    logging.Config          `json:"logging"`
	Server     api.ServerConfig        `json:"server"`
	Database   database.Config         `json:"database"`
	Redis      cache.Config            `json:"redis"`
	Market     MarketConfig            `json:"market"`
	Engine     EngineConfig            `json:"engine"`
	Indicators indicators.Params       `json:"indicators"`
	Regime     regime.Config           `json:"regime"`
	Confluence confluence.Config       `json:"confluence"`
	Risk       risk.Config             `json:"risk"`
	Assembler  signal.AssemblerConfig  `json:"assembler"`
	Monitor    monitor.Config          `json:"monitor"`
	Optimizer  optimizer.Config        `json:"optimizer"`
	Trainer    optimizer.TrainerConfig `json:"trainer"`
	Notify     notification.Config     `json:"notify"`
}

// MarketConfig selects and tunes the market data providers.
type MarketConfig struct {
	// Provider is the primary snapshot source: "oanda" or "sim".
	Provider string `json:"provider"`
	// BaseURL, APIKey and AccountID configure the OANDA-compatible REST API.
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	AccountID string `json:"account_id"`
	// StreamURL enables the price stream when non-empty.
	StreamURL string `json:"stream_url"`
	// BarCount is the candle history fetched per timeframe.
	BarCount int `json:"bar_count"`
	// SimFallback chains the simulated provider behind the primary.
	SimFallback bool `json:"sim_fallback"`
	// SimSeed fixes the simulated random walk.
	SimSeed int64 `json:"sim_seed"`
}

// EngineConfig tunes the evaluation sweep.
type EngineConfig struct {
	// Symbols are the instruments evaluated every cycle.
	Symbols []string `json:"symbols"`
	// Interval is the evaluation cadence.
	Interval time.Duration `json:"interval"`
	// MaxConcurrent caps symbols evaluated in parallel.
	MaxConcurrent int `json:"max_concurrent"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Logging: logging.Config{Level: "info", Output: "stdout", JSONFormat: true},
		Server: api.ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ProductionMode: true,
		},
		Database: database.Config{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "signals",
			SSLMode:  "disable",
		},
		Redis: cache.DefaultConfig(),
		Market: MarketConfig{
			Provider:    "oanda",
			BaseURL:     "https://api-fxpractice.oanda.com",
			BarCount:    200,
			SimFallback: true,
			SimSeed:     1,
		},
		Engine: EngineConfig{
			Symbols:       []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD"},
			Interval:      time.Minute,
			MaxConcurrent: 4,
		},
		Indicators: indicators.DefaultParams(),
		Regime:     regime.DefaultConfig(),
		Confluence: confluence.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Assembler:  signal.DefaultAssemblerConfig(),
		Monitor:    monitor.DefaultConfig(),
		Optimizer:  optimizer.DefaultConfig(),
		Trainer:    optimizer.DefaultTrainerConfig(),
	}
}

// Load reads config.json (or CONFIG_PATH) over the defaults and applies
// environment overrides on top.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnvOrDefault("CONFIG_PATH", "config.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	cfg.Trainer.Symbols = cfg.Engine.Symbols
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Credentials are expected from the environment, never from config.json.
func applyEnvOverrides(cfg *Config) {
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ProductionMode = getEnvBoolOrDefault("SERVER_PRODUCTION", cfg.Server.ProductionMode)
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitCSV(origins)
	}

	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Market.Provider = getEnvOrDefault("MARKET_PROVIDER", cfg.Market.Provider)
	cfg.Market.BaseURL = getEnvOrDefault("MARKET_BASE_URL", cfg.Market.BaseURL)
	cfg.Market.APIKey = getEnvOrDefault("MARKET_API_KEY", cfg.Market.APIKey)
	cfg.Market.AccountID = getEnvOrDefault("MARKET_ACCOUNT_ID", cfg.Market.AccountID)
	cfg.Market.StreamURL = getEnvOrDefault("MARKET_STREAM_URL", cfg.Market.StreamURL)
	cfg.Market.SimFallback = getEnvBoolOrDefault("MARKET_SIM_FALLBACK", cfg.Market.SimFallback)

	if symbols := os.Getenv("ENGINE_SYMBOLS"); symbols != "" {
		cfg.Engine.Symbols = splitCSV(symbols)
	}
	cfg.Engine.Interval = getEnvDurationOrDefault("ENGINE_INTERVAL", cfg.Engine.Interval)
	cfg.Engine.MaxConcurrent = getEnvIntOrDefault("ENGINE_MAX_CONCURRENT", cfg.Engine.MaxConcurrent)

	cfg.Assembler.MinConfidence = getEnvFloatOrDefault("MIN_CONFIDENCE", cfg.Assembler.MinConfidence)
	cfg.Monitor.CheckInterval = getEnvDurationOrDefault("MONITOR_INTERVAL", cfg.Monitor.CheckInterval)
	cfg.Monitor.MaxDuration = getEnvDurationOrDefault("SIGNAL_MAX_DURATION", cfg.Monitor.MaxDuration)
	cfg.Trainer.Interval = getEnvDurationOrDefault("TRAINER_INTERVAL", cfg.Trainer.Interval)

	cfg.Notify.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notify.Telegram.BotToken)
	cfg.Notify.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notify.Telegram.ChatID)
	cfg.Notify.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.Notify.Telegram.Enabled)
	cfg.Notify.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notify.Discord.WebhookURL)
	cfg.Notify.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.Notify.Discord.Enabled)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true")
	}
	return fallback
}

func getEnvDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
