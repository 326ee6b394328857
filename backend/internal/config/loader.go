package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration from the defaults, the TOML file at path (skipped when path
// is empty), a .env file if present, and AGENTDESK_* environment variables, in that order.
// The result has NOT been validated; call Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.PriceFeedURL, "AGENTDESK_PRICE_FEED_URL")
	setStr(&cfg.ChainExecutorURL, "AGENTDESK_CHAIN_EXECUTOR_URL")
	setInt64(&cfg.LockTimeoutMs, "AGENTDESK_LOCK_TIMEOUT_MS")
	setInt64(&cfg.SettlementTimeoutMs, "AGENTDESK_SETTLEMENT_TIMEOUT_MS")
	setStr(&cfg.LogLevel, "AGENTDESK_LOG_LEVEL")

	// ── Server ──
	setInt(&cfg.Server.Port, "AGENTDESK_SERVER_PORT")
	setStr(&cfg.Server.AdminToken, "AGENTDESK_SERVER_ADMIN_TOKEN")
	setStringSlice(&cfg.Server.CORSOrigins, "AGENTDESK_SERVER_CORS_ORIGINS")

	// ── Trading ──
	setStringSlice(&cfg.Trading.SupportedChains, "AGENTDESK_TRADING_SUPPORTED_CHAINS")
	setStr(&cfg.Trading.DefaultChain, "AGENTDESK_TRADING_DEFAULT_CHAIN")
	setDuration(&cfg.Trading.IdempotencyTTL, "AGENTDESK_TRADING_IDEMPOTENCY_TTL")

	// ── Chain ──
	setStr(&cfg.Chain.ExecutorSecret, "AGENTDESK_CHAIN_EXECUTOR_SECRET")
	setDuration(&cfg.Chain.LoopbackLatency, "AGENTDESK_CHAIN_LOOPBACK_LATENCY")

	// ── Prices ──
	setBool(&cfg.Prices.Enabled, "AGENTDESK_PRICES_ENABLED")
	setDuration(&cfg.Prices.PollInterval, "AGENTDESK_PRICES_POLL_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AGENTDESK_POSTGRES_DSN")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "AGENTDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AGENTDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AGENTDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AGENTDESK_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "AGENTDESK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "AGENTDESK_REDIS_KEY_PREFIX")

	// ── Activity ──
	setInt(&cfg.Activity.BufferSize, "AGENTDESK_ACTIVITY_BUFFER_SIZE")
}

// Typed env-var helpers. Each only mutates the target when the variable is set and parses.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
