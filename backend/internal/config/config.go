// Package config defines the gateway configuration and its defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration. The four top-level endpoint and timeout keys are the
// options every deployment sets; the sections hold the optional collaborators.
type Config struct {
	PriceFeedURL        string `toml:"price_feed_url"`
	ChainExecutorURL    string `toml:"chain_executor_url"`
	LockTimeoutMs       int64  `toml:"lock_timeout_ms"`
	SettlementTimeoutMs int64  `toml:"settlement_timeout_ms"`
	LogLevel            string `toml:"log_level"`

	Server   ServerConfig   `toml:"server"`
	Trading  TradingConfig  `toml:"trading"`
	Chain    ChainConfig    `toml:"chain"`
	Prices   PricesConfig   `toml:"prices"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Activity ActivityConfig `toml:"activity"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	AdminToken  string   `toml:"admin_token"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TradingConfig holds trade orchestration settings.
type TradingConfig struct {
	SupportedChains []string `toml:"supported_chains"`
	DefaultChain    string   `toml:"default_chain"`
	IdempotencyTTL  duration `toml:"idempotency_ttl"`
}

// ChainConfig configures the executor client. An empty ChainExecutorURL selects the loopback.
type ChainConfig struct {
	ExecutorSecret  string   `toml:"executor_secret"`
	LoopbackLatency duration `toml:"loopback_latency"`
}

// PricesConfig configures the price poller.
type PricesConfig struct {
	Enabled      bool              `toml:"enabled"`
	PollInterval duration          `toml:"poll_interval"`
	CoinIDs      map[string]string `toml:"coin_ids"` // symbol -> CoinGecko id
}

// PostgresConfig enables the journal when DSN is set.
type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

// RedisConfig enables the distributed agent lock when Addr is set.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// ActivityConfig sizes the activity feed.
type ActivityConfig struct {
	BufferSize int `toml:"buffer_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LockTimeout returns the bounded wait for an agent lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// SettlementTimeout returns the bound on a single executor call.
func (c *Config) SettlementTimeout() time.Duration {
	return time.Duration(c.SettlementTimeoutMs) * time.Millisecond
}

// Defaults returns a Config that runs standalone: loopback executor, in-memory state,
// public CoinGecko prices.
func Defaults() Config {
	return Config{
		PriceFeedURL:        "https://api.coingecko.com/api/v3",
		LockTimeoutMs:       5000,
		SettlementTimeoutMs: 30000,
		LogLevel:            "info",
		Server: ServerConfig{
			Port: 8080,
		},
		Trading: TradingConfig{
			SupportedChains: []string{"base", "solana"},
			DefaultChain:    "base",
			IdempotencyTTL:  duration{24 * time.Hour},
		},
		Chain: ChainConfig{
			LoopbackLatency: duration{500 * time.Millisecond},
		},
		Prices: PricesConfig{
			Enabled:      true,
			PollInterval: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			PoolSize:  10,
			KeyPrefix: "agentdesk:",
		},
		Activity: ActivityConfig{
			BufferSize: 200,
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.LockTimeoutMs <= 0 {
		errs = append(errs, "lock_timeout_ms must be positive")
	}
	if c.SettlementTimeoutMs <= 0 {
		errs = append(errs, "settlement_timeout_ms must be positive")
	}
	if c.Prices.Enabled {
		if err := checkURL(c.PriceFeedURL); err != nil {
			errs = append(errs, "price_feed_url: "+err.Error())
		}
		if c.Prices.PollInterval.Duration < time.Second {
			errs = append(errs, "prices: poll_interval must be at least 1s")
		}
	}
	if c.ChainExecutorURL != "" {
		if err := checkURL(c.ChainExecutorURL); err != nil {
			errs = append(errs, "chain_executor_url: "+err.Error())
		}
		if c.Chain.ExecutorSecret == "" {
			errs = append(errs, "chain: executor_secret is required when chain_executor_url is set")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	if len(c.Trading.SupportedChains) == 0 {
		errs = append(errs, "trading: supported_chains must not be empty")
	} else {
		found := false
		for _, ch := range c.Trading.SupportedChains {
			if strings.EqualFold(ch, c.Trading.DefaultChain) {
				found = true
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("trading: default_chain %q is not in supported_chains", c.Trading.DefaultChain))
		}
	}
	if c.Trading.IdempotencyTTL.Duration <= 0 {
		errs = append(errs, "trading: idempotency_ttl must be positive")
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize <= 0 {
		errs = append(errs, "redis: pool_size must be positive")
	}
	if c.Activity.BufferSize <= 0 {
		errs = append(errs, "activity: buffer_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
