// Package config defines the top-level configuration for the mirror arbitrage
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MIRRORBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Chain      ChainConfig      `toml:"chain"`
	Detector   DetectorConfig   `toml:"detector"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Rebalance  RebalanceConfig  `toml:"rebalance"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	// MarketID pins monitor, trade, and clear modes to one market. When empty,
	// monitor and trade pick the top-ranked market from a scan.
	MarketID string `toml:"market_id"`
	LogLevel string `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	ChainID   int    `toml:"chain_id"`
}

// ChainConfig holds the Polygon RPC endpoint used for on-chain split, merge,
// and redeem calls.
type ChainConfig struct {
	RPCURL string `toml:"rpc_url"`
}

// DetectorConfig holds arbitrage detection parameters.
type DetectorConfig struct {
	// ProfitThreshold is the minimum profit fraction an opportunity must
	// clear, e.g. 0.005 = 0.5%.
	ProfitThreshold float64 `toml:"profit_threshold"`
	// SafetyFactor scales the tradable size down to absorb book movement
	// between detection and execution.
	SafetyFactor float64 `toml:"safety_factor"`
	MinTradeSize float64 `toml:"min_trade_size"`
	MaxTradeSize float64 `toml:"max_trade_size"`
}

// ScannerConfig holds market-scan parameters.
type ScannerConfig struct {
	MinVolume24h float64 `toml:"min_volume_24h"`
	MarketLimit  int     `toml:"market_limit"`
	FetchWorkers int     `toml:"fetch_workers"`
}

// MonitorConfig holds live-monitoring parameters.
type MonitorConfig struct {
	AutoExecute  bool     `toml:"auto_execute"`
	RetryBackoff duration `toml:"retry_backoff"`
}

// RebalanceConfig holds inventory rebalancing parameters.
type RebalanceConfig struct {
	Enabled            bool     `toml:"enabled"`
	MinUSDCRatio       float64  `toml:"min_usdc_ratio"`
	TargetUSDCRatio    float64  `toml:"target_usdc_ratio"`
	MaxUSDCRatio       float64  `toml:"max_usdc_ratio"`
	ImbalanceThreshold float64  `toml:"imbalance_threshold"`
	Interval           duration `toml:"interval"`
	Cooldown           duration `toml:"cooldown"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds execution-history archival parameters.
type ArchiveConfig struct {
	RetentionDays int      `toml:"retention_days"`
	BatchSize     int      `toml:"batch_size"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:   137,
		},
		Chain: ChainConfig{
			RPCURL: "https://polygon-rpc.com",
		},
		Detector: DetectorConfig{
			ProfitThreshold: 0.005,
			SafetyFactor:    0.8,
			MinTradeSize:    5.0,
			MaxTradeSize:    500.0,
		},
		Scanner: ScannerConfig{
			MinVolume24h: 1000.0,
			MarketLimit:  100,
			FetchWorkers: 8,
		},
		Monitor: MonitorConfig{
			AutoExecute:  false,
			RetryBackoff: duration{2 * time.Second},
		},
		Rebalance: RebalanceConfig{
			Enabled:            false,
			MinUSDCRatio:       0.2,
			TargetUSDCRatio:    0.5,
			MaxUSDCRatio:       0.8,
			ImbalanceThreshold: 10.0,
			Interval:           duration{time.Minute},
			Cooldown:           duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mirrorbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mirrorbot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			BatchSize:     500,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"execution", "rebalance", "error"},
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"monitor": true,
	"trade":   true,
	"clear":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, monitor, trade, clear)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet credentials are required for anything that signs.
	mode := strings.ToLower(c.Mode)
	needsWallet := mode == "trade" || mode == "clear" || (mode == "monitor" && c.Monitor.AutoExecute)
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if (mode == "trade" || mode == "clear") && c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty for mode "+c.Mode)
	}
	if mode == "clear" && c.MarketID == "" {
		errs = append(errs, "market_id is required for clear mode")
	}

	if c.Detector.ProfitThreshold < 0 {
		errs = append(errs, "detector: profit_threshold must be >= 0")
	}
	if c.Detector.SafetyFactor <= 0 || c.Detector.SafetyFactor > 1 {
		errs = append(errs, fmt.Sprintf("detector: safety_factor must be in (0,1], got %v", c.Detector.SafetyFactor))
	}
	if c.Detector.MinTradeSize < 0 {
		errs = append(errs, "detector: min_trade_size must be >= 0")
	}
	if c.Detector.MaxTradeSize > 0 && c.Detector.MaxTradeSize < c.Detector.MinTradeSize {
		errs = append(errs, "detector: max_trade_size must not be below min_trade_size")
	}

	if c.Scanner.FetchWorkers < 1 {
		errs = append(errs, "scanner: fetch_workers must be >= 1")
	}

	if c.Rebalance.Enabled {
		r := c.Rebalance
		if r.MinUSDCRatio < 0 || r.MaxUSDCRatio > 1 {
			errs = append(errs, "rebalance: ratios must lie in [0,1]")
		}
		if !(r.MinUSDCRatio < r.TargetUSDCRatio && r.TargetUSDCRatio < r.MaxUSDCRatio) {
			errs = append(errs, fmt.Sprintf("rebalance: require min < target < max, got %v / %v / %v",
				r.MinUSDCRatio, r.TargetUSDCRatio, r.MaxUSDCRatio))
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
