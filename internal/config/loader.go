package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MIRRORBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known MIRRORBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "MIRRORBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "MIRRORBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "MIRRORBOT_WALLET_KEY_PASSWORD")

	setStr(&cfg.Polymarket.ClobHost, "MIRRORBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "MIRRORBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "MIRRORBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "MIRRORBOT_POLYMARKET_CHAIN_ID")

	setStr(&cfg.Chain.RPCURL, "MIRRORBOT_CHAIN_RPC_URL")

	setFloat64(&cfg.Detector.ProfitThreshold, "MIRRORBOT_DETECTOR_PROFIT_THRESHOLD")
	setFloat64(&cfg.Detector.SafetyFactor, "MIRRORBOT_DETECTOR_SAFETY_FACTOR")
	setFloat64(&cfg.Detector.MinTradeSize, "MIRRORBOT_DETECTOR_MIN_TRADE_SIZE")
	setFloat64(&cfg.Detector.MaxTradeSize, "MIRRORBOT_DETECTOR_MAX_TRADE_SIZE")

	setFloat64(&cfg.Scanner.MinVolume24h, "MIRRORBOT_SCANNER_MIN_VOLUME_24H")
	setInt(&cfg.Scanner.MarketLimit, "MIRRORBOT_SCANNER_MARKET_LIMIT")
	setInt(&cfg.Scanner.FetchWorkers, "MIRRORBOT_SCANNER_FETCH_WORKERS")

	setBool(&cfg.Monitor.AutoExecute, "MIRRORBOT_MONITOR_AUTO_EXECUTE")
	setDuration(&cfg.Monitor.RetryBackoff, "MIRRORBOT_MONITOR_RETRY_BACKOFF")

	setBool(&cfg.Rebalance.Enabled, "MIRRORBOT_REBALANCE_ENABLED")
	setFloat64(&cfg.Rebalance.MinUSDCRatio, "MIRRORBOT_REBALANCE_MIN_USDC_RATIO")
	setFloat64(&cfg.Rebalance.TargetUSDCRatio, "MIRRORBOT_REBALANCE_TARGET_USDC_RATIO")
	setFloat64(&cfg.Rebalance.MaxUSDCRatio, "MIRRORBOT_REBALANCE_MAX_USDC_RATIO")
	setFloat64(&cfg.Rebalance.ImbalanceThreshold, "MIRRORBOT_REBALANCE_IMBALANCE_THRESHOLD")
	setDuration(&cfg.Rebalance.Interval, "MIRRORBOT_REBALANCE_INTERVAL")
	setDuration(&cfg.Rebalance.Cooldown, "MIRRORBOT_REBALANCE_COOLDOWN")

	setBool(&cfg.Postgres.Enabled, "MIRRORBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MIRRORBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MIRRORBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MIRRORBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MIRRORBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MIRRORBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MIRRORBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MIRRORBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MIRRORBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MIRRORBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MIRRORBOT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "MIRRORBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MIRRORBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MIRRORBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MIRRORBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MIRRORBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MIRRORBOT_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "MIRRORBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MIRRORBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MIRRORBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MIRRORBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MIRRORBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MIRRORBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MIRRORBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MIRRORBOT_S3_FORCE_PATH_STYLE")

	setInt(&cfg.Archive.RetentionDays, "MIRRORBOT_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.BatchSize, "MIRRORBOT_ARCHIVE_BATCH_SIZE")
	setDuration(&cfg.Archive.Interval, "MIRRORBOT_ARCHIVE_INTERVAL")

	setStr(&cfg.Notify.TelegramToken, "MIRRORBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MIRRORBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MIRRORBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MIRRORBOT_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MIRRORBOT_MODE")
	setStr(&cfg.MarketID, "MIRRORBOT_MARKET_ID")
	setStr(&cfg.LogLevel, "MIRRORBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
