package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leoyang128/mirrorbot/internal/arbitrage"
	"github.com/leoyang128/mirrorbot/internal/blob"
	s3blob "github.com/leoyang128/mirrorbot/internal/blob/s3"
	"github.com/leoyang128/mirrorbot/internal/cache/redis"
	"github.com/leoyang128/mirrorbot/internal/chain"
	"github.com/leoyang128/mirrorbot/internal/clearing"
	"github.com/leoyang128/mirrorbot/internal/config"
	"github.com/leoyang128/mirrorbot/internal/crypto"
	"github.com/leoyang128/mirrorbot/internal/domain"
	"github.com/leoyang128/mirrorbot/internal/executor"
	"github.com/leoyang128/mirrorbot/internal/monitor"
	"github.com/leoyang128/mirrorbot/internal/notify"
	"github.com/leoyang128/mirrorbot/internal/orchestrator"
	"github.com/leoyang128/mirrorbot/internal/platform/polymarket"
	"github.com/leoyang128/mirrorbot/internal/rebalance"
	"github.com/leoyang128/mirrorbot/internal/scanner"
	"github.com/leoyang128/mirrorbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Markets      domain.MarketSource
	Clearer      orchestrator.Clearer // nil unless the mode touches the chain
	Archiver     *blob.Archiver       // nil unless postgres and s3 are both enabled
	Notifier     *notify.Notifier
}

// needsWallet reports whether the mode signs orders or transactions.
func needsWallet(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "trade", "clear":
		return true
	case "monitor":
		return cfg.Monitor.AutoExecute
	default:
		return false
	}
}

// needsChain reports whether the mode touches the CTF contracts.
func needsChain(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "clear":
		return true
	case "trade":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis: book cache, wallet lock, signal bus ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	bookCache := redis.NewBookCache(redisClient)
	locks := redis.NewLockManager(redisClient)
	bus := redis.NewSignalBus(redisClient)

	// --- Wallet and signing ---
	var signer *crypto.Signer
	walletAddr := ""
	walletKey := ""
	if needsWallet(cfg) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err = crypto.NewSigner(key, cfg.Polymarket.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		walletAddr = signer.Address().Hex()
		walletKey = key
	}

	// --- Polymarket clients ---
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, nil)
	stream := polymarket.NewStream(cfg.Polymarket.WsHost, logger)
	if signer != nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
	}

	// --- Detection ---
	detector, err := arbitrage.NewDetector(arbitrage.DetectorConfig{
		ProfitThreshold: cfg.Detector.ProfitThreshold,
		SafetyFactor:    cfg.Detector.SafetyFactor,
		MinTradeSize:    cfg.Detector.MinTradeSize,
		MaxTradeSize:    cfg.Detector.MaxTradeSize,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: detector: %w", err)
	}

	sc := scanner.New(scanner.Config{
		Filter: domain.MarketFilter{
			MinVolume24h: cfg.Scanner.MinVolume24h,
			ActiveOnly:   true,
			Limit:        cfg.Scanner.MarketLimit,
		},
		FetchWorkers: cfg.Scanner.FetchWorkers,
	}, gamma, clob, detector, bookCache, logger)

	// --- On-chain client, rebalancer, clearer ---
	var chainClient domain.ChainClient
	var rb orchestrator.Rebalancer
	var cl orchestrator.Clearer
	if needsChain(cfg) {
		cc, err := chain.New(cfg.Chain.RPCURL, walletKey, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		chainClient = cc

		if cfg.Rebalance.Enabled {
			rebalancer, err := rebalance.New(rebalance.Config{
				MinUSDCRatio:       cfg.Rebalance.MinUSDCRatio,
				TargetUSDCRatio:    cfg.Rebalance.TargetUSDCRatio,
				MaxUSDCRatio:       cfg.Rebalance.MaxUSDCRatio,
				ImbalanceThreshold: cfg.Rebalance.ImbalanceThreshold,
				Interval:           cfg.Rebalance.Interval.Duration,
				Cooldown:           cfg.Rebalance.Cooldown.Duration,
				Wallet:             walletAddr,
			}, chainClient, clob, clob, locks, logger)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: rebalancer: %w", err)
			}
			rb = rebalancer
		}

		cl = clearing.New(clearing.Config{Wallet: walletAddr},
			chainClient, clob, clob, locks, logger)
	}

	// --- Execution and monitoring ---
	var engine monitor.Executor
	if signer != nil {
		engine = executor.New(executor.Config{
			Wallet:             walletAddr,
			ImbalanceThreshold: cfg.Rebalance.ImbalanceThreshold,
			AutoFixImbalance:   true,
		}, clob, clob, locks, logger)
	}
	monitorFactory := func() orchestrator.Monitor {
		return monitor.New(monitor.Config{
			AutoExecute:  cfg.Monitor.AutoExecute,
			RetryBackoff: cfg.Monitor.RetryBackoff.Duration,
		}, stream, detector, engine, logger)
	}

	// --- Notifications and event fan-out ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	listeners := []domain.EventListener{
		notify.NewListener(deps.Notifier),
		newBusPublisher(bus, logger),
	}

	// --- Orchestrator ---
	orch := orchestrator.New(orchestrator.Config{
		RebalanceEnabled: cfg.Rebalance.Enabled,
	}, gamma, sc, monitorFactory, rb, cl, logger)
	orch.WithListener(multiListener(listeners))

	// --- PostgreSQL persistence (optional) ---
	var execStore domain.ExecutionStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		execStore = postgres.NewExecutionStore(pool)
		orch.WithStores(postgres.NewOpportunityStore(pool), execStore)
	}

	// --- S3 archival (optional, requires postgres for the source store) ---
	if cfg.S3.Enabled && execStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = blob.NewArchiver(blob.ArchiverConfig{
			Retention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
			BatchSize: cfg.Archive.BatchSize,
		}, execStore, s3blob.NewWriter(s3Client), logger)
	}

	deps.Orchestrator = orch
	deps.Markets = gamma
	deps.Clearer = cl
	return deps, cleanup, nil
}
