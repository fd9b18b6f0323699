package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for fatal errors before the logger is set up
	"os"

	"copyTrader/config"
	"copyTrader/internal/adapters/binanceclient"
	"copyTrader/internal/adapters/logger"
	"copyTrader/internal/adapters/paper"
	"copyTrader/internal/adapters/redisdedup"
	"copyTrader/internal/adapters/solanarpc"
	"copyTrader/internal/adapters/sqlite"
	"copyTrader/internal/adapters/wallet"
	"copyTrader/internal/app"
	"copyTrader/internal/engine"
	"copyTrader/internal/extractor"
	"copyTrader/internal/ledger"
	"copyTrader/internal/monitor"
	"copyTrader/internal/ports"
	"copyTrader/internal/risk"
)

func main() {
	if err := run(); err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Wallet
	w, err := wallet.Load(cfg.WalletPrivateKey)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to load wallet")
		return err
	}
	appLogger.Info(ctx, "Wallet loaded", map[string]interface{}{"publicKey": w.PublicIdentity()})

	// 4. Initialize Journal (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger.With("sqlite"),
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize database repository")
		return fmt.Errorf("failed to initialize database repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 5. Initialize Venue (Binance prices every venue; paper simulates fills)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Symbols:           cfg.BinanceSymbols,
		QuantityPrecision: cfg.BinanceQtyPrecision,
		PricePrecision:    cfg.BinancePricePrecision,
		Logger:            appLogger.With("binance"),
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize Binance client")
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	var executor ports.OrderExecutor
	switch cfg.Venue {
	case config.VenueBinance:
		if err := binanceClient.SetServerTime(ctx); err != nil {
			appLogger.Error(ctx, err, "Failed to synchronize server time")
			return fmt.Errorf("failed to set server time: %w", err)
		}
		executor = binanceClient
	default:
		if err := binanceClient.Ping(ctx); err != nil {
			appLogger.Warn(ctx, "Binance price feed unreachable, paper fills will fail until it recovers", map[string]interface{}{
				"error": err.Error(),
			})
		}
		executor, err = paper.New(paper.Config{
			Prices:      binanceClient,
			SlippageBps: cfg.PaperSlippageBps,
			Logger:      appLogger.With("paper"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize paper executor: %w", err)
		}
	}
	appLogger.Info(ctx, "Venue initialized", map[string]interface{}{"venue": cfg.Venue})

	// 6. Initialize Dedup
	var dedup ports.Deduplicator
	switch cfg.DedupBackend {
	case config.DedupRedis:
		rd, err := redisdedup.New(ctx, redisdedup.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.DedupTTL,
		})
		if err != nil {
			appLogger.Error(ctx, err, "Failed to connect to Redis")
			return err
		}
		defer rd.Close()
		dedup = rd
	default:
		dedup = monitor.NewMemoryDedup(cfg.DedupTTL)
	}

	// 7. Initialize Chain Feed
	feed, err := solanarpc.New(solanarpc.Config{
		HTTPURL:              cfg.RPCEndpoint,
		WSURL:                cfg.RPCWSEndpoint,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               appLogger.With("solana"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Solana RPC client: %w", err)
	}

	// 8. Initialize Core Components
	book := ledger.New()
	riskManager := risk.NewRiskManager(cfg.Risk())
	eng, err := engine.New(engine.Deps{
		Extractor: extractor.NewBalanceDelta(extractor.Config{
			Followed:   cfg.FollowAddresses,
			QuoteMints: cfg.QuoteMints,
			BuyPercent: cfg.BuyPercent,
		}),
		Ledger:   book,
		Risk:     riskManager,
		Executor: executor,
		Prices:   binanceClient,
		Journal:  repo,
		Logger:   appLogger.With("engine"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	mon, err := monitor.New(monitor.Config{
		Addresses:    cfg.FollowAddresses,
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		FetchTimeout: cfg.FetchTimeout,
	}, feed, dedup, eng, appLogger.With("monitor"))
	if err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}

	// 9. Initialize Application Service
	service, err := app.NewCopyTradingService(app.Deps{
		Logger:        appLogger,
		Wallet:        w,
		Ledger:        book,
		Journal:       repo,
		Risk:          riskManager,
		Engine:        eng,
		Monitor:       mon,
		RestoreLedger: cfg.RestoreLedger,
		HandleSignals: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize copy trading service: %w", err)
	}

	// 10. Start the Service
	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Copy trading service exited with error")
		return err
	}

	appLogger.Info(ctx, "Application finished gracefully.")
	return nil
}
