package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"copyTrader/internal/adapters/logger" // Import the logger package for LogLevel
	"copyTrader/internal/extractor"
	"copyTrader/internal/risk"
)

const defaultConfigFile = "config.toml"

// Venue and dedup backend names.
const (
	VenuePaper   = "paper"
	VenueBinance = "binance"

	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	// Chain RPC
	RPCEndpoint     string
	RPCWSEndpoint   string // Derived from RPCEndpoint when unset
	FollowAddresses []string

	// Wallet
	WalletPrivateKey string

	// Trading Parameters
	AmountPerTrade    decimal.Decimal // Asset units bought or sold at 100% signal strength
	StopLossEnabled   bool
	StopLossPercent   decimal.Decimal
	TakeProfitEnabled bool
	TakeProfitPercent decimal.Decimal
	SlippageBps       int
	BuyPercent        decimal.Decimal // Signal strength assigned to leader buys
	QuoteMints        []string

	// Venue
	Venue                 string // "paper" or "binance"
	PaperSlippageBps      int
	APIKey                string
	SecretKey             string
	IsTestnet             bool
	BinanceSymbols        map[string]string // Mint -> futures symbol
	BinanceQtyPrecision   int32
	BinancePricePrecision int32

	// Database
	DBPath        string
	RestoreLedger bool

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Monitor
	Workers              int
	QueueSize            int
	FetchTimeout         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Dedup
	DedupBackend  string // "memory" or "redis"
	DedupTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Risk returns the risk manager settings.
func (c *Config) Risk() risk.RiskConfig {
	return risk.RiskConfig{
		AmountPerTrade: c.AmountPerTrade,
		StopLoss:       risk.Threshold{Enabled: c.StopLossEnabled, Percent: c.StopLossPercent},
		TakeProfit:     risk.Threshold{Enabled: c.TakeProfitEnabled, Percent: c.TakeProfitPercent},
		SlippageBps:    c.SlippageBps,
	}
}

// fileConfig is the TOML layout. Pointer fields distinguish "absent" from zero.
type fileConfig struct {
	RPC struct {
		Endpoint   string `toml:"endpoint"`
		WSEndpoint string `toml:"ws_endpoint"`
	} `toml:"rpc"`
	Wallets struct {
		FollowAddresses []string `toml:"follow_addresses"`
	} `toml:"wallets"`
	Trading struct {
		AmountPerTrade *decimal.Decimal `toml:"amount_per_trade"`
		SlippageBps    *int             `toml:"slippage_bps"`
		BuyPercent     *decimal.Decimal `toml:"buy_percent"`
		QuoteMints     []string         `toml:"quote_mints"`
		StopLoss       thresholdFile    `toml:"stop_loss"`
		TakeProfit     thresholdFile    `toml:"take_profit"`
	} `toml:"trading"`
}

type thresholdFile struct {
	Enabled    *bool            `toml:"enabled"`
	Percentage *decimal.Decimal `toml:"percentage"`
}

// LoadConfig loads configuration from the .env file, an optional TOML file
// (CONFIG_FILE, default config.toml) and environment variables, in increasing
// order of precedence.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := defaults()
	var errs []string // Collect validation errors

	if err := applyFile(cfg); err != nil {
		return nil, fmt.Errorf("configuration file: %w", err)
	}

	// Chain RPC
	cfg.RPCEndpoint = getEnv("RPC_ENDPOINT", cfg.RPCEndpoint)
	if cfg.RPCEndpoint == "" {
		errs = append(errs, "RPC_ENDPOINT must be set")
	}
	cfg.RPCWSEndpoint = getEnv("RPC_WS_ENDPOINT", cfg.RPCWSEndpoint)
	if cfg.RPCWSEndpoint == "" && cfg.RPCEndpoint != "" {
		cfg.RPCWSEndpoint = deriveWSEndpoint(cfg.RPCEndpoint)
	}

	cfg.FollowAddresses = getEnvAsList("FOLLOW_ADDRESSES", cfg.FollowAddresses)
	if len(cfg.FollowAddresses) == 0 {
		errs = append(errs, "FOLLOW_ADDRESSES must list at least one address")
	}
	for _, addr := range cfg.FollowAddresses {
		if err := validateAddress(addr); err != nil {
			errs = append(errs, fmt.Sprintf("invalid follow address %q: %v", addr, err))
		}
	}

	// Wallet
	cfg.WalletPrivateKey = getEnv("WALLET_PRIVATE_KEY", "")
	if cfg.WalletPrivateKey == "" {
		errs = append(errs, "WALLET_PRIVATE_KEY must be set")
	}

	// Trading Parameters
	var err error
	cfg.AmountPerTrade, err = getEnvAsDecimal("AMOUNT_PER_TRADE", cfg.AmountPerTrade)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid AMOUNT_PER_TRADE: %v", err))
	}
	cfg.StopLossEnabled = getEnvAsBool("STOP_LOSS_ENABLED", cfg.StopLossEnabled)
	cfg.StopLossPercent, err = getEnvAsDecimal("STOP_LOSS_PERCENT", cfg.StopLossPercent)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PERCENT: %v", err))
	}
	cfg.TakeProfitEnabled = getEnvAsBool("TAKE_PROFIT_ENABLED", cfg.TakeProfitEnabled)
	cfg.TakeProfitPercent, err = getEnvAsDecimal("TAKE_PROFIT_PERCENT", cfg.TakeProfitPercent)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PERCENT: %v", err))
	}
	cfg.SlippageBps, err = getEnvAsIntRequired("SLIPPAGE_BPS", cfg.SlippageBps)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_BPS: %v", err))
	}
	if err := cfg.Risk().Validate(); err != nil {
		errs = append(errs, strings.ReplaceAll(err.Error(), "\n", "; "))
	}

	cfg.BuyPercent, err = getEnvAsDecimal("BUY_PERCENT", cfg.BuyPercent)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BUY_PERCENT: %v", err))
	} else if !cfg.BuyPercent.IsPositive() || cfg.BuyPercent.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, "BUY_PERCENT must be in (0, 100]")
	}
	cfg.QuoteMints = getEnvAsList("QUOTE_MINTS", cfg.QuoteMints)

	// Venue
	cfg.Venue = strings.ToLower(getEnv("VENUE", cfg.Venue))
	cfg.PaperSlippageBps, err = getEnvAsIntRequired("PAPER_SLIPPAGE_BPS", cfg.PaperSlippageBps)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_SLIPPAGE_BPS: %v", err))
	} else if cfg.PaperSlippageBps < 0 {
		errs = append(errs, "PAPER_SLIPPAGE_BPS cannot be negative")
	}
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.BinanceSymbols, err = getEnvAsMap("BINANCE_SYMBOLS")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BINANCE_SYMBOLS: %v", err))
	}
	qtyPrecision, err := getEnvAsIntRequired("BINANCE_QTY_PRECISION", int(cfg.BinanceQtyPrecision))
	if err != nil || qtyPrecision < 0 {
		errs = append(errs, "BINANCE_QTY_PRECISION must be a non-negative integer")
	}
	cfg.BinanceQtyPrecision = int32(qtyPrecision)
	pricePrecision, err := getEnvAsIntRequired("BINANCE_PRICE_PRECISION", int(cfg.BinancePricePrecision))
	if err != nil || pricePrecision < 0 {
		errs = append(errs, "BINANCE_PRICE_PRECISION must be a non-negative integer")
	}
	cfg.BinancePricePrecision = int32(pricePrecision)

	switch cfg.Venue {
	case VenuePaper:
	case VenueBinance:
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set for the binance venue")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set for the binance venue")
		}
	default:
		errs = append(errs, fmt.Sprintf("VENUE must be %q or %q, got %q", VenuePaper, VenueBinance, cfg.Venue))
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.RestoreLedger = getEnvAsBool("RESTORE_LEDGER", cfg.RestoreLedger)

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Monitor
	cfg.Workers, err = getEnvAsIntRequired("WORKERS", cfg.Workers)
	if err != nil || cfg.Workers <= 0 {
		errs = append(errs, "WORKERS must be a positive integer")
	}
	cfg.QueueSize, err = getEnvAsIntRequired("QUEUE_SIZE", cfg.QueueSize)
	if err != nil || cfg.QueueSize <= 0 {
		errs = append(errs, "QUEUE_SIZE must be a positive integer")
	}
	fetchTimeoutSeconds := getEnvAsInt("FETCH_TIMEOUT_SECONDS", int(cfg.FetchTimeout/time.Second))
	if fetchTimeoutSeconds <= 0 {
		errs = append(errs, "FETCH_TIMEOUT_SECONDS must be positive")
	}
	cfg.FetchTimeout = time.Duration(fetchTimeoutSeconds) * time.Second

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", int(cfg.ReconnectDelay/time.Second))
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)
	if cfg.MaxReconnectAttempts <= 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS must be positive")
	}

	// Dedup
	cfg.DedupBackend = strings.ToLower(getEnv("DEDUP_BACKEND", cfg.DedupBackend))
	dedupTTLSeconds := getEnvAsInt("DEDUP_TTL_SECONDS", int(cfg.DedupTTL/time.Second))
	if dedupTTLSeconds <= 0 {
		errs = append(errs, "DEDUP_TTL_SECONDS must be positive")
	}
	cfg.DedupTTL = time.Duration(dedupTTLSeconds) * time.Second
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	switch cfg.DedupBackend {
	case DedupMemory:
	case DedupRedis:
		if cfg.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR must be set for the redis dedup backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("DEDUP_BACKEND must be %q or %q, got %q", DedupMemory, DedupRedis, cfg.DedupBackend))
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		AmountPerTrade:        decimal.NewFromInt(1),
		StopLossPercent:       decimal.NewFromInt(10),
		TakeProfitPercent:     decimal.NewFromInt(25),
		SlippageBps:           100,
		BuyPercent:            decimal.NewFromInt(100),
		QuoteMints:            extractor.DefaultQuoteMints(),
		Venue:                 VenuePaper,
		BinanceQtyPrecision:   3,
		BinancePricePrecision: 2,
		DBPath:                "./data/copy_trader.db",
		RestoreLedger:         true,
		Workers:               4,
		QueueSize:             256,
		FetchTimeout:          15 * time.Second,
		ReconnectDelay:        5 * time.Second,
		MaxReconnectAttempts:  10,
		DedupBackend:          DedupMemory,
		DedupTTL:              24 * time.Hour,
	}
}

// applyFile overlays the TOML file on cfg. A missing default file is not an
// error; a missing CONFIG_FILE is.
func applyFile(cfg *Config) error {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		path = defaultConfigFile
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	if fc.RPC.Endpoint != "" {
		cfg.RPCEndpoint = fc.RPC.Endpoint
	}
	if fc.RPC.WSEndpoint != "" {
		cfg.RPCWSEndpoint = fc.RPC.WSEndpoint
	}
	if len(fc.Wallets.FollowAddresses) > 0 {
		cfg.FollowAddresses = fc.Wallets.FollowAddresses
	}

	t := fc.Trading
	if t.AmountPerTrade != nil {
		cfg.AmountPerTrade = *t.AmountPerTrade
	}
	if t.SlippageBps != nil {
		cfg.SlippageBps = *t.SlippageBps
	}
	if t.BuyPercent != nil {
		cfg.BuyPercent = *t.BuyPercent
	}
	if len(t.QuoteMints) > 0 {
		cfg.QuoteMints = t.QuoteMints
	}
	if t.StopLoss.Enabled != nil {
		cfg.StopLossEnabled = *t.StopLoss.Enabled
	}
	if t.StopLoss.Percentage != nil {
		cfg.StopLossPercent = *t.StopLoss.Percentage
	}
	if t.TakeProfit.Enabled != nil {
		cfg.TakeProfitEnabled = *t.TakeProfit.Enabled
	}
	if t.TakeProfit.Percentage != nil {
		cfg.TakeProfitPercent = *t.TakeProfit.Percentage
	}
	return nil
}

func deriveWSEndpoint(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}

// validateAddress checks that addr is a base58 encoded 32-byte public key.
func validateAddress(addr string) error {
	_, err := solana.PublicKeyFromBase58(addr)
	return err
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsMap parses "k1=v1,k2=v2".
func getEnvAsMap(key string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range getEnvAsList(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed pair %q, want key=value", pair)
		}
		out[k] = v
	}
	return out, nil
}
