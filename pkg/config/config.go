package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the service.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"

	// Market data
	UseMockFeed  bool
	FeedSymbols  []string
	PriceMaxAge  time.Duration
	BinanceREST  string
	BinanceWS    string
	BalanceAsset string

	// Exchanges
	ExchangeTimeout time.Duration

	// Execution
	DryRun               bool
	DryRunInitialBalance float64
	DryRunFeeRate        float64 // decimal (e.g. 0.0004 = 4 bps)
	DryRunSlippageBps    float64

	// Auto-trading defaults file (YAML). Empty means built-in defaults.
	AutoTradingConfigPath string

	// Per-user engines unused for this long are dropped.
	UserIdleTTL time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/signal-trader.db")
	}

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DBPath:                dbPath,
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UseMockFeed:           getEnvBool("USE_MOCK_FEED", false),
		FeedSymbols:           upper(splitAndTrim(getEnv("FEED_SYMBOLS", "BTCUSDT,ETHUSDT"))),
		PriceMaxAge:           getEnvDuration("PRICE_MAX_AGE", 30*time.Second),
		BinanceREST:           getEnv("BINANCE_REST_URL", ""),
		BinanceWS:             getEnv("BINANCE_WS_URL", ""),
		BalanceAsset:          strings.ToUpper(getEnv("BALANCE_ASSET", "USDT")),
		ExchangeTimeout:       getEnvDuration("EXCHANGE_TIMEOUT", 15*time.Second),
		DryRun:                getEnvBool("DRY_RUN", false),
		DryRunInitialBalance:  getEnvFloat("DRY_RUN_INITIAL_BALANCE", 10000.0),
		DryRunFeeRate:         getEnvFloat("DRY_RUN_FEE_RATE", 0.0004),
		DryRunSlippageBps:     getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		AutoTradingConfigPath: getEnv("AUTOTRADING_CONFIG", ""),
		UserIdleTTL:           getEnvDuration("USER_IDLE_TTL", 30*time.Minute),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func upper(in []string) []string {
	for i := range in {
		in[i] = strings.ToUpper(in[i])
	}
	return in
}
