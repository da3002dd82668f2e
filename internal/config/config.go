// Package config loads the portfolio service configuration from the
// environment, an optional .env file and an optional YAML price-id map.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCoinGeckoSimplePriceURL = "https://api.coingecko.com/api/v3/simple/price"
	DefaultCoinGeckoAPIURL         = "https://api.coingecko.com/api/v3"
	DefaultDefiLlamaPriceURL       = "https://coins.llama.fi/prices/current"
	DefaultDexScreenerSearchURL    = "https://api.dexscreener.com/latest/dex/search"
	DefaultIndexerURL              = "https://mainnet-idx.algonode.cloud"
	DefaultAlgodURL                = "https://mainnet-api.algonode.cloud"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Indexer      IndexerConfig
	Algod        AlgodConfig
	Price        PriceConfig
	Defi         DefiConfig
	Verification VerificationConfig
	RateLimit    RateLimitConfig
	Refresh      RefreshConfig
	Logging      LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// IndexerConfig points at the Algorand indexer REST API
type IndexerConfig struct {
	URL         string
	FallbackURL string
	Token       string
	TxLimit     int
	RPS         int
	Timeout     time.Duration
}

// AlgodConfig points at the algod node used to submit signed transactions
type AlgodConfig struct {
	URL   string
	Token string
}

// PriceConfig holds the upstream price endpoints and the id map overrides
type PriceConfig struct {
	ConfiguredURL  string
	DefiLlamaURL   string
	DexScreenerURL string
	CoinGeckoURL   string
	CoinGeckoKey   string
	AssetIDMap     map[string]string
	CacheBackend   string
	RequestTimeout time.Duration
}

// DefiConfig lists the application ids each protocol adapter watches
type DefiConfig struct {
	TinymanAppIDs []uint64
	FolksAppIDs   []uint64
	RetiAppIDs    []uint64
}

// VerificationConfig controls wallet ownership challenges
type VerificationConfig struct {
	Receiver     string
	MaxAttempts  int
	RetryDelay   time.Duration
	Grace        time.Duration
	ChallengeTTL time.Duration
}

// RateLimitConfig holds the public API limiter window
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// RefreshConfig holds manual and scheduled refresh settings
type RefreshConfig struct {
	ManualDailyMax int
	ExemptEmail    string
	CronSecret     string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "algo_portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", true),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "algo_portfolio"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Indexer: IndexerConfig{
			URL:         getEnv("ALGORAND_INDEXER_URL", DefaultIndexerURL),
			FallbackURL: getEnv("ALGORAND_INDEXER_FALLBACK_URL", ""),
			Token:       getEnv("ALGORAND_INDEXER_TOKEN", ""),
			TxLimit:     getEnvAsInt("INDEXER_TX_LIMIT", 500),
			RPS:         getEnvAsInt("INDEXER_RPS", 10),
			Timeout:     getEnvAsDuration("INDEXER_TIMEOUT", 15*time.Second),
		},
		Algod: AlgodConfig{
			URL:   getEnv("ALGORAND_ALGOD_URL", DefaultAlgodURL),
			Token: getEnv("ALGORAND_ALGOD_TOKEN", ""),
		},
		Price: PriceConfig{
			ConfiguredURL:  getEnv("PRICE_API_URL", DefaultCoinGeckoSimplePriceURL),
			DefiLlamaURL:   getEnv("DEFI_LLAMA_PRICE_API_URL", DefaultDefiLlamaPriceURL),
			DexScreenerURL: getEnv("DEXSCREENER_PRICE_API_URL", DefaultDexScreenerSearchURL),
			CoinGeckoURL:   getEnv("COINGECKO_API_URL", DefaultCoinGeckoAPIURL),
			CoinGeckoKey:   getEnv("COINGECKO_API_KEY", ""),
			CacheBackend:   strings.ToLower(getEnv("PRICE_CACHE_BACKEND", "memory")),
			RequestTimeout: getEnvAsDuration("PRICE_REQUEST_TIMEOUT", 10*time.Second),
		},
		Defi: DefiConfig{
			TinymanAppIDs: parseAppIDs(getEnv("TINYMAN_APP_IDS", "")),
			FolksAppIDs:   parseAppIDs(getEnv("FOLKS_APP_IDS", "")),
			RetiAppIDs:    parseAppIDs(getEnv("RETI_APP_IDS", "")),
		},
		Verification: VerificationConfig{
			Receiver:     getEnv("ALGORAND_VERIFICATION_RECEIVER", ""),
			MaxAttempts:  getEnvAsInt("VERIFICATION_MAX_ATTEMPTS", 6),
			RetryDelay:   getEnvAsDuration("VERIFICATION_RETRY_DELAY", 1200*time.Millisecond),
			Grace:        getEnvAsDuration("VERIFICATION_GRACE", 120*time.Second),
			ChallengeTTL: getEnvAsDuration("VERIFICATION_CHALLENGE_TTL", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Window:      time.Duration(getEnvAsInt("PUBLIC_RATE_LIMIT_WINDOW_MS", 60000)) * time.Millisecond,
			MaxRequests: getEnvAsInt("PUBLIC_RATE_LIMIT_MAX", 60),
		},
		Refresh: RefreshConfig{
			ManualDailyMax: getEnvAsInt("MANUAL_REFRESH_DAILY_MAX", 3),
			ExemptEmail:    strings.ToLower(strings.TrimSpace(getEnv("REFRESH_EXEMPT_EMAIL", ""))),
			CronSecret:     getEnv("CRON_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	idMap, err := loadAssetIDMap(getEnv("PRICE_ID_MAP_FILE", ""), getEnv("ASA_PRICE_MAP_JSON", "{}"))
	if err != nil {
		return nil, err
	}
	config.Price.AssetIDMap = idMap

	return config, nil
}

// priceIDMapFile is the YAML layout of PRICE_ID_MAP_FILE:
//
//	assets:
//	  "31566704": usd-coin
type priceIDMapFile struct {
	Assets map[string]string `yaml:"assets"`
}

// loadAssetIDMap merges the YAML map file (if any) with the JSON env map.
// Entries from the env override the file. A malformed env value is ignored.
func loadAssetIDMap(path, rawJSON string) (map[string]string, error) {
	merged := make(map[string]string)

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading price id map file: %w", err)
		}
		var file priceIDMapFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("error parsing price id map file: %w", err)
		}
		for assetID, providerID := range file.Assets {
			addMapping(merged, assetID, providerID)
		}
	}

	var fromEnv map[string]string
	if err := json.Unmarshal([]byte(rawJSON), &fromEnv); err == nil {
		for assetID, providerID := range fromEnv {
			addMapping(merged, assetID, providerID)
		}
	}

	return merged, nil
}

func addMapping(m map[string]string, assetID, providerID string) {
	assetID = strings.TrimSpace(assetID)
	providerID = strings.TrimSpace(providerID)
	if assetID == "" || providerID == "" {
		return
	}
	m[assetID] = providerID
}

// parseAppIDs parses a comma-separated list keeping positive integers only
func parseAppIDs(raw string) []uint64 {
	var ids []uint64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
