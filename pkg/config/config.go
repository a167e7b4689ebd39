package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the trader core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Binance
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Twitter
	TwitterBearerToken string
	TwitterAPIBase     string
	TwitterStreamURL   string

	// Stream restart policy
	StreamBackoff     time.Duration // initial restart delay after a rate-limit disconnect
	StreamBackoffCeil time.Duration // backoff stops doubling past this

	// Price tracking
	PriceTrackInterval time.Duration

	// Seed file for channels/accounts/filters (optional)
	SeedPath string

	// Trading defaults
	DefaultBuySize float64
	DefaultQuote   string
	QuoteAllowList []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/traderbird.db"),
		BinanceAPIKey:      os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:   os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:     getEnv("BINANCE_TESTNET", "false") == "true",
		TwitterBearerToken: os.Getenv("TWITTER_BEARER_TOKEN"),
		TwitterAPIBase:     getEnv("TWITTER_API_BASE", "https://api.twitter.com/1.1"),
		TwitterStreamURL:   getEnv("TWITTER_STREAM_URL", "wss://stream.twitter.com/1.1/statuses/filter"),
		StreamBackoff:      getEnvDuration("STREAM_BACKOFF", time.Minute),
		StreamBackoffCeil:  getEnvDuration("STREAM_BACKOFF_CEIL", time.Hour),
		PriceTrackInterval: getEnvDuration("PRICE_TRACK_INTERVAL", time.Minute),
		SeedPath:           getEnv("SEED_PATH", ""),
		DefaultBuySize:     getEnvFloat("DEFAULT_BUY_SIZE", 1.0),
		DefaultQuote:       strings.ToUpper(getEnv("DEFAULT_QUOTE", "USDT")),
		QuoteAllowList:     splitAndTrim(getEnv("QUOTE_ALLOW_LIST", "BTC,ETH,BNB,USDT")),
	}

	if cfg.DefaultBuySize <= 0 || cfg.DefaultBuySize > 1 {
		return nil, fmt.Errorf("DEFAULT_BUY_SIZE must be in (0,1], got %v", cfg.DefaultBuySize)
	}
	if !cfg.QuoteAllowed(cfg.DefaultQuote) {
		return nil, fmt.Errorf("DEFAULT_QUOTE %q is not in the quote allow-list", cfg.DefaultQuote)
	}

	return cfg, nil
}

// QuoteAllowed reports whether a quote currency is on the allow-list.
func (c *Config) QuoteAllowed(quote string) bool {
	quote = strings.ToUpper(quote)
	for _, q := range c.QuoteAllowList {
		if strings.ToUpper(q) == quote {
			return true
		}
	}
	return false
}

// SeedChannel describes one channel entry in the YAML seed file.
type SeedChannel struct {
	ChatID   string   `yaml:"chat_id"`
	BuySize  float64  `yaml:"buy_size"`
	BuyQuote string   `yaml:"buy_quote"`
	Accounts []string `yaml:"accounts"`
	Filters  []string `yaml:"filters"`
}

// SeedFile is the top-level YAML structure.
type SeedFile struct {
	Channels []SeedChannel `yaml:"channels"`
}

// LoadSeed reads channel seeds from a YAML file.
func LoadSeed(path string) ([]SeedChannel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	return file.Channels, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
