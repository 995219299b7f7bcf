package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type HTTP struct {
	Addr           string
	AllowedOrigins []string
}

type Storage struct {
	// DataDir holds the pebble database.
	DataDir string
}

type Engine struct {
	// DefaultDepth is the number of price levels returned by book
	// snapshots when the caller does not ask for a specific depth.
	DefaultDepth int
	// PriceBand is the maximum fraction an order's limit price may
	// deviate from the listing unit price, as a decimal string.
	// "0.10" allows ±10%.
	PriceBand string
}

type Feed struct {
	// Brokers is the kafka bootstrap list. Empty disables the trade feed.
	Brokers []string
	Topic   string
}

type Config struct {
	HTTP    HTTP
	Storage Storage
	Engine  Engine
	Feed    Feed
	LogFile string
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Storage: Storage{
			DataDir: "data",
		},
		Engine: Engine{
			DefaultDepth: 20,
			PriceBand:    "0.10",
		},
		Feed: Feed{
			Brokers: nil,
			Topic:   "trades",
		},
		LogFile: "",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.HTTP.AllowedOrigins = strings.Split(origins, ",")
	}

	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if depth := os.Getenv("SNAPSHOT_DEPTH"); depth != "" {
		if n, err := strconv.Atoi(depth); err == nil && n > 0 {
			cfg.Engine.DefaultDepth = n
		}
	}
	cfg.Engine.PriceBand = getEnv("PRICE_BAND", cfg.Engine.PriceBand)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Feed.Brokers = strings.Split(brokers, ",")
	}
	cfg.Feed.Topic = getEnv("KAFKA_TOPIC", cfg.Feed.Topic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
