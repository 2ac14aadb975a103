package params

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings for brokerd.
// Priority: ENV > .env file > struct defaults.
type Config struct {
	// API
	APIAddr     string   `env:"API_ADDR" envDefault:":8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Ledger store backend: memory | pebble | postgres
	DBBackend   string `env:"DB_BACKEND" envDefault:"pebble"`
	DBPath      string `env:"DB_PATH" envDefault:"data/ledger.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Market data oracle: yahoo | static
	PriceOracle string `env:"PRICE_ORACLE" envDefault:"yahoo"`

	// Accounts
	StartingBalance string `env:"STARTING_BALANCE" envDefault:"100000"`

	// Analytics
	RiskFreeRate   float64       `env:"RISK_FREE_RATE" envDefault:"0.03"`
	SectorCacheTTL time.Duration `env:"SECTOR_CACHE_TTL" envDefault:"24h"`

	// Optional Kafka trade feed (disabled when brokers list is empty)
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"broker.trades"`

	LogFile string `env:"LOG_FILE"`
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory, missing file is fine
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
