package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the sync backend.
type Config struct {
	Port        string
	Environment string

	MongoURI string
	MongoDB  string

	// Market data providers
	TushareToken           string
	ProviderTier           string  // free, basic, standard, premium, vip
	RateLimitSafetyMargin  float64 // fraction of the tier budget actually used
	ConsistencyTolerance   float64 // relative difference before a field counts as inconsistent
	ConsistencyCheckEnable bool

	// Scheduling
	MarketTimezone    string
	QuotePollSeconds  int
	SyncScheduleTime  string // "HH:MM", market timezone
	BackfillOnStartup bool
	BackfillOffHours  bool
}

var AppConfig *Config

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		MongoURI: getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGODB_DB", "stock_data"),

		TushareToken:           getEnv("TUSHARE_TOKEN", ""),
		ProviderTier:           getEnv("PROVIDER_TIER", "free"),
		RateLimitSafetyMargin:  getEnvFloat("RATE_LIMIT_SAFETY_MARGIN", 0.9),
		ConsistencyTolerance:   getEnvFloat("CONSISTENCY_TOLERANCE", 0.05),
		ConsistencyCheckEnable: getEnvBool("CONSISTENCY_CHECK_ENABLED", false),

		MarketTimezone:    getEnv("MARKET_TIMEZONE", "Asia/Shanghai"),
		QuotePollSeconds:  getEnvInt("QUOTE_POLL_SECONDS", 30),
		SyncScheduleTime:  getEnv("SYNC_SCHEDULE_TIME", "17:30"),
		BackfillOnStartup: getEnvBool("BACKFILL_ON_STARTUP", true),
		BackfillOffHours:  getEnvBool("BACKFILL_OFF_HOURS", false),
	}

	AppConfig = config
	return config, nil
}

// MaskURI masks a connection string for logging, preserving the scheme prefix
func MaskURI(uri string) string {
	if len(uri) <= 10 {
		return "***"
	}
	return uri[:10] + "***"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvFloat gets a float environment variable or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return b
}
