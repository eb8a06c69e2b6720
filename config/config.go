package config

import (
	"os"
	"strconv"
	"time"

	"tripledger/validator"

	"github.com/joho/godotenv"
)

// Config holds the recognized configuration surface of the data layer.
type Config struct {
	DatabasePath       string        `env:"DB_PATH" validate:"required"`
	PoolSize           int           `env:"DB_POOL_SIZE" validate:"gte=1,lte=64"`
	CacheSize          int           `env:"QUERY_CACHE_SIZE" validate:"gte=1"`
	CacheEnabled       bool          `env:"QUERY_CACHE_ENABLED"`
	CacheTTL           time.Duration `env:"QUERY_CACHE_TTL" validate:"gte=0"`
	SlowQueryThreshold time.Duration `env:"SLOW_QUERY_THRESHOLD" validate:"gte=0"`
	MigrationsDir      string        `env:"MIGRATIONS_DIR" validate:"required"`
	Env                string        `env:"ENV" validate:"oneof=development production test"`
	LogLevel           string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// Load reads configuration from the environment (and a .env file when
// present) and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:       GetEnv("DB_PATH", "./data/tripledger.db"),
		PoolSize:           GetEnvInt("DB_POOL_SIZE", 5),
		CacheSize:          GetEnvInt("QUERY_CACHE_SIZE", 100),
		CacheEnabled:       GetEnvBool("QUERY_CACHE_ENABLED", true),
		CacheTTL:           GetEnvDuration("QUERY_CACHE_TTL", 5*time.Minute),
		SlowQueryThreshold: GetEnvDuration("SLOW_QUERY_THRESHOLD", 100*time.Millisecond),
		MigrationsDir:      GetEnv("MIGRATIONS_DIR", "./migrations"),
		Env:                GetEnv("ENV", "development"),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
	}

	if err := validator.New().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
