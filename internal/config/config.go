package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	Env               string
	DBDriver          string
	DBSource          string
	AuthKey           string
	KeyDirFile        string
	TokenTTLMin       int
	MaxSkewSeconds    int
	HubShards         int
	RateLimitBurst    int
	RateLimitRefillMs int
}

func Load() *Config {
	log.Println("[CONFIG] Attempting to load .env file...")

	err := godotenv.Load()
	if err != nil {
		log.Println("[CONFIG] ℹ️ No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] ✅ Successfully loaded .env file")
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("APP_ENV", "development"),
		DBDriver:          getEnv("DB_DRIVER", "pgx"),
		DBSource:          getEnv("DB_SOURCE", ""),
		AuthKey:           getEnv("AUTH_KEY", ""),
		KeyDirFile:        getEnv("KEYDIR_FILE", ""),
		TokenTTLMin:       getEnvInt("TOKEN_TTL_MIN", 15),
		MaxSkewSeconds:    getEnvInt("MAX_SKEW_SECONDS", 90),
		HubShards:         getEnvInt("HUB_SHARDS", 4),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 20),
		RateLimitRefillMs: getEnvInt("RATE_LIMIT_REFILL_MS", 500),
	}

	log.Printf("[CONFIG] Environment: %s", cfg.Env)
	log.Printf("[CONFIG] Target Port: %s", cfg.Port)

	if cfg.DBSource == "" {
		log.Fatal("[CONFIG] ❌ CRITICAL: DB_SOURCE is missing. Server cannot start.")
	} else {
		log.Printf("[CONFIG] Database source detected: %s (driver: %s)", maskDBSource(cfg.DBSource), cfg.DBDriver)
	}

	if cfg.AuthKey == "" {
		log.Fatal("[CONFIG] ❌ CRITICAL: AUTH_KEY (ticket signing secret) is missing. Security cannot be initialized.")
	} else {
		log.Println("[CONFIG] ✅ AUTH_KEY loaded successfully")
	}

	if cfg.KeyDirFile == "" {
		log.Println("[CONFIG] ⚠️  KEYDIR_FILE not set: any well-formed ed25519 key may sign requests")
	}

	log.Println("[CONFIG] All configuration variables successfully initialized")
	return cfg
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("[CONFIG] ⚠️  Variable %s not found, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvInt(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		log.Printf("[CONFIG] ⚠️  Variable %s not found, using default: %d", key, defaultValue)
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[CONFIG] ⚠️  Variable %s is not a number (%q), using default: %d", key, raw, defaultValue)
		return defaultValue
	}
	return n
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		// SQLite paths carry no credentials to hide.
		return dsn
	}
	scheme := "****:****@"
	if i := strings.Index(parts[0], "://"); i >= 0 {
		scheme = parts[0][:i+3] + "****:****@"
	}
	return scheme + strings.Join(parts[1:], "@")
}
