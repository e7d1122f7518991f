package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Secret box key for stored wearable logins (hex, base64 or raw).
	CredentialsKey string

	// Huami / Zepp
	HuamiUserAPI     string
	HuamiAccountAPI  string
	HuamiMifitAPI    string
	RemoteTimeout    time.Duration
	RemoteRatePerSec float64

	// Sync
	SleepDisplayOffset string
	SyncConcurrency    int
	SyncDayTimeout     time.Duration
	SyncRatePerMin     int
	AutoSyncInterval   time.Duration
	AutoSyncDaysBack   int
	WorkerCount        int

	// Archive (optional)
	ArchiveBucket string
	AWSRegion     string
	S3EndpointURL string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		Env:                getEnvOrDefault("ENV", "development"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:        mustGetEnv("DATABASE_URL"),
		RedisURL:           mustGetEnv("REDIS_URL"),
		JWTSecret:          mustGetEnv("JWT_SECRET"),
		CredentialsKey:     mustGetEnv("CREDENTIALS_KEY"),
		HuamiUserAPI:       getEnvOrDefault("HUAMI_USER_API", "https://api-user.huami.com"),
		HuamiAccountAPI:    getEnvOrDefault("HUAMI_ACCOUNT_API", "https://account.huami.com"),
		HuamiMifitAPI:      getEnvOrDefault("HUAMI_MIFIT_API", "https://api-mifit.huami.com"),
		RemoteTimeout:      getEnvAsDurationOrDefault("REMOTE_TIMEOUT", 20*time.Second),
		RemoteRatePerSec:   getEnvAsFloatOrDefault("REMOTE_RATE_PER_SEC", 2),
		SleepDisplayOffset: getEnvOrDefault("SLEEP_DISPLAY_OFFSET", "+05:30"),
		SyncConcurrency:    getEnvAsIntOrDefault("SYNC_CONCURRENCY", 1),
		SyncDayTimeout:     getEnvAsDurationOrDefault("SYNC_DAY_TIMEOUT", 20*time.Second),
		SyncRatePerMin:     getEnvAsIntOrDefault("SYNC_RATE_PER_MINUTE", 10),
		AutoSyncInterval:   getEnvAsDurationOrDefault("AUTO_SYNC_INTERVAL", 6*time.Hour),
		AutoSyncDaysBack:   getEnvAsIntOrDefault("AUTO_SYNC_DAYS_BACK", 2),
		WorkerCount:        getEnvAsIntOrDefault("WORKER_COUNT", 3),
		ArchiveBucket:      getEnvOrDefault("ARCHIVE_BUCKET", ""),
		AWSRegion:          getEnvOrDefault("AWS_REGION", "us-east-1"),
		S3EndpointURL:      getEnvOrDefault("S3_ENDPOINT_URL", ""),
		FrontendURL:        getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
