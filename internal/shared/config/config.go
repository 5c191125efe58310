package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all static configuration for the gateway
type Config struct {
	// Server
	Port        string
	Env         string
	CORSOrigins []string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Auth
	SecretKey string

	// Tier limits used when system_config has no override
	GuestRPM         int
	UserRPM          int
	LogRetentionDays int

	// Rate limiter
	RateWindow  time.Duration
	RateIdleTTL time.Duration
	RateStatsOn bool

	// Upstream
	UpstreamTimeout time.Duration
	ProbeTimeout    time.Duration

	// Caching / refresh
	ChannelCacheTTL time.Duration
	SettingsRefresh time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		CORSOrigins:      getEnvList("CORS_ORIGINS", []string{"*"}),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		SecretKey:        getEnv("SECRET_KEY", ""),
		GuestRPM:         getEnvInt("GUEST_RPM", 10),
		UserRPM:          getEnvInt("USER_RPM", 60),
		LogRetentionDays: getEnvInt("LOG_RETENTION_DAYS", 90),
		RateWindow:       getEnvSeconds("RATE_WINDOW_SECONDS", 60),
		RateIdleTTL:      getEnvSeconds("RATE_IDLE_SECONDS", 300),
		RateStatsOn:      getEnvBool("RATE_STATS_ENABLED", true),
		UpstreamTimeout:  getEnvSeconds("UPSTREAM_TIMEOUT_SECONDS", 60),
		ProbeTimeout:     getEnvSeconds("PROBE_TIMEOUT_SECONDS", 10),
		ChannelCacheTTL:  getEnvSeconds("CHANNEL_CACHE_TTL_SECONDS", 5),
		SettingsRefresh:  getEnvSeconds("SETTINGS_REFRESH_SECONDS", 10),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}
	if cfg.GuestRPM < 1 || cfg.UserRPM < 1 {
		return nil, fmt.Errorf("GUEST_RPM and USER_RPM must be >= 1")
	}
	if cfg.RateWindow < time.Second {
		return nil, fmt.Errorf("RATE_WINDOW_SECONDS must be >= 1")
	}

	return cfg, nil
}

// Defaults returns the fallback tier settings derived from static config.
func (c *Config) Defaults() Settings {
	return Settings{
		GuestRPM:         c.GuestRPM,
		UserRPM:          c.UserRPM,
		LogRetentionDays: c.LogRetentionDays,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSuffix(strings.TrimSpace(item), "/")
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
