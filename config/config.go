package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	LogLevel       string
	Operator       OperatorConfig
	Redis          RedisConfig
	Chat           ChatConfig
}

// OperatorConfig holds the credentials for the operator API (stats, kick).
// Participants never authenticate.
type OperatorConfig struct {
	Username string
	Password string
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

const (
	DefaultMaxMessageLength = 2000
	DefaultSendBuffer       = 256
)

type ChatConfig struct {
	MaxMessageLength int // runes; longer chat:message text is truncated
	SendBuffer       int // per-peer outbound queue length
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Operator: OperatorConfig{
			Username: getEnv("OPERATOR_USERNAME", "operator"),
			Password: getEnv("OPERATOR_PASSWORD", "change-me-in-production"),
		},
		Redis: RedisConfig{
			Enabled:     getEnvBool("REDIS_ENABLED", true),
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			PresenceTTL: getEnvDuration("PRESENCE_TTL", 24*time.Hour),
		},
		Chat: ChatConfig{
			MaxMessageLength: getEnvPositiveInt("MAX_MESSAGE_LENGTH", DefaultMaxMessageLength),
			SendBuffer:       getEnvPositiveInt("SEND_BUFFER", DefaultSendBuffer),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

// getEnvPositiveInt falls back to defaultValue for anything below 1.
func getEnvPositiveInt(key string, defaultValue int) int {
	if n := getEnvInt(key, defaultValue); n > 0 {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
