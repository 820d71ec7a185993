package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service      ServiceConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Cache        CacheConfig
	Moderation   ModerationConfig
	Continuation ContinuationConfig
	Session      SessionConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	Backend    string // "memory" or "redis"
	DefaultTTL time.Duration
}

// ModerationConfig holds settings for the content moderation gate
type ModerationConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ContinuationConfig holds settings for the AI continuation service
type ContinuationConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// SessionConfig holds turn/vote policy knobs for live story sessions
type SessionConfig struct {
	TurnDeadline   time.Duration
	VoteWindow     time.Duration
	AITurnPolicy   string // CEL expression over {turn, parts, participants}
	WhatIfTTL      time.Duration
	EventMirror    bool // publish broadcast events to Redis for external observers
	ChoicesPerVote int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "storyloom"),
			User:        getEnv("POSTGRES_USER", "storyloom"),
			Password:    getEnv("POSTGRES_PASSWORD", "storyloom"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			Backend:    getEnv("CACHE_BACKEND", "memory"),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
		},
		Moderation: ModerationConfig{
			BaseURL: getEnv("MODERATION_BASE_URL", "http://localhost:8091"),
			Timeout: getEnvDuration("MODERATION_TIMEOUT", 10*time.Second),
		},
		Continuation: ContinuationConfig{
			BaseURL:     getEnv("CONTINUATION_BASE_URL", "http://localhost:8092"),
			Timeout:     getEnvDuration("CONTINUATION_TIMEOUT", 60*time.Second),
			MaxRetries:  getEnvInt("CONTINUATION_MAX_RETRIES", 3),
			BackoffBase: getEnvDuration("CONTINUATION_BACKOFF_BASE", 500*time.Millisecond),
		},
		Session: SessionConfig{
			TurnDeadline:   getEnvDuration("SESSION_TURN_DEADLINE", 90*time.Second),
			VoteWindow:     getEnvDuration("SESSION_VOTE_WINDOW", 30*time.Second),
			AITurnPolicy:   getEnv("SESSION_AI_TURN_POLICY", "turn % 3 == 0"),
			WhatIfTTL:      getEnvDuration("SESSION_WHAT_IF_TTL", 1*time.Hour),
			EventMirror:    getEnvBool("SESSION_EVENT_MIRROR", true),
			ChoicesPerVote: getEnvInt("SESSION_CHOICES_PER_VOTE", 3),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Continuation.MaxRetries < 0 {
		return fmt.Errorf("continuation max_retries must be >= 0")
	}

	if c.Session.TurnDeadline <= 0 || c.Session.VoteWindow <= 0 {
		return fmt.Errorf("turn deadline and vote window must be positive")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
