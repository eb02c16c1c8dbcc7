// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int

	DBDriver string // sqlite3, postgres or pgx
	DBDSN    string

	JWTSecret     string
	JWTExpiration time.Duration

	AdminEmail    string
	AdminPassword string

	RedisAddr     string // empty selects the in-memory cache
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	LogLevel  string
	LogFormat string // json or console

	RateLimitRPS   float64
	RateLimitBurst int

	EnableScenarios bool
}

// Load reads .env (if present) and then the process environment.
// Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return FromEnv(os.LookupEnv), nil
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(lookup func(string) (string, bool)) *Config {
	e := env{lookup: lookup}
	return &Config{
		ServerPort: e.int("SERVER_PORT", 8080),

		DBDriver: e.string("DB_DRIVER", "sqlite3"),
		DBDSN:    e.string("DB_DSN", "parking.db"),

		JWTSecret:     e.string("JWT_SECRET", "change-me-in-production"),
		JWTExpiration: time.Duration(e.int("JWT_EXPIRATION_HOURS", 24)) * time.Hour,

		AdminEmail:    e.string("ADMIN_EMAIL", "admin@email.com"),
		AdminPassword: e.string("ADMIN_PASSWORD", "admin"),

		RedisAddr:     e.string("REDIS_ADDR", ""),
		RedisPassword: e.string("REDIS_PASSWORD", ""),
		RedisDB:       e.int("REDIS_DB", 0),
		CacheTTL:      time.Duration(e.int("CACHE_TTL_SECONDS", 5)) * time.Second,

		LogLevel:  e.string("LOG_LEVEL", "info"),
		LogFormat: e.string("LOG_FORMAT", "json"),

		RateLimitRPS:   e.float("RATE_LIMIT_RPS", 5),
		RateLimitBurst: e.int("RATE_LIMIT_BURST", 10),

		EnableScenarios: e.bool("ENABLE_SCENARIOS", false),
	}
}

type env struct {
	lookup func(string) (string, bool)
}

func (e env) string(key, fallback string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e env) int(key string, fallback int) int {
	if n, err := strconv.Atoi(e.string(key, "")); err == nil {
		return n
	}
	return fallback
}

func (e env) float(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(e.string(key, ""), 64); err == nil {
		return f
	}
	return fallback
}

func (e env) bool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(e.string(key, "")); err == nil {
		return b
	}
	return fallback
}
