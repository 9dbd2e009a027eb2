// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/face-attendance/internal/facematch"
)

// Config is the service configuration read at startup.
type Config struct {
	Env      string // "dev" or "prod"
	LogLevel string

	HTTPAddr string
	GRPCAddr string

	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string

	Match MatchConfig

	SnapshotTTL    time.Duration // identity snapshot lifetime in Redis
	ResultTTL      time.Duration // cached check-in results
	RequestTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// MatchConfig tunes the face matcher and the identity snapshot size.
type MatchConfig struct {
	Threshold        float64
	StopAtFirstMatch bool
	MaxIdentities    int
}

// Development reports whether the service runs outside production.
func (c *Config) Development() bool {
	return c.Env != "prod"
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, which has the signature of os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	p := parser{lookup: lookup}

	cfg := &Config{
		Env:         p.getStr("APP_ENV", "dev"),
		LogLevel:    p.getStr("LOG_LEVEL", "info"),
		HTTPAddr:    p.getStr("HTTP_ADDR", ":8080"),
		GRPCAddr:    p.getStr("GRPC_ADDR", ":9090"),
		DatabaseDSN: p.getStr("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=attendance port=5432 sslmode=disable"),
		RedisAddr:   p.getStr("REDIS_ADDR", "redis:6379"),
		JWTSecret:   p.getStr("JWT_SECRET", ""),
		JWTAudience: p.getStr("JWT_AUDIENCE", ""),
		Match: MatchConfig{
			Threshold:        p.getFloat("MATCH_THRESHOLD", facematch.DefaultMatchThreshold),
			StopAtFirstMatch: p.getBool("STOP_AT_FIRST_MATCH", true),
			MaxIdentities:    p.getInt("MAX_IDENTITIES", 5000),
		},
		SnapshotTTL:    p.getDuration("SNAPSHOT_TTL", 30*time.Second),
		ResultTTL:      p.getDuration("RESULT_TTL", 5*time.Minute),
		RequestTimeout: p.getDuration("REQUEST_TIMEOUT", 10*time.Second),
		RateLimitRPS:   p.getFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: p.getInt("RATE_LIMIT_BURST", 10),
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.Match.Threshold <= 0 {
		return nil, fmt.Errorf("MATCH_THRESHOLD must be positive, got %v", cfg.Match.Threshold)
	}
	if cfg.Match.MaxIdentities <= 0 {
		return nil, fmt.Errorf("MAX_IDENTITIES must be positive, got %d", cfg.Match.MaxIdentities)
	}

	if cfg.Env == "prod" {
		if cfg.JWTSecret == "" {
			return nil, errors.New("prod: JWT_SECRET is required")
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	return cfg, nil
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) getStr(key, fallback string) string {
	if value, ok := p.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (p *parser) getFloat(key string, fallback float64) float64 {
	raw, ok := p.lookup(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) getInt(key string, fallback int) int {
	raw, ok := p.lookup(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) getBool(key string, fallback bool) bool {
	raw, ok := p.lookup(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := p.lookup(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
