package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret is the placeholder used when JWT_SECRET is unset
const DefaultJWTSecret = "your-secret-key-change-in-production"

// ErrInsecureJWTSecret is returned by CheckSecrets for the placeholder secret
var ErrInsecureJWTSecret = errors.New("JWT_SECRET is unset or uses the default value")

// Config 应用配置
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string

	// Timezone that calendar dates are computed in
	Timezone string
	Location *time.Location

	TuningPath string
	Tuning     *Tuning

	// External AI classifier; empty URL disables it
	AIClassifierURL string
	AIClassifierKey string

	RateLimitRPS   float64
	RateLimitBurst int

	LogFormat string
	Debug     bool
}

// Load 加载配置. Values from .env.local are used when the variable is not
// already set in the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")

	cfg := &Config{
		Port:            getEnv("PORT", ":8080"),
		DBPath:          getEnv("DB_PATH", "./data/commute/trips.db"),
		JWTSecret:       getEnv("JWT_SECRET", DefaultJWTSecret),
		Timezone:        getEnv("TIMEZONE", "UTC"),
		TuningPath:      os.Getenv("TUNING_PATH"),
		AIClassifierURL: os.Getenv("AI_CLASSIFIER_URL"),
		AIClassifierKey: os.Getenv("AI_CLASSIFIER_KEY"),
		LogFormat:       os.Getenv("LOG_FORMAT"),
		Debug:           os.Getenv("DEBUG") == "YES",
	}

	var err error
	if cfg.RateLimitRPS, err = strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "20"), 64); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = strconv.Atoi(getEnv("RATE_LIMIT_BURST", "200")); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	if cfg.TuningPath != "" {
		cfg.Tuning, err = LoadTuning(cfg.TuningPath)
	} else {
		cfg.Tuning, err = DefaultTuning()
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// CheckSecrets refuses the placeholder JWT secret outside debug mode
func (c *Config) CheckSecrets() error {
	if c.JWTSecret == DefaultJWTSecret && !c.Debug {
		return fmt.Errorf("%w: set JWT_SECRET, or DEBUG=YES for local use", ErrInsecureJWTSecret)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
