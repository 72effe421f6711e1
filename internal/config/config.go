// Package config loads service settings from the environment, an optional
// .env file, and an optional YAML overlay named by ELD_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"eldhos/internal/model"
)

type Config struct {
	Port        string
	DatabaseURL string
	DBMigrate   bool
	RedisURL    string

	LogLevel  string
	LogFormat string

	RateRPS   float64
	RateBurst int

	AuthMode       string
	AuthHMACSecret string

	RoutingBaseURL string
	RoutingAPIKey  string
	RoutingTimeout time.Duration

	WebhookMaxAttempts int
	LockTTL            time.Duration

	ELD ELD
}

// ELD holds the compliance and planning tunables.
type ELD struct {
	RequiredDocumentTypes []model.DocumentType `yaml:"required_document_types"`
	AverageSpeedMPH       float64              `yaml:"average_speed_mph"`
	FuelIntervalMiles     float64              `yaml:"fuel_interval_miles"`
}

// overlay mirrors the env settings that may also come from YAML.
type overlay struct {
	Port               string  `yaml:"port"`
	DatabaseURL        string  `yaml:"database_url"`
	RedisURL           string  `yaml:"redis_url"`
	LogLevel           string  `yaml:"log_level"`
	LogFormat          string  `yaml:"log_format"`
	RateRPS            float64 `yaml:"rate_rps"`
	RateBurst          int     `yaml:"rate_burst"`
	RoutingBaseURL     string  `yaml:"routing_base_url"`
	WebhookMaxAttempts int     `yaml:"webhook_max_attempts"`
	ELD                ELD     `yaml:"eld"`
}

func Default() Config {
	return Config{
		Port:               "8080",
		LogLevel:           "info",
		LogFormat:          "json",
		RateRPS:            20,
		RateBurst:          40,
		AuthMode:           "dev",
		RoutingTimeout:     10 * time.Second,
		WebhookMaxAttempts: 8,
		LockTTL:            10 * time.Second,
		ELD: ELD{
			RequiredDocumentTypes: []model.DocumentType{model.DocDispatchRecord},
			AverageSpeedMPH:       60,
			FuelIntervalMiles:     1000,
		},
	}
}

// Load reads .env (if present), the YAML overlay, then the environment.
// Environment variables win over the overlay.
func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	if path := os.Getenv("ELD_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.Port = getenv("PORT", cfg.Port)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMigrate = getenvBool("DB_MIGRATE", true)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.RateRPS = getenvFloat("RATE_RPS", cfg.RateRPS)
	cfg.RateBurst = getenvInt("RATE_BURST", cfg.RateBurst)
	cfg.AuthMode = getenv("AUTH_MODE", cfg.AuthMode)
	cfg.AuthHMACSecret = getenv("AUTH_HMAC_SECRET", cfg.AuthHMACSecret)
	cfg.RoutingBaseURL = getenv("ROUTING_BASE_URL", cfg.RoutingBaseURL)
	cfg.RoutingAPIKey = getenv("ROUTING_API_KEY", cfg.RoutingAPIKey)
	cfg.RoutingTimeout = getenvDuration("ROUTING_TIMEOUT", cfg.RoutingTimeout)
	cfg.WebhookMaxAttempts = getenvInt("WEBHOOK_MAX_ATTEMPTS", cfg.WebhookMaxAttempts)
	cfg.LockTTL = getenvDuration("LOCK_TTL", cfg.LockTTL)
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var o overlay
	if err := yaml.Unmarshal(b, &o); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	setStr(&c.Port, o.Port)
	setStr(&c.DatabaseURL, o.DatabaseURL)
	setStr(&c.RedisURL, o.RedisURL)
	setStr(&c.LogLevel, o.LogLevel)
	setStr(&c.LogFormat, o.LogFormat)
	setStr(&c.RoutingBaseURL, o.RoutingBaseURL)
	if o.RateRPS > 0 {
		c.RateRPS = o.RateRPS
	}
	if o.RateBurst > 0 {
		c.RateBurst = o.RateBurst
	}
	if o.WebhookMaxAttempts > 0 {
		c.WebhookMaxAttempts = o.WebhookMaxAttempts
	}
	if len(o.ELD.RequiredDocumentTypes) > 0 {
		c.ELD.RequiredDocumentTypes = o.ELD.RequiredDocumentTypes
	}
	if o.ELD.AverageSpeedMPH > 0 {
		c.ELD.AverageSpeedMPH = o.ELD.AverageSpeedMPH
	}
	if o.ELD.FuelIntervalMiles > 0 {
		c.ELD.FuelIntervalMiles = o.ELD.FuelIntervalMiles
	}
	return nil
}

func (c Config) Validate() error {
	for _, t := range c.ELD.RequiredDocumentTypes {
		if !t.Valid() {
			return fmt.Errorf("unknown required document type %q", t)
		}
	}
	if c.ELD.AverageSpeedMPH <= 0 {
		return fmt.Errorf("average_speed_mph must be positive")
	}
	switch c.AuthMode {
	case "dev", "hmac":
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.AuthMode == "hmac" && c.AuthHMACSecret == "" {
		return fmt.Errorf("AUTH_HMAC_SECRET required for hmac auth")
	}
	return nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
