// Package config handles application configuration from environment variables.
//
// Environment parsing lives here and in cmd/; providers receive explicit
// config structs and never read the environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Provider kinds selectable per subsystem.
const (
	ProviderMemory = "memory"
	ProviderMock   = "mock"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional; memory stores are used if unset)
	DatabaseURL string

	// Provider selection, one per subsystem
	MandateProvider string
	PolicyProvider  string
	RiskProvider    string

	// Mandate authority settings
	Mandate MandateConfig

	// Risk engine settings
	Risk RiskConfig

	// Tracing
	OTLPEndpoint string
}

// MandateConfig configures the mandate authority.
type MandateConfig struct {
	// SigningKey is the hex-encoded ECDSA private key used to produce
	// authorization proofs. Optional unless RequireSigning is set.
	SigningKey     string
	RequireSigning bool
	ChainID        int64
}

// RiskConfig configures the risk engine.
type RiskConfig struct {
	BaseScore          float64
	HighValueThreshold string // base-unit amount string
	VelocityLimit      int    // max txs per sender per trailing hour
	HistoryLimit       int    // per-sender retained transactions
	AlertLimit         int    // per-address retained alerts
	ReputationTTL      time.Duration
	SweepInterval      time.Duration
}

// Defaults.
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultChainID            = 84532 // Base Sepolia
	DefaultBaseScore          = 50.0
	DefaultHighValueThreshold = "10000000000000000000" // 10 tokens
	DefaultVelocityLimit      = 10
	DefaultHistoryLimit       = 100
	DefaultAlertLimit         = 50
	DefaultReputationTTL      = 5 * time.Minute
	DefaultSweepInterval      = time.Minute
)

// Load reads configuration from environment variables.
// It loads .env if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MandateProvider: getEnv("MANDATE_PROVIDER", ProviderMemory),
		PolicyProvider:  getEnv("POLICY_PROVIDER", ProviderMemory),
		RiskProvider:    getEnv("RISK_PROVIDER", ProviderMemory),
		Mandate: MandateConfig{
			SigningKey:     os.Getenv("MANDATE_SIGNING_KEY"),
			RequireSigning: getEnvBool("MANDATE_REQUIRE_SIGNING", false),
			ChainID:        getEnvInt64("CHAIN_ID", DefaultChainID),
		},
		Risk: RiskConfig{
			BaseScore:          getEnvFloat("RISK_BASE_SCORE", DefaultBaseScore),
			HighValueThreshold: getEnv("RISK_HIGH_VALUE_THRESHOLD", DefaultHighValueThreshold),
			VelocityLimit:      int(getEnvInt64("RISK_VELOCITY_LIMIT", DefaultVelocityLimit)),
			HistoryLimit:       int(getEnvInt64("RISK_HISTORY_LIMIT", DefaultHistoryLimit)),
			AlertLimit:         int(getEnvInt64("RISK_ALERT_LIMIT", DefaultAlertLimit)),
			ReputationTTL:      getEnvDuration("RISK_REPUTATION_TTL", DefaultReputationTTL),
			SweepInterval:      getEnvDuration("RISK_SWEEP_INTERVAL", DefaultSweepInterval),
		},
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are coherent.
func (c *Config) Validate() error {
	for name, kind := range map[string]string{
		"MANDATE_PROVIDER": c.MandateProvider,
		"POLICY_PROVIDER":  c.PolicyProvider,
		"RISK_PROVIDER":    c.RiskProvider,
	} {
		if kind != ProviderMemory && kind != ProviderMock {
			return fmt.Errorf("%s must be %q or %q, got %q", name, ProviderMemory, ProviderMock, kind)
		}
	}

	if c.Mandate.RequireSigning && c.Mandate.SigningKey == "" {
		return fmt.Errorf("MANDATE_SIGNING_KEY is required when MANDATE_REQUIRE_SIGNING is set")
	}
	if c.Mandate.SigningKey != "" {
		key := c.Mandate.SigningKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("MANDATE_SIGNING_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if c.Risk.HistoryLimit <= 0 || c.Risk.AlertLimit <= 0 {
		return fmt.Errorf("RISK_HISTORY_LIMIT and RISK_ALERT_LIMIT must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
