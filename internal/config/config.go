// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Providers
	Providers        []string // enabled analysis providers, priority order
	AnthropicAPIKey  string
	AnthropicModel   string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiModel      string
	ProviderTimeout  time.Duration
	ConsensusMode    string // "parallel" or "sequential"
	ParallelQuorum   int    // max providers invoked in parallel mode
	RateLimitPerWin  int    // provider requests allowed per window
	RateLimitWindow  time.Duration

	// Risk scoring
	MaxAIWeight        float64 // cap on consensus influence over the base score
	ConsensusThreshold float64 // winning weight share needed for agreement
	StrictAgreement    bool    // treat low agreement as an error instead of a flag
	MediumAt           float64 // threat level boundaries, must be increasing
	HighAt             float64
	CriticalAt         float64

	// Containment
	ContainmentMaxAge time.Duration // ACTIVE containments expire after this
	SweepInterval     time.Duration // expiry sweep cadence
	PropagationURL    string        // network propagation endpoint (optional)

	// Recovery
	RecoveryApprovals int           // stakeholder approvals required (N of M)
	RecoveryDeadline  time.Duration // window to complete a recovery
}

// Defaults.
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultProviderTimeout    = 15 * time.Second
	DefaultConsensusMode      = "parallel"
	DefaultParallelQuorum     = 3
	DefaultRateLimitPerWin    = 30
	DefaultRateLimitWindow    = time.Minute
	DefaultMaxAIWeight        = 0.4
	DefaultConsensusThreshold = 0.6
	DefaultContainmentMaxAge  = 7 * 24 * time.Hour
	DefaultSweepInterval      = 30 * time.Second
	DefaultRecoveryApprovals  = 2
	DefaultRecoveryDeadline   = 72 * time.Hour
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Providers:          splitList(getEnv("PROVIDERS", "anthropic,openai,gemini")),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		ConsensusMode:      getEnv("CONSENSUS_MODE", DefaultConsensusMode),
		ParallelQuorum:     int(getEnvInt64("PARALLEL_QUORUM", DefaultParallelQuorum)),
		RateLimitPerWin:    int(getEnvInt64("PROVIDER_RATE_LIMIT", DefaultRateLimitPerWin)),
		RateLimitWindow:    getEnvDuration("PROVIDER_RATE_WINDOW", DefaultRateLimitWindow),
		MaxAIWeight:        getEnvFloat("MAX_AI_WEIGHT", DefaultMaxAIWeight),
		ConsensusThreshold: getEnvFloat("CONSENSUS_THRESHOLD", DefaultConsensusThreshold),
		StrictAgreement:    getEnv("STRICT_AGREEMENT", "false") == "true",
		MediumAt:           getEnvFloat("THREAT_MEDIUM_AT", 0.4),
		HighAt:             getEnvFloat("THREAT_HIGH_AT", 0.6),
		CriticalAt:         getEnvFloat("THREAT_CRITICAL_AT", 0.8),
		ContainmentMaxAge:  getEnvDuration("CONTAINMENT_MAX_AGE", DefaultContainmentMaxAge),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		PropagationURL:     os.Getenv("PROPAGATION_URL"),
		RecoveryApprovals:  int(getEnvInt64("RECOVERY_APPROVALS", DefaultRecoveryApprovals)),
		RecoveryDeadline:   getEnvDuration("RECOVERY_DEADLINE", DefaultRecoveryDeadline),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are coherent.
func (c *Config) Validate() error {
	if c.ConsensusMode != "parallel" && c.ConsensusMode != "sequential" {
		return fmt.Errorf("CONSENSUS_MODE must be \"parallel\" or \"sequential\", got %q", c.ConsensusMode)
	}
	if c.ParallelQuorum < 1 {
		return fmt.Errorf("PARALLEL_QUORUM must be at least 1")
	}
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("CONSENSUS_THRESHOLD must be in (0, 1], got %v", c.ConsensusThreshold)
	}
	if c.MaxAIWeight < 0 || c.MaxAIWeight > 1 {
		return fmt.Errorf("MAX_AI_WEIGHT must be in [0, 1], got %v", c.MaxAIWeight)
	}
	// Threat boundaries must partition [0,1] monotonically.
	if !(c.MediumAt > 0 && c.MediumAt < c.HighAt && c.HighAt < c.CriticalAt && c.CriticalAt <= 1) {
		return fmt.Errorf("threat boundaries must satisfy 0 < medium < high < critical <= 1, got %v/%v/%v",
			c.MediumAt, c.HighAt, c.CriticalAt)
	}
	if c.RecoveryApprovals < 1 {
		return fmt.Errorf("RECOVERY_APPROVALS must be at least 1")
	}
	if c.RateLimitPerWin < 1 {
		return fmt.Errorf("PROVIDER_RATE_LIMIT must be at least 1")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("PROVIDERS must name at least one provider")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}
