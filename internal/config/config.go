// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	RedisAddr   string // empty = in-memory fallbacks, no Redis

	SessionTTL time.Duration // server-side chat session inactivity timeout

	LLM        LLMConfig
	RateLimit  RateLimitConfig
	Escalation EscalationConfig
}

// LLMConfig selects and configures the hosted model provider.
type LLMConfig struct {
	Provider      string // "groq" or "ollama"
	GroqAPIKey    string
	GroqBaseURL   string
	GroqModel     string
	OllamaBaseURL string
	OllamaModel   string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
}

// RateLimitConfig throttles chat requests per visitor.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// EscalationConfig controls the handoff to human operators.
type EscalationConfig struct {
	ConfirmationTTL time.Duration // how long a "talk to a human?" prompt stays pending
	DefaultTeam     string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/campuschat.db"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		SessionTTL:  time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		LLM: LLMConfig{
			Provider:      strings.ToLower(getEnv("LLM_PROVIDER", "groq")),
			GroqAPIKey:    getEnv("GROQ_API_KEY", ""),
			GroqBaseURL:   getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			GroqModel:     getEnv("GROQ_MODEL", "llama-3.1-8b-instant"),
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:   getEnv("OLLAMA_MODEL", "llama3.1"),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 1024),
			Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:       time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		Escalation: EscalationConfig{
			ConfirmationTTL: time.Duration(getEnvInt("ESCALATION_CONFIRMATION_TTL_SECONDS", 120)) * time.Second,
			DefaultTeam:     getEnv("ESCALATION_DEFAULT_TEAM", "Mesa de Ayuda"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.LLM.Provider {
	case "groq":
		if c.LLM.GroqAPIKey == "" {
			return fmt.Errorf("GROQ_API_KEY is required when LLM_PROVIDER=groq")
		}
	case "ollama":
		if c.LLM.OllamaBaseURL == "" {
			return fmt.Errorf("OLLAMA_BASE_URL cannot be empty when LLM_PROVIDER=ollama")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be \"groq\" or \"ollama\", got %q", c.LLM.Provider)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}
