// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
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
	JWTSecret   string
	LogLevel    slog.Level

	HandshakeTimeout time.Duration
	SendQueueSize    int

	AI     AIConfig
	Runner RunnerConfig
}

// AIConfig selects the assistant backend and its limits.
type AIConfig struct {
	Provider        string // gemini, openai, claude, grpc or none
	Model           string
	GeminiAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AgentAddr       string
	MaxTokens       int
	Timeout         time.Duration
	RateLimit       int
	RateWindow      time.Duration
}

// RunnerConfig controls per-room project execution.
type RunnerConfig struct {
	Enabled bool
	Image   string
	Runtime string // Docker runtime: "" = default (runc), "runsc" = gVisor
	IdleTTL time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/codecollab.db"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		LogLevel:         getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		HandshakeTimeout: getEnvDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
		SendQueueSize:    getEnvInt("SEND_QUEUE_SIZE", 64),
		AI: AIConfig{
			Provider:        strings.ToLower(getEnv("AI_PROVIDER", "gemini")),
			Model:           getEnv("AI_MODEL", ""),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", getEnv("GOOGLE_AI_KEY", "")),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			AgentAddr:       getEnv("AI_AGENT_ADDR", "localhost:50051"),
			MaxTokens:       getEnvInt("AI_MAX_TOKENS", 4096),
			Timeout:         getEnvDuration("AI_TIMEOUT", 60*time.Second),
			RateLimit:       getEnvInt("AI_RATE_LIMIT", 10),
			RateWindow:      getEnvDuration("AI_RATE_WINDOW", time.Minute),
		},
		Runner: RunnerConfig{
			Enabled: getEnvBool("RUNNER_ENABLED", false),
			Image:   getEnv("RUNNER_IMAGE", "node:20-alpine"),
			Runtime: getEnv("RUNNER_RUNTIME", ""),
			IdleTTL: getEnvDuration("RUNNER_IDLE_TTL", 30*time.Minute),
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
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET cannot be empty")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.SendQueueSize <= 0 {
		return errors.New("SEND_QUEUE_SIZE must be > 0")
	}
	switch c.AI.Provider {
	case "gemini", "openai", "claude", "grpc", "none":
	default:
		return fmt.Errorf("AI_PROVIDER %q is not one of gemini, openai, claude, grpc, none", c.AI.Provider)
	}
	if c.AI.Timeout <= 0 {
		return errors.New("AI_TIMEOUT must be > 0")
	}
	if c.AI.RateLimit <= 0 || c.AI.RateWindow <= 0 {
		return errors.New("AI_RATE_LIMIT and AI_RATE_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

// getEnvDuration accepts Go duration strings ("30s") or plain seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
