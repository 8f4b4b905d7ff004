package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if cfg.AI.Provider != "gemini" || cfg.AI.RateLimit != 10 || cfg.AI.RateWindow != time.Minute {
		t.Errorf("AI = %+v", cfg.AI)
	}
	if cfg.Runner.Enabled {
		t.Error("runner enabled by default")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9000")
	t.Setenv("HANDSHAKE_TIMEOUT", "3s")
	t.Setenv("AI_TIMEOUT", "45")
	t.Setenv("AI_PROVIDER", "OpenAI")
	t.Setenv("RUNNER_ENABLED", "yes")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SEND_QUEUE_SIZE", "128")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" || cfg.HandshakeTimeout != 3*time.Second || cfg.SendQueueSize != 128 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.AI.Timeout != 45*time.Second || cfg.AI.Provider != "openai" {
		t.Errorf("AI = %+v", cfg.AI)
	}
	if !cfg.Runner.Enabled {
		t.Error("RUNNER_ENABLED=yes not honored")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET"},
		{"bad provider", map[string]string{"AI_PROVIDER": "llama"}, "AI_PROVIDER"},
		{"zero queue", map[string]string{"SEND_QUEUE_SIZE": "0"}, "SEND_QUEUE_SIZE"},
		{"zero rate", map[string]string{"AI_RATE_LIMIT": "0"}, "AI_RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	c := &Config{}
	if got := c.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("AllowedOrigins() = %v", got)
	}
	c.FrontendURL = "https://collab.example.com/"
	if got := c.AllowedOrigins(); got[0] != "https://collab.example.com" {
		t.Errorf("AllowedOrigins() = %v", got)
	}
	if c.IsDevelopment() {
		t.Error("production URL reported as development")
	}
}
