package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Provider names accepted by NewGenerator.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGRPC   = "grpc"
	ProviderNone   = "none"
)

var (
	errNoAPIKey        = errors.New("api key not set")
	errUnknownProvider = errors.New("unknown ai provider")
	errEmptyReply      = errors.New("model returned no content")
	// ErrDisabled is returned by the generator used when no provider is configured.
	ErrDisabled = errors.New("ai assistant disabled")
)

// ProviderConfig selects and configures the model backend.
type ProviderConfig struct {
	Provider        string
	Model           string
	GeminiAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AgentAddr       string
	MaxTokens       int
}

// EinoGenerator generates replies with an eino chat model.
type EinoGenerator struct {
	model  model.BaseChatModel
	system string
}

// NewEinoGenerator wraps a chat model. The system prompt defaults to SystemPrompt.
func NewEinoGenerator(m model.BaseChatModel, system string) *EinoGenerator {
	if system == "" {
		system = SystemPrompt
	}
	return &EinoGenerator{model: m, system: system}
}

// Generate implements Generator.
func (g *EinoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := g.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(g.system),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", errEmptyReply
	}
	return msg.Content, nil
}

// NewGenerator builds the Generator for cfg.Provider. The returned close
// function releases provider resources and is never nil.
func NewGenerator(ctx context.Context, cfg ProviderConfig, logger *slog.Logger) (Generator, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() {}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, noop, fmt.Errorf("gemini: %w", errNoAPIKey)
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("gemini client: %w", err)
		}
		cm, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelOrDefault(cfg.Model, "gemini-2.0-flash"),
		})
		if err != nil {
			return nil, noop, fmt.Errorf("gemini model: %w", err)
		}
		logger.Info("AI provider configured", "provider", cfg.Provider, "model", cfg.Model)
		return NewEinoGenerator(cm, ""), noop, nil

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, noop, fmt.Errorf("openai: %w", errNoAPIKey)
		}
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   modelOrDefault(cfg.Model, "gpt-4o-mini"),
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("openai model: %w", err)
		}
		logger.Info("AI provider configured", "provider", cfg.Provider, "model", cfg.Model)
		return NewEinoGenerator(cm, ""), noop, nil

	case ProviderClaude:
		if cfg.AnthropicAPIKey == "" {
			return nil, noop, fmt.Errorf("claude: %w", errNoAPIKey)
		}
		cm, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     modelOrDefault(cfg.Model, "claude-sonnet-4-20250514"),
			MaxTokens: maxTokens,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("claude model: %w", err)
		}
		logger.Info("AI provider configured", "provider", cfg.Provider, "model", cfg.Model)
		return NewEinoGenerator(cm, ""), noop, nil

	case ProviderGRPC:
		client, err := NewGrpcGenerator(ctx, cfg.AgentAddr, logger)
		if err != nil {
			return nil, noop, err
		}
		return client, client.Close, nil

	case ProviderNone, "":
		logger.Warn("AI provider disabled; @ai messages will receive a notice")
		return GeneratorFunc(func(context.Context, string) (string, error) {
			return "", ErrDisabled
		}), noop, nil

	default:
		return nil, noop, fmt.Errorf("%w: %q", errUnknownProvider, cfg.Provider)
	}
}

func modelOrDefault(m, fallback string) string {
	if m == "" {
		return fallback
	}
	return m
}
